package reconciler

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/sethvargo/go-retry"
)

// DrainReport summarizes one drain cycle.
type DrainReport struct {
	Pushed    int // applied by the remote
	Stale     int // remote already held an equal or newer version
	Failed    int
	Remaining int
}

// Drain pushes queued outbox entries in submission order. A failed entry
// blocks every later entry of the same record for the rest of the cycle;
// other records proceed. Drain never pulls. Only one drain runs at a time.
func (r *Reconciler) Drain(ctx context.Context) (DrainReport, error) {
	r.drainMu.Lock()
	defer r.drainMu.Unlock()

	r.setState(StateDraining)
	defer r.setState(StateIdle)

	report, err := r.drain(ctx)

	r.mu.Lock()
	r.lastDrainAt = r.now()
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn(ctx, "drain incomplete", "failed", report.Failed, "remaining", report.Remaining, "error", err)
	} else if report.Pushed+report.Stale > 0 {
		r.logger.Info(ctx, "drain finished", "pushed", report.Pushed, "stale", report.Stale)
	}
	return report, err
}

func (r *Reconciler) drain(ctx context.Context) (DrainReport, error) {
	var report DrainReport
	if err := r.store.Ready(); err != nil {
		return report, err
	}

	deviceID, err := r.store.Metadata().DeviceID(ctx)
	if err != nil {
		return report, err
	}

	ob := r.store.Outbox()
	blocked := make(map[string]struct{})
	var (
		after    int64
		firstErr error
	)
	for {
		batch, err := ob.PeekBatch(ctx, after, r.cfg.BatchSize)
		if err != nil {
			return report, err
		}
		if len(batch) == 0 {
			break
		}
		for _, e := range batch {
			after = e.Seq
			if _, ok := blocked[e.Key()]; ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}

			res, err := r.deliver(ctx, ob, e, deviceID)
			if err != nil {
				blocked[e.Key()] = struct{}{}
				report.Failed++
				if firstErr == nil {
					firstErr = err
				}
				if markErr := ob.MarkFailed(ctx, e.Seq, err.Error()); markErr != nil {
					return report, markErr
				}
				continue
			}
			if res.Applied {
				report.Pushed++
			} else {
				report.Stale++
			}
		}
	}

	report.Remaining, err = ob.Size(ctx)
	if err != nil {
		return report, err
	}
	if firstErr != nil {
		return report, firstErr
	}
	if report.Remaining == 0 && report.Pushed+report.Stale > 0 {
		if err := r.store.Metadata().SetLastSyncAt(ctx, r.now()); err != nil {
			return report, err
		}
	}
	return report, nil
}

// deliver pushes e with bounded retries and acks it on success. The
// collection lock keeps a concurrent resync from rewriting the collection
// between push and ack.
func (r *Reconciler) deliver(ctx context.Context, ob *outbox.Repository, e *outbox.Entry, deviceID string) (remote.PushResult, error) {
	unlock := r.lock(e.Collection)
	defer unlock()

	m, err := e.Mutation(deviceID)
	if err != nil {
		return remote.PushResult{}, fmt.Errorf("%w: outbox entry %d: %w", common.ErrCorruptLocalState, e.Seq, err)
	}

	var res remote.PushResult
	b := retry.WithMaxRetries(uint64(r.cfg.PushAttempts-1), r.backoff())
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, r.cfg.PushTimeout)
		defer cancel()

		out, err := r.replica.Push(pctx, e.Collection, m)
		if err != nil {
			r.logger.Debug(ctx, "push failed", "seq", e.Seq, "record", e.Key(), "error", err)
			if retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		res = out
		return nil
	})
	if err != nil {
		return remote.PushResult{}, err
	}

	if err := ob.Ack(ctx, []int64{e.Seq}); err != nil {
		return remote.PushResult{}, err
	}
	return res, nil
}
