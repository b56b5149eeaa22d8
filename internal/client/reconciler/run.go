package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
)

// Run supervises background sync until ctx is done. It drains on every tick
// or Trigger, backs off exponentially while cycles fail, and recovers from
// corrupt local state with a forced resync. An installation that never
// synced is bootstrapped with a full resync after its first clean drain.
func (r *Reconciler) Run(ctx context.Context) error {
	defer r.setState(StateStopped)

	bootstrap := r.startup(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	var resyncC <-chan time.Time
	if r.cfg.ResyncInterval > 0 {
		t := time.NewTicker(r.cfg.ResyncInterval)
		defer t.Stop()
		resyncC = t.C
	}

	syncOnce := func() error {
		if err := r.drainOnce(ctx); err != nil || !bootstrap {
			return err
		}
		if _, err := r.Resync(ctx, ResyncOptions{}); err != nil {
			return r.recover(ctx, err)
		}
		bootstrap = false
		return nil
	}

	b := r.backoff()
	cycle := func(err error) <-chan time.Time {
		if ctx.Err() != nil {
			return nil
		}
		r.record(err)
		if err == nil {
			b = r.backoff()
			return nil
		}
		delay, _ := b.Next()
		r.setState(StateBackoff)
		r.logger.Warn(ctx, "sync cycle failed", "error", err, "retry_in", delay)
		return time.After(delay)
	}

	retryC := cycle(syncOnce())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retryC:
		case <-ticker.C:
			if retryC != nil {
				continue
			}
		case <-r.trigger:
		case <-resyncC:
			bootstrap = true
		}
		retryC = cycle(syncOnce())
	}
}

func (r *Reconciler) drainOnce(ctx context.Context) error {
	_, err := r.Drain(ctx)
	return r.recover(ctx, err)
}

// recover turns CorruptLocalState into a forced resync.
func (r *Reconciler) recover(ctx context.Context, err error) error {
	if !errors.Is(err, common.ErrCorruptLocalState) {
		return err
	}
	r.logger.Error(ctx, "corrupt local state, forcing resync", "error", err)
	_, rerr := r.Resync(ctx, ResyncOptions{AcceptRemote: true})
	return rerr
}

// startup checks local integrity and reports whether the installation still
// needs its first full resync.
func (r *Reconciler) startup(ctx context.Context) bool {
	if err := r.store.CheckIntegrity(ctx); err != nil {
		if err := r.recover(ctx, err); err != nil {
			r.record(err)
			return true
		}
	}
	_, ok, err := r.store.Metadata().LastSyncAt(ctx)
	return err == nil && !ok
}
