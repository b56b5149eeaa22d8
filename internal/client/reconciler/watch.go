package reconciler

import (
	"context"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/dmitrijs2005/ledgersync/internal/client/store"
	"github.com/dmitrijs2005/ledgersync/internal/models"
)

// Watch subscribes to remote changes of collections and applies them locally
// until ctx is done. Broken feeds are re-established with backoff.
func (r *Reconciler) Watch(ctx context.Context, collections []string) error {
	if len(collections) == 0 {
		collections = r.store.Schema().Names()
	}
	b := r.backoff()

	for {
		subs, err := r.subscribe(ctx, collections)
		if err == nil {
			b = r.backoff()
			err = wait(ctx, subs)
			for _, s := range subs {
				_ = s.Close()
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		delay, _ := b.Next()
		r.logger.Warn(ctx, "change feed interrupted", "error", err, "retry_in", delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (r *Reconciler) subscribe(ctx context.Context, collections []string) ([]remote.Subscription, error) {
	subs := make([]remote.Subscription, 0, len(collections))
	for _, name := range collections {
		s, err := r.replica.Subscribe(ctx, name, func(c models.Change) {
			if err := r.ApplyChange(ctx, c); err != nil {
				r.logger.Warn(ctx, "remote change not applied", "collection", c.Collection, "error", err)
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Close()
			}
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// wait blocks until ctx is done or any feed stops, returning that feed's error.
func wait(ctx context.Context, subs []remote.Subscription) error {
	done := make(chan error, len(subs))
	stop := make(chan struct{})
	defer close(stop)
	for _, s := range subs {
		go func(s remote.Subscription) {
			select {
			case <-s.Done():
				done <- s.Err()
			case <-stop:
			}
		}(s)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// ApplyChange merges one remote change under last-write-wins. Records with
// pending outbox entries are left alone; their local state is pushed next.
func (r *Reconciler) ApplyChange(ctx context.Context, c models.Change) error {
	if c.Record == nil {
		return nil
	}
	if _, ok := r.store.Schema().Collection(c.Collection); !ok {
		r.logger.Debug(ctx, "ignoring change of undeclared collection", "collection", c.Collection)
		return nil
	}

	unlock := r.lock(c.Collection)
	defer unlock()

	return r.store.Transact(ctx, []string{c.Collection}, func(ctx context.Context, tx *store.Tx) error {
		pending, err := tx.Outbox().HasPending(ctx, c.Collection, c.Record.ID)
		if err != nil || pending {
			return err
		}
		applied, err := tx.ApplyRemote(ctx, c.Collection, c.Record, c.Deleted)
		if err != nil {
			return err
		}
		if applied {
			r.logger.Debug(ctx, "remote change applied", "collection", c.Collection, "id", c.Record.ID, "deleted", c.Deleted)
		}
		return nil
	})
}
