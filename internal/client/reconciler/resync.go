package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/ledgersync/internal/client/store"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/models"
)

// ResyncOptions selects the collections to resync and the handling of
// pending local mutations.
type ResyncOptions struct {
	// Collections defaults to every declared collection.
	Collections []string
	// AcceptRemote skips the preliminary drain and discards pending outbox
	// entries of records the remote state replaces.
	AcceptRemote bool
}

// CollectionReport describes the resync of one collection.
type CollectionReport struct {
	Pulled       int
	KeptLocal    int
	Discarded    int
	// Conflicts counts records dropped because a newer record held the same
	// unique value.
	Conflicts    int
	PrunedOutbox int64
}

type ResyncReport struct {
	Collections map[string]CollectionReport
}

// Resync replaces local collections with the remote state. Every target is
// pulled before anything local changes; each collection is then rewritten
// in its own transaction. Local records survive only when strictly newer
// than the remote version or, unless AcceptRemote, while they still have
// pending outbox entries.
func (r *Reconciler) Resync(ctx context.Context, opts ResyncOptions) (ResyncReport, error) {
	report := ResyncReport{Collections: make(map[string]CollectionReport)}

	targets := opts.Collections
	if len(targets) == 0 {
		targets = r.store.Schema().Names()
	}
	for _, name := range targets {
		if _, ok := r.store.Schema().Collection(name); !ok {
			return report, fmt.Errorf("unknown collection %q", name)
		}
	}

	if err := r.store.CheckIntegrity(ctx); err != nil {
		if !errors.Is(err, common.ErrCorruptLocalState) || !opts.AcceptRemote {
			return report, err
		}
		r.logger.Warn(ctx, "local state corrupt, repairing before forced resync", "error", err)
		if err := r.store.Repair(ctx); err != nil {
			return report, err
		}
	}

	if !opts.AcceptRemote {
		if _, err := r.Drain(ctx); err != nil {
			return report, fmt.Errorf("%w: %w", common.ErrPendingMutations, err)
		}
		pending, err := r.store.Outbox().SizeByCollection(ctx)
		if err != nil {
			return report, err
		}
		for _, name := range targets {
			if pending[name] > 0 {
				return report, fmt.Errorf("%w: %d entries for %s", common.ErrPendingMutations, pending[name], name)
			}
		}
	}

	unlock := r.lock(targets...)
	defer unlock()
	r.setState(StateResyncing)
	defer r.setState(StateIdle)

	pulled := make(map[string][]*models.Record, len(targets))
	for _, name := range targets {
		recs, err := r.pull(ctx, name)
		if err != nil {
			return report, fmt.Errorf("pull %s: %w", name, err)
		}
		pulled[name] = recs
	}

	for _, name := range targets {
		cr, err := r.replace(ctx, name, pulled[name], opts.AcceptRemote)
		if err != nil {
			return report, fmt.Errorf("resync %s: %w", name, err)
		}
		report.Collections[name] = cr
		r.logger.Info(ctx, "collection resynced", "collection", name,
			"pulled", cr.Pulled, "kept_local", cr.KeptLocal, "discarded", cr.Discarded, "pruned_outbox", cr.PrunedOutbox)
	}

	if err := r.store.Metadata().SetLastSyncAt(ctx, r.now()); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Reconciler) pull(ctx context.Context, collection string) ([]*models.Record, error) {
	pctx, cancel := context.WithTimeout(ctx, r.cfg.PullTimeout)
	defer cancel()
	return r.replica.PullAll(pctx, collection)
}

func (r *Reconciler) replace(ctx context.Context, collection string, remoteRecs []*models.Record, acceptRemote bool) (CollectionReport, error) {
	cr := CollectionReport{Pulled: len(remoteRecs)}

	err := r.store.Transact(ctx, []string{collection}, func(ctx context.Context, tx *store.Tx) error {
		local, err := tx.GetAll(ctx, collection)
		if err != nil {
			if !acceptRemote || !errors.Is(err, common.ErrCorruptLocalState) {
				return err
			}
			r.logger.Warn(ctx, "unreadable local records replaced by remote state", "collection", collection, "error", err)
			local = nil
		}

		merged := make(map[string]*models.Record, len(remoteRecs))
		for _, rec := range remoteRecs {
			merged[rec.ID] = rec
		}

		keptLocal := make(map[string]bool)
		for _, l := range local {
			pending := false
			if !acceptRemote {
				if pending, err = tx.Outbox().HasPending(ctx, collection, l.ID); err != nil {
					return err
				}
			}
			remoteRec, onRemote := merged[l.ID]
			if pending || (onRemote && l.NewerThan(remoteRec)) {
				merged[l.ID] = l
				keptLocal[l.ID] = pending
				cr.KeptLocal++
				continue
			}
			if !onRemote {
				cr.Discarded++
			}
		}

		c, _ := r.store.Schema().Collection(collection)
		recs, dropped := resolveUnique(c, merged, keptLocal)
		for _, rec := range dropped {
			r.logger.Warn(ctx, "record dropped on unique clash", "collection", collection, "id", rec.ID)
			if _, ok := keptLocal[rec.ID]; ok {
				delete(keptLocal, rec.ID)
				cr.KeptLocal--
			}
		}
		cr.Conflicts = len(dropped)

		var keep []string
		for id := range keptLocal {
			keep = append(keep, id)
		}
		if err := tx.ReplaceCollection(ctx, collection, recs); err != nil {
			return err
		}

		if acceptRemote {
			n, err := tx.DiscardOutbox(ctx, collection, keep)
			if err != nil {
				return err
			}
			cr.PrunedOutbox = n
		}
		return nil
	})
	return cr, err
}

// resolveUnique keeps one record per unique value. Records with pending local
// mutations win, then the newest; equal stamps fall back to the smaller id so
// every device picks the same winner.
func resolveUnique(c store.Collection, merged map[string]*models.Record, pending map[string]bool) (kept, dropped []*models.Record) {
	all := make([]*models.Record, 0, len(merged))
	for _, rec := range merged {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if pending[a.ID] != pending[b.ID] {
			return pending[a.ID]
		}
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.After(b.LastModified)
		}
		return a.ID < b.ID
	})

	claimed := make(map[string]struct{})
	for _, rec := range all {
		values := c.UniqueValues(rec.Fields)
		clash := false
		for idx, v := range values {
			if _, ok := claimed[idx+"\x00"+v]; ok {
				clash = true
				break
			}
		}
		if clash {
			dropped = append(dropped, rec)
			continue
		}
		for idx, v := range values {
			claimed[idx+"\x00"+v] = struct{}{}
		}
		kept = append(kept, rec)
	}
	return kept, dropped
}
