package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/models"
)

type memoryEntry struct {
	rec     *models.Record
	deleted bool
}

type memorySub struct {
	ch chan models.Change
}

// MemoryReplica is an in-process Replica with the same last-write-wins and
// tombstone semantics as the server. Failures can be injected per call.
type MemoryReplica struct {
	mu      sync.Mutex
	data    map[string]map[string]memoryEntry
	subs    map[string]map[*memorySub]struct{}
	pushes  []models.Mutation
	offline bool

	// PushHook, when set, runs before every push; a non-nil error fails it.
	PushHook func(collection string, m models.Mutation) error
	// PullHook, when set, runs before every pull; a non-nil error fails it.
	PullHook func(collection string) error
}

func NewMemoryReplica() *MemoryReplica {
	return &MemoryReplica{
		data: make(map[string]map[string]memoryEntry),
		subs: make(map[string]map[*memorySub]struct{}),
	}
}

// SetOffline makes every call fail with ErrUnavailable while on is true.
func (r *MemoryReplica) SetOffline(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = on
}

func unavailable() error {
	return fmt.Errorf("%w: %w", common.ErrTransportFailure, ErrUnavailable)
}

// Seed stores recs as if pushed by another device, notifying subscribers.
func (r *MemoryReplica) Seed(collection string, recs ...*models.Record) {
	for _, rec := range recs {
		r.apply(collection, rec.Clone(), false)
	}
}

// SeedDelete stores a tombstone for id stamped at, notifying subscribers.
func (r *MemoryReplica) SeedDelete(collection, id string, at time.Time) {
	r.apply(collection, &models.Record{ID: id, LastModified: at, Fields: map[string]any{}}, true)
}

// Get returns the stored version of id, including tombstones.
func (r *MemoryReplica) Get(collection, id string) (rec *models.Record, deleted, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[collection][id]
	if !ok {
		return nil, false, false
	}
	return e.rec.Clone(), e.deleted, true
}

// Pushes returns every mutation that reached the replica, in arrival order.
func (r *MemoryReplica) Pushes() []models.Mutation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Mutation(nil), r.pushes...)
}

func (r *MemoryReplica) Push(ctx context.Context, collection string, m models.Mutation) (PushResult, error) {
	if err := ctx.Err(); err != nil {
		return PushResult{}, fmt.Errorf("%w: %w", common.ErrTransportFailure, err)
	}
	r.mu.Lock()
	offline, hook := r.offline, r.PushHook
	r.mu.Unlock()
	if offline {
		return PushResult{}, unavailable()
	}
	if hook != nil {
		if err := hook(collection, m); err != nil {
			return PushResult{}, err
		}
	}

	r.mu.Lock()
	r.pushes = append(r.pushes, m)
	r.mu.Unlock()

	rec := m.Record().Clone()
	return PushResult{Applied: r.apply(collection, rec, m.Operation == models.OpDelete)}, nil
}

func (r *MemoryReplica) apply(collection string, rec *models.Record, deleted bool) bool {
	rec.LastModified = models.Truncate(rec.LastModified)

	r.mu.Lock()
	coll, ok := r.data[collection]
	if !ok {
		coll = make(map[string]memoryEntry)
		r.data[collection] = coll
	}
	if cur, ok := coll[rec.ID]; ok && !rec.NewerThan(cur.rec) {
		r.mu.Unlock()
		return false
	}
	coll[rec.ID] = memoryEntry{rec: rec, deleted: deleted}

	subs := make([]*memorySub, 0, len(r.subs[collection]))
	for s := range r.subs[collection] {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		change := models.Change{Collection: collection, Record: rec.Clone(), Deleted: deleted}
		select {
		case s.ch <- change:
		default:
			// slow subscriber, same as the server hub
		}
	}
	return true
}

func (r *MemoryReplica) PullAll(ctx context.Context, collection string) ([]*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrTransportFailure, err)
	}
	r.mu.Lock()
	offline, hook := r.offline, r.PullHook
	r.mu.Unlock()
	if offline {
		return nil, unavailable()
	}
	if hook != nil {
		if err := hook(collection); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Record, 0, len(r.data[collection]))
	for _, e := range r.data[collection] {
		if !e.deleted {
			out = append(out, e.rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryReplica) Subscribe(ctx context.Context, collection string, onChange func(models.Change)) (Subscription, error) {
	r.mu.Lock()
	if r.offline {
		r.mu.Unlock()
		return nil, unavailable()
	}
	s := &memorySub{ch: make(chan models.Change, 64)}
	if r.subs[collection] == nil {
		r.subs[collection] = make(map[*memorySub]struct{})
	}
	r.subs[collection][s] = struct{}{}
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	sub := newSubscription(cancel)
	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.subs[collection], s)
			r.mu.Unlock()
			sub.finish(nil)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-s.ch:
				onChange(c)
			}
		}
	}()
	return sub, nil
}

func (r *MemoryReplica) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return unavailable()
	}
	return ctx.Err()
}
