// Package reconciler moves local mutations to the remote replica and brings
// remote state back: an incremental outbox drain, a full resync, a live
// change feed and a supervisor loop tying them together.
package reconciler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/dmitrijs2005/ledgersync/internal/client/store"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/timex"
	"github.com/sethvargo/go-retry"
)

// State is the observable activity of the reconciler.
type State string

const (
	StateIdle      State = "idle"
	StateDraining  State = "draining"
	StateResyncing State = "resyncing"
	StateBackoff   State = "backoff"
	StateStopped   State = "stopped"
)

// Status is a snapshot of the sync state for display.
type Status struct {
	Queued              int
	QueuedByCollection  map[string]int
	LastSyncAt          *time.Time
	State               State
	LastError           string
	LastDrainAt         *time.Time
	ConsecutiveFailures int
	DeviceID            string
}

type Reconciler struct {
	store   *store.Store
	replica remote.Replica
	cfg     Config
	logger  logging.Logger
	now     timex.Clock

	drainMu   sync.Mutex
	collLocks map[string]*sync.Mutex
	trigger   chan struct{}

	mu          sync.Mutex
	state       State
	lastErr     error
	lastDrainAt time.Time
	failures    int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithClock(c timex.Clock) Option {
	return func(r *Reconciler) { r.now = c }
}

func New(s *store.Store, replica remote.Replica, cfg Config, logger logging.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     s,
		replica:   replica,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("module", "reconciler"),
		now:       timex.SystemClock,
		collLocks: make(map[string]*sync.Mutex),
		trigger:   make(chan struct{}, 1),
		state:     StateIdle,
	}
	for _, name := range s.Schema().Names() {
		r.collLocks[name] = &sync.Mutex{}
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Trigger asks the supervisor for an early cycle. It never blocks.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// lock takes the per-collection locks of names in sorted order.
func (r *Reconciler) lock(names ...string) func() {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	var held []*sync.Mutex
	for _, n := range sorted {
		if m, ok := r.collLocks[n]; ok {
			m.Lock()
			held = append(held, m)
		}
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func (r *Reconciler) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Reconciler) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err
	if err != nil {
		r.failures++
	} else {
		r.failures = 0
	}
}

// Status reports queue depth, sync times and supervisor state.
func (r *Reconciler) Status(ctx context.Context) (Status, error) {
	if err := r.store.Ready(); err != nil {
		return Status{}, err
	}
	byColl, err := r.store.Outbox().SizeByCollection(ctx)
	if err != nil {
		return Status{}, err
	}
	meta := r.store.Metadata()
	deviceID, err := meta.DeviceID(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{QueuedByCollection: byColl, DeviceID: deviceID}
	for _, n := range byColl {
		st.Queued += n
	}
	if t, ok, err := meta.LastSyncAt(ctx); err != nil {
		return Status{}, err
	} else if ok {
		st.LastSyncAt = &t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	st.State = r.state
	st.ConsecutiveFailures = r.failures
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	if !r.lastDrainAt.IsZero() {
		t := r.lastDrainAt
		st.LastDrainAt = &t
	}
	return st, nil
}

func (r *Reconciler) backoff() retry.Backoff {
	return retry.WithCappedDuration(r.cfg.BackoffMax, retry.NewExponential(r.cfg.BackoffMin))
}

// retryable reports whether a push may succeed when repeated.
func retryable(err error) bool {
	return errors.Is(err, common.ErrTransportFailure) &&
		!errors.Is(err, remote.ErrRejected) &&
		!errors.Is(err, remote.ErrUnauthorized)
}
