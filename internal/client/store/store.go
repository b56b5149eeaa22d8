package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/models"
	"github.com/dmitrijs2005/ledgersync/internal/timex"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// State is the lifecycle state of a Store.
type State int32

const (
	StateNotReady State = iota
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "not_ready"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards output.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l.With("module", "store") }
}

// WithClock sets the clock used to stamp delete entries.
func WithClock(c timex.Clock) Option {
	return func(s *Store) { s.now = c }
}

// WithOnCommit registers fn to run after every committed transaction that
// enqueued at least one outbox entry.
func WithOnCommit(fn func()) Option {
	return func(s *Store) { s.onCommit = fn }
}

// Store is the explicit handle to the local record store.
type Store struct {
	db       *sql.DB
	schema   Schema
	logger   logging.Logger
	now      timex.Clock
	onCommit func()
	locks    map[string]*sync.Mutex

	state   atomic.Int32
	initMu  sync.Mutex
	initErr error
}

// New returns a NotReady store over db. Call Init before use.
func New(db *sql.DB, schema Schema, opts ...Option) *Store {
	s := &Store{
		db:     db,
		schema: schema,
		logger: logging.Nop(),
		now:    timex.SystemClock,
		locks:  make(map[string]*sync.Mutex, len(schema.Collections)),
	}
	for _, c := range schema.Collections {
		s.locks[c.Name] = &sync.Mutex{}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens (or creates) the SQLite database at dsn, configures a single
// writer connection and initializes the store.
func Open(ctx context.Context, dsn string, schema Schema, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure local store (%s): %w", pragma, err)
		}
	}

	s := New(db, schema, opts...)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	return State(s.state.Load())
}

// Schema returns the declared schema.
func (s *Store) Schema() Schema {
	return s.schema
}

// Init applies migrations and the declared schema. It is idempotent once Ready.
func (s *Store) Init(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	switch s.State() {
	case StateReady:
		return nil
	case StateClosed:
		return fmt.Errorf("%w: store closed", common.ErrNotReady)
	}

	fail := func(err error) error {
		s.initErr = fmt.Errorf("%w: %w", common.ErrSchemaMigration, err)
		s.state.Store(int32(StateFailed))
		s.logger.Error(ctx, "local store init failed", "error", err)
		return s.initErr
	}

	if err := s.schema.Validate(); err != nil {
		return fail(fmt.Errorf("invalid schema: %w", err))
	}
	if err := RunMigrations(ctx, s.db); err != nil {
		return fail(fmt.Errorf("migrations: %w", err))
	}
	if err := s.applySchema(ctx); err != nil {
		return fail(err)
	}

	s.initErr = nil
	s.state.Store(int32(StateReady))
	s.logger.Info(ctx, "local store ready", "schema_version", s.schema.Version)
	return nil
}

// Close releases the database. The store cannot be reopened.
func (s *Store) Close() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	s.state.Store(int32(StateClosed))
	return s.db.Close()
}

// Ready reports whether the store can be used: nil once Init succeeded,
// common.ErrNotReady before that or after Close, the Init error on failure.
func (s *Store) Ready() error {
	return s.ready()
}

func (s *Store) ready() error {
	switch s.State() {
	case StateReady:
		return nil
	case StateFailed:
		s.initMu.Lock()
		defer s.initMu.Unlock()
		return s.initErr
	case StateClosed:
		return fmt.Errorf("%w: store closed", common.ErrNotReady)
	default:
		return common.ErrNotReady
	}
}

// Outbox returns the outbox repository bound to the database. It does not
// check the store state; callers outside a transaction check Ready first.
func (s *Store) Outbox() *outbox.Repository {
	return outbox.NewRepository(s.db)
}

// Metadata returns the sync metadata accessor bound to the database. Like
// Outbox it does not check the store state.
func (s *Store) Metadata() *metadata.SyncMetadata {
	return metadata.NewSyncMetadata(metadata.NewSQLiteRepository(s.db))
}

// Transact runs fn in one all-or-nothing transaction with the given
// collections (and their cascade children) locked. fn must use only the Tx.
func (s *Store) Transact(ctx context.Context, collections []string, fn func(ctx context.Context, tx *Tx) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	set, err := s.schema.lockSet(collections)
	if err != nil {
		return err
	}

	unlock := s.lock(set)
	defer unlock()

	var t *Tx
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, db dbx.DBTX) error {
		t = newTx(s, db, set, false)
		return fn(ctx, t)
	})
	if err != nil {
		return err
	}
	if t.enqueued > 0 && s.onCommit != nil {
		s.onCommit()
	}
	return nil
}

// View runs fn in a read-only view over every collection.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	return dbx.WithReadTx(ctx, s.db, func(ctx context.Context, db dbx.DBTX) error {
		return fn(ctx, newTx(s, db, s.schema.Names(), true))
	})
}

func (s *Store) lock(names []string) func() {
	for _, n := range names {
		s.locks[n].Lock()
	}
	return func() {
		for i := len(names) - 1; i >= 0; i-- {
			s.locks[names[i]].Unlock()
		}
	}
}

// Get returns the record or common.ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string) (*models.Record, error) {
	var rec *models.Record
	err := s.View(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		rec, err = tx.Get(ctx, collection, id)
		return err
	})
	return rec, err
}

// GetByIndex returns the records whose indexed field equals value, by id.
func (s *Store) GetByIndex(ctx context.Context, collection, index, value string) ([]*models.Record, error) {
	var recs []*models.Record
	err := s.View(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		recs, err = tx.GetByIndex(ctx, collection, index, value)
		return err
	})
	return recs, err
}

// GetRange returns the records whose indexed value lies in [from, to].
// An empty to leaves the range open-ended.
func (s *Store) GetRange(ctx context.Context, collection, index, from, to string) ([]*models.Record, error) {
	var recs []*models.Record
	err := s.View(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		recs, err = tx.GetRange(ctx, collection, index, from, to)
		return err
	})
	return recs, err
}

// GetAll returns every record of the collection ordered by id.
func (s *Store) GetAll(ctx context.Context, collection string) ([]*models.Record, error) {
	var recs []*models.Record
	err := s.View(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		recs, err = tx.GetAll(ctx, collection)
		return err
	})
	return recs, err
}

// Put inserts or replaces rec and enqueues the matching outbox entry.
func (s *Store) Put(ctx context.Context, collection string, rec *models.Record) error {
	return s.Transact(ctx, []string{collection}, func(ctx context.Context, tx *Tx) error {
		return tx.Put(ctx, collection, rec)
	})
}

// Delete removes the record and its cascade dependents, enqueuing one outbox
// entry per removed row.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.Transact(ctx, []string{collection}, func(ctx context.Context, tx *Tx) error {
		return tx.Delete(ctx, collection, id)
	})
}
