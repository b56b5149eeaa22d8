// Package engine wires the local store, the reconciler and the per-collection
// repositories into the handle the console works with.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/ledgersync/internal/client/catalog"
	"github.com/dmitrijs2005/ledgersync/internal/client/config"
	"github.com/dmitrijs2005/ledgersync/internal/client/reconciler"
	"github.com/dmitrijs2005/ledgersync/internal/client/records"
	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/dmitrijs2005/ledgersync/internal/client/snapshot"
	"github.com/dmitrijs2005/ledgersync/internal/client/store"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/timex"
)

// ErrNoBackupStore is returned by Backup and Restore when no bucket is configured.
var ErrNoBackupStore = errors.New("backup store is not configured")

// SyncStatus is what GetSyncStatus reports.
type SyncStatus = reconciler.Status

// BackupStore keeps snapshot blobs off the device.
type BackupStore interface {
	Upload(ctx context.Context, key string, blob []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
}

type options struct {
	clock  timex.Clock
	newID  func() string
	backup BackupStore
}

// Option configures an Engine.
type Option func(*options)

func WithClock(c timex.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

func WithBackupStore(b BackupStore) Option {
	return func(o *options) { o.backup = b }
}

type Engine struct {
	store   *store.Store
	replica remote.Replica
	rec     *reconciler.Reconciler
	backup  BackupStore
	logger  logging.Logger
	repos   map[string]*records.Repository

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SyncConfig maps console settings onto the reconciler.
func SyncConfig(cfg *config.Config) reconciler.Config {
	return reconciler.Config{
		BatchSize:      cfg.BatchSize,
		Interval:       cfg.SyncInterval,
		PushTimeout:    cfg.PushTimeout,
		PullTimeout:    cfg.PullTimeout,
		BackoffMin:     cfg.BackoffMin,
		BackoffMax:     cfg.BackoffMax,
		ResyncInterval: cfg.ResyncInterval,
	}
}

// Open opens the local database at cfg.DBPath and prepares the engine. Sync
// does not start until Start is called.
func Open(ctx context.Context, cfg *config.Config, replica remote.Replica, logger logging.Logger, opts ...Option) (*Engine, error) {
	o := options{clock: timex.SystemClock}
	for _, fn := range opts {
		fn(&o)
	}

	e := &Engine{
		replica: replica,
		backup:  o.backup,
		logger:  logger.With("module", "engine"),
		repos:   make(map[string]*records.Repository),
	}

	s, err := store.Open(ctx, cfg.DBPath, catalog.Schema(),
		store.WithLogger(logger.With("module", "store")),
		store.WithClock(o.clock),
		store.WithOnCommit(e.Trigger),
	)
	if err != nil {
		return nil, err
	}
	e.store = s
	e.rec = reconciler.New(s, replica, SyncConfig(cfg), logger, reconciler.WithClock(o.clock))

	ropts := []records.Option{records.WithClock(o.clock)}
	if o.newID != nil {
		ropts = append(ropts, records.WithIDGenerator(o.newID))
	}
	for _, name := range s.Schema().Names() {
		repo, err := records.New(s, name, ropts...)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		e.repos[name] = repo
	}
	return e, nil
}

// Collection returns the repository of a declared collection.
func (e *Engine) Collection(name string) (*records.Repository, error) {
	repo, ok := e.repos[name]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", name)
	}
	return repo, nil
}

// Store exposes the local store for read-only tooling.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Trigger nudges the background sync. Safe to call at any time.
func (e *Engine) Trigger() {
	if e.rec != nil {
		e.rec.Trigger()
	}
}

// DeviceID returns the identity of this installation, generating it on
// first use.
func (e *Engine) DeviceID(ctx context.Context) (string, error) {
	if err := e.store.Ready(); err != nil {
		return "", err
	}
	return e.store.Metadata().DeviceID(ctx)
}

// Ping checks that the replica is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.replica.Ping(ctx)
}

func (e *Engine) GetSyncStatus(ctx context.Context) (SyncStatus, error) {
	return e.rec.Status(ctx)
}

// Sync drains the outbox once.
func (e *Engine) Sync(ctx context.Context) (reconciler.DrainReport, error) {
	return e.rec.Drain(ctx)
}

// Resync replaces local collections with the remote state. With force,
// pending local mutations that the remote state replaces are discarded.
func (e *Engine) Resync(ctx context.Context, force bool) (reconciler.ResyncReport, error) {
	return e.rec.Resync(ctx, reconciler.ResyncOptions{AcceptRemote: force})
}

func (e *Engine) ExportSnapshot(ctx context.Context) ([]byte, error) {
	return snapshot.Export(ctx, e.store)
}

// ImportSnapshot replaces local data with the snapshot. The outbox is left
// untouched, so imported rows are not pushed.
func (e *Engine) ImportSnapshot(ctx context.Context, blob []byte) (*snapshot.Document, error) {
	doc, err := snapshot.Import(ctx, e.store, blob)
	if err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "snapshot imported", "from_device", doc.DeviceID, "exported_at", doc.ExportedAt)
	return doc, nil
}

// Backup exports a snapshot, seals it when a passphrase is given and uploads
// it under key.
func (e *Engine) Backup(ctx context.Context, key string, passphrase []byte) error {
	if e.backup == nil {
		return ErrNoBackupStore
	}
	blob, err := e.ExportSnapshot(ctx)
	if err != nil {
		return err
	}
	if len(passphrase) > 0 {
		if blob, err = snapshot.Seal(blob, passphrase); err != nil {
			return err
		}
	}
	return e.backup.Upload(ctx, key, blob)
}

// Restore downloads the snapshot stored under key and imports it.
func (e *Engine) Restore(ctx context.Context, key string, passphrase []byte) (*snapshot.Document, error) {
	if e.backup == nil {
		return nil, ErrNoBackupStore
	}
	blob, err := e.backup.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	if blob, err = snapshot.Unseal(blob, passphrase); err != nil {
		return nil, err
	}
	return e.ImportSnapshot(ctx, blob)
}

// Start runs the sync supervisor and the live change feed in the background
// until Stop or Close. Calling Start twice has no effect.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		if err := e.rec.Run(ctx); err != nil {
			e.logger.Error(ctx, "sync supervisor stopped", "error", err)
		}
	}()
	go func() {
		defer e.wg.Done()
		if err := e.rec.Watch(ctx, nil); err != nil {
			e.logger.Error(ctx, "change feed stopped", "error", err)
		}
	}()
}

// Stop halts background sync and waits for it to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		e.wg.Wait()
	}
}

// Close stops background sync and closes the local database.
func (e *Engine) Close() error {
	e.Stop()
	return e.store.Close()
}
