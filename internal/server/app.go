// Package server wires the replica server: storage, services, the gRPC
// endpoint and the ops HTTP endpoint.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/server/config"
	"github.com/dmitrijs2005/ledgersync/internal/server/httpapi"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/ledgersync/internal/server/services"

	gs "github.com/dmitrijs2005/ledgersync/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	replicas *services.ReplicaService
	auth     *services.AuthService
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewLogger returns the logger selected by kind ("slog" or "zap") and a
// flush function to call on exit.
func NewLogger(kind string) (logging.Logger, func(), error) {
	switch kind {
	case "", "slog":
		return logging.NewJSONLogger(os.Stdout, slog.LevelInfo), func() {}, nil
	case "zap":
		z, err := logging.NewZapProduction()
		if err != nil {
			return nil, nil, err
		}
		return z, func() { _ = z.Sync() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown logger %q", kind)
	}
}

// NewApp opens storage and builds the services. An empty DSN keeps the
// replica in memory.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	var (
		db *sql.DB
		rm repomanager.RepositoryManager
	)

	if c.DatabaseDSN == "" {
		logger.Warn(ctx, "no database configured, replica is kept in memory")
		rm = repomanager.NewMemoryRepositoryManager()
	} else {
		var err error
		db, err = openDB(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		rm = repomanager.NewPostgresRepositoryManager()
		if err := rm.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations error: %w", err)
		}
	}

	hub := services.NewHub(c.SubscriberBuffer, logger)

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		replicas: services.NewReplicaService(db, rm, hub, logger),
		auth:     services.NewAuthService(db, rm, c, logger),
	}, nil
}

// Run serves until ctx is done or one of the endpoints fails, and returns
// the first failure.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() { firstErr = err })
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.replicas, app.auth)
		if err := s.Run(ctx); err != nil {
			fail(fmt.Errorf("grpc server: %w", err))
		}
	}()

	if app.config.EndpointAddrHTTP != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := httpapi.NewHandler(app.replicas, app.logger)
			if err := httpapi.NewServer(app.config.EndpointAddrHTTP, h, app.logger).Run(ctx); err != nil {
				fail(fmt.Errorf("http server: %w", err))
			}
		}()
	}

	wg.Wait()
	return firstErr
}

func (app *App) Close() error {
	if app.db != nil {
		return app.db.Close()
	}
	return nil
}
