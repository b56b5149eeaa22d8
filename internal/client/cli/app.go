package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/config"
	"github.com/dmitrijs2005/ledgersync/internal/client/engine"
	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/dmitrijs2005/ledgersync/internal/client/snapshot"
	"github.com/dmitrijs2005/ledgersync/internal/filex"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
)

type Mode string

const (
	ModeUnknown Mode = ""
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type App struct {
	config  *config.Config
	engine  *engine.Engine
	logger  logging.Logger
	reader  *bufio.Reader
	out     io.Writer
	closers []func() error

	mu   sync.Mutex
	mode Mode
}

// NewApp connects to the replica endpoint, opens the local engine and, when
// a bucket is configured, the S3 backup store.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if err := filex.EnsureParentDir(c.DBPath); err != nil {
		return nil, err
	}

	replica, err := remote.NewGRPCReplica(c.ServerEndpointAddr, "", c.APIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("replica client: %w", err)
	}

	var opts []engine.Option
	if c.S3Bucket != "" {
		backups, err := snapshot.NewS3Store(ctx, snapshot.S3Config{
			Endpoint:  c.S3Endpoint,
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			PathStyle: c.S3Endpoint != "",
		})
		if err != nil {
			_ = replica.Close()
			return nil, err
		}
		opts = append(opts, engine.WithBackupStore(backups))
	}

	eng, err := engine.Open(ctx, c, replica, logger, opts...)
	if err != nil {
		_ = replica.Close()
		return nil, err
	}

	deviceID, err := eng.DeviceID(ctx)
	if err != nil {
		_ = eng.Close()
		_ = replica.Close()
		return nil, err
	}
	replica.SetDeviceID(deviceID)

	return newApp(c, eng, logger, os.Stdin, os.Stdout, replica.Close), nil
}

func newApp(c *config.Config, eng *engine.Engine, logger logging.Logger, in io.Reader, out io.Writer, closers ...func() error) *App {
	return &App{
		config:  c,
		engine:  eng,
		logger:  logger.With("module", "cli"),
		reader:  bufio.NewReader(in),
		out:     out,
		closers: closers,
	}
}

// Run starts background sync and the REPL. It returns when the user exits
// or ctx is done.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintln(a.out, "Welcome to ledgersync (type 'help' for commands)")

	a.engine.Start(ctx)
	go a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)

	runREPL(ctx, a, a.getStatus, a.reader, a.out)
	return nil
}

// Close stops background sync and releases the engine and the connection.
func (a *App) Close() error {
	err := a.engine.Close()
	for _, c := range a.closers {
		err = errors.Join(err, c())
	}
	a.closers = nil
	return err
}

func (a *App) setMode(ctx context.Context, mode Mode) (changed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode == mode {
		return false
	}
	a.mode = mode
	a.logger.Info(ctx, "connectivity changed", "mode", string(mode))
	return true
}

func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *App) getStatus() string {
	if m := a.Mode(); m != ModeUnknown {
		return fmt.Sprintf("(%s)", m)
	}
	return ""
}

// StartOnlineStatusWatcher pings the replica every interval. Regaining
// connectivity nudges the background sync so queued mutations go out at once.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.checkOnline(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) checkOnline(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := a.engine.Ping(pctx)
	cancel()

	if err != nil {
		a.setMode(ctx, ModeOffline)
		return
	}
	if a.setMode(ctx, ModeOnline) {
		a.engine.Trigger()
	}
}
