// Package daemon hosts the long-running side of rowforge: the worker pool
// draining the broker queue and the HTTP API the CLI polls. A file lock
// keeps execution single-instance per data directory.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"rowforge/internal/broker"
	"rowforge/internal/config"
	"rowforge/internal/logging"
	"rowforge/internal/worker"
)

type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *broker.Store
	pool   *worker.Pool

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workers      int
	BrokerDBPath string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *broker.Store, pool *worker.Pool, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || pool == nil {
		return nil, errors.New("daemon requires config, store, and worker pool")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "rowforged.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		pool:     pool,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the instance lock and launches the worker pool and API
// server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another rowforge daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.pool.Start(runCtx); err != nil {
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.pool.Stop()
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start api server: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("rowforge daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts down the API server and worker pool and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.pool.Stop()
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("rowforge daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API address, empty until Start succeeds.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workers:      d.cfg.Jobs.WorkerCount,
		BrokerDBPath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
