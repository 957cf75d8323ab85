package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rowforge/internal/broker"
	"rowforge/internal/config"
	"rowforge/internal/logging"
	"rowforge/internal/transform"
)

// Pool runs a fixed set of workers against one broker store.
type Pool struct {
	store   *broker.Store
	applier transform.Applier
	logger  *slog.Logger

	count      int
	visibility time.Duration
	claimWait  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool constructs a worker pool sized and tuned from cfg.
func NewPool(cfg *config.Config, store *broker.Store, applier transform.Applier, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		store:      store,
		applier:    applier,
		logger:     logging.WithComponent(logger, "worker"),
		count:      cfg.Jobs.WorkerCount,
		visibility: cfg.VisibilityTimeout(),
		claimWait:  time.Duration(cfg.Jobs.ClaimWaitSecondsWhenEmpty) * time.Second,
	}
}

// Start launches the pool's workers. It returns an error if the pool is
// already running.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	if p.count < 1 {
		return errors.New("worker pool needs at least one worker")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(p.count)
	for i := 0; i < p.count; i++ {
		w := New(fmt.Sprintf("worker-%d", i+1), p.store, p.applier, p.logger, p.visibility, p.claimWait)
		go func() {
			defer p.wg.Done()
			w.Run(runCtx)
		}()
	}
	p.logger.Info("worker pool started", logging.Int("workers", p.count))
	return nil
}

// Stop cancels all workers and waits for them to finish their current task.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Running reports whether the pool has been started and not yet stopped.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
