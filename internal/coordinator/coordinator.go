// Package coordinator orchestrates a job end to end: plan chunks, submit
// them to the broker, poll for results, and assemble the final column. When
// the broker is unavailable, or distributed mode is disabled, the same plan
// runs through the in-process fallback executor with identical result
// semantics. Per-chunk failures degrade the result instead of failing the
// job; only planning and input validation errors are fatal.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"rowforge/internal/aggregate"
	"rowforge/internal/broker"
	"rowforge/internal/chunking"
	"rowforge/internal/config"
	"rowforge/internal/dataset"
	"rowforge/internal/fallback"
	"rowforge/internal/logging"
	"rowforge/internal/progress"
	"rowforge/internal/transform"
)

const timeoutReason = "job timeout exceeded before chunk completed"

// Coordinator runs enrichment jobs against a broker with a transparent
// in-process fallback.
type Coordinator struct {
	cfg     *config.Config
	store   *broker.Store
	applier transform.Applier
	tracker *progress.Tracker
	logger  *slog.Logger
}

// New constructs a coordinator. store may be nil, in which case every job
// runs on the fallback path.
func New(cfg *config.Config, store *broker.Store, applier transform.Applier, tracker *progress.Tracker, logger *slog.Logger) *Coordinator {
	if tracker == nil {
		tracker = progress.NewTracker()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		cfg:     cfg,
		store:   store,
		applier: applier,
		tracker: tracker,
		logger:  logging.WithComponent(logger, "coordinator"),
	}
}

// Tracker exposes the progress tracker feeding the status API.
func (c *Coordinator) Tracker() *progress.Tracker {
	return c.tracker
}

// Run executes command against the referenced columns of ds and returns one
// value per row. The outcome is best-effort: rows whose chunk permanently
// failed or timed out appear in Outcome.Failed instead of aborting the job.
// Run returns an error only for invalid input or planning failures.
func (c *Coordinator) Run(ctx context.Context, ds *dataset.Dataset, command string, columnRefs []string) (*aggregate.Outcome, error) {
	if ds == nil {
		return nil, errors.New("dataset is nil")
	}
	if command == "" {
		return nil, errors.New("command is empty")
	}
	if err := ds.HasColumns(columnRefs); err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	plan, err := chunking.Plan(jobID, ds.Len(), c.cfg.Jobs.ChunkSize, command, columnRefs)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With(logging.String(logging.FieldJobID, jobID))
	assembler := aggregate.NewAssembler(jobID, ds.Len())
	if len(plan) == 0 {
		return assembler.Outcome(broker.StatusCompleted), nil
	}

	c.tracker.StartJob(jobID, len(plan))
	logger.Info("job planned",
		logging.Int("chunks", len(plan)),
		logging.Int("rows", ds.Len()),
		logging.Int("chunk_size", c.cfg.Jobs.ChunkSize),
	)

	if !c.cfg.Jobs.DistributedEnabled || c.store == nil {
		return c.runFallback(ctx, logger, plan, ds, assembler)
	}

	if err := c.submit(ctx, jobID, command, columnRefs, plan, ds); err != nil {
		if !errors.Is(err, broker.ErrUnavailable) {
			return nil, err
		}
		logger.Warn("broker unavailable, falling back to local execution",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_fell_back"),
		)
		return c.runFallback(ctx, logger, plan, ds, assembler)
	}

	return c.pollUntilDone(ctx, logger, jobID, plan, assembler)
}

// submit builds broker tasks from the plan and publishes the job in one
// transaction.
func (c *Coordinator) submit(ctx context.Context, jobID, command string, columnRefs []string, plan []chunking.Chunk, ds *dataset.Dataset) error {
	job := &broker.Job{
		ID:                 jobID,
		Command:            command,
		ColumnRefs:         columnRefs,
		TotalChunks:        len(plan),
		TotalRows:          ds.Len(),
		DatasetFingerprint: fmt.Sprintf("%016x", ds.Fingerprint()),
	}
	tasks := make([]*broker.Task, 0, len(plan))
	for _, chunk := range plan {
		tasks = append(tasks, &broker.Task{
			ChunkID:     chunk.ChunkID,
			RowStart:    chunk.Start,
			RowCount:    chunk.Len(),
			Rows:        ds.Slice(chunk.Start, chunk.End, chunk.ColumnRefs),
			MaxAttempts: c.cfg.Jobs.MaxAttempts,
		})
	}
	return c.store.Submit(ctx, job, tasks)
}

// pollUntilDone drives the distributed path: poll the broker for terminal
// results on an interval, feed them to the tracker and assembler, and stop
// when every chunk is accounted for or the job deadline passes. On timeout
// the job is cancelled in the broker and the assembled partial result is
// returned; it never blocks past the deadline.
func (c *Coordinator) pollUntilDone(ctx context.Context, logger *slog.Logger, jobID string, plan []chunking.Chunk, assembler *aggregate.Assembler) (*aggregate.Outcome, error) {
	deadline := time.NewTimer(c.cfg.JobTimeout())
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval())
	defer ticker.Stop()

	var cursor int64
	for {
		results, next, err := c.store.PollResults(ctx, jobID, cursor)
		if err != nil {
			logger.Error("polling results failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_poll_failed"),
			)
		} else {
			cursor = next
			for _, res := range results {
				if err := c.applyResult(assembler, res); err != nil {
					logger.Error("discarding malformed result", logging.Error(err), logging.Int(logging.FieldChunkID, res.ChunkID))
					continue
				}
			}
			if state, ok := c.tracker.Snapshot(jobID); ok && state.Done() {
				return c.finalize(ctx, logger, jobID, assembler), nil
			}
		}

		select {
		case <-ctx.Done():
			return c.abandon(logger, jobID, plan, assembler, ctx.Err().Error()), ctx.Err()
		case <-deadline.C:
			logger.Warn("job deadline exceeded, returning partial result",
				logging.Duration("timeout", c.cfg.JobTimeout()),
				logging.String(logging.FieldEventType, "job_timed_out"),
			)
			return c.abandon(logger, jobID, plan, assembler, timeoutReason), nil
		case <-ticker.C:
		}
	}
}

// applyResult folds one terminal result into the assembler and tracker. A
// chunk counts as failed if its result is an error or is malformed.
func (c *Coordinator) applyResult(assembler *aggregate.Assembler, res *broker.ChunkResult) error {
	applied, err := assembler.Apply(res)
	if err != nil {
		c.tracker.OnResult(res.JobID, res.ChunkID, true)
		return err
	}
	if applied {
		c.tracker.OnResult(res.JobID, res.ChunkID, res.Failed())
	}
	return nil
}

// finalize computes the job's terminal status from the tracker, mirrors it
// into the broker, and snapshots the outcome.
func (c *Coordinator) finalize(ctx context.Context, logger *slog.Logger, jobID string, assembler *aggregate.Assembler) *aggregate.Outcome {
	status := c.tracker.Finalize(jobID)
	if c.store != nil {
		if err := c.store.SetJobStatus(ctx, jobID, status); err != nil {
			logger.Warn("updating job status failed", logging.Error(err))
		}
	}
	outcome := assembler.Outcome(status)
	logger.Info("job finished",
		logging.String("status", string(status)),
		logging.Int("resolved", outcome.ResolvedCount()),
		logging.Int("failed_rows", len(outcome.Failed)),
	)
	return outcome
}

// abandon marks every chunk without a terminal result as failed with the
// given reason, cancels the broker job so workers stop picking it up, and
// returns the partial outcome.
func (c *Coordinator) abandon(logger *slog.Logger, jobID string, plan []chunking.Chunk, assembler *aggregate.Assembler, reason string) *aggregate.Outcome {
	for _, chunk := range plan {
		assembler.MarkUnresolved(chunk.ChunkID, chunk.Start, chunk.Len(), reason)
		c.tracker.OnResult(jobID, chunk.ChunkID, true)
	}
	if c.store != nil {
		// Detached context: the job context may already be cancelled.
		cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.store.Cancel(cancelCtx, jobID); err != nil {
			logger.Warn("cancelling job failed", logging.Error(err))
		}
	}
	status := c.tracker.Finalize(jobID)
	return assembler.Outcome(status)
}

// runFallback executes the plan in-process with the same retry and result
// semantics as the distributed path. The finished job reports FellBack so
// callers can tell which path served it, while values and failure markers
// stay identical to a distributed run.
func (c *Coordinator) runFallback(ctx context.Context, logger *slog.Logger, plan []chunking.Chunk, ds *dataset.Dataset, assembler *aggregate.Assembler) (*aggregate.Outcome, error) {
	jobID := plan[0].JobID
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.JobTimeout())
	defer cancel()

	exec := fallback.NewExecutor(c.applier, c.logger, c.cfg.Jobs.FallbackWorkerCount, c.cfg.Jobs.MaxAttempts)
	for res := range exec.Run(runCtx, plan, ds) {
		if err := c.applyResult(assembler, res); err != nil {
			logger.Error("discarding malformed result", logging.Error(err), logging.Int(logging.FieldChunkID, res.ChunkID))
		}
	}

	if runCtx.Err() != nil {
		reason := timeoutReason
		if ctx.Err() != nil {
			reason = ctx.Err().Error()
		}
		for _, chunk := range plan {
			assembler.MarkUnresolved(chunk.ChunkID, chunk.Start, chunk.Len(), reason)
			c.tracker.OnResult(jobID, chunk.ChunkID, true)
		}
	}

	status := c.tracker.Finalize(jobID)
	if status != broker.StatusFailed {
		status = broker.StatusFellBack
		c.tracker.SetStatus(jobID, status)
	}
	outcome := assembler.Outcome(status)
	logger.Info("job finished locally",
		logging.String("status", string(status)),
		logging.Int("resolved", outcome.ResolvedCount()),
		logging.Int("failed_rows", len(outcome.Failed)),
	)
	return outcome, ctx.Err()
}
