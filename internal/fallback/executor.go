// Package fallback executes a chunk plan in-process when the distributed
// broker is unavailable. Execution semantics match the distributed path:
// same chunk boundaries, same per-chunk attempt bound, same terminal result
// shape. The caller cannot tell from the results which path ran the job.
package fallback

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"rowforge/internal/broker"
	"rowforge/internal/chunking"
	"rowforge/internal/dataset"
	"rowforge/internal/logging"
	"rowforge/internal/transform"
)

// Executor runs chunks through a transform.Applier on a bounded local pool.
type Executor struct {
	applier     transform.Applier
	logger      *slog.Logger
	workers     int
	maxAttempts int
}

// NewExecutor constructs an executor running at most workers chunks at once,
// with maxAttempts transform invocations per chunk.
func NewExecutor(applier transform.Applier, logger *slog.Logger, workers, maxAttempts int) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Executor{
		applier:     applier,
		logger:      logging.WithComponent(logger, "fallback"),
		workers:     workers,
		maxAttempts: maxAttempts,
	}
}

// Run executes the plan against ds and streams one terminal result per chunk
// on the returned channel. The channel closes once every chunk has a result
// or ctx is cancelled; cancelled chunks produce no result.
func (e *Executor) Run(ctx context.Context, plan []chunking.Chunk, ds *dataset.Dataset) <-chan *broker.ChunkResult {
	results := make(chan *broker.ChunkResult, len(plan))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.workers)

	go func() {
		defer close(results)
		for _, chunk := range plan {
			chunk := chunk
			group.Go(func() error {
				result := e.runChunk(groupCtx, chunk, ds)
				if result == nil {
					return groupCtx.Err()
				}
				select {
				case results <- result:
				case <-groupCtx.Done():
				}
				return nil
			})
		}
		_ = group.Wait()
	}()

	return results
}

// runChunk applies the transform with the same retry discipline the broker
// enforces for distributed tasks. Returns nil if the context is cancelled
// before a terminal outcome.
func (e *Executor) runChunk(ctx context.Context, chunk chunking.Chunk, ds *dataset.Dataset) *broker.ChunkResult {
	logger := e.logger.With(
		logging.String(logging.FieldJobID, chunk.JobID),
		logging.Int(logging.FieldChunkID, chunk.ChunkID),
	)
	rows := ds.Slice(chunk.Start, chunk.End, chunk.ColumnRefs)

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		values, err := e.applier.Apply(ctx, chunk.Command, rows, chunk.ColumnRefs)
		if err == nil && len(values) != chunk.Len() {
			err = transform.Permanent(errors.New("transform returned wrong value count"))
		}
		if err == nil {
			return &broker.ChunkResult{
				JobID:        chunk.JobID,
				ChunkID:      chunk.ChunkID,
				RowStart:     chunk.Start,
				RowCount:     chunk.Len(),
				Values:       values,
				AttemptCount: attempt,
			}
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}

		lastErr = err
		if !transform.IsRetryable(err) {
			logger.Warn("chunk failed permanently",
				logging.Error(err),
				logging.Int(logging.FieldAttempt, attempt),
			)
			return failedResult(chunk, attempt, err)
		}
		logger.Debug("chunk attempt failed",
			logging.Error(err),
			logging.Int(logging.FieldAttempt, attempt),
		)
	}

	logger.Warn("chunk exhausted attempts",
		logging.Error(lastErr),
		logging.Int(logging.FieldAttempt, e.maxAttempts),
	)
	return failedResult(chunk, e.maxAttempts, lastErr)
}

func failedResult(chunk chunking.Chunk, attempt int, err error) *broker.ChunkResult {
	reason := "transform failed"
	if err != nil {
		reason = err.Error()
	}
	return &broker.ChunkResult{
		JobID:        chunk.JobID,
		ChunkID:      chunk.ChunkID,
		RowStart:     chunk.Start,
		RowCount:     chunk.Len(),
		ErrorMessage: reason,
		AttemptCount: attempt,
	}
}
