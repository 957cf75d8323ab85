package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rowforge/internal/broker"
	"rowforge/internal/logging"
	"rowforge/internal/transform"
)

// Worker claims tasks from the broker and applies the row transform to them.
type Worker struct {
	id         string
	store      *broker.Store
	applier    transform.Applier
	logger     *slog.Logger
	visibility time.Duration
	claimWait  time.Duration
}

// New constructs a worker. visibility bounds how long a claim stays invisible
// to other workers; claimWait is how long the loop sleeps when the queue is
// empty.
func New(id string, store *broker.Store, applier transform.Applier, logger *slog.Logger, visibility, claimWait time.Duration) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	if visibility <= 0 {
		visibility = 2 * time.Minute
	}
	if claimWait <= 0 {
		claimWait = time.Second
	}
	return &Worker{
		id:         id,
		store:      store,
		applier:    applier,
		logger:     logger.With(logging.String(logging.FieldWorkerID, id)),
		visibility: visibility,
		claimWait:  claimWait,
	}
}

// Run loops until ctx is cancelled, claiming and processing one task at a
// time.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := w.store.ClaimNext(ctx, w.id, w.visibility)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("claim failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "task_claim_failed"),
			)
			w.wait(ctx)
			continue
		}
		if task == nil {
			w.wait(ctx)
			continue
		}

		if err := w.ProcessTask(ctx, task); err != nil && errors.Is(err, context.Canceled) {
			return
		}
	}
}

// ProcessTask applies the transform to one claimed task and reports the
// outcome. A transform error is forwarded to the broker, which decides
// between requeue and terminal failure; the worker itself never retries.
func (w *Worker) ProcessTask(ctx context.Context, task *broker.Task) error {
	logger := w.logger.With(
		logging.String(logging.FieldJobID, task.JobID),
		logging.Int(logging.FieldChunkID, task.ChunkID),
		logging.Int(logging.FieldAttempt, task.AttemptCount),
	)
	logger.Debug("processing task", logging.Int("rows", len(task.Rows)))

	values, applyErr := w.applier.Apply(ctx, task.Command, task.Rows, task.ColumnRefs)
	if applyErr == nil && len(values) != len(task.Rows) {
		applyErr = transform.Permanent(fmt.Errorf("transform returned %d values for %d rows", len(values), len(task.Rows)))
	}
	if applyErr != nil {
		if errors.Is(applyErr, context.Canceled) {
			// Shutdown, not a task failure. The claim expires and another
			// worker picks the task up.
			return applyErr
		}
		retryable := transform.IsRetryable(applyErr)
		requeued, err := w.store.Fail(ctx, task, applyErr, retryable)
		if err != nil {
			logger.Error("reporting failure failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "task_report_failed"),
			)
			return err
		}
		logger.Warn("task failed",
			logging.Error(applyErr),
			logging.Bool("requeued", requeued),
			logging.String(logging.FieldEventType, "task_failed"),
		)
		return nil
	}

	result := &broker.ChunkResult{
		JobID:        task.JobID,
		ChunkID:      task.ChunkID,
		RowStart:     task.RowStart,
		RowCount:     task.RowCount,
		Values:       values,
		AttemptCount: task.AttemptCount,
	}
	if err := w.store.Complete(ctx, result); err != nil {
		logger.Error("reporting completion failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_report_failed"),
		)
		return err
	}
	logger.Debug("task completed")
	return nil
}

func (w *Worker) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.claimWait):
	}
}
