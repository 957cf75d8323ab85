package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"rowforge/internal/broker"
	"rowforge/internal/chunking"
	"rowforge/internal/dataset"
	"rowforge/internal/testsupport"
	"rowforge/internal/transform"
)

func submitJob(t *testing.T, store *broker.Store, jobID string, rowCount, chunkSize, maxAttempts int) []chunking.Chunk {
	t.Helper()
	ds := testsupport.MustDataset(t, rowCount)
	plan, err := chunking.Plan(jobID, rowCount, chunkSize, "uppercase", []string{"text"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	job := &broker.Job{
		ID:          jobID,
		Command:     "uppercase",
		ColumnRefs:  []string{"text"},
		TotalChunks: len(plan),
		TotalRows:   rowCount,
	}
	tasks := make([]*broker.Task, 0, len(plan))
	for _, chunk := range plan {
		tasks = append(tasks, &broker.Task{
			ChunkID:     chunk.ChunkID,
			RowStart:    chunk.Start,
			RowCount:    chunk.Len(),
			Rows:        ds.Slice(chunk.Start, chunk.End, chunk.ColumnRefs),
			MaxAttempts: maxAttempts,
		})
	}
	if err := store.Submit(context.Background(), job, tasks); err != nil {
		t.Fatalf("submit: %v", err)
	}
	return plan
}

func drainResults(t *testing.T, store *broker.Store, jobID string) []*broker.ChunkResult {
	t.Helper()
	results, _, err := store.PollResults(context.Background(), jobID, 0)
	if err != nil {
		t.Fatalf("poll results: %v", err)
	}
	return results
}

func TestProcessTaskCompletes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	submitJob(t, store, "job-1", 4, 2, 3)

	w := New("worker-1", store, testsupport.UppercaseApplier(), nil, time.Minute, time.Second)
	for i := 0; i < 2; i++ {
		task, err := store.ClaimNext(ctx, w.id, time.Minute)
		if err != nil || task == nil {
			t.Fatalf("claim %d: task=%v err=%v", i, task, err)
		}
		if err := w.ProcessTask(ctx, task); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	results := drainResults(t, store, "job-1")
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, res := range results {
		if res.Failed() {
			t.Fatalf("chunk %d failed: %s", res.ChunkID, res.ErrorMessage)
		}
		if len(res.Values) != 2 {
			t.Fatalf("chunk %d has %d values", res.ChunkID, len(res.Values))
		}
	}
	if results[0].Values[0] != "ROW-0" {
		t.Fatalf("first value = %q", results[0].Values[0])
	}
}

func TestProcessTaskRetryableFailureRequeues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	submitJob(t, store, "job-1", 2, 2, 3)

	applier := testsupport.NewScriptedApplier(map[int][]error{
		0: {transform.Transient(errors.New("model overloaded"))},
	})
	w := New("worker-1", store, applier, nil, time.Minute, time.Second)

	task, err := store.ClaimNext(ctx, w.id, time.Minute)
	if err != nil || task == nil {
		t.Fatalf("claim: %v", err)
	}
	if err := w.ProcessTask(ctx, task); err != nil {
		t.Fatalf("process: %v", err)
	}

	// No terminal result yet; the task went back to pending.
	if results := drainResults(t, store, "job-1"); len(results) != 0 {
		t.Fatalf("unexpected results after requeue: %v", results)
	}

	task, err = store.ClaimNext(ctx, w.id, time.Minute)
	if err != nil || task == nil {
		t.Fatalf("reclaim: %v", err)
	}
	if task.AttemptCount != 2 {
		t.Fatalf("attempt = %d, want 2", task.AttemptCount)
	}
	if err := w.ProcessTask(ctx, task); err != nil {
		t.Fatalf("second process: %v", err)
	}

	results := drainResults(t, store, "job-1")
	if len(results) != 1 || results[0].Failed() {
		t.Fatalf("expected one success, got %v", results)
	}
	if applier.Calls(0) != 2 {
		t.Fatalf("chunk attempted %d times, want 2", applier.Calls(0))
	}
}

func TestProcessTaskPermanentFailureIsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	submitJob(t, store, "job-1", 2, 2, 3)

	applier := testsupport.NewScriptedApplier(map[int][]error{
		0: {transform.Permanent(errors.New("instruction rejected"))},
	})
	w := New("worker-1", store, applier, nil, time.Minute, time.Second)

	task, err := store.ClaimNext(ctx, w.id, time.Minute)
	if err != nil || task == nil {
		t.Fatalf("claim: %v", err)
	}
	if err := w.ProcessTask(ctx, task); err != nil {
		t.Fatalf("process: %v", err)
	}

	results := drainResults(t, store, "job-1")
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !results[0].Failed() {
		t.Fatal("expected a failed result")
	}
	if applier.Calls(0) != 1 {
		t.Fatalf("permanent failure retried: %d calls", applier.Calls(0))
	}
}

func TestProcessTaskValueCountMismatchFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	submitJob(t, store, "job-1", 2, 2, 3)

	short := transform.ApplierFunc(func(ctx context.Context, command string, rows []dataset.Row, columnRefs []string) ([]string, error) {
		return []string{"only-one"}, nil
	})
	w := New("worker-1", store, short, nil, time.Minute, time.Second)

	task, err := store.ClaimNext(ctx, w.id, time.Minute)
	if err != nil || task == nil {
		t.Fatalf("claim: %v", err)
	}
	if err := w.ProcessTask(ctx, task); err != nil {
		t.Fatalf("process: %v", err)
	}

	results := drainResults(t, store, "job-1")
	if len(results) != 1 || !results[0].Failed() {
		t.Fatalf("expected terminal failure, got %v", results)
	}
}

func TestProcessTaskContextCanceledLeavesClaim(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	submitJob(t, store, "job-1", 2, 2, 3)

	canceled := transform.ApplierFunc(func(ctx context.Context, command string, rows []dataset.Row, columnRefs []string) ([]string, error) {
		return nil, context.Canceled
	})
	w := New("worker-1", store, canceled, nil, time.Minute, time.Second)

	task, err := store.ClaimNext(ctx, w.id, time.Minute)
	if err != nil || task == nil {
		t.Fatalf("claim: %v", err)
	}
	if err := w.ProcessTask(ctx, task); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The task was neither completed nor failed.
	if results := drainResults(t, store, "job-1"); len(results) != 0 {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestPoolProcessesAllChunks(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(3, 1))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	plan := submitJob(t, store, "job-1", 20, 2, 3)

	pool := NewPool(cfg, store, testsupport.UppercaseApplier(), nil)
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for {
		counts, err := store.Counts(ctx, "job-1")
		if err != nil {
			t.Fatalf("counts: %v", err)
		}
		if counts.Done(len(plan)) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pool did not drain the queue: %+v", counts)
		}
		time.Sleep(20 * time.Millisecond)
	}

	results := drainResults(t, store, "job-1")
	if len(results) != len(plan) {
		t.Fatalf("got %d results, want %d", len(results), len(plan))
	}
	for _, res := range results {
		if res.Failed() {
			t.Fatalf("chunk %d failed: %s", res.ChunkID, res.ErrorMessage)
		}
	}

	if err := pool.Start(ctx); err == nil {
		t.Fatal("second Start should fail while running")
	}
	pool.Stop()
	if pool.Running() {
		t.Fatal("pool still running after Stop")
	}
}
