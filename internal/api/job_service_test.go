package api

import (
	"context"
	"testing"

	"rowforge/internal/broker"
	"rowforge/internal/dataset"
	"rowforge/internal/testsupport"
)

func submitJob(t *testing.T, store *broker.Store, jobID string, chunks int) {
	t.Helper()
	job := &broker.Job{
		ID:          jobID,
		Command:     "uppercase",
		ColumnRefs:  []string{"text"},
		TotalChunks: chunks,
		TotalRows:   chunks * 2,
	}
	tasks := make([]*broker.Task, 0, chunks)
	for i := 0; i < chunks; i++ {
		tasks = append(tasks, &broker.Task{
			ChunkID:     i,
			RowStart:    i * 2,
			RowCount:    2,
			Rows:        []dataset.Row{{"text": "a"}, {"text": "b"}},
			MaxAttempts: 3,
		})
	}
	if err := store.Submit(context.Background(), job, tasks); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func completeOne(t *testing.T, store *broker.Store) {
	t.Helper()
	ctx := context.Background()
	task, err := store.ClaimNext(ctx, "w", 0)
	if err != nil || task == nil {
		t.Fatalf("claim: task=%v err=%v", task, err)
	}
	result := &broker.ChunkResult{
		JobID:    task.JobID,
		ChunkID:  task.ChunkID,
		RowStart: task.RowStart,
		RowCount: task.RowCount,
		Values:   []string{"A", "B"},
	}
	if err := store.Complete(ctx, result); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestJobServiceListAndDescribe(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	submitJob(t, store, "job-1", 3)
	completeOne(t, store)

	svc := NewJobService(store)
	ctx := context.Background()

	jobs, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-1" {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].Status != string(broker.StatusRunning) {
		t.Fatalf("status = %s", jobs[0].Status)
	}

	detail, err := svc.Describe(ctx, "job-1")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if detail == nil {
		t.Fatal("describe returned nil for known job")
	}
	if detail.CompletedChunks != 1 || detail.FailedChunks != 0 {
		t.Fatalf("counts = %d/%d, want 1/0", detail.CompletedChunks, detail.FailedChunks)
	}
	if len(detail.ColumnRefs) != 1 || detail.ColumnRefs[0] != "text" {
		t.Fatalf("column refs = %v", detail.ColumnRefs)
	}

	missing, err := svc.Describe(ctx, "no-such-job")
	if err != nil {
		t.Fatalf("describe missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown job, got %+v", missing)
	}
}

func TestJobServiceProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	submitJob(t, store, "job-1", 2)
	completeOne(t, store)

	svc := NewJobService(store)
	prog, err := svc.Progress(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if prog.Total != 2 || prog.Completed != 1 || prog.Failed != 0 {
		t.Fatalf("progress = %+v", prog)
	}
}

func TestJobServiceCancelAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	submitJob(t, store, "job-1", 2)

	svc := NewJobService(store)
	ctx := context.Background()

	cancelled, err := svc.Cancel(ctx, "job-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled {
		t.Fatal("cancel returned false for running job")
	}
	// Cancelling again is a no-op.
	cancelled, err = svc.Cancel(ctx, "job-1")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if cancelled {
		t.Fatal("second cancel reported a change")
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[string(broker.StatusCancelled)] != 1 {
		t.Fatalf("stats = %v", stats)
	}

	removed, err := svc.ClearTerminal(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}
