package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rowforge/internal/api"
	"rowforge/internal/broker"
	"rowforge/internal/dataset"
	"rowforge/internal/logging"
	"rowforge/internal/logs"
	"rowforge/internal/testsupport"
	"rowforge/internal/worker"
)

func newTestDaemon(t *testing.T) (*Daemon, *broker.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(2, 1))
	store := testsupport.MustOpenStore(t, cfg)
	pool := worker.NewPool(cfg, store, testsupport.UppercaseApplier(), nil)
	d, err := New(cfg, store, pool, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, store
}

func startDaemon(t *testing.T, d *Daemon) string {
	t.Helper()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(d.Stop)
	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("daemon has no api address after start")
	}
	return addr
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func submitJob(t *testing.T, store *broker.Store, jobID string, chunks int) {
	t.Helper()
	job := &broker.Job{
		ID:          jobID,
		Command:     "uppercase",
		ColumnRefs:  []string{"text"},
		TotalChunks: chunks,
		TotalRows:   chunks,
	}
	tasks := make([]*broker.Task, 0, chunks)
	for i := 0; i < chunks; i++ {
		tasks = append(tasks, &broker.Task{
			ChunkID:     i,
			RowStart:    i,
			RowCount:    1,
			Rows:        []dataset.Row{{"text": fmt.Sprintf("row-%d", i)}},
			MaxAttempts: 3,
		})
	}
	if err := store.Submit(context.Background(), job, tasks); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestDaemonStartStop(t *testing.T) {
	d, _ := newTestDaemon(t)
	addr := startDaemon(t, d)

	var status api.DaemonStatus
	if code := getJSON(t, "http://"+addr+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if !status.Running {
		t.Fatal("status reports not running")
	}
	if status.Workers != 2 {
		t.Fatalf("workers = %d, want 2", status.Workers)
	}

	if err := d.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}

	d.Stop()
	d.Stop() // idempotent
}

func TestDaemonWorkersDrainQueue(t *testing.T) {
	d, store := newTestDaemon(t)
	addr := startDaemon(t, d)
	submitJob(t, store, "job-1", 4)

	deadline := time.Now().Add(10 * time.Second)
	for {
		var prog api.ProgressResponse
		code := getJSON(t, "http://"+addr+"/api/jobs/job-1/progress", &prog)
		if code != http.StatusOK {
			t.Fatalf("progress code = %d", code)
		}
		if prog.Completed == 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue not drained: %+v", prog)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemonJobEndpoints(t *testing.T) {
	d, store := newTestDaemon(t)
	addr := startDaemon(t, d)
	submitJob(t, store, "job-1", 2)

	var list api.JobListResponse
	if code := getJSON(t, "http://"+addr+"/api/jobs", &list); code != http.StatusOK {
		t.Fatalf("list code = %d", code)
	}
	if len(list.Jobs) != 1 || list.Jobs[0].ID != "job-1" {
		t.Fatalf("jobs = %+v", list.Jobs)
	}

	var detail api.JobResponse
	if code := getJSON(t, "http://"+addr+"/api/jobs/job-1", &detail); code != http.StatusOK {
		t.Fatalf("detail code = %d", code)
	}
	if detail.Job.TotalChunks != 2 {
		t.Fatalf("detail = %+v", detail.Job)
	}

	if code := getJSON(t, "http://"+addr+"/api/jobs/missing", nil); code != http.StatusNotFound {
		t.Fatalf("missing job code = %d, want 404", code)
	}
	if code := getJSON(t, "http://"+addr+"/api/jobs?status=bogus", nil); code != http.StatusBadRequest {
		t.Fatalf("bad status filter code = %d, want 400", code)
	}

	resp, err := http.Post("http://"+addr+"/api/jobs/job-1/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	defer resp.Body.Close()
	var cancelled api.CancelResponse
	if err := json.NewDecoder(resp.Body).Decode(&cancelled); err != nil {
		t.Fatalf("decode cancel: %v", err)
	}
	if !cancelled.Cancelled {
		t.Fatal("cancel reported no change")
	}
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1, 1))
	store := testsupport.MustOpenStore(t, cfg)
	pool := worker.NewPool(cfg, store, testsupport.UppercaseApplier(), nil)
	first, err := New(cfg, store, pool, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	startDaemon(t, first)

	secondPool := worker.NewPool(cfg, store, testsupport.UppercaseApplier(), nil)
	second, err := New(cfg, store, secondPool, nil)
	if err != nil {
		t.Fatalf("second daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second daemon acquired the lock")
	}
}

func TestLogsEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1, 1))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	logPath := filepath.Join(cfg.Paths.LogDir, logging.FileName)
	if err := os.WriteFile(logPath, []byte("first line\nsecond line\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := testsupport.MustOpenStore(t, cfg)
	pool := worker.NewPool(cfg, store, testsupport.UppercaseApplier(), nil)
	d, err := New(cfg, store, pool, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	addr := startDaemon(t, d)

	var result logs.TailResult
	if code := getJSON(t, "http://"+addr+"/api/logs?offset=0", &result); code != http.StatusOK {
		t.Fatalf("logs endpoint returned %d", code)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "first line" {
		t.Fatalf("unexpected lines: %v", result.Lines)
	}
	if result.Offset == 0 {
		t.Fatal("offset should advance past the read lines")
	}

	if code := getJSON(t, "http://"+addr+"/api/logs?offset=bogus", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad offset, got %d", code)
	}
}
