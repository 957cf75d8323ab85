package fallback

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"rowforge/internal/broker"
	"rowforge/internal/chunking"
	"rowforge/internal/dataset"
	"rowforge/internal/testsupport"
	"rowforge/internal/transform"
)

func planFor(t *testing.T, rowCount, chunkSize int) []chunking.Chunk {
	t.Helper()
	plan, err := chunking.Plan("job-1", rowCount, chunkSize, "uppercase", []string{"text"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	return plan
}

func collect(t *testing.T, ch <-chan *broker.ChunkResult) map[int]*broker.ChunkResult {
	t.Helper()
	results := make(map[int]*broker.ChunkResult)
	timeout := time.After(10 * time.Second)
	for {
		select {
		case res, ok := <-ch:
			if !ok {
				return results
			}
			if _, dup := results[res.ChunkID]; dup {
				t.Fatalf("chunk %d reported twice", res.ChunkID)
			}
			results[res.ChunkID] = res
		case <-timeout:
			t.Fatal("executor did not finish")
		}
	}
}

func TestExecutorRunsAllChunks(t *testing.T) {
	ds := testsupport.MustDataset(t, 10)
	plan := planFor(t, 10, 4)

	exec := NewExecutor(testsupport.UppercaseApplier(), nil, 2, 3)
	results := collect(t, exec.Run(context.Background(), plan, ds))

	if len(results) != len(plan) {
		t.Fatalf("got %d results, want %d", len(results), len(plan))
	}
	for _, chunk := range plan {
		res := results[chunk.ChunkID]
		if res == nil {
			t.Fatalf("chunk %d missing", chunk.ChunkID)
		}
		if res.Failed() {
			t.Fatalf("chunk %d failed: %s", chunk.ChunkID, res.ErrorMessage)
		}
		if res.RowStart != chunk.Start || res.RowCount != chunk.Len() {
			t.Fatalf("chunk %d bounds %d/%d, want %d/%d", chunk.ChunkID, res.RowStart, res.RowCount, chunk.Start, chunk.Len())
		}
		if res.Values[0] != "ROW-"+strconv.Itoa(chunk.Start) {
			t.Fatalf("chunk %d first value = %q", chunk.ChunkID, res.Values[0])
		}
	}
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	ds := testsupport.MustDataset(t, 4)
	plan := planFor(t, 4, 2)

	applier := testsupport.NewScriptedApplier(map[int][]error{
		0: {transform.Transient(errors.New("overloaded")), transform.Transient(errors.New("overloaded"))},
	})
	exec := NewExecutor(applier, nil, 2, 3)
	results := collect(t, exec.Run(context.Background(), plan, ds))

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Failed() {
		t.Fatalf("chunk 0 failed after retries: %s", results[0].ErrorMessage)
	}
	if got := applier.Calls(0); got != 3 {
		t.Fatalf("chunk 0 attempted %d times, want 3", got)
	}
	if got := applier.Calls(2); got != 1 {
		t.Fatalf("chunk 1 attempted %d times, want 1", got)
	}
}

func TestExecutorExhaustsAttempts(t *testing.T) {
	ds := testsupport.MustDataset(t, 2)
	plan := planFor(t, 2, 2)

	boom := transform.Transient(errors.New("always failing"))
	applier := testsupport.NewScriptedApplier(map[int][]error{
		0: {boom, boom, boom},
	})
	exec := NewExecutor(applier, nil, 1, 3)
	results := collect(t, exec.Run(context.Background(), plan, ds))

	res := results[0]
	if res == nil || !res.Failed() {
		t.Fatalf("expected terminal failure, got %+v", res)
	}
	if res.AttemptCount != 3 {
		t.Fatalf("attempt count = %d, want 3", res.AttemptCount)
	}
	if got := applier.Calls(0); got != 3 {
		t.Fatalf("chunk attempted %d times, want exactly 3", got)
	}
}

func TestExecutorPermanentFailureSkipsRetry(t *testing.T) {
	ds := testsupport.MustDataset(t, 2)
	plan := planFor(t, 2, 2)

	applier := testsupport.NewScriptedApplier(map[int][]error{
		0: {transform.Permanent(errors.New("bad instruction"))},
	})
	exec := NewExecutor(applier, nil, 1, 3)
	results := collect(t, exec.Run(context.Background(), plan, ds))

	res := results[0]
	if res == nil || !res.Failed() {
		t.Fatalf("expected terminal failure, got %+v", res)
	}
	if got := applier.Calls(0); got != 1 {
		t.Fatalf("permanent failure retried: %d calls", got)
	}
}

func TestExecutorFailedChunkDoesNotAbortOthers(t *testing.T) {
	ds := testsupport.MustDataset(t, 6)
	plan := planFor(t, 6, 2)

	applier := testsupport.NewScriptedApplier(map[int][]error{
		2: {transform.Permanent(errors.New("middle chunk rejected"))},
	})
	exec := NewExecutor(applier, nil, 2, 3)
	results := collect(t, exec.Run(context.Background(), plan, ds))

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[1].Failed() {
		t.Fatal("middle chunk should have failed")
	}
	if results[0].Failed() || results[2].Failed() {
		t.Fatal("unrelated chunks failed")
	}
}

func TestExecutorCancellationStopsWork(t *testing.T) {
	ds := testsupport.MustDataset(t, 20)
	plan := planFor(t, 20, 1)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, len(plan))
	blocking := transform.ApplierFunc(func(ctx context.Context, command string, rows []dataset.Row, columnRefs []string) ([]string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	exec := NewExecutor(blocking, nil, 2, 3)
	ch := exec.Run(ctx, plan, ds)

	<-started
	cancel()

	results := collect(t, ch)
	// Cancelled chunks report nothing; at most the chunks already terminal.
	for _, res := range results {
		if res.Failed() {
			t.Fatalf("cancellation recorded as chunk failure: %s", res.ErrorMessage)
		}
	}
	if len(results) == len(plan) {
		t.Fatal("all chunks completed despite cancellation")
	}
}
