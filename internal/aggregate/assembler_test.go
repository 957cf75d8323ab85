package aggregate

import (
	"fmt"
	"sync"
	"testing"

	"rowforge/internal/broker"
)

func successResult(chunkID, rowStart int, values []string) *broker.ChunkResult {
	return &broker.ChunkResult{
		JobID:    "job-1",
		ChunkID:  chunkID,
		RowStart: rowStart,
		RowCount: len(values),
		Values:   values,
	}
}

func failureResult(chunkID, rowStart, rowCount int, reason string) *broker.ChunkResult {
	return &broker.ChunkResult{
		JobID:        "job-1",
		ChunkID:      chunkID,
		RowStart:     rowStart,
		RowCount:     rowCount,
		ErrorMessage: reason,
	}
}

func TestAssemblerOrderIndependence(t *testing.T) {
	asm := NewAssembler("job-1", 7)

	// Chunks arrive out of order.
	results := []*broker.ChunkResult{
		successResult(2, 6, []string{"g"}),
		successResult(0, 0, []string{"a", "b", "c"}),
		successResult(1, 3, []string{"d", "e", "f"}),
	}
	for _, res := range results {
		applied, err := asm.Apply(res)
		if err != nil {
			t.Fatalf("apply chunk %d: %v", res.ChunkID, err)
		}
		if !applied {
			t.Fatalf("chunk %d not applied", res.ChunkID)
		}
	}

	outcome := asm.Outcome(broker.StatusCompleted)
	want := []string{"a", "b", "c", "d", "e", "f", "g"}
	if len(outcome.Values) != len(want) {
		t.Fatalf("got %d values, want %d", len(outcome.Values), len(want))
	}
	for i, v := range want {
		if outcome.Values[i] != v {
			t.Errorf("row %d = %q, want %q", i, outcome.Values[i], v)
		}
		if !outcome.Resolved[i] {
			t.Errorf("row %d not marked resolved", i)
		}
	}
	if len(outcome.Failed) != 0 {
		t.Errorf("unexpected failed rows: %v", outcome.Failed)
	}
	if outcome.ResolvedCount() != 7 {
		t.Errorf("ResolvedCount = %d, want 7", outcome.ResolvedCount())
	}
}

func TestAssemblerPartialFailure(t *testing.T) {
	asm := NewAssembler("job-1", 6)

	if _, err := asm.Apply(successResult(0, 0, []string{"a", "b"})); err != nil {
		t.Fatal(err)
	}
	if _, err := asm.Apply(failureResult(1, 2, 2, "model rejected instruction")); err != nil {
		t.Fatal(err)
	}
	if _, err := asm.Apply(successResult(2, 4, []string{"e", "f"})); err != nil {
		t.Fatal(err)
	}

	outcome := asm.Outcome(broker.StatusCompletedWithErrors)
	if outcome.ResolvedCount() != 4 {
		t.Fatalf("ResolvedCount = %d, want 4", outcome.ResolvedCount())
	}
	if len(outcome.Failed) != 2 {
		t.Fatalf("got %d failed rows, want 2: %v", len(outcome.Failed), outcome.Failed)
	}
	for i, want := range []int{2, 3} {
		if outcome.Failed[i].Index != want {
			t.Errorf("failed[%d].Index = %d, want %d", i, outcome.Failed[i].Index, want)
		}
		if outcome.Failed[i].Reason != "model rejected instruction" {
			t.Errorf("failed[%d].Reason = %q", i, outcome.Failed[i].Reason)
		}
	}
	for _, idx := range []int{2, 3} {
		if outcome.Resolved[idx] {
			t.Errorf("row %d resolved despite chunk failure", idx)
		}
	}
	// Resolved rows survive the failed chunk untouched.
	for _, idx := range []int{0, 1, 4, 5} {
		if !outcome.Resolved[idx] {
			t.Errorf("row %d lost to unrelated chunk failure", idx)
		}
	}
}

func TestAssemblerDuplicateResultIgnored(t *testing.T) {
	asm := NewAssembler("job-1", 2)

	applied, err := asm.Apply(successResult(0, 0, []string{"first", "first"}))
	if err != nil || !applied {
		t.Fatalf("first apply: applied=%v err=%v", applied, err)
	}
	// Redelivery with different values must not overwrite.
	applied, err = asm.Apply(successResult(0, 0, []string{"second", "second"}))
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatal("duplicate result applied")
	}

	outcome := asm.Outcome(broker.StatusCompleted)
	if outcome.Values[0] != "first" || outcome.Values[1] != "first" {
		t.Errorf("values overwritten by duplicate: %v", outcome.Values)
	}
}

func TestAssemblerValueCountMismatch(t *testing.T) {
	asm := NewAssembler("job-1", 4)
	res := successResult(0, 0, []string{"only-one-for-two-rows"})
	res.RowCount = 2
	if _, err := asm.Apply(res); err == nil {
		t.Fatal("expected error for value count mismatch")
	}
}

func TestAssemblerOutOfBoundsChunk(t *testing.T) {
	asm := NewAssembler("job-1", 2)
	if _, err := asm.Apply(successResult(0, 1, []string{"a", "b"})); err == nil {
		t.Fatal("expected error for chunk past end of output")
	}
}

func TestAssemblerMarkUnresolved(t *testing.T) {
	asm := NewAssembler("job-1", 4)

	if _, err := asm.Apply(successResult(0, 0, []string{"a", "b"})); err != nil {
		t.Fatal(err)
	}
	asm.MarkUnresolved(1, 2, 2, "job deadline exceeded")
	// A result already applied is never downgraded.
	asm.MarkUnresolved(0, 0, 2, "job deadline exceeded")

	outcome := asm.Outcome(broker.StatusCompletedWithErrors)
	if outcome.ResolvedCount() != 2 {
		t.Fatalf("ResolvedCount = %d, want 2", outcome.ResolvedCount())
	}
	if len(outcome.Failed) != 2 {
		t.Fatalf("got %d failed rows, want 2", len(outcome.Failed))
	}
	if outcome.Failed[0].Index != 2 || outcome.Failed[1].Index != 3 {
		t.Errorf("unexpected failed indices: %v", outcome.Failed)
	}

	// A late result for a chunk marked unresolved is discarded.
	applied, err := asm.Apply(successResult(1, 2, []string{"c", "d"}))
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatal("late result applied after MarkUnresolved")
	}
}

func TestAssemblerConcurrentApply(t *testing.T) {
	const chunks = 50
	asm := NewAssembler("job-1", chunks*2)

	var wg sync.WaitGroup
	for c := 0; c < chunks; c++ {
		// Each chunk delivered twice from separate goroutines.
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(chunkID int) {
				defer wg.Done()
				values := []string{
					fmt.Sprintf("v%d-0", chunkID),
					fmt.Sprintf("v%d-1", chunkID),
				}
				if _, err := asm.Apply(successResult(chunkID, chunkID*2, values)); err != nil {
					t.Error(err)
				}
			}(c)
		}
	}
	wg.Wait()

	outcome := asm.Outcome(broker.StatusCompleted)
	if outcome.ResolvedCount() != chunks*2 {
		t.Fatalf("ResolvedCount = %d, want %d", outcome.ResolvedCount(), chunks*2)
	}
	for c := 0; c < chunks; c++ {
		if outcome.Values[c*2] != fmt.Sprintf("v%d-0", c) {
			t.Fatalf("row %d = %q", c*2, outcome.Values[c*2])
		}
	}
}
