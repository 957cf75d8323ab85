// Package aggregate reassembles chunk results into the caller's row order.
// Chunks complete in whatever order workers finish them; the assembler keys
// every value by row index so the final column always matches the input
// ordering. Failed chunks degrade the result instead of aborting it: their
// rows stay unresolved and are reported alongside the assembled values.
package aggregate

import (
	"fmt"
	"sort"
	"sync"

	"rowforge/internal/broker"
)

// FailedRow names a row index that could not be resolved and why.
type FailedRow struct {
	Index  int
	Reason string
}

// Outcome is the assembled job result. Values has one entry per input row;
// entries whose Resolved flag is false carry no meaningful value and appear
// in Failed with a reason. A best-effort result is still a result: callers
// get every resolved row even when some chunks permanently failed.
type Outcome struct {
	JobID    string
	Status   broker.Status
	Values   []string
	Resolved []bool
	Failed   []FailedRow
}

// ResolvedCount returns the number of rows carrying a value.
func (o Outcome) ResolvedCount() int {
	n := 0
	for _, ok := range o.Resolved {
		if ok {
			n++
		}
	}
	return n
}

// Assembler collects chunk results for one job into a pre-allocated,
// row-indexed output. Safe for concurrent use; duplicate results for a chunk
// are discarded.
type Assembler struct {
	mu       sync.Mutex
	jobID    string
	values   []string
	resolved []bool
	failed   []FailedRow
	applied  map[int]struct{}
}

// NewAssembler prepares an assembler for a job covering rowCount rows.
func NewAssembler(jobID string, rowCount int) *Assembler {
	return &Assembler{
		jobID:    jobID,
		values:   make([]string, rowCount),
		resolved: make([]bool, rowCount),
		applied:  make(map[int]struct{}),
	}
}

// Apply folds one terminal chunk result into the output. The first result
// for a chunk wins; later duplicates report false. A successful result must
// carry exactly RowCount values.
func (a *Assembler) Apply(result *broker.ChunkResult) (bool, error) {
	if result == nil {
		return false, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.applied[result.ChunkID]; dup {
		return false, nil
	}

	if result.Failed() {
		a.applied[result.ChunkID] = struct{}{}
		a.markFailedLocked(result.RowStart, result.RowCount, result.ErrorMessage)
		return true, nil
	}

	if len(result.Values) != result.RowCount {
		return false, fmt.Errorf("chunk %d: %d values for %d rows", result.ChunkID, len(result.Values), result.RowCount)
	}
	if result.RowStart < 0 || result.RowStart+result.RowCount > len(a.values) {
		return false, fmt.Errorf("chunk %d: rows [%d, %d) outside output of %d rows",
			result.ChunkID, result.RowStart, result.RowStart+result.RowCount, len(a.values))
	}

	a.applied[result.ChunkID] = struct{}{}
	for i, value := range result.Values {
		idx := result.RowStart + i
		a.values[idx] = value
		a.resolved[idx] = true
	}
	return true, nil
}

// MarkUnresolved records rows [rowStart, rowStart+rowCount) as failed with
// the given reason unless their chunk already reported a result. Used by the
// coordinator to tag chunks still pending when the job deadline expires.
func (a *Assembler) MarkUnresolved(chunkID, rowStart, rowCount int, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, done := a.applied[chunkID]; done {
		return
	}
	a.applied[chunkID] = struct{}{}
	a.markFailedLocked(rowStart, rowCount, reason)
}

func (a *Assembler) markFailedLocked(rowStart, rowCount int, reason string) {
	for i := 0; i < rowCount; i++ {
		idx := rowStart + i
		if idx < 0 || idx >= len(a.values) {
			continue
		}
		a.failed = append(a.failed, FailedRow{Index: idx, Reason: reason})
	}
}

// Outcome snapshots the assembled result with the given final status. Failed
// rows are reported in row-index order.
func (a *Assembler) Outcome(status broker.Status) *Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	values := make([]string, len(a.values))
	copy(values, a.values)
	resolved := make([]bool, len(a.resolved))
	copy(resolved, a.resolved)

	failed := make([]FailedRow, len(a.failed))
	copy(failed, a.failed)
	sort.Slice(failed, func(i, j int) bool { return failed[i].Index < failed[j].Index })

	return &Outcome{
		JobID:    a.jobID,
		Status:   status,
		Values:   values,
		Resolved: resolved,
		Failed:   failed,
	}
}
