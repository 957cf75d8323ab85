// Package progress tracks per-job completion state. The tracker carries no
// correctness responsibility: it exists so observers (CLI, HTTP API, the
// coordinator's wait loop) can read a consistent snapshot while results
// arrive concurrently and possibly more than once.
package progress

import (
	"sync"
	"time"

	"rowforge/internal/broker"
)

// JobState is a point-in-time view of a job's completion progress.
type JobState struct {
	JobID          string
	TotalChunks    int
	CompletedCount int
	FailedCount    int
	CreatedAt      time.Time
	Status         broker.Status
}

// Done reports whether every chunk has a terminal result.
func (s JobState) Done() bool {
	return s.CompletedCount+s.FailedCount >= s.TotalChunks
}

type jobEntry struct {
	state JobState
	seen  map[int]struct{}
}

// Tracker owns JobState records keyed by job id. All methods are safe for
// concurrent use.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]*jobEntry)}
}

// StartJob registers a job in the running state. Restarting a known job id
// resets its counters.
func (t *Tracker) StartJob(jobID string, totalChunks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[jobID] = &jobEntry{
		state: JobState{
			JobID:       jobID,
			TotalChunks: totalChunks,
			CreatedAt:   time.Now().UTC(),
			Status:      broker.StatusRunning,
		},
		seen: make(map[int]struct{}),
	}
}

// OnResult applies a terminal chunk result to the job's counters. Duplicate
// deliveries of the same chunk id are ignored; the return value reports
// whether the result was applied.
func (t *Tracker) OnResult(jobID string, chunkID int, failed bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.jobs[jobID]
	if !ok {
		return false
	}
	if _, dup := entry.seen[chunkID]; dup {
		return false
	}
	entry.seen[chunkID] = struct{}{}
	if failed {
		entry.state.FailedCount++
	} else {
		entry.state.CompletedCount++
	}
	return true
}

// SetStatus overrides the job's status. Used by the coordinator when a job
// finalizes, falls back, or is cancelled.
func (t *Tracker) SetStatus(jobID string, status broker.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.jobs[jobID]; ok {
		entry.state.Status = status
	}
}

// Snapshot returns a consistent copy of the job's state.
func (t *Tracker) Snapshot(jobID string) (JobState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.jobs[jobID]
	if !ok {
		return JobState{}, false
	}
	return entry.state, true
}

// FinalStatus derives the terminal status from the job's counters: completed
// when every chunk succeeded, failed when none did, completed-with-errors
// otherwise.
func (t *Tracker) FinalStatus(jobID string) broker.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.jobs[jobID]
	if !ok {
		return broker.StatusFailed
	}
	return finalStatusFor(entry.state)
}

// Finalize computes and records the terminal status, returning it.
func (t *Tracker) Finalize(jobID string) broker.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.jobs[jobID]
	if !ok {
		return broker.StatusFailed
	}
	status := finalStatusFor(entry.state)
	entry.state.Status = status
	return status
}

func finalStatusFor(state JobState) broker.Status {
	switch {
	case state.TotalChunks == 0:
		return broker.StatusCompleted
	case state.FailedCount == 0 && state.CompletedCount >= state.TotalChunks:
		return broker.StatusCompleted
	case state.CompletedCount == 0 && state.FailedCount >= state.TotalChunks:
		return broker.StatusFailed
	default:
		return broker.StatusCompletedWithErrors
	}
}
