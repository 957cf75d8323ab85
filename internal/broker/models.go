package broker

import (
	"strings"
	"time"

	"rowforge/internal/dataset"
)

// Status represents the lifecycle of a job as recorded on the broker.
type Status string

const (
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
	StatusFellBack            Status = "fell_back"
	StatusCancelled           Status = "cancelled"
)

var allStatuses = []Status{
	StatusRunning,
	StatusCompleted,
	StatusCompletedWithErrors,
	StatusFailed,
	StatusFellBack,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known job statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a job status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusFellBack, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is the broker-side record of a submitted job.
type Job struct {
	ID                 string
	Command            string
	ColumnRefs         []string
	TotalChunks        int
	TotalRows          int
	DatasetFingerprint string
	Status             Status
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Task is the unit a worker claims: one chunk plus retry metadata. Rows hold
// the chunk's row values projected to the referenced columns, so workers need
// no access to the caller's dataset.
type Task struct {
	ID                 int64
	JobID              string
	ChunkID            int
	RowStart           int
	RowCount           int
	Command            string
	ColumnRefs         []string
	Rows               []dataset.Row
	AttemptCount       int
	MaxAttempts        int
	ClaimedBy          string
	VisibilityDeadline *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ChunkResult is the terminal outcome of executing a task. Either Values
// holds one entry per chunk row, or ErrorMessage explains the permanent
// failure. Immutable once recorded.
type ChunkResult struct {
	Seq          int64
	JobID        string
	ChunkID      int
	RowStart     int
	RowCount     int
	Values       []string
	ErrorMessage string
	AttemptCount int
	CreatedAt    time.Time
}

// Failed reports whether the result records a permanent chunk failure.
func (r ChunkResult) Failed() bool { return r.ErrorMessage != "" }

// JobCounts aggregates terminal results for a job.
type JobCounts struct {
	Completed int
	Failed    int
}

// Done reports whether every chunk of the job has a terminal result.
func (c JobCounts) Done(totalChunks int) bool {
	return c.Completed+c.Failed >= totalChunks
}

// DatabaseHealth captures diagnostic information about the broker database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TablesPresent    []string
	IntegrityCheck   bool
	TotalJobs        int
	PendingTasks     int
	Error            string
}
