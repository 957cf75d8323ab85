// Package api defines the JSON payloads and service layer shared by the
// daemon's HTTP endpoints and the CLI. The CLI talks to a running daemon
// over HTTP or, when none is running, opens the broker database directly;
// both paths go through JobService so the two views never drift.
package api

import "time"

// JobSummary is the list view of a job.
type JobSummary struct {
	ID          string    `json:"id"`
	Command     string    `json:"command"`
	Status      string    `json:"status"`
	TotalChunks int       `json:"total_chunks"`
	TotalRows   int       `json:"total_rows"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JobDetail is the single-job view: the summary plus live progress counts.
type JobDetail struct {
	JobSummary
	ColumnRefs         []string `json:"column_refs"`
	DatasetFingerprint string   `json:"dataset_fingerprint,omitempty"`
	CompletedChunks    int      `json:"completed_chunks"`
	FailedChunks       int      `json:"failed_chunks"`
}

// ProgressResponse answers progress polls from the UI layer.
type ProgressResponse struct {
	JobID     string `json:"job_id"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Status    string `json:"status"`
}

// JobListResponse wraps the job list endpoint payload.
type JobListResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

// JobResponse wraps the single-job endpoint payload.
type JobResponse struct {
	Job JobDetail `json:"job"`
}

// CancelResponse reports whether a cancel request changed anything.
type CancelResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

// ClearResponse reports how many rows a clear operation removed.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// DaemonStatus is the root status endpoint payload.
type DaemonStatus struct {
	Running       bool           `json:"running"`
	PID           int            `json:"pid"`
	BrokerDBPath  string         `json:"broker_db_path"`
	LockFilePath  string         `json:"lock_file_path"`
	Workers       int            `json:"workers"`
	QueueStats    map[string]int `json:"queue_stats"`
	SchemaVersion int            `json:"schema_version,omitempty"`
}
