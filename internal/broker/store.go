package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"rowforge/internal/config"
	"rowforge/internal/dataset"
)

// Store manages broker persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the broker database and applies the schema.
// Failures are wrapped with ErrUnavailable so callers can fall back.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("%w: ensure directories: %w", ErrUnavailable, err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "broker.db"))
}

// OpenPath opens the broker database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %w", ErrUnavailable, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: apply pragma %q: %w", ErrUnavailable, pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the broker database location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Submit records a job and its tasks in one transaction. A job is either
// fully queued or not queued at all. Errors are wrapped with ErrUnavailable:
// a failed submit is the coordinator's trigger to fall back.
func (s *Store) Submit(ctx context.Context, job *Job, tasks []*Task) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("%w: store not open", ErrUnavailable)
	}
	if job == nil {
		return errors.New("job is nil")
	}
	if job.TotalChunks != len(tasks) {
		return fmt.Errorf("job %s declares %d chunks but %d tasks were supplied", job.ID, job.TotalChunks, len(tasks))
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrUnavailable, err)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	refsJSON, err := json.Marshal(job.ColumnRefs)
	if err != nil {
		return fmt.Errorf("marshal column refs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin submit tx: %w", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO jobs (id, command, column_refs, total_chunks, total_rows, dataset_fingerprint, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Command,
		string(refsJSON),
		job.TotalChunks,
		job.TotalRows,
		nullableString(job.DatasetFingerprint),
		StatusRunning,
		timestamp,
		timestamp,
	); err != nil {
		return fmt.Errorf("%w: insert job: %w", ErrUnavailable, err)
	}

	for _, task := range tasks {
		rowsJSON, err := json.Marshal(task.Rows)
		if err != nil {
			return fmt.Errorf("marshal task rows: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO tasks (job_id, chunk_id, row_start, row_count, rows_json, attempt_count, max_attempts, status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, 0, ?, 'pending', ?, ?)`,
			job.ID,
			task.ChunkID,
			task.RowStart,
			task.RowCount,
			string(rowsJSON),
			task.MaxAttempts,
			timestamp,
			timestamp,
		); err != nil {
			return fmt.Errorf("%w: insert task %d: %w", ErrUnavailable, task.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit submit: %w", ErrUnavailable, err)
	}

	job.Status = StatusRunning
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// ClaimNext hands the oldest claimable task to a worker and stamps a fresh
// visibility deadline. A claimed task whose deadline has passed is claimable
// again; one that already burned through its attempts is converted to a
// terminal failure instead of being handed out. Returns (nil, nil) when no
// task is available.
func (s *Store) ClaimNext(ctx context.Context, workerID string, visibility time.Duration) (*Task, error) {
	for {
		task, terminal, err := s.claimOne(ctx, workerID, visibility)
		if err != nil {
			return nil, err
		}
		if terminal {
			// Exhausted task was finalized; look for another.
			continue
		}
		return task, nil
	}
}

func (s *Store) claimOne(ctx context.Context, workerID string, visibility time.Duration) (*Task, bool, error) {
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(
		ctx,
		`SELECT t.id, t.job_id, t.chunk_id, t.row_start, t.row_count, t.rows_json,
                t.attempt_count, t.max_attempts, j.command, j.column_refs
         FROM tasks t
         JOIN jobs j ON j.id = t.job_id
         WHERE j.status = ?
           AND (t.status = 'pending' OR (t.status = 'claimed' AND t.visibility_deadline < ?))
         ORDER BY t.id
         LIMIT 1`,
		StatusRunning,
		nowStr,
	)

	var (
		taskID       int64
		jobID        string
		chunkID      int
		rowStart     int
		rowCount     int
		rowsJSON     string
		attemptCount int
		maxAttempts  int
		command      string
		refsJSON     string
	)
	if err := row.Scan(&taskID, &jobID, &chunkID, &rowStart, &rowCount, &rowsJSON, &attemptCount, &maxAttempts, &command, &refsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select claimable task: %w", err)
	}

	if attemptCount >= maxAttempts {
		// The previous holder crashed on the final attempt. Record the
		// terminal failure here; no worker gets another crack at it.
		reason := fmt.Sprintf("visibility deadline exceeded after %d attempts", attemptCount)
		if err := recordTerminalResult(ctx, tx, jobID, chunkID, rowStart, rowCount, nil, reason, attemptCount, nowStr); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit exhausted task: %w", err)
		}
		return nil, true, nil
	}

	deadline := now.Add(visibility)
	res, err := tx.ExecContext(
		ctx,
		`UPDATE tasks
         SET status = 'claimed', claimed_by = ?, attempt_count = attempt_count + 1,
             visibility_deadline = ?, updated_at = ?
         WHERE id = ? AND (status = 'pending' OR (status = 'claimed' AND visibility_deadline < ?))`,
		workerID,
		deadline.Format(time.RFC3339Nano),
		nowStr,
		taskID,
		nowStr,
	)
	if err != nil {
		return nil, false, fmt.Errorf("claim task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("claim rows affected: %w", err)
	}
	if affected == 0 {
		// Lost the race to another worker inside the same window.
		return nil, true, tx.Commit()
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit claim: %w", err)
	}

	var rows []dataset.Row
	if err := json.Unmarshal([]byte(rowsJSON), &rows); err != nil {
		return nil, false, fmt.Errorf("unmarshal task rows: %w", err)
	}
	var refs []string
	if err := json.Unmarshal([]byte(refsJSON), &refs); err != nil {
		return nil, false, fmt.Errorf("unmarshal column refs: %w", err)
	}

	return &Task{
		ID:                 taskID,
		JobID:              jobID,
		ChunkID:            chunkID,
		RowStart:           rowStart,
		RowCount:           rowCount,
		Command:            command,
		ColumnRefs:         refs,
		Rows:               rows,
		AttemptCount:       attemptCount + 1,
		MaxAttempts:        maxAttempts,
		ClaimedBy:          workerID,
		VisibilityDeadline: &deadline,
	}, false, nil
}

// Complete records a successful chunk result and removes the task. Duplicate
// completions for the same chunk are ignored.
func (s *Store) Complete(ctx context.Context, result *ChunkResult) error {
	if result == nil {
		return errors.New("result is nil")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := recordTerminalResult(ctx, tx, result.JobID, result.ChunkID, result.RowStart, result.RowCount, result.Values, "", result.AttemptCount, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete: %w", err)
	}
	return nil
}

// Fail handles a worker-reported chunk failure. Retryable failures with
// attempts remaining are requeued; everything else becomes a terminal error
// result. Returns true when the task was requeued.
func (s *Store) Fail(ctx context.Context, task *Task, failErr error, retryable bool) (bool, error) {
	if task == nil {
		return false, errors.New("task is nil")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if retryable && task.AttemptCount < task.MaxAttempts {
		_, err := s.db.ExecContext(
			ctx,
			`UPDATE tasks
             SET status = 'pending', claimed_by = NULL, visibility_deadline = NULL, updated_at = ?
             WHERE job_id = ? AND chunk_id = ?`,
			now,
			task.JobID,
			task.ChunkID,
		)
		if err != nil {
			return false, fmt.Errorf("requeue task: %w", err)
		}
		return true, nil
	}

	reason := "transform failed"
	if failErr != nil {
		reason = failErr.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin fail tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := recordTerminalResult(ctx, tx, task.JobID, task.ChunkID, task.RowStart, task.RowCount, nil, reason, task.AttemptCount, now); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit fail: %w", err)
	}
	return false, nil
}

// recordTerminalResult inserts a terminal chunk result and deletes the task
// in the same transaction. The unique (job_id, chunk_id) index makes the
// insert idempotent under duplicate delivery.
func recordTerminalResult(ctx context.Context, tx *sql.Tx, jobID string, chunkID, rowStart, rowCount int, values []string, errorMessage string, attemptCount int, timestamp string) error {
	var valuesJSON any
	if errorMessage == "" {
		encoded, err := json.Marshal(values)
		if err != nil {
			return fmt.Errorf("marshal result values: %w", err)
		}
		valuesJSON = string(encoded)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO results (job_id, chunk_id, row_start, row_count, values_json, error_message, attempt_count, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID,
		chunkID,
		rowStart,
		rowCount,
		valuesJSON,
		nullableString(errorMessage),
		attemptCount,
		timestamp,
	); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE job_id = ? AND chunk_id = ?`, jobID, chunkID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// PollResults returns terminal results recorded after the caller's cursor,
// oldest first, along with the new cursor value. Non-blocking.
func (s *Store) PollResults(ctx context.Context, jobID string, afterSeq int64) ([]*ChunkResult, int64, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT seq, job_id, chunk_id, row_start, row_count, values_json, error_message, attempt_count, created_at
         FROM results WHERE job_id = ? AND seq > ? ORDER BY seq`,
		jobID,
		afterSeq,
	)
	if err != nil {
		return nil, afterSeq, fmt.Errorf("poll results: %w", err)
	}
	defer rows.Close()

	cursor := afterSeq
	var results []*ChunkResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, afterSeq, err
		}
		results = append(results, result)
		if result.Seq > cursor {
			cursor = result.Seq
		}
	}
	return results, cursor, rows.Err()
}

// Counts aggregates terminal results for a job.
func (s *Store) Counts(ctx context.Context, jobID string) (JobCounts, error) {
	var counts JobCounts
	row := s.db.QueryRowContext(
		ctx,
		`SELECT
            COUNT(CASE WHEN error_message IS NULL THEN 1 END),
            COUNT(CASE WHEN error_message IS NOT NULL THEN 1 END)
         FROM results WHERE job_id = ?`,
		jobID,
	)
	if err := row.Scan(&counts.Completed, &counts.Failed); err != nil {
		return counts, fmt.Errorf("count results: %w", err)
	}
	return counts, nil
}

// JobByID fetches a job record.
func (s *Store) JobByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, command, column_refs, total_chunks, total_rows, dataset_fingerprint, status, created_at, updated_at
         FROM jobs WHERE id = ?`,
		id,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by status set (or all jobs when no status
// is provided), oldest first.
func (s *Store) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT id, command, column_refs, total_chunks, total_rows, dataset_fingerprint, status, created_at, updated_at FROM jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SetJobStatus transitions a job to the given status. Terminal statuses are
// never overwritten, so a late coordinator update cannot resurrect a
// cancelled job.
func (s *Store) SetJobStatus(ctx context.Context, id string, status Status) error {
	terminals := make([]any, 0, 8)
	terminals = append(terminals, status, time.Now().UTC().Format(time.RFC3339Nano), id)
	query := `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status NOT IN (`
	guards := make([]string, 0, 5)
	for _, terminal := range allStatuses {
		if terminal.IsTerminal() && terminal != status {
			guards = append(guards, "?")
			terminals = append(terminals, terminal)
		}
	}
	query += strings.Join(guards, ",") + `)`

	if _, err := s.db.ExecContext(ctx, query, terminals...); err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return nil
}

// Cancel marks a running job cancelled. Workers stop claiming its tasks;
// in-flight chunks run to completion. Returns true when the job was running.
func (s *Store) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusCancelled,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel rows affected: %w", err)
	}
	return affected > 0, nil
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// ClearTerminal removes jobs in terminal states along with their tasks and
// results. Returns the number of jobs removed.
func (s *Store) ClearTerminal(ctx context.Context) (int64, error) {
	args := make([]any, 0, 5)
	guards := make([]string, 0, 5)
	for _, status := range allStatuses {
		if status.IsTerminal() {
			guards = append(guards, "?")
			args = append(args, status)
		}
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status IN (`+strings.Join(guards, ",")+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("clear terminal jobs: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all jobs, tasks, and results.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}

// CheckHealth returns diagnostic information about the broker database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("broker database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat broker database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("broker database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("broker database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping broker database: %w", err)
	}
	health.DatabaseReadable = true

	rows, err := s.db.QueryContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("scan table name: %w", err)
		}
		health.TablesPresent = append(health.TablesPresent, name)
	}
	if err := rows.Err(); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("iterate tables: %w", err)
	}

	row := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM jobs")
	if err := row.Scan(&health.TotalJobs); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count jobs: %w", err)
	}
	row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM tasks WHERE status = 'pending'")
	if err := row.Scan(&health.PendingTasks); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count pending tasks: %w", err)
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id          string
		command     string
		refsJSON    string
		totalChunks int
		totalRows   int
		fingerprint sql.NullString
		statusStr   string
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(&id, &command, &refsJSON, &totalChunks, &totalRows, &fingerprint, &statusStr, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	var refs []string
	if err := json.Unmarshal([]byte(refsJSON), &refs); err != nil {
		return nil, fmt.Errorf("unmarshal column refs: %w", err)
	}

	job := &Job{
		ID:                 id,
		Command:            command,
		ColumnRefs:         refs,
		TotalChunks:        totalChunks,
		TotalRows:          totalRows,
		DatasetFingerprint: fingerprint.String,
		Status:             Status(statusStr),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func scanResult(scanner interface{ Scan(dest ...any) error }) (*ChunkResult, error) {
	var (
		seq          int64
		jobID        string
		chunkID      int
		rowStart     int
		rowCount     int
		valuesJSON   sql.NullString
		errorMessage sql.NullString
		attemptCount int
		createdRaw   string
	)
	if err := scanner.Scan(&seq, &jobID, &chunkID, &rowStart, &rowCount, &valuesJSON, &errorMessage, &attemptCount, &createdRaw); err != nil {
		return nil, fmt.Errorf("scan result: %w", err)
	}

	result := &ChunkResult{
		Seq:          seq,
		JobID:        jobID,
		ChunkID:      chunkID,
		RowStart:     rowStart,
		RowCount:     rowCount,
		ErrorMessage: errorMessage.String,
		AttemptCount: attemptCount,
	}
	if valuesJSON.Valid {
		if err := json.Unmarshal([]byte(valuesJSON.String), &result.Values); err != nil {
			return nil, fmt.Errorf("unmarshal result values: %w", err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		result.CreatedAt = created
	}
	return result, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
