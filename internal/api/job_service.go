package api

import (
	"context"
	"errors"

	"rowforge/internal/broker"
)

// JobService provides read and control operations over submitted jobs.
type JobService struct {
	store *broker.Store
}

// NewJobService wraps a broker store.
func NewJobService(store *broker.Store) *JobService {
	return &JobService{store: store}
}

// List returns summaries for jobs, optionally filtered by status.
func (s *JobService) List(ctx context.Context, statuses ...broker.Status) ([]JobSummary, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("broker store unavailable")
	}
	jobs, err := s.store.ListJobs(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	summaries := make([]JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, summarize(job))
	}
	return summaries, nil
}

// Describe returns the detail view for one job, or nil when it is unknown.
func (s *JobService) Describe(ctx context.Context, jobID string) (*JobDetail, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("broker store unavailable")
	}
	job, err := s.store.JobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, broker.ErrJobNotFound) {
			return nil, nil
		}
		return nil, err
	}
	counts, err := s.store.Counts(ctx, jobID)
	if err != nil {
		return nil, err
	}
	detail := &JobDetail{
		JobSummary:         summarize(job),
		ColumnRefs:         job.ColumnRefs,
		DatasetFingerprint: job.DatasetFingerprint,
		CompletedChunks:    counts.Completed,
		FailedChunks:       counts.Failed,
	}
	return detail, nil
}

// Progress returns the poll payload for one job, or nil when it is unknown.
func (s *JobService) Progress(ctx context.Context, jobID string) (*ProgressResponse, error) {
	detail, err := s.Describe(ctx, jobID)
	if err != nil || detail == nil {
		return nil, err
	}
	return &ProgressResponse{
		JobID:     detail.ID,
		Total:     detail.TotalChunks,
		Completed: detail.CompletedChunks,
		Failed:    detail.FailedChunks,
		Status:    detail.Status,
	}, nil
}

// Cancel marks a running job cancelled. Returns false when the job was
// already terminal or unknown.
func (s *JobService) Cancel(ctx context.Context, jobID string) (bool, error) {
	if s == nil || s.store == nil {
		return false, errors.New("broker store unavailable")
	}
	return s.store.Cancel(ctx, jobID)
}

// ClearTerminal removes finished jobs and their results.
func (s *JobService) ClearTerminal(ctx context.Context) (int64, error) {
	if s == nil || s.store == nil {
		return 0, errors.New("broker store unavailable")
	}
	return s.store.ClearTerminal(ctx)
}

// Stats returns job counts by status.
func (s *JobService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("broker store unavailable")
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out, nil
}

func summarize(job *broker.Job) JobSummary {
	return JobSummary{
		ID:          job.ID,
		Command:     job.Command,
		Status:      string(job.Status),
		TotalChunks: job.TotalChunks,
		TotalRows:   job.TotalRows,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}
