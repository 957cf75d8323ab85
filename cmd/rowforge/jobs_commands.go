package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rowforge/internal/api"
	"rowforge/internal/broker"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage submitted jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listJobs(ctx, cmd, nil)
		},
	}

	var statusFilter string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []broker.Status
			if statusFilter != "" {
				status, ok := broker.ParseStatus(statusFilter)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFilter)
				}
				statuses = append(statuses, status)
			}
			return listJobs(ctx, cmd, statuses)
		},
	}
	listCmd.Flags().StringVar(&statusFilter, "status", "", "Only show jobs with this status")

	showCmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with progress counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showJob(ctx, cmd, args[0])
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cancelJob(ctx, cmd, args[0])
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished jobs and their results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clearJobs(ctx, cmd)
		},
	}

	cmd.AddCommand(listCmd, showCmd, cancelCmd, clearCmd)
	return cmd
}

// withJobService opens the broker database directly, for when no daemon is
// running.
func withJobService(ctx *commandContext, fn func(svc *api.JobService) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	store, err := broker.Open(cfg)
	if err != nil {
		return fmt.Errorf("open broker store: %w", err)
	}
	defer store.Close()
	return fn(api.NewJobService(store))
}

func listJobs(ctx *commandContext, cmd *cobra.Command, statuses []broker.Status) error {
	var resp api.JobListResponse
	path := "/api/jobs"
	if len(statuses) == 1 {
		path += "?status=" + string(statuses[0])
	}
	err := ctx.getJSON(path, &resp)
	if errors.Is(err, errDaemonDown) {
		err = withJobService(ctx, func(svc *api.JobService) error {
			jobs, listErr := svc.List(cmd.Context(), statuses...)
			resp.Jobs = jobs
			return listErr
		})
	}
	if err != nil {
		return err
	}

	if len(resp.Jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
		return nil
	}
	rows := make([][]string, 0, len(resp.Jobs))
	for _, job := range resp.Jobs {
		rows = append(rows, []string{
			job.ID,
			truncate(job.Command, 48),
			statusLabel(broker.Status(job.Status)),
			strconv.Itoa(job.TotalChunks),
			strconv.Itoa(job.TotalRows),
			job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"JOB", "COMMAND", "STATUS", "CHUNKS", "ROWS", "CREATED"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
	return nil
}

func showJob(ctx *commandContext, cmd *cobra.Command, jobID string) error {
	var resp api.JobResponse
	err := ctx.getJSON("/api/jobs/"+jobID, &resp)
	if errors.Is(err, errDaemonDown) {
		err = withJobService(ctx, func(svc *api.JobService) error {
			detail, descErr := svc.Describe(cmd.Context(), jobID)
			if descErr != nil {
				return descErr
			}
			if detail == nil {
				return fmt.Errorf("job %s not found", jobID)
			}
			resp.Job = *detail
			return nil
		})
	}
	if err != nil {
		return err
	}

	job := resp.Job
	rows := [][]string{
		{"ID", job.ID},
		{"Command", job.Command},
		{"Columns", fmt.Sprintf("%v", job.ColumnRefs)},
		{"Status", statusLabel(broker.Status(job.Status))},
		{"Chunks", fmt.Sprintf("%d completed, %d failed of %d", job.CompletedChunks, job.FailedChunks, job.TotalChunks)},
		{"Rows", strconv.Itoa(job.TotalRows)},
		{"Created", job.CreatedAt.Local().Format("2006-01-02 15:04:05")},
		{"Updated", job.UpdatedAt.Local().Format("2006-01-02 15:04:05")},
	}
	if job.DatasetFingerprint != "" {
		rows = append(rows, []string{"Fingerprint", job.DatasetFingerprint})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"FIELD", "VALUE"},
		rows,
		[]columnAlignment{alignLeft, alignLeft},
	))
	return nil
}

func cancelJob(ctx *commandContext, cmd *cobra.Command, jobID string) error {
	var resp api.CancelResponse
	err := ctx.postJSON("/api/jobs/"+jobID+"/cancel", nil, &resp)
	if errors.Is(err, errDaemonDown) {
		err = withJobService(ctx, func(svc *api.JobService) error {
			cancelled, cancelErr := svc.Cancel(cmd.Context(), jobID)
			resp = api.CancelResponse{JobID: jobID, Cancelled: cancelled}
			return cancelErr
		})
	}
	if err != nil {
		return err
	}
	if resp.Cancelled {
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled.\n", jobID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s was not running; nothing to cancel.\n", jobID)
	}
	return nil
}

func clearJobs(ctx *commandContext, cmd *cobra.Command) error {
	var resp api.ClearResponse
	err := ctx.postJSON("/api/jobs/clear", nil, &resp)
	if errors.Is(err, errDaemonDown) {
		err = withJobService(ctx, func(svc *api.JobService) error {
			removed, clearErr := svc.ClearTerminal(cmd.Context())
			resp.Removed = removed
			return clearErr
		})
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d finished jobs.\n", resp.Removed)
	return nil
}

func truncate(value string, limit int) string {
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
