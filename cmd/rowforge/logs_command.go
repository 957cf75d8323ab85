package main

import (
	"errors"
	"fmt"
	"net/url"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rowforge/internal/logging"
	"rowforge/internal/logs"
)

const logFollowInterval = 500 * time.Millisecond

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd, ctx, lines, follow)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of log lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new log lines")
	return cmd
}

func runLogs(cmd *cobra.Command, ctx *commandContext, lines int, follow bool) error {
	result, err := fetchLogs(ctx, logs.TailOptions{Offset: -1, Limit: lines})
	if err != nil {
		return err
	}
	printLogLines(cmd, result.Lines)

	if !follow {
		return nil
	}

	signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(logFollowInterval)
	defer ticker.Stop()

	offset := result.Offset
	for {
		select {
		case <-signalCtx.Done():
			return nil
		case <-ticker.C:
		}

		next, err := fetchLogs(ctx, logs.TailOptions{Offset: offset})
		if err != nil {
			return err
		}
		printLogLines(cmd, next.Lines)
		offset = next.Offset
	}
}

// fetchLogs asks the daemon for log lines, reading the log file directly
// when the daemon is not running.
func fetchLogs(ctx *commandContext, opts logs.TailOptions) (logs.TailResult, error) {
	query := url.Values{}
	query.Set("offset", fmt.Sprintf("%d", opts.Offset))
	if opts.Limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var result logs.TailResult
	err := ctx.getJSON("/api/logs?"+query.Encode(), &result)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, errDaemonDown) {
		return logs.TailResult{}, err
	}

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return logs.TailResult{}, err
	}
	return logs.Tail(filepath.Join(cfg.Paths.LogDir, logging.FileName), opts)
}

func printLogLines(cmd *cobra.Command, lines []string) {
	for _, line := range lines {
		cmd.Println(line)
	}
}
