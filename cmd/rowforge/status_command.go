package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rowforge/internal/api"
	"rowforge/internal/broker"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status api.DaemonStatus
			err := ctx.getJSON("/api/status", &status)
			if errors.Is(err, errDaemonDown) {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon: not running")
				return withJobService(ctx, func(svc *api.JobService) error {
					stats, statsErr := svc.Stats(cmd.Context())
					if statsErr != nil {
						return statsErr
					}
					printStats(cmd, stats)
					return nil
				})
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon: running (pid %d, %d workers)\n", status.PID, status.Workers)
			fmt.Fprintf(out, "Broker DB: %s\n", status.BrokerDBPath)
			printStats(cmd, status.QueueStats)
			return nil
		},
	}
}

func printStats(cmd *cobra.Command, stats map[string]int) {
	rows := make([][]string, 0, len(stats))
	for _, status := range broker.AllStatuses() {
		count, ok := stats[string(status)]
		if !ok {
			continue
		}
		rows = append(rows, []string{statusLabel(status), strconv.Itoa(count)})
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"STATUS", "JOBS"},
		rows,
		[]columnAlignment{alignLeft, alignRight},
	))
}
