package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rowforge/internal/broker"
	"rowforge/internal/coordinator"
	"rowforge/internal/logging"
	"rowforge/internal/transform/llm"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		inputFlag     string
		outputFlag    string
		commandFlag   string
		columnsFlag   []string
		newColumnFlag string
		chunkSizeFlag int
		localFlag     bool
	)

	cmd := &cobra.Command{
		Use:   "run [job-spec.yaml]",
		Short: "Run an enrichment job over a CSV file",
		Long: `Run plans the input into chunks, dispatches them to the broker for the
daemon's workers, and writes the input columns plus the generated column to
the output file. When the broker is unreachable, or --local is set, the job
runs in-process with identical results.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			spec := &jobSpec{}
			if len(args) == 1 {
				loaded, err := loadJobSpec(args[0])
				if err != nil {
					return err
				}
				spec = loaded
			}
			if inputFlag != "" {
				spec.Input = inputFlag
			}
			if outputFlag != "" {
				spec.Output = outputFlag
			}
			if commandFlag != "" {
				spec.Command = commandFlag
			}
			if len(columnsFlag) > 0 {
				spec.Columns = columnsFlag
			}
			if newColumnFlag != "" {
				spec.NewColumn = newColumnFlag
			}
			if chunkSizeFlag > 0 {
				spec.ChunkSize = chunkSizeFlag
			}
			if spec.Output == "" && spec.Input != "" {
				spec.Output = spec.Input
			}
			if err := spec.validate(); err != nil {
				return err
			}

			if spec.ChunkSize > 0 {
				cfg.Jobs.ChunkSize = spec.ChunkSize
			}
			if spec.JobTimeout > 0 {
				cfg.Jobs.JobTimeoutSeconds = spec.JobTimeout
			}
			if localFlag {
				cfg.Jobs.DistributedEnabled = false
			}

			ds, header, err := readCSVDataset(spec.Input)
			if err != nil {
				return err
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return err
			}

			var store *broker.Store
			if cfg.Jobs.DistributedEnabled {
				store, err = broker.Open(cfg)
				if err != nil {
					// Coordinator falls back; surface why.
					fmt.Fprintf(cmd.ErrOrStderr(), "broker unavailable (%v); running locally\n", err)
					store = nil
				} else {
					defer store.Close()
				}
			}

			applier := llm.NewClient(llm.Config{
				APIKey:         cfg.LLM.APIKey,
				BaseURL:        cfg.LLM.BaseURL,
				Model:          cfg.LLM.Model,
				TimeoutSeconds: cfg.LLM.TimeoutSeconds,
			})

			coord := coordinator.New(cfg, store, applier, nil, logger)
			outcome, err := coord.Run(cmd.Context(), ds, spec.Command, spec.Columns)
			if err != nil {
				return err
			}

			if err := writeCSVDataset(spec.Output, ds, header, spec.NewColumn, outcome.Values, outcome.Resolved); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %s finished: %s\n", outcome.JobID, statusLabel(outcome.Status))
			fmt.Fprintf(out, "Resolved %d of %d rows -> %s\n", outcome.ResolvedCount(), ds.Len(), spec.Output)
			if len(outcome.Failed) > 0 {
				fmt.Fprintf(out, "%d rows unresolved:\n", len(outcome.Failed))
				rows := make([][]string, 0, len(outcome.Failed))
				for _, failure := range outcome.Failed {
					rows = append(rows, []string{fmt.Sprintf("%d", failure.Index), failure.Reason})
				}
				fmt.Fprintln(out, renderTable([]string{"ROW", "REASON"}, rows, []columnAlignment{alignRight, alignLeft}))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputFlag, "input", "i", "", "Input CSV file")
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output CSV file (defaults to input)")
	cmd.Flags().StringVarP(&commandFlag, "command", "m", "", "Natural-language transform instruction")
	cmd.Flags().StringSliceVar(&columnsFlag, "columns", nil, "Source columns visible to the transform")
	cmd.Flags().StringVar(&newColumnFlag, "new-column", "", "Name of the generated column")
	cmd.Flags().IntVar(&chunkSizeFlag, "chunk-size", 0, "Rows per chunk (overrides config)")
	cmd.Flags().BoolVar(&localFlag, "local", false, "Skip the broker and run in-process")

	return cmd
}

func statusLabel(status broker.Status) string {
	return titleCaser.String(strings.ReplaceAll(string(status), "_", " "))
}
