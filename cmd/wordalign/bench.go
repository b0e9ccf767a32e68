package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/example/go-wordalign/internal/backend"
	"github.com/example/go-wordalign/internal/bench"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		input         string
		batchSizes    string
		runs          int
		format        string
		minThroughput float64
		cpuProfile    string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark alignment throughput over a JSONL corpus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if input == "" {
				return fmt.Errorf("--input is required for bench")
			}
			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			sizes, err := bench.ParseBatchSizes(batchSizes)
			if err != nil {
				return err
			}

			corpus, err := os.ReadFile(input)
			if err != nil {
				return fmt.Errorf("read corpus: %w", err)
			}

			name, err := backend.Resolve(cfg.Align.Backend)
			if err != nil {
				return err
			}
			aligner, err := backend.New(cfg, slog.Default())
			if err != nil {
				return err
			}

			if cpuProfile != "" {
				stopProfile, err := bench.StartCPUProfile(cpuProfile)
				if err != nil {
					return err
				}
				defer func() { _ = stopProfile() }()
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			results, err := bench.Run(ctx, aligner, corpus, bench.Config{
				Backend:     name,
				SourceField: cfg.Align.SourceField,
				TargetField: cfg.Align.TargetField,
				OutputField: cfg.Align.OutputField,
				BatchSizes:  sizes,
				Runs:        runs,
				Logger:      slog.Default(),
			})
			if err != nil {
				return err
			}

			summaries := bench.Summarize(results)

			switch format {
			case "json":
				bench.FormatJSON(results, summaries, cmd.OutOrStdout())
			default:
				bench.FormatTable(results, summaries, cmd.OutOrStdout())
			}

			return bench.CheckMinThroughput(summaries, minThroughput)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "JSONL corpus to align")
	cmd.Flags().StringVar(&batchSizes, "batch-sizes", "1", "Comma-separated batch sizes to measure")
	cmd.Flags().IntVar(&runs, "runs", 3, "Runs per batch size")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&minThroughput, "min-throughput", 0, "Fail if any batch size aligns fewer records per second (0 disables)")
	cmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile to this file")

	return cmd
}
