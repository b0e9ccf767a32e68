package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/example/go-wordalign/internal/align"
	"github.com/example/go-wordalign/internal/backend"
	"github.com/example/go-wordalign/internal/config"
	"github.com/example/go-wordalign/internal/record"
	"github.com/example/go-wordalign/internal/transform"
	"github.com/spf13/cobra"
)

func newAlignCmd() *cobra.Command {
	var (
		input  string
		output string
	)

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Align a JSONL corpus and write it back with alignments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			in, closeIn, err := openInput(cmd, input)
			if err != nil {
				return err
			}
			defer closeIn()

			out, closeOut, err := openOutput(cmd, output)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			n, err := runAlign(ctx, cfg, in, out)
			if cerr := closeOut(); cerr != nil && err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("after %d records: %w", n, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "Input JSONL file (- for stdin)")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output JSONL file (- for stdout)")

	return cmd
}

func runAlign(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) (int, error) {
	name, err := backend.Resolve(cfg.Align.Backend)
	if err != nil {
		return 0, err
	}

	aligner, err := backend.New(cfg, slog.Default())
	if err != nil {
		return 0, err
	}

	return alignStream(ctx, aligner, name, cfg.Align, in, out)
}

// alignStream copies in to out, aligning every record with aligner.
func alignStream(ctx context.Context, aligner align.Aligner, name string, cfg config.AlignConfig, in io.Reader, out io.Writer) (int, error) {
	tr, err := transform.New(aligner, cfg.SourceField, cfg.TargetField,
		transform.WithBatchSize(cfg.BatchSize),
		transform.WithOutputField(cfg.OutputField),
		transform.WithBackendName(name),
	)
	if err != nil {
		return 0, err
	}

	return record.WriteJSONL(out, tr.Apply(ctx, record.ReadJSONL(in)))
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}
