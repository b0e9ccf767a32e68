package main

import (
	"errors"
	"fmt"

	"github.com/example/go-wordalign/internal/backend"
	"github.com/example/go-wordalign/internal/config"
	"github.com/example/go-wordalign/internal/doctor"
	"github.com/example/go-wordalign/internal/onnx"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the selected backend's assets and runtime are available",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			dcfg, err := doctorConfig(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			result := doctor.Run(dcfg, out)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}
}

// doctorConfig lists the files and runtime the configured backend loads in
// Acquire.
func doctorConfig(cfg config.Config) (doctor.Config, error) {
	name, err := backend.Resolve(cfg.Align.Backend)
	if err != nil {
		return doctor.Config{}, err
	}

	dcfg := doctor.Config{Backend: name}
	switch name {
	case config.BackendSimAlign:
		dcfg.Files = []doctor.File{
			{Label: "tokenizer model", Path: cfg.Paths.TokenizerModel},
			{Label: "embeddings", Path: cfg.Paths.EmbeddingsPath},
		}
	case config.BackendAwesome:
		dcfg.Files = []doctor.File{
			{Label: "tokenizer model", Path: cfg.Paths.TokenizerModel},
			{Label: "encoder model", Path: cfg.Paths.ModelPath},
		}
		dcfg.RuntimeVersion = func() (string, error) {
			info, err := onnx.DetectRuntime(cfg.Runtime)
			if err != nil {
				return "", err
			}
			return info.Version, nil
		}
	}

	return dcfg, nil
}
