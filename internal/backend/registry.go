// Package backend builds aligner backends from configuration.
package backend

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/example/go-wordalign/internal/align"
	"github.com/example/go-wordalign/internal/backend/awesome"
	"github.com/example/go-wordalign/internal/backend/simalign"
	"github.com/example/go-wordalign/internal/config"
)

// Factory builds an aligner from the full configuration.
type Factory func(cfg config.Config, logger *slog.Logger) (align.Aligner, error)

// Factories is the explicit backend registry, keyed by canonical name.
var Factories = map[string]Factory{
	config.BackendExact: func(config.Config, *slog.Logger) (align.Aligner, error) {
		return align.NewExactMatch(), nil
	},
	config.BackendSimAlign: func(cfg config.Config, logger *slog.Logger) (align.Aligner, error) {
		return simalign.New(simalign.Config{
			TokenizerModel:  cfg.Paths.TokenizerModel,
			EmbeddingsPath:  cfg.Paths.EmbeddingsPath,
			EmbeddingTensor: cfg.SimAlign.EmbeddingTensor,
			Method:          cfg.SimAlign.Method,
			MinSimilarity:   cfg.SimAlign.MinSimilarity,
		}, simalign.WithLogger(logger))
	},
	config.BackendAwesome: func(cfg config.Config, logger *slog.Logger) (align.Aligner, error) {
		return awesome.New(awesome.Config{
			TokenizerModel:   cfg.Paths.TokenizerModel,
			ModelPath:        cfg.Paths.ModelPath,
			Runtime:          cfg.Runtime,
			OutputName:       cfg.Awesome.OutputName,
			Extraction:       cfg.Awesome.Extraction,
			SoftmaxThreshold: cfg.Awesome.SoftmaxThreshold,
			MaxSubwords:      cfg.Awesome.MaxSubwords,
			PadID:            cfg.Awesome.PadID,
		}, awesome.WithLogger(logger))
	},
}

// Names lists the registered backends in sorted order.
func Names() []string {
	names := make([]string, 0, len(Factories))
	for name := range Factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve returns the canonical name for a backend name or alias. Unknown
// names are a *align.ConfigurationError.
func Resolve(raw string) (string, error) {
	name, err := config.NormalizeBackend(raw)
	if err != nil {
		return "", &align.ConfigurationError{Field: "align.backend", Reason: err.Error()}
	}
	return name, nil
}

// New resolves cfg.Align.Backend (aliases included) and builds the aligner.
// No model assets are loaded until Acquire.
func New(cfg config.Config, logger *slog.Logger) (align.Aligner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	name, err := Resolve(cfg.Align.Backend)
	if err != nil {
		return nil, err
	}

	factory, ok := Factories[name]
	if !ok {
		return nil, &align.ConfigurationError{Field: "align.backend", Reason: fmt.Sprintf("backend %q is not registered", name)}
	}

	return factory(cfg, logger.With("backend", name))
}
