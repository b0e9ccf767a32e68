// Package awesome aligns words from contextual embeddings produced by a
// transformer encoder graph run through ONNX Runtime. Subword similarity is
// normalized with a softmax in both directions and subword pairs that clear
// the threshold both ways are projected onto word pairs.
package awesome

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/example/go-wordalign/internal/align"
	"github.com/example/go-wordalign/internal/backend/similarity"
	"github.com/example/go-wordalign/internal/config"
	"github.com/example/go-wordalign/internal/onnx"
	"github.com/example/go-wordalign/internal/tokenizer"
)

// Name is the backend name reported in errors and logs.
const Name = "awesome"

// ExtractionSoftmax is the only supported extraction method.
const ExtractionSoftmax = "softmax"

var errNotAcquired = errors.New("aligner used before Acquire")

type Config struct {
	TokenizerModel   string
	ModelPath        string
	Runtime          config.RuntimeConfig
	OutputName       string
	Extraction       string
	SoftmaxThreshold float64
	MaxSubwords      int
	PadID            int64
}

type Option func(*Aligner)

func WithLogger(l *slog.Logger) Option {
	return func(a *Aligner) { a.logger = l }
}

// WithTokenizerLoader replaces loading the SentencePiece model from
// Config.TokenizerModel.
func WithTokenizerLoader(fn func() (tokenizer.Tokenizer, error)) Option {
	return func(a *Aligner) { a.loadTokenizer = fn }
}

// WithRunnerFactory replaces opening Config.ModelPath in ONNX Runtime.
func WithRunnerFactory(fn func() (onnx.GraphRunner, error)) Option {
	return func(a *Aligner) { a.newRunner = fn }
}

// Aligner is not safe for concurrent use.
type Aligner struct {
	cfg    Config
	logger *slog.Logger

	loadTokenizer func() (tokenizer.Tokenizer, error)
	newRunner     func() (onnx.GraphRunner, error)

	tok     tokenizer.Tokenizer
	encoder *onnx.Encoder
}

func New(cfg Config, opts ...Option) (*Aligner, error) {
	if cfg.Extraction == "" {
		cfg.Extraction = ExtractionSoftmax
	}
	if cfg.Extraction != ExtractionSoftmax {
		return nil, &align.ConfigurationError{Field: "awesome.extraction", Reason: fmt.Sprintf("unsupported method %q (expected softmax)", cfg.Extraction)}
	}
	if cfg.SoftmaxThreshold < 0 || cfg.SoftmaxThreshold >= 1 {
		return nil, &align.ConfigurationError{Field: "awesome.softmax_threshold", Reason: "must be within [0, 1)"}
	}
	if cfg.MaxSubwords < 1 {
		return nil, &align.ConfigurationError{Field: "awesome.max_subwords", Reason: "must be at least 1"}
	}
	if cfg.OutputName == "" {
		return nil, &align.ConfigurationError{Field: "awesome.output_name", Reason: "must not be empty"}
	}

	a := &Aligner{cfg: cfg, logger: slog.Default()}
	a.loadTokenizer = func() (tokenizer.Tokenizer, error) {
		return tokenizer.NewSentencePieceTokenizer(cfg.TokenizerModel)
	}
	a.newRunner = a.openRunner
	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

func (a *Aligner) openRunner() (onnx.GraphRunner, error) {
	info, err := onnx.Bootstrap(a.cfg.Runtime)
	if err != nil {
		return nil, err
	}

	return onnx.NewRunner("encoder", a.cfg.ModelPath, onnx.RunnerConfig{
		LibraryPath: info.LibraryPath,
		APIVersion:  onnx.APIVersion(info.Version),
	})
}

// Acquire loads the tokenizer and opens the encoder session. It is a no-op
// when both are already loaded.
func (a *Aligner) Acquire(context.Context) error {
	if a.tok != nil && a.encoder != nil {
		return nil
	}

	start := time.Now()

	tok, err := a.loadTokenizer()
	if err != nil {
		return align.NewBackendError(Name, fmt.Errorf("load tokenizer: %w", err))
	}

	runner, err := a.newRunner()
	if err != nil {
		return align.NewBackendError(Name, fmt.Errorf("open encoder: %w", err))
	}

	a.tok = tok
	a.encoder = onnx.NewEncoder(runner, a.cfg.OutputName, a.cfg.PadID)
	a.logger.Debug("awesome encoder loaded",
		"graph", runner.Name(),
		"output", a.cfg.OutputName,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Release closes the encoder session.
func (a *Aligner) Release() {
	if a.encoder == nil && a.tok == nil {
		return
	}

	if a.encoder != nil {
		a.encoder.Close()
	}

	a.tok, a.encoder = nil, nil
	a.logger.Debug("awesome encoder released")
}

func (a *Aligner) Align(ctx context.Context, src, tgt []string) (align.Alignment, error) {
	for out, err := range a.AlignBatched(ctx, [][]string{src}, [][]string{tgt}) {
		return out, err
	}

	return nil, align.NewBackendError(Name, errors.New("batched alignment returned no result"))
}

// AlignBatched tokenizes every pair, runs the encoder once per side over the
// padded batch, and yields one alignment per pair in order.
func (a *Aligner) AlignBatched(ctx context.Context, src, tgt [][]string) iter.Seq2[align.Alignment, error] {
	return func(yield func(align.Alignment, error) bool) {
		if len(src) != len(tgt) {
			yield(nil, fmt.Errorf("%w: %d source vs %d target sequences", align.ErrBatchMismatch, len(src), len(tgt)))
			return
		}
		if a.tok == nil || a.encoder == nil {
			yield(nil, align.NewBackendError(Name, errNotAcquired))
			return
		}

		srcPieces, srcStates, err := a.encodeSide(ctx, src)
		if err != nil {
			yield(nil, align.NewBackendError(Name, fmt.Errorf("source: %w", err)))
			return
		}

		tgtPieces, tgtStates, err := a.encodeSide(ctx, tgt)
		if err != nil {
			yield(nil, align.NewBackendError(Name, fmt.Errorf("target: %w", err)))
			return
		}

		for i := range src {
			out := a.extract(srcStates[i], tgtStates[i], srcPieces[i], tgtPieces[i])
			if !yield(out, nil) {
				return
			}
		}
	}
}

func (a *Aligner) encodeSide(ctx context.Context, sentences [][]string) ([]tokenizer.Pieces, [][][]float32, error) {
	pieces := make([]tokenizer.Pieces, len(sentences))
	ids := make([][]int64, len(sentences))

	for i, words := range sentences {
		p, err := tokenizer.EncodeWords(a.tok, words, a.cfg.MaxSubwords)
		if err != nil {
			return nil, nil, fmt.Errorf("sentence %d: %w", i, err)
		}
		if p.Truncated {
			a.logger.Warn("sentence truncated to max subwords",
				"sentence", i,
				"words", len(words),
				"max_subwords", a.cfg.MaxSubwords,
			)
		}
		pieces[i] = p
		ids[i] = p.IDs
	}

	states, err := a.encoder.Encode(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	return pieces, states, nil
}

func (a *Aligner) extract(srcStates, tgtStates [][]float32, srcPieces, tgtPieces tokenizer.Pieces) align.Alignment {
	if len(srcStates) == 0 || len(tgtStates) == 0 {
		return align.Alignment{}
	}

	scores := similarity.Dot(srcStates, tgtStates)
	fwd := similarity.SoftmaxRows(scores)
	bwd := similarity.SoftmaxCols(scores)
	links := similarity.ThresholdIntersect(fwd, bwd, a.cfg.SoftmaxThreshold)

	return similarity.Project(links, srcPieces.WordIndex, tgtPieces.WordIndex)
}
