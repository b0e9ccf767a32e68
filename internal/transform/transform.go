// Package transform drives a word aligner over a stream of records and writes
// the alignment of each sentence pair back into its record.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/go-wordalign/internal/align"
	"github.com/example/go-wordalign/internal/record"
)

// DefaultOutputField is the field the alignment is written to.
const DefaultOutputField = "word_alignments"

// Stats summarizes the most recent run of a Transform.
type Stats struct {
	Records      int // records emitted
	Skipped      int // records with an empty side, aligned without the backend
	BackendCalls int // Align calls (unbatched) or batched calls (batched)
}

type options struct {
	batchSize   int
	outputField string
	backend     string
	logger      *slog.Logger
}

// Option configures a Transform.
type Option func(*options)

// WithBatchSize sets the micro-batch size. 1 processes records one at a time.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithOutputField overrides DefaultOutputField.
func WithOutputField(name string) Option {
	return func(o *options) { o.outputField = name }
}

// WithBackendName labels log lines and backend errors.
func WithBackendName(name string) Option {
	return func(o *options) { o.backend = name }
}

// WithLogger sets the logger used for run summaries.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Transform aligns the word lists stored under two record fields. A Transform
// owns its aligner exclusively and must not run concurrently with itself.
type Transform struct {
	aligner     align.Aligner
	sourceField string
	targetField string
	opts        options
	log         *slog.Logger
	stats       Stats
}

// New validates the construction parameters. Problems are reported as
// *align.ConfigurationError.
func New(aligner align.Aligner, sourceField, targetField string, optFns ...Option) (*Transform, error) {
	opts := options{
		batchSize:   1,
		outputField: DefaultOutputField,
		logger:      slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	switch {
	case aligner == nil:
		return nil, &align.ConfigurationError{Field: "aligner", Reason: "is required"}
	case sourceField == "":
		return nil, &align.ConfigurationError{Field: "source field", Reason: "must not be empty"}
	case targetField == "":
		return nil, &align.ConfigurationError{Field: "target field", Reason: "must not be empty"}
	case opts.batchSize < 1:
		return nil, &align.ConfigurationError{Field: "batch size", Reason: fmt.Sprintf("must be >= 1, got %d", opts.batchSize)}
	case opts.outputField == "":
		return nil, &align.ConfigurationError{Field: "output field", Reason: "must not be empty"}
	case opts.outputField == sourceField || opts.outputField == targetField:
		return nil, &align.ConfigurationError{Field: "output field", Reason: fmt.Sprintf("%q would overwrite an input field", opts.outputField)}
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}

	return &Transform{
		aligner:     aligner,
		sourceField: sourceField,
		targetField: targetField,
		opts:        opts,
		log:         opts.logger,
	}, nil
}

// BatchSize reports the configured micro-batch size.
func (t *Transform) BatchSize() int { return t.opts.batchSize }

// Stats returns the counters of the last run.
func (t *Transform) Stats() Stats { return t.stats }

// Apply returns the lazily transformed stream. Nothing runs until the result
// is ranged over. The aligner is acquired once when iteration starts and
// released when it ends, whether the input is exhausted, an error occurs, the
// consumer stops early or ctx is cancelled.
//
// Records with an empty source or target list get an empty alignment and
// never reach the backend. The first error ends the stream; records already
// emitted stay valid.
func (t *Transform) Apply(ctx context.Context, in record.Stream) record.Stream {
	return func(yield func(*record.Record, error) bool) {
		t.stats = Stats{}

		if err := t.aligner.Acquire(ctx); err != nil {
			yield(nil, align.NewBackendError(t.opts.backend, fmt.Errorf("acquire: %w", err)))
			return
		}
		defer t.aligner.Release()

		start := time.Now()
		defer func() {
			t.log.InfoContext(ctx, "alignment run finished",
				slog.String("backend", t.opts.backend),
				slog.Int("batch_size", t.opts.batchSize),
				slog.Int("records", t.stats.Records),
				slog.Int("skipped", t.stats.Skipped),
				slog.Int("backend_calls", t.stats.BackendCalls),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}()

		if t.opts.batchSize > 1 {
			t.runBatched(ctx, in, yield)
			return
		}
		t.runSingle(ctx, in, yield)
	}
}

func (t *Transform) runSingle(ctx context.Context, in record.Stream, yield func(*record.Record, error) bool) {
	for rec, err := range in {
		if err != nil {
			yield(nil, err)
			return
		}
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		out, err := t.alignRecord(ctx, rec)
		if err != nil {
			yield(nil, fmt.Errorf("record %d: %w", t.stats.Records, err))
			return
		}

		rec.Set(t.opts.outputField, out)
		t.stats.Records++
		if !yield(rec, nil) {
			return
		}
	}
}

func (t *Transform) alignRecord(ctx context.Context, rec *record.Record) (align.Alignment, error) {
	src, err := rec.Words(t.sourceField)
	if err != nil {
		return nil, err
	}
	tgt, err := rec.Words(t.targetField)
	if err != nil {
		return nil, err
	}

	if len(src) == 0 || len(tgt) == 0 {
		t.stats.Skipped++
		return align.Alignment{}, nil
	}

	t.stats.BackendCalls++
	out, err := t.aligner.Align(ctx, src, tgt)
	if err != nil {
		return nil, align.NewBackendError(t.opts.backend, err)
	}
	return t.checked(out, src, tgt)
}

// checked enforces the index bounds on a backend result.
func (t *Transform) checked(out align.Alignment, src, tgt []string) (align.Alignment, error) {
	if out == nil {
		out = align.Alignment{}
	}
	if err := out.Validate(len(src), len(tgt)); err != nil {
		return nil, align.NewBackendError(t.opts.backend, err)
	}
	return out, nil
}
