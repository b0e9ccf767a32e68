// Package simalign aligns words by the similarity of their embeddings. Each
// word is the mean of its SentencePiece subword embeddings taken from a
// static [vocab, dim] table, and links are extracted from the cosine
// similarity matrix of the two sentences.
package simalign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/go-wordalign/internal/align"
	"github.com/example/go-wordalign/internal/backend/similarity"
	"github.com/example/go-wordalign/internal/safetensors"
	"github.com/example/go-wordalign/internal/tokenizer"
)

// Name is the backend name reported in errors and logs.
const Name = "simalign"

var errNotAcquired = errors.New("aligner used before Acquire")

type Config struct {
	TokenizerModel  string
	EmbeddingsPath  string
	EmbeddingTensor string
	Method          string
	MinSimilarity   float64
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

// WithEmbeddingLoader replaces loading the table from Config.EmbeddingsPath.
func WithEmbeddingLoader(fn func() (*safetensors.EmbeddingTable, error)) Option {
	return func(a *Aligner) { a.loadTable = fn }
}

// Aligner is not safe for concurrent use.
type Aligner struct {
	cfg    Config
	logger *slog.Logger

	loadTokenizer func() (tokenizer.Tokenizer, error)
	loadTable     func() (*safetensors.EmbeddingTable, error)

	tok   tokenizer.Tokenizer
	table *safetensors.EmbeddingTable
}

func New(cfg Config, opts ...Option) (*Aligner, error) {
	switch cfg.Method {
	case "":
		cfg.Method = similarity.MethodArgmax
	case similarity.MethodArgmax, similarity.MethodIterMax:
	default:
		return nil, &align.ConfigurationError{Field: "simalign.method", Reason: fmt.Sprintf("unknown method %q (expected argmax|itermax)", cfg.Method)}
	}
	if cfg.MinSimilarity < -1 || cfg.MinSimilarity > 1 {
		return nil, &align.ConfigurationError{Field: "simalign.min_similarity", Reason: "must be within [-1, 1]"}
	}

	a := &Aligner{cfg: cfg, logger: slog.Default()}
	a.loadTokenizer = func() (tokenizer.Tokenizer, error) {
		return tokenizer.NewSentencePieceTokenizer(cfg.TokenizerModel)
	}
	a.loadTable = func() (*safetensors.EmbeddingTable, error) {
		return safetensors.LoadEmbeddingTable(cfg.EmbeddingsPath, cfg.EmbeddingTensor)
	}
	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Acquire loads the tokenizer and embedding table. It is a no-op when they
// are already loaded.
func (a *Aligner) Acquire(context.Context) error {
	if a.tok != nil && a.table != nil {
		return nil
	}

	tok, err := a.loadTokenizer()
	if err != nil {
		return align.NewBackendError(Name, fmt.Errorf("load tokenizer: %w", err))
	}

	table, err := a.loadTable()
	if err != nil {
		return align.NewBackendError(Name, fmt.Errorf("load embeddings: %w", err))
	}

	a.tok, a.table = tok, table
	a.logger.Debug("simalign resources loaded",
		"embedding_tensor", table.Name,
		"vocab", table.Vocab,
		"dim", table.Dim,
		"method", a.cfg.Method,
	)

	return nil
}

func (a *Aligner) Release() {
	if a.tok == nil && a.table == nil {
		return
	}

	a.tok, a.table = nil, nil
	a.logger.Debug("simalign resources released")
}

func (a *Aligner) Align(_ context.Context, src, tgt []string) (align.Alignment, error) {
	if a.tok == nil || a.table == nil {
		return nil, align.NewBackendError(Name, errNotAcquired)
	}

	srcVecs, err := a.wordVectors(src)
	if err != nil {
		return nil, align.NewBackendError(Name, fmt.Errorf("source: %w", err))
	}

	tgtVecs, err := a.wordVectors(tgt)
	if err != nil {
		return nil, align.NewBackendError(Name, fmt.Errorf("target: %w", err))
	}

	// Words that produced no subwords take no part in the matrix.
	srcVecs, srcWord := compact(srcVecs)
	tgtVecs, tgtWord := compact(tgtVecs)

	sim := similarity.Cosine(srcVecs, tgtVecs)

	var links []align.Pair
	if a.cfg.Method == similarity.MethodIterMax {
		links = similarity.IterMax(sim, similarity.DefaultIterMaxRounds, similarity.DefaultIterMaxAlpha)
	} else {
		links = similarity.ArgmaxIntersect(sim)
	}

	kept := links[:0]
	for _, l := range links {
		if sim.At(l.Source, l.Target) >= a.cfg.MinSimilarity {
			kept = append(kept, l)
		}
	}

	return similarity.Project(kept, srcWord, tgtWord), nil
}

func (a *Aligner) wordVectors(words []string) ([][]float32, error) {
	pieces, err := tokenizer.EncodeWords(a.tok, words, 0)
	if err != nil {
		return nil, err
	}

	rows := make([][]float32, len(pieces.IDs))
	for k, id := range pieces.IDs {
		row, err := a.table.Row(id)
		if err != nil {
			return nil, err
		}
		rows[k] = row
	}

	return similarity.MeanPool(rows, pieces.WordIndex, len(words)), nil
}

func compact(vecs [][]float32) ([][]float32, []int) {
	out := make([][]float32, 0, len(vecs))
	index := make([]int, 0, len(vecs))
	for w, v := range vecs {
		if v != nil {
			out = append(out, v)
			index = append(index, w)
		}
	}
	return out, index
}
