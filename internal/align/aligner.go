// Package align defines the word aligner capability shared by every
// alignment backend, plus the exact-match reference aligner.
package align

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
)

// Pair links the word at Source in the source sequence to the word at Target
// in the target sequence. Both indices are 0-based.
type Pair struct {
	Source int
	Target int
}

// MarshalJSON encodes a pair as a two-element array, [source, target].
func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Source, p.Target})
}

// UnmarshalJSON decodes the [source, target] array form.
func (p *Pair) UnmarshalJSON(data []byte) error {
	var raw [2]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode alignment pair: %w", err)
	}
	p.Source, p.Target = raw[0], raw[1]
	return nil
}

// Alignment is the set of aligned index pairs for one sentence pair, kept as
// an ordered slice so results are reproducible.
type Alignment []Pair

// Validate reports an error if any pair points outside the given sequence lengths.
func (a Alignment) Validate(srcLen, tgtLen int) error {
	for _, p := range a {
		if p.Source < 0 || p.Source >= srcLen || p.Target < 0 || p.Target >= tgtLen {
			return fmt.Errorf("pair (%d, %d) out of range for %dx%d words", p.Source, p.Target, srcLen, tgtLen)
		}
	}
	return nil
}

// Aligner computes word alignments for sentence pairs.
//
// Expensive backend state (model weights, device handles) is bound between
// Acquire and Release. Callers hold one scope for a whole run:
//
//	if err := a.Acquire(ctx); err != nil {
//	    return err
//	}
//	defer a.Release()
//
// Acquire on an already acquired aligner is a no-op. Release never fails and
// is a no-op outside a scope. Align must return an empty alignment when either
// side is empty.
type Aligner interface {
	Acquire(ctx context.Context) error
	Release()
	Align(ctx context.Context, src, tgt []string) (Alignment, error)
}

// BatchAligner is implemented by backends with a native batched execution
// path. Results must match per-pair Align calls in order and count.
type BatchAligner interface {
	Aligner
	AlignBatched(ctx context.Context, src, tgt [][]string) iter.Seq2[Alignment, error]
}

// AlignBatched aligns each (src[i], tgt[i]) pair and yields one alignment per
// pair, in order. Backends implementing BatchAligner run their native batched
// path; all others get one Align call per pair. The sequence stops after the
// first error.
func AlignBatched(ctx context.Context, a Aligner, src, tgt [][]string) iter.Seq2[Alignment, error] {
	if len(src) != len(tgt) {
		return func(yield func(Alignment, error) bool) {
			yield(nil, fmt.Errorf("%w: %d source vs %d target sequences", ErrBatchMismatch, len(src), len(tgt)))
		}
	}
	if ba, ok := a.(BatchAligner); ok {
		return ba.AlignBatched(ctx, src, tgt)
	}
	return AlignEach(ctx, a, src, tgt)
}

// AlignEach is the fallback batched path: one Align call per pair, lazily.
func AlignEach(ctx context.Context, a Aligner, src, tgt [][]string) iter.Seq2[Alignment, error] {
	return func(yield func(Alignment, error) bool) {
		for i := range src {
			out, err := a.Align(ctx, src[i], tgt[i])
			if !yield(out, err) || err != nil {
				return
			}
		}
	}
}
