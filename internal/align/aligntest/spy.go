// Package aligntest provides call-recording aligners for tests.
package aligntest

import (
	"context"
	"errors"
	"iter"
	"slices"

	"github.com/example/go-wordalign/internal/align"
)

// ErrInjected is the failure returned by a Spy when FailOn matches.
var ErrInjected = errors.New("injected backend failure")

// Call is one sentence pair observed by the backend.
type Call struct {
	Src []string
	Tgt []string
}

// Spy records lifecycle and alignment calls. Alignments come from AlignFunc,
// or exact matching when AlignFunc is nil. Spy has no native batched path.
type Spy struct {
	AlignFunc func(src, tgt []string) align.Alignment
	// FailOn makes Align return a BackendError wrapping ErrInjected.
	FailOn func(src, tgt []string) bool

	Acquires int
	Releases int
	Calls    []Call
	// Active reports whether the spy is between Acquire and Release.
	Active bool
}

func (s *Spy) Acquire(context.Context) error {
	s.Acquires++
	s.Active = true
	return nil
}

func (s *Spy) Release() {
	s.Releases++
	s.Active = false
}

func (s *Spy) Align(_ context.Context, src, tgt []string) (align.Alignment, error) {
	s.Calls = append(s.Calls, Call{Src: slices.Clone(src), Tgt: slices.Clone(tgt)})
	if s.FailOn != nil && s.FailOn(src, tgt) {
		return nil, &align.BackendError{Backend: "spy", Err: ErrInjected}
	}
	if s.AlignFunc != nil {
		return s.AlignFunc(src, tgt), nil
	}
	return align.NewExactMatch().Align(context.Background(), src, tgt)
}

// BatchSpy adds a native batched path to Spy and records each batch it sees.
// Extra, when set, is appended to every batch result to simulate a backend
// returning the wrong number of alignments.
type BatchSpy struct {
	Spy

	Batches [][]Call
	Extra   []align.Alignment
	// Drop truncates each batch result by this many alignments.
	Drop int
}

func (b *BatchSpy) AlignBatched(ctx context.Context, src, tgt [][]string) iter.Seq2[align.Alignment, error] {
	batch := make([]Call, len(src))
	for i := range src {
		batch[i] = Call{Src: slices.Clone(src[i]), Tgt: slices.Clone(tgt[i])}
	}
	b.Batches = append(b.Batches, batch)

	return func(yield func(align.Alignment, error) bool) {
		n := max(len(src)-b.Drop, 0)
		for i := range n {
			out, err := b.Align(ctx, src[i], tgt[i])
			if !yield(out, err) || err != nil {
				return
			}
		}
		for _, extra := range b.Extra {
			if !yield(extra, nil) {
				return
			}
		}
	}
}
