package align

import (
	"context"
	"iter"
)

// Retain wraps an aligner whose scope is owned elsewhere. Acquire and Release
// on the wrapper do nothing, so a long-lived owner (the HTTP server) can hand
// the same acquired backend to many short transform runs.
func Retain(a Aligner) Aligner {
	return retained{inner: a}
}

type retained struct {
	inner Aligner
}

func (retained) Acquire(context.Context) error { return nil }

func (retained) Release() {}

func (r retained) Align(ctx context.Context, src, tgt []string) (Alignment, error) {
	return r.inner.Align(ctx, src, tgt)
}

func (r retained) AlignBatched(ctx context.Context, src, tgt [][]string) iter.Seq2[Alignment, error] {
	return AlignBatched(ctx, r.inner, src, tgt)
}
