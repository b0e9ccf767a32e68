package align

import "context"

// ExactMatch aligns words that are character-identical. It holds no
// resources, so Acquire and Release do nothing.
type ExactMatch struct{}

// NewExactMatch returns the exact-match aligner.
func NewExactMatch() *ExactMatch { return &ExactMatch{} }

func (*ExactMatch) Acquire(context.Context) error { return nil }

func (*ExactMatch) Release() {}

// Align emits (i, j) for every src[i] == tgt[j], source positions outer and
// target positions inner. No case, punctuation or unicode normalization is
// applied.
func (*ExactMatch) Align(_ context.Context, src, tgt []string) (Alignment, error) {
	out := Alignment{}
	for i, s := range src {
		for j, t := range tgt {
			if s == t {
				out = append(out, Pair{Source: i, Target: j})
			}
		}
	}
	return out, nil
}
