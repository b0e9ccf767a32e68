package transform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/go-wordalign/internal/align"
	"github.com/example/go-wordalign/internal/record"
)

func (t *Transform) runBatched(ctx context.Context, in record.Stream, yield func(*record.Record, error) bool) {
	for group, err := range record.Batched(in, t.opts.batchSize) {
		if err != nil {
			yield(nil, err)
			return
		}
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		results, err := t.alignGroup(ctx, group)
		if err != nil {
			yield(nil, fmt.Errorf("batch at record %d: %w", t.stats.Records, err))
			return
		}

		for i, rec := range group {
			rec.Set(t.opts.outputField, results[i])
			t.stats.Records++
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// alignGroup returns one alignment per record of group, in group order. Only
// records with both sides non-empty are sent to the backend, in one batched
// call; the others get an empty alignment at their original position. A group
// with nothing eligible makes no backend call.
func (t *Transform) alignGroup(ctx context.Context, group []*record.Record) ([]align.Alignment, error) {
	srcCol, err := record.WordColumn(group, t.sourceField)
	if err != nil {
		return nil, err
	}
	tgtCol, err := record.WordColumn(group, t.targetField)
	if err != nil {
		return nil, err
	}

	var (
		src, tgt [][]string
		skipped  []int
	)
	for i := range group {
		if len(srcCol[i]) == 0 || len(tgtCol[i]) == 0 {
			skipped = append(skipped, i)
			continue
		}
		src = append(src, srcCol[i])
		tgt = append(tgt, tgtCol[i])
	}

	eligible := make([]align.Alignment, 0, len(src))
	if len(src) > 0 {
		t.stats.BackendCalls++
		for out, err := range align.AlignBatched(ctx, t.aligner, src, tgt) {
			if err != nil {
				return nil, align.NewBackendError(t.opts.backend, err)
			}
			n := len(eligible)
			if n >= len(src) {
				return nil, align.NewBackendError(t.opts.backend,
					fmt.Errorf("backend returned more than %d alignments", len(src)))
			}
			out, err = t.checked(out, src[n], tgt[n])
			if err != nil {
				return nil, err
			}
			eligible = append(eligible, out)
		}
		if len(eligible) != len(src) {
			return nil, align.NewBackendError(t.opts.backend,
				fmt.Errorf("backend returned %d alignments for %d pairs", len(eligible), len(src)))
		}
	}

	t.stats.Skipped += len(skipped)
	t.log.DebugContext(ctx, "aligned batch",
		slog.Int("records", len(group)),
		slog.Int("eligible", len(src)),
		slog.Int("skipped", len(skipped)),
	)

	if len(skipped) == 0 {
		return eligible, nil
	}
	return mergeSkipped(eligible, skipped, len(group)), nil
}

// mergeSkipped interleaves eligible results with empty alignments at the
// ascending positions in skipped, restoring the original group order.
// len(eligible)+len(skipped) must equal size.
func mergeSkipped(eligible []align.Alignment, skipped []int, size int) []align.Alignment {
	out := make([]align.Alignment, 0, size)
	e, s := 0, 0
	for i := range size {
		if s < len(skipped) && skipped[s] == i {
			out = append(out, align.Alignment{})
			s++
			continue
		}
		out = append(out, eligible[e])
		e++
	}
	return out
}
