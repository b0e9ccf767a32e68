package record

import (
	"fmt"
	"iter"
)

// Batched groups consecutive records into slices of up to size records. The
// last group may be shorter. Only one group is buffered at a time. When the
// input fails, the records gathered so far are yielded before the error.
func Batched(in Stream, size int) iter.Seq2[[]*Record, error] {
	return func(yield func([]*Record, error) bool) {
		if size < 1 {
			yield(nil, fmt.Errorf("batch size must be >= 1, got %d", size))
			return
		}

		group := make([]*Record, 0, size)
		for rec, err := range in {
			if err != nil {
				if len(group) > 0 && !yield(group, nil) {
					return
				}
				yield(nil, err)
				return
			}

			group = append(group, rec)
			if len(group) == size {
				if !yield(group, nil) {
					return
				}
				group = make([]*Record, 0, size)
			}
		}
		if len(group) > 0 {
			yield(group, nil)
		}
	}
}

// WordColumn reads the word list under key from every record of a group, in
// order.
func WordColumn(group []*Record, key string) ([][]string, error) {
	out := make([][]string, len(group))
	for i, rec := range group {
		words, err := rec.Words(key)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out[i] = words
	}
	return out, nil
}
