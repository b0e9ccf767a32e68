// Package tokenizer splits pre-tokenized words into subword ids for the
// model-backed aligners. The primary implementation uses a SentencePiece
// model; every subword keeps a link back to the word it came from so that
// subword-level links can be projected onto word positions.
package tokenizer

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Tokenizer maps one word to its subword ids.
type Tokenizer interface {
	Encode(word string) ([]int64, error)
}

// Pieces is the subword encoding of one word sequence.
type Pieces struct {
	IDs []int64
	// WordIndex[k] is the position of the word that produced IDs[k].
	WordIndex []int
	// Truncated is set when the sequence was cut at the subword limit.
	Truncated bool
}

// EncodeWords encodes each word separately after NFKC normalization and
// concatenates the pieces. Words that encode to nothing contribute no
// subwords. When maxPieces > 0 the sequence is cut after maxPieces subwords.
func EncodeWords(tok Tokenizer, words []string, maxPieces int) (Pieces, error) {
	var p Pieces
	for i, w := range words {
		ids, err := tok.Encode(norm.NFKC.String(w))
		if err != nil {
			return Pieces{}, fmt.Errorf("encode word %d %q: %w", i, w, err)
		}
		for _, id := range ids {
			if maxPieces > 0 && len(p.IDs) == maxPieces {
				p.Truncated = true
				return p, nil
			}
			p.IDs = append(p.IDs, id)
			p.WordIndex = append(p.WordIndex, i)
		}
	}
	return p, nil
}
