package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	gosp "github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
)

// ErrEmptyPath is returned by NewSentencePieceTokenizer when no model is configured.
var ErrEmptyPath = errors.New("tokenizer: empty sentencepiece model path")

// memoLimit caps the number of words remembered by a SentencePieceTokenizer.
// The memo is dropped wholesale once it fills.
const memoLimit = 1 << 16

// SentencePieceTokenizer encodes single words with a UNIGRAM SentencePiece
// model. Aligners encode the same surface forms over and over, so ids are
// memoized per word. Safe for concurrent use.
type SentencePieceTokenizer struct {
	sp gosp.Sentencepiece

	mu   sync.Mutex
	memo map[string][]int64
}

func NewSentencePieceTokenizer(modelPath string) (*SentencePieceTokenizer, error) {
	if modelPath == "" {
		return nil, ErrEmptyPath
	}

	sp, err := gosp.NewSentencepieceFromFile(modelPath, false)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load %s: %w", modelPath, err)
	}

	return &SentencePieceTokenizer{sp: sp, memo: make(map[string][]int64)}, nil
}

// Encode returns the piece ids of word. Blank words have no pieces. The
// returned slice is shared with the memo and must not be modified.
func (t *SentencePieceTokenizer) Encode(word string) ([]int64, error) {
	if strings.TrimSpace(word) == "" {
		return nil, nil
	}

	t.mu.Lock()
	ids, ok := t.memo[word]
	t.mu.Unlock()
	if ok {
		return ids, nil
	}

	raw := t.sp.TokenizeToIDs(word)
	ids = make([]int64, len(raw))
	for i, id := range raw {
		ids[i] = int64(id)
	}

	t.mu.Lock()
	if t.memo == nil || len(t.memo) >= memoLimit {
		t.memo = make(map[string][]int64)
	}
	t.memo[word] = ids
	t.mu.Unlock()

	return ids, nil
}
