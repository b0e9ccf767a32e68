package record

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"
)

// Stream is a lazy, pull-based sequence of records. A non-nil error ends it.
type Stream = iter.Seq2[*Record, error]

// maxLineBytes bounds a single JSONL line.
const maxLineBytes = 16 << 20

// ReadJSONL decodes one JSON object per line from r. Blank lines are skipped.
// Decoding happens as the stream is consumed.
func ReadJSONL(r io.Reader) Stream {
	return func(yield func(*Record, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		line := 0
		for sc.Scan() {
			line++
			raw := bytes.TrimSpace(sc.Bytes())
			if len(raw) == 0 {
				continue
			}

			rec := New()
			if err := rec.UnmarshalJSON(raw); err != nil {
				yield(nil, fmt.Errorf("line %d: %w: %w", line, ErrMalformedLine, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(nil, fmt.Errorf("read jsonl: %w", err))
		}
	}
}

// Encoder writes records as JSON lines.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

// Encode writes rec followed by a newline in a single Write call.
func (e *Encoder) Encode(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = e.w.Write(data)
	return err
}

// WriteJSONL drains in and writes every record to w. It returns the number of
// records written and the first stream or write error.
func WriteJSONL(w io.Writer, in Stream) (int, error) {
	bw := bufio.NewWriter(w)
	enc := NewEncoder(bw)

	n := 0
	for rec, err := range in {
		if err != nil {
			_ = bw.Flush()
			return n, err
		}
		if err := enc.Encode(rec); err != nil {
			return n, fmt.Errorf("write record %d: %w", n, err)
		}
		n++
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("flush jsonl: %w", err)
	}
	return n, nil
}

// FromSlice streams the given records in order.
func FromSlice(recs []*Record) Stream {
	return func(yield func(*Record, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Collect drains a stream into a slice, stopping at the first error.
func Collect(in Stream) ([]*Record, error) {
	var out []*Record
	for rec, err := range in {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}
