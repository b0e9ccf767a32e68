// Package record holds the pipeline record type and the lazy stream helpers
// used to move records between stages.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
)

var (
	// ErrMissingField is returned when a record lacks a required field.
	ErrMissingField = errors.New("record is missing field")
	// ErrNotWords is returned when a field does not hold a list of strings.
	ErrNotWords = errors.New("field is not a word list")
	// ErrMalformedLine is returned when an input line is not a JSON object.
	ErrMalformedLine = errors.New("malformed jsonl line")
)

// Record is an ordered mapping from field name to value. Fields keep their
// first insertion order; Set on an existing key overwrites in place.
type Record struct {
	keys   []string
	values map[string]any
}

// New returns an empty record.
func New() *Record {
	return &Record{values: map[string]any{}}
}

// FromPairs builds a record from alternating key/value arguments.
func FromPairs(kv ...any) *Record {
	r := New()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("record.FromPairs: key %d is %T, want string", i/2, kv[i]))
		}
		r.Set(key, kv[i+1])
	}
	return r
}

func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *Record) Set(key string, v any) {
	if r.values == nil {
		r.values = map[string]any{}
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Keys returns the field names in order.
func (r *Record) Keys() []string { return slices.Clone(r.keys) }

func (r *Record) Len() int { return len(r.keys) }

// Words returns the word list stored under key. Both []string and decoded
// JSON arrays of strings are accepted; an empty list is valid.
func (r *Record) Words(key string) ([]string, error) {
	v, ok := r.values[key]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrMissingField, key)
	}

	switch words := v.(type) {
	case []string:
		return words, nil
	case []any:
		out := make([]string, len(words))
		for i, w := range words {
			s, ok := w.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %q element %d is %T", ErrNotWords, key, i, w)
			}
			out[i] = s
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("%w: %q is null", ErrNotWords, key)
	default:
		return nil, fmt.Errorf("%w: %q is %T", ErrNotWords, key, v)
	}
}

// MarshalJSON writes the fields in record order. Nested objects are encoded
// by encoding/json and therefore come out with sorted keys.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(key); err != nil {
			return nil, err
		}
		trimNewline(&buf)
		buf.WriteByte(':')
		if err := enc.Encode(r.values[key]); err != nil {
			return nil, fmt.Errorf("encode field %q: %w", key, err)
		}
		trimNewline(&buf)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping its top-level key order. Numbers
// are kept as json.Number so they re-encode unchanged.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("decode record: expected object, got %v", tok)
	}

	r.keys = nil
	r.values = map[string]any{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode record key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("decode record: unexpected key token %v", tok)
		}

		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("decode field %q: %w", key, err)
		}
		r.Set(key, v)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("decode record: trailing data after object")
	}
	return nil
}

func trimNewline(buf *bytes.Buffer) {
	if n := buf.Len(); n > 0 && buf.Bytes()[n-1] == '\n' {
		buf.Truncate(n - 1)
	}
}
