package record

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestRecord_SetKeepsOrder(t *testing.T) {
	r := New()
	r.Set("b", 1)
	r.Set("a", 2)
	r.Set("b", 3)

	if got := r.Keys(); !slices.Equal(got, []string{"b", "a"}) {
		t.Errorf("Keys = %v; want [b a]", got)
	}
	if v, _ := r.Get("b"); v != 3 {
		t.Errorf("Get(b) = %v; want 3", v)
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d; want 2", r.Len())
	}
}

func TestRecord_JSONPreservesOrderAndNumbers(t *testing.T) {
	in := `{"zeta":1,"src":["Das","Haus"],"alpha":{"y":true},"id":12345678901234}`

	r := New()
	if err := r.UnmarshalJSON([]byte(in)); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	out, err := r.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(out) != in {
		t.Errorf("round trip = %s; want %s", out, in)
	}
}

func TestRecord_MarshalDoesNotEscapeHTML(t *testing.T) {
	r := FromPairs("text", "a < b & c")
	out, err := r.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(out) != `{"text":"a < b & c"}` {
		t.Errorf("MarshalJSON = %s", out)
	}
}

func TestRecord_UnmarshalRejectsNonObject(t *testing.T) {
	for _, in := range []string{`[1,2]`, `"x"`, `{"a":`, ``} {
		if err := New().UnmarshalJSON([]byte(in)); err == nil {
			t.Errorf("UnmarshalJSON(%q) succeeded; want error", in)
		}
	}
}

func TestRecord_Words(t *testing.T) {
	r := FromPairs(
		"strings", []string{"a", "b"},
		"decoded", []any{"x", "y"},
		"empty", []any{},
		"mixed", []any{"x", 1},
		"null", nil,
		"scalar", "text",
	)

	if got, err := r.Words("strings"); err != nil || !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Words(strings) = %v, %v", got, err)
	}
	if got, err := r.Words("decoded"); err != nil || !slices.Equal(got, []string{"x", "y"}) {
		t.Errorf("Words(decoded) = %v, %v", got, err)
	}
	if got, err := r.Words("empty"); err != nil || len(got) != 0 {
		t.Errorf("Words(empty) = %v, %v", got, err)
	}

	if _, err := r.Words("missing"); !errors.Is(err, ErrMissingField) {
		t.Errorf("Words(missing) error = %v; want ErrMissingField", err)
	}
	for _, key := range []string{"mixed", "null", "scalar"} {
		if _, err := r.Words(key); !errors.Is(err, ErrNotWords) {
			t.Errorf("Words(%s) error = %v; want ErrNotWords", key, err)
		}
	}
}

func TestReadJSONL(t *testing.T) {
	in := "{\"id\":1}\n\n  {\"id\":2}\n{\"id\":3}"

	recs, err := Collect(ReadJSONL(strings.NewReader(in)))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records; want 3", len(recs))
	}
	if v, _ := recs[2].Get("id"); v.(interface{ String() string }).String() != "3" {
		t.Errorf("third id = %v", v)
	}
}

func TestReadJSONL_BadLineReportsLineNumber(t *testing.T) {
	in := "{\"id\":1}\nnot json\n{\"id\":3}\n"

	recs, err := Collect(ReadJSONL(strings.NewReader(in)))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("error = %v; want line 2 error", err)
	}
	if !errors.Is(err, ErrMalformedLine) {
		t.Errorf("error = %v; want ErrMalformedLine", err)
	}
	if len(recs) != 1 {
		t.Errorf("records before error = %d; want 1", len(recs))
	}
}

func TestReadJSONL_TrailingDataIsMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"two objects on one line", "{\"id\":1}\n{\"src\":[\"a\"]} {\"src\":[\"b\"]}\n"},
		{"garbage after object", "{\"id\":1}\n{\"id\":2} not-json\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := Collect(ReadJSONL(strings.NewReader(tt.in)))
			if !errors.Is(err, ErrMalformedLine) || !strings.Contains(err.Error(), "line 2") {
				t.Fatalf("error = %v; want ErrMalformedLine on line 2", err)
			}
			if len(recs) != 1 {
				t.Errorf("records before error = %d; want 1", len(recs))
			}
		})
	}
}

func TestRecord_UnmarshalRejectsTrailingData(t *testing.T) {
	if err := New().UnmarshalJSON([]byte(`{"a":1}}`)); err == nil {
		t.Fatal("expected error for trailing data")
	}

	if err := New().UnmarshalJSON([]byte(`{"a":1}  `)); err != nil {
		t.Errorf("trailing whitespace: %v", err)
	}
}

func TestReadJSONL_StopsWhenConsumerBreaks(t *testing.T) {
	in := "{\"id\":1}\n{\"id\":2}\n{\"id\":3}\n"
	n := 0
	for _, err := range ReadJSONL(strings.NewReader(in)) {
		if err != nil {
			t.Fatal(err)
		}
		n++
		break
	}
	if n != 1 {
		t.Errorf("consumed %d; want 1", n)
	}
}

func TestWriteJSONL(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteJSONL(&buf, FromSlice([]*Record{
		FromPairs("id", 1, "w", []string{"a"}),
		FromPairs("id", 2),
	}))
	if err != nil {
		t.Fatalf("WriteJSONL: %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d; want 2", n)
	}
	want := "{\"id\":1,\"w\":[\"a\"]}\n{\"id\":2}\n"
	if buf.String() != want {
		t.Errorf("output = %q; want %q", buf.String(), want)
	}
}

func TestWriteJSONL_StreamError(t *testing.T) {
	boom := errors.New("boom")
	in := func(yield func(*Record, error) bool) {
		if !yield(FromPairs("id", 1), nil) {
			return
		}
		yield(nil, boom)
	}

	var buf bytes.Buffer
	n, err := WriteJSONL(&buf, in)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v; want boom", err)
	}
	if n != 1 || buf.String() != "{\"id\":1}\n" {
		t.Errorf("n=%d output=%q; want the record written before the error", n, buf.String())
	}
}
