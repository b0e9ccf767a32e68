package transform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/example/go-wordalign/internal/align"
	"github.com/example/go-wordalign/internal/align/aligntest"
	"github.com/example/go-wordalign/internal/record"
)

var quiet = WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

func pair(src, tgt []string) *record.Record {
	return record.FromPairs("id", "x", "src", src, "tgt", tgt)
}

func mustNew(t *testing.T, a align.Aligner, opts ...Option) *Transform {
	t.Helper()
	tr, err := New(a, "src", "tgt", append([]Option{quiet}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func alignments(t *testing.T, recs []*record.Record) []align.Alignment {
	t.Helper()
	out := make([]align.Alignment, len(recs))
	for i, r := range recs {
		v, ok := r.Get(DefaultOutputField)
		if !ok {
			t.Fatalf("record %d has no %s field", i, DefaultOutputField)
		}
		out[i] = v.(align.Alignment)
	}
	return out
}

func equalAlignments(a, b []align.Alignment) bool {
	return slices.EqualFunc(a, b, func(x, y align.Alignment) bool { return slices.Equal(x, y) })
}

func TestNew_ConfigurationErrors(t *testing.T) {
	spy := &aligntest.Spy{}
	tests := []struct {
		name    string
		aligner align.Aligner
		src     string
		tgt     string
		opts    []Option
	}{
		{"nil aligner", nil, "src", "tgt", nil},
		{"empty source field", spy, "", "tgt", nil},
		{"empty target field", spy, "src", "", nil},
		{"zero batch size", spy, "src", "tgt", []Option{WithBatchSize(0)}},
		{"negative batch size", spy, "src", "tgt", []Option{WithBatchSize(-2)}},
		{"empty output field", spy, "src", "tgt", []Option{WithOutputField("")}},
		{"output overwrites source", spy, "src", "tgt", []Option{WithOutputField("src")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.aligner, tt.src, tt.tgt, tt.opts...)
			var ce *align.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v; want *ConfigurationError", err)
			}
		})
	}

	if spy.Acquires != 0 {
		t.Errorf("construction acquired the aligner %d times", spy.Acquires)
	}
}

func TestApply_IsLazy(t *testing.T) {
	spy := &aligntest.Spy{}
	tr := mustNew(t, spy)

	_ = tr.Apply(context.Background(), record.FromSlice([]*record.Record{pair([]string{"a"}, []string{"a"})}))

	if spy.Acquires != 0 || len(spy.Calls) != 0 {
		t.Errorf("Apply did work before iteration: acquires=%d calls=%d", spy.Acquires, len(spy.Calls))
	}
}

func TestApply_Unbatched(t *testing.T) {
	spy := &aligntest.Spy{}
	tr := mustNew(t, spy)

	in := []*record.Record{
		pair([]string{"a", "b", "a"}, []string{"a", "c"}),
		pair([]string{}, []string{"b"}),
		pair([]string{"x"}, []string{"y"}),
		pair([]string{"c"}, nil),
	}

	got, err := record.Collect(tr.Apply(context.Background(), record.FromSlice(in)))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	want := []align.Alignment{{{0, 0}, {2, 0}}, {}, {}, {}}
	if !equalAlignments(alignments(t, got), want) {
		t.Errorf("alignments = %v; want %v", alignments(t, got), want)
	}
	if len(spy.Calls) != 2 {
		t.Errorf("backend calls = %d; want 2 (empty records must not reach the backend)", len(spy.Calls))
	}
	if st := tr.Stats(); st.Records != 4 || st.Skipped != 2 || st.BackendCalls != 2 {
		t.Errorf("Stats = %+v", st)
	}

	for i, r := range got {
		if r != in[i] {
			t.Errorf("record %d is not the input record", i)
		}
		if keys := r.Keys(); !slices.Equal(keys, []string{"id", "src", "tgt", DefaultOutputField}) {
			t.Errorf("record %d keys = %v", i, keys)
		}
	}
}

func TestApply_MixedEmptyBatch(t *testing.T) {
	spy := &aligntest.BatchSpy{}
	tr := mustNew(t, spy, WithBatchSize(3))

	in := []*record.Record{
		pair([]string{"a"}, []string{"a"}),
		pair([]string{}, []string{"b"}),
		pair([]string{"c"}, []string{"c"}),
	}

	got, err := record.Collect(tr.Apply(context.Background(), record.FromSlice(in)))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	want := []align.Alignment{{{0, 0}}, {}, {{0, 0}}}
	if !equalAlignments(alignments(t, got), want) {
		t.Errorf("alignments = %v; want %v", alignments(t, got), want)
	}

	if len(spy.Batches) != 1 {
		t.Fatalf("batched calls = %d; want 1", len(spy.Batches))
	}
	seen := spy.Batches[0]
	if len(seen) != 2 ||
		!slices.Equal(seen[0].Src, []string{"a"}) || !slices.Equal(seen[0].Tgt, []string{"a"}) ||
		!slices.Equal(seen[1].Src, []string{"c"}) || !slices.Equal(seen[1].Tgt, []string{"c"}) {
		t.Errorf("backend saw %+v; want [(a,a) (c,c)]", seen)
	}
}

func TestApply_AllEmptyGroupSkipsBackend(t *testing.T) {
	spy := &aligntest.BatchSpy{}
	tr := mustNew(t, spy, WithBatchSize(2))

	in := []*record.Record{
		pair(nil, []string{"a"}),
		pair([]string{"b"}, []string{}),
		pair([]string{"c"}, []string{"c"}),
	}

	got, err := record.Collect(tr.Apply(context.Background(), record.FromSlice(in)))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d; want 3", len(got))
	}
	if len(spy.Batches) != 1 {
		t.Errorf("batched calls = %d; want 1 (the all-empty group must not call the backend)", len(spy.Batches))
	}
	if st := tr.Stats(); st.BackendCalls != 1 || st.Skipped != 2 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestApply_BatchedMatchesUnbatched(t *testing.T) {
	corpus := [][2][]string{
		{{"the", "house", "the"}, {"das", "house", "the"}},
		{{}, {"leer"}},
		{{"a"}, {"a"}},
		{{"x", "y"}, {"y", "x", "x"}},
		{{"only"}, {}},
		{{"same", "same"}, {"same"}},
		{{"q"}, {"r"}},
	}
	build := func() []*record.Record {
		out := make([]*record.Record, len(corpus))
		for i, c := range corpus {
			out[i] = pair(c[0], c[1])
		}
		return out
	}

	base, err := record.Collect(mustNew(t, &aligntest.Spy{}).Apply(context.Background(), record.FromSlice(build())))
	if err != nil {
		t.Fatalf("unbatched: %v", err)
	}
	want := alignments(t, base)

	for size := 1; size <= len(corpus)+1; size++ {
		for _, a := range []align.Aligner{&aligntest.Spy{}, &aligntest.BatchSpy{}} {
			got, err := record.Collect(mustNew(t, a, WithBatchSize(size)).Apply(context.Background(), record.FromSlice(build())))
			if err != nil {
				t.Fatalf("batch size %d (%T): %v", size, a, err)
			}
			if !equalAlignments(alignments(t, got), want) {
				t.Errorf("batch size %d (%T): %v; want %v", size, a, alignments(t, got), want)
			}
		}
	}
}

func TestApply_PairsWithinBounds(t *testing.T) {
	spy := &aligntest.Spy{}
	tr := mustNew(t, spy, WithBatchSize(2))

	in := []*record.Record{
		pair([]string{"a", "b", "c"}, []string{"c", "b"}),
		pair([]string{"b"}, []string{"b", "b", "b"}),
	}
	got, err := record.Collect(tr.Apply(context.Background(), record.FromSlice(in)))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for i, a := range alignments(t, got) {
		src, _ := in[i].Words("src")
		tgt, _ := in[i].Words("tgt")
		if err := a.Validate(len(src), len(tgt)); err != nil {
			t.Errorf("record %d: %v", i, err)
		}
	}
}

func TestApply_LifecycleOncePerRun(t *testing.T) {
	for _, size := range []int{1, 2} {
		spy := &aligntest.Spy{}
		tr := mustNew(t, spy, WithBatchSize(size))

		in := []*record.Record{
			pair([]string{"a"}, []string{"a"}),
			pair([]string{"b"}, []string{"b"}),
			pair([]string{"c"}, []string{"c"}),
		}
		if _, err := record.Collect(tr.Apply(context.Background(), record.FromSlice(in))); err != nil {
			t.Fatalf("batch size %d: %v", size, err)
		}
		if spy.Acquires != 1 || spy.Releases != 1 {
			t.Errorf("batch size %d: acquires=%d releases=%d; want 1/1", size, spy.Acquires, spy.Releases)
		}
	}
}

func TestApply_ReleasesOnBackendError(t *testing.T) {
	for _, size := range []int{1, 2} {
		spy := &aligntest.Spy{FailOn: func(src, _ []string) bool { return src[0] == "bad" }}
		tr := mustNew(t, spy, WithBatchSize(size))

		in := []*record.Record{
			pair([]string{"a"}, []string{"a"}),
			pair([]string{"b"}, []string{"b"}),
			pair([]string{"bad"}, []string{"x"}),
			pair([]string{"d"}, []string{"d"}),
		}
		got, err := record.Collect(tr.Apply(context.Background(), record.FromSlice(in)))

		var be *align.BackendError
		if !errors.As(err, &be) {
			t.Fatalf("batch size %d: error = %v; want *BackendError", size, err)
		}
		if len(got) != 2 {
			t.Errorf("batch size %d: emitted %d records before the failing one; want 2", size, len(got))
		}
		if spy.Acquires != 1 || spy.Releases != 1 {
			t.Errorf("batch size %d: acquires=%d releases=%d; want 1/1", size, spy.Acquires, spy.Releases)
		}
		if _, ok := in[3].Get(DefaultOutputField); ok {
			t.Errorf("batch size %d: record after failure was aligned", size)
		}
	}
}

func TestApply_FailedGroupEmitsNothing(t *testing.T) {
	spy := &aligntest.Spy{FailOn: func(src, _ []string) bool { return src[0] == "bad" }}
	tr := mustNew(t, spy, WithBatchSize(3))

	in := []*record.Record{
		pair([]string{"a"}, []string{"a"}),
		pair([]string{"bad"}, []string{"x"}),
	}
	got, err := record.Collect(tr.Apply(context.Background(), record.FromSlice(in)))
	if err == nil {
		t.Fatal("want error")
	}
	if len(got) != 0 {
		t.Errorf("emitted %d records from the failed group; want 0", len(got))
	}
	if _, ok := in[0].Get(DefaultOutputField); ok {
		t.Error("record in failed group was assigned an alignment")
	}
}

func TestApply_ReleasesWhenConsumerStops(t *testing.T) {
	for _, size := range []int{1, 2} {
		spy := &aligntest.Spy{}
		tr := mustNew(t, spy, WithBatchSize(size))

		in := []*record.Record{
			pair([]string{"a"}, []string{"a"}),
			pair([]string{"b"}, []string{"b"}),
			pair([]string{"c"}, []string{"c"}),
		}
		for _, err := range tr.Apply(context.Background(), record.FromSlice(in)) {
			if err != nil {
				t.Fatal(err)
			}
			break
		}
		if spy.Active || spy.Releases != 1 {
			t.Errorf("batch size %d: aligner not released after early stop (releases=%d)", size, spy.Releases)
		}
	}
}

func TestApply_ContextCancelled(t *testing.T) {
	spy := &aligntest.Spy{}
	tr := mustNew(t, spy)

	ctx, cancel := context.WithCancel(context.Background())
	in := []*record.Record{
		pair([]string{"a"}, []string{"a"}),
		pair([]string{"b"}, []string{"b"}),
	}

	var n int
	var gotErr error
	for _, err := range tr.Apply(ctx, record.FromSlice(in)) {
		if err != nil {
			gotErr = err
			break
		}
		n++
		cancel()
	}
	if !errors.Is(gotErr, context.Canceled) {
		t.Fatalf("error = %v; want context.Canceled", gotErr)
	}
	if n != 1 {
		t.Errorf("records before cancellation = %d; want 1", n)
	}
	if spy.Releases != 1 {
		t.Errorf("releases = %d; want 1", spy.Releases)
	}
}

func TestApply_MalformedRecordFails(t *testing.T) {
	for _, size := range []int{1, 4} {
		spy := &aligntest.Spy{}
		tr := mustNew(t, spy, WithBatchSize(size))

		in := []*record.Record{
			pair([]string{"a"}, []string{"a"}),
			record.FromPairs("src", []string{"b"}),
		}
		_, err := record.Collect(tr.Apply(context.Background(), record.FromSlice(in)))
		if !errors.Is(err, record.ErrMissingField) {
			t.Errorf("batch size %d: error = %v; want ErrMissingField", size, err)
		}
		if spy.Releases != 1 {
			t.Errorf("batch size %d: releases = %d; want 1", size, spy.Releases)
		}
	}
}

func TestApply_WrongCardinality(t *testing.T) {
	tests := []struct {
		name string
		spy  *aligntest.BatchSpy
	}{
		{"too few", &aligntest.BatchSpy{Drop: 1}},
		{"too many", &aligntest.BatchSpy{Extra: []align.Alignment{{}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := mustNew(t, tt.spy, WithBatchSize(2))
			in := []*record.Record{
				pair([]string{"a"}, []string{"a"}),
				pair([]string{"b"}, []string{"b"}),
			}
			got, err := record.Collect(tr.Apply(context.Background(), record.FromSlice(in)))
			var be *align.BackendError
			if !errors.As(err, &be) {
				t.Fatalf("error = %v; want *BackendError", err)
			}
			if len(got) != 0 {
				t.Errorf("emitted %d records; want 0", len(got))
			}
		})
	}
}

func TestApply_OutOfRangePairIsBackendError(t *testing.T) {
	spy := &aligntest.Spy{AlignFunc: func(_, _ []string) align.Alignment {
		return align.Alignment{{Source: 0, Target: 5}}
	}}
	tr := mustNew(t, spy)

	_, err := record.Collect(tr.Apply(context.Background(), record.FromSlice([]*record.Record{
		pair([]string{"a"}, []string{"b"}),
	})))
	var be *align.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error = %v; want *BackendError", err)
	}
}

func TestApply_InputErrorPropagates(t *testing.T) {
	boom := errors.New("upstream failed")
	in := func(yield func(*record.Record, error) bool) {
		if !yield(pair([]string{"a"}, []string{"a"}), nil) {
			return
		}
		yield(nil, boom)
	}

	for _, size := range []int{1, 3} {
		spy := &aligntest.Spy{}
		got, err := record.Collect(mustNew(t, spy, WithBatchSize(size)).Apply(context.Background(), in))
		if !errors.Is(err, boom) {
			t.Errorf("batch size %d: error = %v; want upstream error", size, err)
		}
		if len(got) != 1 {
			t.Errorf("batch size %d: records = %d; want 1", size, len(got))
		}
	}
}

func TestApply_CustomOutputField(t *testing.T) {
	tr := mustNew(t, align.NewExactMatch(), WithOutputField("links"))
	got, err := record.Collect(tr.Apply(context.Background(), record.FromSlice([]*record.Record{
		pair([]string{"a"}, []string{"a"}),
	})))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := got[0].Get("links"); !ok {
		t.Error("alignment not written to custom field")
	}
	if _, ok := got[0].Get(DefaultOutputField); ok {
		t.Error("default field written despite override")
	}
}

func TestApply_OverwritesExistingAlignment(t *testing.T) {
	rec := pair([]string{"a"}, []string{"a"})
	rec.Set(DefaultOutputField, "stale")

	got, err := record.Collect(mustNew(t, align.NewExactMatch()).Apply(context.Background(), record.FromSlice([]*record.Record{rec})))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if a := alignments(t, got)[0]; !slices.Equal(a, align.Alignment{{0, 0}}) {
		t.Errorf("alignment = %v", a)
	}
	if got[0].Len() != 4 {
		t.Errorf("Len = %d; want 4", got[0].Len())
	}
}

func TestMergeSkipped(t *testing.T) {
	a := align.Alignment{{0, 0}}
	b := align.Alignment{{1, 1}}
	tests := []struct {
		name     string
		eligible []align.Alignment
		skipped  []int
		want     []align.Alignment
	}{
		{"middle", []align.Alignment{a, b}, []int{1}, []align.Alignment{a, {}, b}},
		{"leading and trailing", []align.Alignment{a}, []int{0, 2}, []align.Alignment{{}, a, {}}},
		{"consecutive", []align.Alignment{a, b}, []int{0, 1}, []align.Alignment{{}, {}, a, b}},
		{"all skipped", nil, []int{0, 1}, []align.Alignment{{}, {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeSkipped(tt.eligible, tt.skipped, len(tt.eligible)+len(tt.skipped))
			if !equalAlignments(got, tt.want) {
				t.Errorf("mergeSkipped = %v; want %v", got, tt.want)
			}
			for i, g := range got {
				if g == nil {
					t.Errorf("position %d is nil; want empty alignment", i)
				}
			}
		})
	}
}
