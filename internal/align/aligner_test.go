package align_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/example/go-wordalign/internal/align"
	"github.com/example/go-wordalign/internal/align/aligntest"
)

func collect(t *testing.T, seq func(func(align.Alignment, error) bool)) ([]align.Alignment, error) {
	t.Helper()
	var out []align.Alignment
	for a, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}

func TestAlignBatched_FallbackMatchesAlign(t *testing.T) {
	spy := &aligntest.Spy{}
	src := [][]string{{"a", "b"}, {"c"}, {"d", "d"}}
	tgt := [][]string{{"b"}, {"x"}, {"d"}}

	got, err := collect(t, align.AlignBatched(context.Background(), spy, src, tgt))
	if err != nil {
		t.Fatalf("AlignBatched: %v", err)
	}

	want := []align.Alignment{{{1, 0}}, {}, {{0, 0}, {1, 0}}}
	if len(got) != len(want) {
		t.Fatalf("got %d results; want %d", len(got), len(want))
	}
	for i := range want {
		if !slices.Equal(got[i], want[i]) {
			t.Errorf("result %d = %v; want %v", i, got[i], want[i])
		}
	}
	if len(spy.Calls) != 3 {
		t.Errorf("Align calls = %d; want 3", len(spy.Calls))
	}
}

func TestAlignBatched_UsesNativePath(t *testing.T) {
	spy := &aligntest.BatchSpy{}
	_, err := collect(t, align.AlignBatched(context.Background(), spy, [][]string{{"a"}}, [][]string{{"a"}}))
	if err != nil {
		t.Fatalf("AlignBatched: %v", err)
	}
	if len(spy.Batches) != 1 {
		t.Errorf("native batches = %d; want 1", len(spy.Batches))
	}
}

func TestAlignBatched_StopsAfterError(t *testing.T) {
	spy := &aligntest.Spy{FailOn: func(src, _ []string) bool { return src[0] == "bad" }}
	src := [][]string{{"a"}, {"bad"}, {"c"}}
	tgt := [][]string{{"a"}, {"b"}, {"c"}}

	got, err := collect(t, align.AlignBatched(context.Background(), spy, src, tgt))

	var be *align.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error = %v; want *BackendError", err)
	}
	if !errors.Is(err, aligntest.ErrInjected) {
		t.Errorf("error %v does not wrap ErrInjected", err)
	}
	if len(got) != 1 {
		t.Errorf("results before error = %d; want 1", len(got))
	}
	if len(spy.Calls) != 2 {
		t.Errorf("Align calls = %d; want 2 (no call after failure)", len(spy.Calls))
	}
}

func TestAlignBatched_LengthMismatch(t *testing.T) {
	spy := &aligntest.Spy{}
	_, err := collect(t, align.AlignBatched(context.Background(), spy, [][]string{{"a"}}, nil))
	if !errors.Is(err, align.ErrBatchMismatch) {
		t.Fatalf("error = %v; want ErrBatchMismatch", err)
	}
	if len(spy.Calls) != 0 {
		t.Errorf("Align calls = %d; want 0", len(spy.Calls))
	}
}

func TestRetain_SkipsLifecycle(t *testing.T) {
	spy := &aligntest.BatchSpy{}
	r := align.Retain(spy)

	if err := r.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := r.Align(context.Background(), []string{"a"}, []string{"a"}); err != nil {
		t.Fatalf("Align: %v", err)
	}
	if _, err := collect(t, align.AlignBatched(context.Background(), r, [][]string{{"a"}}, [][]string{{"a"}})); err != nil {
		t.Fatalf("AlignBatched: %v", err)
	}
	r.Release()

	if spy.Acquires != 0 || spy.Releases != 0 {
		t.Errorf("lifecycle reached inner aligner: acquires=%d releases=%d", spy.Acquires, spy.Releases)
	}
	if len(spy.Batches) != 1 {
		t.Errorf("native batches = %d; want 1", len(spy.Batches))
	}
}

func TestNewBackendError(t *testing.T) {
	if align.NewBackendError("x", nil) != nil {
		t.Error("nil error should stay nil")
	}

	base := errors.New("boom")
	err := align.NewBackendError("simalign", base)
	if !errors.Is(err, base) {
		t.Errorf("%v does not wrap base error", err)
	}
	if err.Error() != "aligner backend simalign: boom" {
		t.Errorf("Error() = %q", err.Error())
	}

	again := align.NewBackendError("other", err)
	if again != err {
		t.Error("existing BackendError was re-wrapped")
	}
}
