// Package bench measures alignment throughput for the wordalign bench command.
package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/example/go-wordalign/internal/align"
	"github.com/example/go-wordalign/internal/record"
	"github.com/example/go-wordalign/internal/transform"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing of a single pass over the corpus.
type RunResult struct {
	BatchSize    int
	Index        int
	Cold         bool // true for the first run of the whole benchmark
	Duration     time.Duration
	Records      int
	BackendCalls int
	Throughput   float64 // records per second
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
// An empty slice yields zero stats.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	mn, mx := durations[0], durations[0]
	var sum time.Duration
	for _, d := range durations {
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
		sum += d
	}
	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// Summary aggregates the runs that used one batch size.
type Summary struct {
	BatchSize  int
	Runs       int
	Records    int
	Stats      Stats
	Throughput float64 // records per second at the mean duration
}

// Summarize groups runs by batch size, in order of first appearance.
func Summarize(runs []RunResult) []Summary {
	var order []int
	byBatch := make(map[int][]RunResult)
	for _, r := range runs {
		if _, ok := byBatch[r.BatchSize]; !ok {
			order = append(order, r.BatchSize)
		}
		byBatch[r.BatchSize] = append(byBatch[r.BatchSize], r)
	}

	out := make([]Summary, 0, len(order))
	for _, size := range order {
		group := byBatch[size]
		durations := make([]time.Duration, len(group))
		for i, r := range group {
			durations[i] = r.Duration
		}
		stats := ComputeStats(durations)
		out = append(out, Summary{
			BatchSize:  size,
			Runs:       len(group),
			Records:    group[0].Records,
			Stats:      stats,
			Throughput: Throughput(group[0].Records, stats.Mean),
		})
	}
	return out
}

// Throughput returns records per second. Returns 0 if d is not positive.
func Throughput(records int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(records) / d.Seconds()
}

// ParseBatchSizes parses a comma-separated list such as "1,8,32".
func ParseBatchSizes(s string) ([]int, error) {
	var sizes []int
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid batch size %q (want a positive integer)", part)
		}
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 {
		return nil, errors.New("no batch sizes given")
	}
	return sizes, nil
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// Config describes one benchmark.
type Config struct {
	Backend     string
	SourceField string
	TargetField string
	OutputField string
	BatchSizes  []int
	Runs        int
	Logger      *slog.Logger
}

// Run aligns corpus Runs times for every batch size. The aligner is acquired
// once for the whole benchmark, so only the first run pays model loading
// inside the backend. corpus is re-parsed on every run because alignment
// writes the output field into the records.
func Run(ctx context.Context, aligner align.Aligner, corpus []byte, cfg Config) ([]RunResult, error) {
	if cfg.Runs < 1 {
		return nil, fmt.Errorf("runs must be >= 1, got %d", cfg.Runs)
	}
	if len(cfg.BatchSizes) == 0 {
		return nil, errors.New("no batch sizes given")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := aligner.Acquire(ctx); err != nil {
		return nil, align.NewBackendError(cfg.Backend, fmt.Errorf("acquire: %w", err))
	}
	defer aligner.Release()
	shared := align.Retain(aligner)

	var results []RunResult
	for _, size := range cfg.BatchSizes {
		tr, err := transform.New(shared, cfg.SourceField, cfg.TargetField,
			transform.WithBatchSize(size),
			transform.WithOutputField(cfg.OutputField),
			transform.WithBackendName(cfg.Backend),
			transform.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}

		for i := range cfg.Runs {
			var runErr error
			var res RunResult
			labels := pprof.Labels("batch_size", strconv.Itoa(size))
			pprof.Do(ctx, labels, func(ctx context.Context) {
				res, runErr = runOnce(ctx, tr, corpus)
			})
			if runErr != nil {
				return results, fmt.Errorf("batch size %d run %d: %w", size, i+1, runErr)
			}

			res.BatchSize = size
			res.Index = i
			res.Cold = len(results) == 0
			results = append(results, res)

			logger.Debug("bench run",
				slog.Int("batch_size", size),
				slog.Int("run", i+1),
				slog.Int64("duration_ms", res.Duration.Milliseconds()),
				slog.Float64("records_per_sec", res.Throughput),
			)
		}
	}
	return results, nil
}

func runOnce(ctx context.Context, tr *transform.Transform, corpus []byte) (RunResult, error) {
	start := time.Now()
	n, err := record.WriteJSONL(io.Discard, tr.Apply(ctx, record.ReadJSONL(bytes.NewReader(corpus))))
	elapsed := time.Since(start)
	if err != nil {
		return RunResult{}, err
	}

	stats := tr.Stats()
	return RunResult{
		Duration:     elapsed,
		Records:      n,
		BackendCalls: stats.BackendCalls,
		Throughput:   Throughput(n, elapsed),
	}, nil
}

// ---------------------------------------------------------------------------
// Throughput gate
// ---------------------------------------------------------------------------

// CheckMinThroughput returns an error if any summary falls below min records
// per second. A minRate of 0 disables the gate.
func CheckMinThroughput(summaries []Summary, minRate float64) error {
	if minRate <= 0 {
		return nil
	}
	for _, s := range summaries {
		if s.Throughput < minRate {
			return fmt.Errorf("batch size %d: %.1f records/s below minimum %.1f", s.BatchSize, s.Throughput, minRate)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, summaries []Summary, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %-5s  %10s  %8s  %10s\n", "Batch", "Run", "Cold", "MS", "Records", "Rec/s")
	fmt.Fprintln(sb, strings.Repeat("-", 52))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5d  %-5s  %10.1f  %8d  %10.1f\n",
			r.BatchSize,
			r.Index+1,
			cold,
			float64(r.Duration.Microseconds())/1000,
			r.Records,
			r.Throughput,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 52))
	for _, s := range summaries {
		fmt.Fprintf(sb, "batch %d: min %.1fms  mean %.1fms  max %.1fms  %.1f rec/s\n",
			s.BatchSize,
			float64(s.Stats.Min.Microseconds())/1000,
			float64(s.Stats.Mean.Microseconds())/1000,
			float64(s.Stats.Max.Microseconds())/1000,
			s.Throughput,
		)
	}

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs      []jsonRun     `json:"runs"`
	Summaries []jsonSummary `json:"summaries"`
}

type jsonRun struct {
	BatchSize     int     `json:"batch_size"`
	Index         int     `json:"index"`
	Cold          bool    `json:"cold"`
	DurationMS    float64 `json:"duration_ms"`
	Records       int     `json:"records"`
	BackendCalls  int     `json:"backend_calls"`
	RecordsPerSec float64 `json:"records_per_sec"`
}

type jsonSummary struct {
	BatchSize     int     `json:"batch_size"`
	Runs          int     `json:"runs"`
	MinMS         float64 `json:"min_ms"`
	MeanMS        float64 `json:"mean_ms"`
	MaxMS         float64 `json:"max_ms"`
	RecordsPerSec float64 `json:"records_per_sec"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, summaries []Summary, w io.Writer) {
	jr := jsonReport{
		Runs:      make([]jsonRun, len(runs)),
		Summaries: make([]jsonSummary, len(summaries)),
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			BatchSize:     r.BatchSize,
			Index:         r.Index,
			Cold:          r.Cold,
			DurationMS:    float64(r.Duration.Microseconds()) / 1000,
			Records:       r.Records,
			BackendCalls:  r.BackendCalls,
			RecordsPerSec: r.Throughput,
		}
	}
	for i, s := range summaries {
		jr.Summaries[i] = jsonSummary{
			BatchSize:     s.BatchSize,
			Runs:          s.Runs,
			MinMS:         float64(s.Stats.Min.Microseconds()) / 1000,
			MeanMS:        float64(s.Stats.Mean.Microseconds()) / 1000,
			MaxMS:         float64(s.Stats.Max.Microseconds()) / 1000,
			RecordsPerSec: s.Throughput,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
