// Package doctor provides preflight checks for the wordalign backends.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// MinRuntimeMinor is the oldest ONNX Runtime 1.x release the encoder runner
// is known to load.
const MinRuntimeMinor = 17

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// File is an asset the selected backend reads at Acquire time.
type File struct {
	Label string
	Path  string
}

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// Backend is the canonical backend name being checked.
	Backend string
	// Files lists the assets that must exist on disk.
	Files []File
	// RuntimeVersion returns the detected ONNX Runtime version. Nil skips
	// the runtime check, which only the awesome backend needs.
	RuntimeVersion VersionFunc
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	fmt.Fprintf(w, "%s backend: %s\n", PassMark, cfg.Backend)

	// ---- backend assets ---------------------------------------------------
	for _, f := range cfg.Files {
		switch info, err := os.Stat(f.Path); {
		case f.Path == "":
			res.fail(fmt.Sprintf("%s: path not configured", f.Label))
			fmt.Fprintf(w, "%s %s: not configured\n", FailMark, f.Label)
		case err != nil:
			res.fail(fmt.Sprintf("%s %q: %v", f.Label, f.Path, err))
			fmt.Fprintf(w, "%s %s %s: not found\n", FailMark, f.Label, f.Path)
		case info.IsDir():
			res.fail(fmt.Sprintf("%s %q: is a directory", f.Label, f.Path))
			fmt.Fprintf(w, "%s %s %s: is a directory\n", FailMark, f.Label, f.Path)
		default:
			fmt.Fprintf(w, "%s %s: %s\n", PassMark, f.Label, f.Path)
		}
	}

	// ---- ONNX Runtime -----------------------------------------------------
	if cfg.RuntimeVersion == nil {
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
		return res
	}

	ver, err := cfg.RuntimeVersion()
	switch {
	case err != nil:
		res.fail(fmt.Sprintf("onnx runtime: %v", err))
		fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
	case ver == "" || ver == "unknown":
		fmt.Fprintf(w, "%s onnx runtime: version unknown\n", PassMark)
	default:
		if verErr := checkRuntimeVersion(ver); verErr != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", verErr))
			fmt.Fprintf(w, "%s onnx runtime %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s onnx runtime: %s\n", PassMark, ver)
		}
	}

	return res
}

// checkRuntimeVersion returns an error if ver is not a 1.x release at or
// above MinRuntimeMinor. ver is expected to be a string like "1.23.0".
func checkRuntimeVersion(ver string) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}
	if minor < MinRuntimeMinor {
		return fmt.Errorf("requires ONNX Runtime >=1.%d, got 1.%d", MinRuntimeMinor, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
