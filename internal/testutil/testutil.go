// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    lib := testutil.RequireONNXRuntime(t)
//	    model := testutil.RequireModelFile(t, "encoder.onnx")
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located and returns the library path otherwise. It checks (in order): the
// ORT_LIBRARY_PATH env var, then the WORDALIGN_ORT_LIB env var, then common
// system library paths.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "WORDALIGN_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- Integration tests intentionally accept explicit env-provided local library paths.
			_, err := os.Stat(p)
			if err == nil {
				return p
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)

			return ""
		}
	}
	// Fall back to common system locations.
	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		_, err := os.Stat(p)
		if err == nil {
			return p
		}
	}

	tb.Skipf("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or WORDALIGN_ORT_LIB")

	return ""
}

// RequireModelFile looks for models/<name> in the working directory and its
// parents and skips the test when it is absent.
func RequireModelFile(tb testing.TB, name string) string {
	tb.Helper()

	dir, err := filepath.Abs(".")
	if err != nil {
		tb.Skipf("resolve working directory: %v", err)
		return ""
	}

	for {
		candidate := filepath.Join(dir, "models", name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	tb.Skipf("models/%s not found; skipping", name)

	return ""
}
