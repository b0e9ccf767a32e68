package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/example/go-wordalign/internal/config"
)

// DefaultAPIVersion is the ORT C API version requested when none is configured.
const DefaultAPIVersion uint32 = 23

type RuntimeInfo struct {
	LibraryPath string
	Version     string
}

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

var (
	bootstrapOnce sync.Once
	bootstrapInfo RuntimeInfo
	bootstrapErr  error
)

// Bootstrap resolves the ONNX Runtime library once per process. Later calls
// return the first result regardless of cfg, including a detection failure.
// Sessions own their ORT handles and are closed by their runners.
func Bootstrap(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	bootstrapOnce.Do(func() {
		bootstrapInfo, bootstrapErr = DetectRuntime(cfg)
	})

	if bootstrapErr != nil {
		return RuntimeInfo{}, bootstrapErr
	}

	return bootstrapInfo, nil
}

func DetectRuntime(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	path := cfg.ORTLibraryPath
	if path == "" {
		path = os.Getenv("WORDALIGN_ORT_LIB")
	}

	if path == "" {
		path = os.Getenv("ORT_LIBRARY_PATH")
	}

	if path == "" {
		candidates := []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"C:/onnxruntime/lib/onnxruntime.dll",
		}
		for _, c := range candidates {
			_, err := os.Stat(c)
			if err == nil {
				path = c
				break
			}
		}
	}

	if path == "" {
		return RuntimeInfo{LibraryPath: "not found", Version: "unknown"}, errors.New("unable to detect ONNX Runtime library path")
	}

	_, err := os.Stat(path)
	if err != nil {
		return RuntimeInfo{LibraryPath: path, Version: "unknown"}, fmt.Errorf("onnx runtime library path check failed: %w", err)
	}

	version := cfg.ORTVersion
	if version == "" {
		version = os.Getenv("ORT_VERSION")
	}

	if version == "" {
		version = inferVersionFromPath(path)
	}

	if version == "" {
		version = "unknown"
	}

	return RuntimeInfo{LibraryPath: path, Version: version}, nil
}

// APIVersion derives the ORT C API level from a "1.N.x" runtime version,
// falling back to DefaultAPIVersion.
func APIVersion(version string) uint32 {
	m := versionPattern.FindStringSubmatch(version)
	if len(m) != 2 {
		return DefaultAPIVersion
	}

	var major, minor int
	if _, err := fmt.Sscanf(m[1], "%d.%d", &major, &minor); err != nil || major != 1 || minor < 1 {
		return DefaultAPIVersion
	}

	return uint32(minor)
}

func inferVersionFromPath(path string) string {
	name := filepath.Base(path)
	if m := versionPattern.FindStringSubmatch(name); len(m) == 2 {
		return m[1]
	}

	return ""
}
