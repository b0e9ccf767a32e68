package config

import (
	"fmt"
	"strings"
)

const (
	BackendExact    = "exact"
	BackendSimAlign = "simalign"
	BackendAwesome  = "awesome"
)

// Backends lists the canonical backend names.
var Backends = []string{BackendExact, BackendSimAlign, BackendAwesome}

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendExact
	}
	switch backend {
	case BackendExact, BackendSimAlign, BackendAwesome:
		return backend, nil
	case "strict":
		return BackendExact, nil
	case "embedding", "similarity":
		return BackendSimAlign, nil
	case "attention":
		return BackendAwesome, nil
	default:
		return "", fmt.Errorf(
			"invalid backend %q (expected %s|%s|%s)",
			raw,
			BackendExact,
			BackendSimAlign,
			BackendAwesome,
		)
	}
}
