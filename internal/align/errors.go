package align

import (
	"errors"
	"fmt"
)

// ErrBatchMismatch is returned when source and target batches differ in length.
var ErrBatchMismatch = errors.New("source and target batch sizes differ")

// BackendError reports that a backend could not compute an alignment for
// valid input. It is never recovered locally.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("aligner backend: %v", e.Err)
	}
	return fmt.Sprintf("aligner backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NewBackendError wraps err as a BackendError for the named backend. Errors
// that already are BackendErrors are returned unchanged.
func NewBackendError(backend string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Backend: backend, Err: err}
}

// ConfigurationError reports malformed construction parameters. It is raised
// eagerly, before any record is processed.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
