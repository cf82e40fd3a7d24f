package threat

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when an artifact id does not exist.
var ErrNotFound = errors.New("artifact not found")

// ErrSandboxConflict is returned when a sandbox probe is requested for an
// artifact whose sandbox_executed flag is already set.
var ErrSandboxConflict = errors.New("artifact has already been executed in sandbox")

// ValidationError describes malformed artifact input. It is surfaced to the
// caller before any state is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ExternalServiceError wraps a failure from an external collaborator (the
// completion model, the classifier service). It is recorded as an *_error
// timeline event and a terminal "error" status, recoverable via reanalyze.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// RateLimitError is surfaced directly to the caller without mutating any
// artifact state.
type RateLimitError struct {
	Key       string
	Remaining int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Key)
}
