// Package resilience guards calls to unreliable dependencies with circuit
// breaking, classified retries, and ordered fallback chains.
package resilience

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCircuitOpen is the sentinel matched by errors.Is when a call was
// rejected because a dependency's circuit is open.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitOpenError reports a fail-fast rejection for a named dependency.
type CircuitOpenError struct {
	Dependency string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("dependency %s: circuit open", e.Dependency)
}

// Is lets errors.Is(err, ErrCircuitOpen) match.
func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// PermanentError marks an error that must never be retried (validation,
// auth, malformed input). Wrap with Permanent.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the retry policy surfaces it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TierFailure records why one tier of a fallback chain failed.
type TierFailure struct {
	Tier string
	Err  error
}

// ExhaustedError is returned when every tier of a fallback chain failed.
// It carries the per-tier failure reasons in chain order.
type ExhaustedError struct {
	Failures []TierFailure
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Tier, f.Err))
	}
	return fmt.Sprintf("all %d tiers failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the underlying tier errors to errors.Is/As.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
