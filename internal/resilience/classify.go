package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/introspect-labs/introspect/pkg/types"
)

// Classify maps an error to a failure category. Unknown errors are treated
// as transient (the 5xx-equivalent default) so they stay retryable.
func Classify(err error) types.FailureCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrCircuitOpen) {
		return types.FailureCircuitOpen
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		return types.FailurePermanent
	}

	// A cancelled caller should not be retried against.
	if errors.Is(err, context.Canceled) {
		return types.FailurePermanent
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.FailureTimeout
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return types.FailureTransient
	}

	return types.FailureTransient
}

// IsRetryable returns whether a failure category should be retried.
// Circuit-open failures are retryable but still consume the retry budget,
// so a sequence of retries winds down quickly once a breaker has opened.
func IsRetryable(category types.FailureCategory) bool {
	return category != types.FailurePermanent
}
