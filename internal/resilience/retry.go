package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds retries of a guarded call.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first (default 3)
	BaseDelay   time.Duration // backoff for the first retry (default 200ms)
	MaxDelay    time.Duration // backoff cap (default 5s)
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	return p
}

// Backoff returns the wait before attempt n+1 (n counted from 1):
// base * 2^(n-1), capped at the policy maximum.
func Backoff(policy RetryPolicy, attempt int) time.Duration {
	policy = policy.withDefaults()
	d := policy.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= policy.MaxDelay {
			return policy.MaxDelay
		}
	}
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	return d
}

// jitter spreads the delay by up to +50% so synchronized callers fan out.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + rand.N(d/2+1)
}

// Retry invokes fn up to MaxAttempts times, sleeping an exponentially
// growing, jittered delay between attempts. Only retryable failures are
// retried; permanent errors are surfaced immediately. Retry composes
// around a Breaker, never inside it: a fail-fast circuit rejection counts
// as one attempt so retries wind down once a breaker has opened.
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	policy = policy.withDefaults()

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(Classify(err)) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(Backoff(policy, attempt))):
		}
	}
}
