package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/introspect-labs/introspect/internal/metrics"
)

// Tier is one interchangeable dependency in a fallback chain. The caller
// builds tiers in preference order; the chain itself carries no
// tier-selection logic.
type Tier[T any] struct {
	Label  string
	Invoke func(ctx context.Context) (T, error)
}

type chainTier[T any] struct {
	label   string
	breaker *Breaker
	invoke  func(ctx context.Context) (T, error)
}

// Chain routes a call through an ordered list of tiers. Every tier's
// attempt is individually wrapped in its own circuit breaker and the
// shared retry policy; the first success wins.
type Chain[T any] struct {
	tiers       []chainTier[T]
	retry       RetryPolicy
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewChain builds a chain over the given tiers. Breakers come from the
// registry keyed by tier label, so chains for different operations share
// failure state per dependency. callTimeout bounds each individual
// attempt independently of the breaker's own timers; zero disables it.
func NewChain[T any](reg *Registry, retry RetryPolicy, callTimeout time.Duration, logger *slog.Logger, tiers ...Tier[T]) *Chain[T] {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain[T]{
		retry:       retry,
		callTimeout: callTimeout,
		logger:      logger,
	}
	for _, t := range tiers {
		c.tiers = append(c.tiers, chainTier[T]{
			label:   t.Label,
			breaker: reg.Get(t.Label),
			invoke:  t.Invoke,
		})
	}
	return c
}

// Route tries each tier in order and returns the first successful result.
// When every tier fails it returns a zero value and an ExhaustedError
// carrying the per-tier reasons.
func (c *Chain[T]) Route(ctx context.Context) (T, error) {
	var zero T
	failures := make([]TierFailure, 0, len(c.tiers))

	for _, tier := range c.tiers {
		var result T
		err := Retry(ctx, c.retry, func(ctx context.Context) error {
			return tier.breaker.Do(ctx, func(ctx context.Context) error {
				if c.callTimeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
					defer cancel()
				}
				r, err := tier.invoke(ctx)
				if err != nil {
					return err
				}
				result = r
				return nil
			})
		})
		if err == nil {
			return result, nil
		}

		c.logger.Warn("tier failed", "tier", tier.label, "error", err)
		failures = append(failures, TierFailure{Tier: tier.label, Err: err})

		// The caller is gone; trying further tiers would only burn budget.
		if ctx.Err() != nil {
			break
		}
	}

	metrics.ChainExhausted.Add(1)
	return zero, &ExhaustedError{Failures: failures}
}
