package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/introspect-labs/introspect/internal/metrics"
	"github.com/introspect-labs/introspect/pkg/types"
)

// BreakerConfig holds per-dependency circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold  int           // consecutive failures before opening (default 5)
	OpenTimeout       time.Duration // how long to stay open before half-open (default 60s)
	HalfOpenMaxTrials int           // trial calls allowed in half-open (default 3)
}

// DefaultBreakerConfig returns the default config.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		OpenTimeout:       60 * time.Second,
		HalfOpenMaxTrials: 3,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxTrials <= 0 {
		c.HalfOpenMaxTrials = 3
	}
	return c
}

// Breaker wraps a single dependency's circuit. In OPEN state calls fail
// fast with a CircuitOpenError without invoking the function; after the
// open timeout a bounded number of half-open trials is allowed, any
// failure among them reopens, a full success streak closes.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker for the named dependency. onChange, if
// non-nil, observes state transitions (for alerting); it must not block.
func NewBreaker(name string, cfg BreakerConfig, logger *slog.Logger, onChange func(name, from, to string)) *Breaker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.HalfOpenMaxTrials),
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		// Permanent errors (validation, auth) do not trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || Classify(err) == types.FailurePermanent
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit state change", "dependency", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				metrics.BreakerOpens.Add(1)
			}
			if onChange != nil {
				onChange(name, from.String(), to.String())
			}
		},
	}

	return &Breaker{name: name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// State returns the current circuit state as a string ("closed",
// "half-open" or "open").
func (b *Breaker) State() string { return b.cb.State().String() }

// Do invokes fn through the circuit. A rejection (open circuit, or trial
// budget exceeded in half-open) is returned as a CircuitOpenError; the
// wrapped function's own error is propagated unchanged.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &CircuitOpenError{Dependency: b.name}
	}
	return err
}

// Registry hands out one breaker per dependency name, all sharing the
// same config and transition observer. Breaker state is per-process; each
// process degrades independently.
type Registry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	logger   *slog.Logger
	onChange func(name, from, to string)
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry.
func NewRegistry(cfg BreakerConfig, logger *slog.Logger, onChange func(name, from, to string)) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		onChange: onChange,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the named dependency, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.cfg, r.logger, r.onChange)
		r.breakers[name] = b
	}
	return b
}

// States reports the current state of every known circuit.
func (r *Registry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
