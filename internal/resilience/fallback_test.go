package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestChain_FirstTierWins(t *testing.T) {
	reg := NewRegistry(DefaultBreakerConfig(), nil, nil)

	var secondCalled bool
	chain := NewChain(reg, fastRetry(), 0, nil,
		Tier[string]{Label: "primary", Invoke: func(ctx context.Context) (string, error) {
			return "from-primary", nil
		}},
		Tier[string]{Label: "secondary", Invoke: func(ctx context.Context) (string, error) {
			secondCalled = true
			return "from-secondary", nil
		}},
	)

	result, err := chain.Route(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-primary", result)
	assert.False(t, secondCalled)
}

func TestChain_FallsThroughInOrder(t *testing.T) {
	reg := NewRegistry(DefaultBreakerConfig(), nil, nil)

	var order []string
	chain := NewChain(reg, fastRetry(), 0, nil,
		Tier[string]{Label: "primary", Invoke: func(ctx context.Context) (string, error) {
			order = append(order, "primary")
			return "", errors.New("primary down")
		}},
		Tier[string]{Label: "secondary", Invoke: func(ctx context.Context) (string, error) {
			order = append(order, "secondary")
			return "", errors.New("secondary down")
		}},
		Tier[string]{Label: "local", Invoke: func(ctx context.Context) (string, error) {
			order = append(order, "local")
			return "from-local", nil
		}},
	)

	result, err := chain.Route(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-local", result)
	assert.Equal(t, []string{"primary", "secondary", "local"}, order)
}

func TestChain_ExhaustedCarriesPerTierReasons(t *testing.T) {
	reg := NewRegistry(DefaultBreakerConfig(), nil, nil)

	chain := NewChain(reg, fastRetry(), 0, nil,
		Tier[string]{Label: "primary", Invoke: func(ctx context.Context) (string, error) {
			return "", errors.New("primary down")
		}},
		Tier[string]{Label: "secondary", Invoke: func(ctx context.Context) (string, error) {
			return "", errors.New("secondary down")
		}},
	)

	_, err := chain.Route(context.Background())
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Failures, 2)
	assert.Equal(t, "primary", exhausted.Failures[0].Tier)
	assert.Equal(t, "secondary", exhausted.Failures[1].Tier)
	assert.Contains(t, err.Error(), "all 2 tiers failed")
}

func TestChain_OpenBreakerSkipsStraightToNextTier(t *testing.T) {
	reg := NewRegistry(BreakerConfig{
		FailureThreshold:  1,
		OpenTimeout:       time.Minute,
		HalfOpenMaxTrials: 1,
	}, nil, nil)

	// Trip the primary's breaker out of band; chains share breaker state
	// through the registry.
	require.Error(t, reg.Get("primary").Do(context.Background(), failingCall))

	primaryCalls := 0
	chain := NewChain(reg, fastRetry(), 0, nil,
		Tier[string]{Label: "primary", Invoke: func(ctx context.Context) (string, error) {
			primaryCalls++
			return "from-primary", nil
		}},
		Tier[string]{Label: "secondary", Invoke: func(ctx context.Context) (string, error) {
			return "from-secondary", nil
		}},
	)

	result, err := chain.Route(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-secondary", result)
	assert.Zero(t, primaryCalls)
}

func TestChain_CallTimeoutBoundsEachAttempt(t *testing.T) {
	reg := NewRegistry(DefaultBreakerConfig(), nil, nil)

	chain := NewChain(reg, fastRetry(), 10*time.Millisecond, nil,
		Tier[string]{Label: "slow", Invoke: func(ctx context.Context) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
				return "too late", nil
			}
		}},
		Tier[string]{Label: "fast", Invoke: func(ctx context.Context) (string, error) {
			return "from-fast", nil
		}},
	)

	start := time.Now()
	result, err := chain.Route(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-fast", result)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestChain_StopsWhenCallerGone(t *testing.T) {
	reg := NewRegistry(DefaultBreakerConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var secondCalled bool
	chain := NewChain(reg, fastRetry(), 0, nil,
		Tier[string]{Label: "primary", Invoke: func(ctx context.Context) (string, error) {
			cancel()
			return "", errors.New("primary down")
		}},
		Tier[string]{Label: "secondary", Invoke: func(ctx context.Context) (string, error) {
			secondCalled = true
			return "from-secondary", nil
		}},
	)

	_, err := chain.Route(ctx)
	require.Error(t, err)
	assert.False(t, secondCalled)
}
