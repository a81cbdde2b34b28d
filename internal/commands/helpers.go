// Package commands implements the CLI subcommands for the introspect binary.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/introspect-labs/introspect/internal/analysis"
	"github.com/introspect-labs/introspect/internal/outbox"
	"github.com/introspect-labs/introspect/internal/profile"
	"github.com/introspect-labs/introspect/internal/resilience"
	"github.com/introspect-labs/introspect/internal/server/handlers"
	"github.com/introspect-labs/introspect/internal/session"
	"github.com/introspect-labs/introspect/internal/store/memory"
	pgstore "github.com/introspect-labs/introspect/internal/store/postgres"
	"github.com/introspect-labs/introspect/internal/stream"
	"github.com/introspect-labs/introspect/internal/stream/memstream"
	"github.com/introspect-labs/introspect/internal/stream/redisstream"
	"github.com/introspect-labs/introspect/internal/stream/sqsstream"
	"github.com/introspect-labs/introspect/pkg/types"
)

// dataStore is everything the process needs from the configured storage
// driver.
type dataStore interface {
	outbox.Store
	session.Store
	analysis.TaskStore
	profile.Store
	handlers.StatusStore
}

// newStore creates the configured storage driver. The returned close
// function is safe to call once.
func newStore(ctx context.Context, cfg *types.Config) (dataStore, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := pgstore.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to Postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("migrating Postgres: %w", err)
		}
		return pg, pg.Close, nil
	case "memory":
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

// newStream creates the configured event stream backend.
func newStream(ctx context.Context, cfg *types.Config, logger *slog.Logger) (stream.Stream, error) {
	visibility := types.ParseDurationDefault(cfg.Stream.VisibilityTimeout, stream.DefaultVisibilityTimeout)

	switch cfg.Stream.Driver {
	case "redis":
		return redisstream.New(cfg.Stream.Redis, cfg.Stream.Name, visibility, logger), nil
	case "sqs":
		return sqsstream.New(ctx, cfg.Stream.SQS, visibility, logger)
	case "memory":
		return memstream.New(visibility), nil
	default:
		return nil, fmt.Errorf("unsupported stream driver: %s", cfg.Stream.Driver)
	}
}

func breakerConfig(cfg types.GuardConfig) resilience.BreakerConfig {
	def := resilience.DefaultBreakerConfig()
	return resilience.BreakerConfig{
		FailureThreshold:  cfg.FailureThreshold,
		OpenTimeout:       types.ParseDurationDefault(cfg.OpenTimeout, def.OpenTimeout),
		HalfOpenMaxTrials: cfg.HalfOpenMaxTrials,
	}
}

func retryPolicy(cfg types.GuardConfig) resilience.RetryPolicy {
	def := resilience.DefaultRetryPolicy()
	return resilience.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   types.ParseDurationDefault(cfg.RetryBaseDelay, def.BaseDelay),
		MaxDelay:    types.ParseDurationDefault(cfg.RetryMaxDelay, def.MaxDelay),
	}
}

func relayConfig(cfg types.RelayConfig) outbox.RelayConfig {
	return outbox.RelayConfig{
		PollInterval: types.ParseDurationDefault(cfg.PollInterval, 0),
		BatchSize:    cfg.BatchSize,
		MaxAttempts:  cfg.MaxAttempts,
		BaseBackoff:  types.ParseDurationDefault(cfg.BaseBackoff, 0),
		MaxBackoff:   types.ParseDurationDefault(cfg.MaxBackoff, 0),
	}
}
