package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/introspect-labs/introspect/internal/metrics"
	"github.com/introspect-labs/introspect/internal/resilience"
	"github.com/introspect-labs/introspect/internal/stream"
	"github.com/introspect-labs/introspect/pkg/types"
)

// RelayConfig controls the polling loop and the per-event retry budget.
type RelayConfig struct {
	PollInterval time.Duration // default 1s
	BatchSize    int           // default 100
	MaxAttempts  int           // default 8
	BaseBackoff  time.Duration // default 2s
	MaxBackoff   time.Duration // default 5m
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	return c
}

// Relay polls the outbox store and publishes pending events to the
// stream. Publish failures back off per event; an event that exhausts the
// attempt budget is marked failed and alerted, never silently dropped.
type Relay struct {
	store   Store
	stream  stream.Stream
	cfg     RelayConfig
	alertFn func(context.Context, types.Alert)
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewRelay creates a relay. alertFn may be nil.
func NewRelay(store Store, str stream.Stream, cfg RelayConfig, alertFn func(context.Context, types.Alert), logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		store:   store,
		stream:  str,
		cfg:     cfg.withDefaults(),
		alertFn: alertFn,
		logger:  logger,
		tracer:  otel.Tracer("introspect/outbox"),
	}
}

// Run polls until ctx is cancelled. A store error does not stop the loop;
// the next tick tries again.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if n, err := r.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("relay cycle failed", "error", err)
		} else if n > 0 {
			r.logger.Debug("relay cycle", "processed", n)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle claims one batch of due pending events and publishes them.
func (r *Relay) Cycle(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "outbox.relay.cycle")
	defer span.End()

	now := time.Now()
	n, err := r.store.ProcessPending(ctx, r.cfg.BatchSize, now, func(ev Event) Outcome {
		return r.publish(ctx, ev)
	})
	span.SetAttributes(attribute.Int("outbox.batch.processed", n))
	return n, err
}

func (r *Relay) publish(ctx context.Context, ev Event) Outcome {
	now := time.Now()

	err := r.stream.Publish(ctx, ev.Envelope(now))
	if err == nil {
		metrics.RelayPublished.Add(1)
		return Outcome{Disposition: DispositionPublished, PublishedAt: now}
	}

	metrics.RelayPublishFailures.Add(1)
	attempts := ev.Attempts + 1

	if attempts >= r.cfg.MaxAttempts {
		metrics.OutboxFailed.Add(1)
		r.logger.Error("outbox event failed permanently",
			"id", ev.ID, "event", string(ev.EventType), "aggregate", ev.AggregateKey,
			"attempts", attempts, "error", err)
		if r.alertFn != nil {
			r.alertFn(ctx, types.Alert{
				Level:        types.AlertLevelError,
				Category:     "outbox_failed",
				AggregateKey: ev.AggregateKey,
				Message:      fmt.Sprintf("outbox event %d (%s) failed after %d attempts: %v", ev.ID, ev.EventType, attempts, err),
				Details: map[string]interface{}{
					"eventId":   ev.ID,
					"eventType": string(ev.EventType),
					"traceId":   ev.TraceID,
				},
				Timestamp: now,
			})
		}
		return Outcome{Disposition: DispositionFailed, Attempts: attempts, Reason: err.Error()}
	}

	metrics.RelayRetriesDeferred.Add(1)
	backoff := resilience.Backoff(resilience.RetryPolicy{
		BaseDelay:   r.cfg.BaseBackoff,
		MaxDelay:    r.cfg.MaxBackoff,
		MaxAttempts: r.cfg.MaxAttempts,
	}, attempts)

	r.logger.Warn("publish failed, will retry",
		"id", ev.ID, "event", string(ev.EventType), "attempt", attempts,
		"next_in", backoff, "error", err)

	return Outcome{
		Disposition:   DispositionRetry,
		Attempts:      attempts,
		NextAttemptAt: now.Add(backoff),
	}
}
