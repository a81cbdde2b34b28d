// Package redisstream implements the event stream on Redis Streams.
// Consumer groups map directly onto XGROUP/XREADGROUP/XACK; the
// visibility timeout is enforced with XAUTOCLAIM on idle pending entries.
// The stream is a single total order, so per-aggregate publish order is
// preserved by construction.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/introspect-labs/introspect/internal/stream"
	"github.com/introspect-labs/introspect/pkg/types"
)

const (
	readBlock = 5 * time.Second
	readCount = 10
)

// Stream is a Redis Streams backed event stream.
type Stream struct {
	client     *goredis.Client
	key        string
	maxLen     int64
	visibility time.Duration
	logger     *slog.Logger
}

// New creates a Redis stream backend from config.
func New(cfg *types.RedisStreamConfig, name string, visibility time.Duration, logger *slog.Logger) *Stream {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewFromClient(client, cfg.KeyPrefix, name, cfg.MaxLen, visibility, logger)
}

// NewFromClient creates a backend from an existing client (useful for testing).
func NewFromClient(client *goredis.Client, prefix, name string, maxLen int64, visibility time.Duration, logger *slog.Logger) *Stream {
	if prefix == "" {
		prefix = "introspect:"
	}
	if maxLen <= 0 {
		maxLen = 100000
	}
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		client:     client,
		key:        prefix + "stream:" + name,
		maxLen:     maxLen,
		visibility: visibility,
		logger:     logger,
	}
}

// Ping checks connectivity to the Redis server.
func (s *Stream) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Publish appends the envelope with XADD. The stream is trimmed
// approximately to maxLen.
func (s *Stream) Publish(ctx context.Context, env types.Envelope) error {
	return s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.key,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_type":    string(env.EventType),
			"aggregate_key": env.AggregateKey,
			"trace_id":      env.TraceID,
			"payload":       string(env.Payload),
			"published_at":  env.PublishedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// Consume reads entries for the group until ctx is cancelled. Each cycle
// first reclaims entries another consumer left idle past the visibility
// timeout, then reads new entries. Handler success acknowledges with XACK;
// failure leaves the entry pending for a later reclaim.
func (s *Stream) Consume(ctx context.Context, group, consumer string, h stream.Handler) error {
	if err := s.ensureGroup(ctx, group); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.reclaim(ctx, group, consumer, h)

		results, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{s.key, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, goredis.Nil) {
				s.logger.Error("stream read failed", "group", group, "error", err)
				time.Sleep(time.Second)
			}
			continue
		}

		for _, result := range results {
			for _, msg := range result.Messages {
				s.handle(ctx, group, msg, h)
			}
		}
	}
}

// reclaim steals pending entries idle past the visibility timeout and
// retries them on this consumer.
func (s *Stream) reclaim(ctx context.Context, group, consumer string, h stream.Handler) {
	msgs, _, err := s.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   s.key,
		Group:    group,
		Consumer: consumer,
		MinIdle:  s.visibility,
		Start:    "0-0",
		Count:    readCount,
	}).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		if ctx.Err() == nil {
			s.logger.Error("stream reclaim failed", "group", group, "error", err)
		}
		return
	}
	for _, msg := range msgs {
		s.handle(ctx, group, msg, h)
	}
}

func (s *Stream) handle(ctx context.Context, group string, msg goredis.XMessage, h stream.Handler) {
	entry, err := decode(msg)
	if err != nil {
		// Malformed entries are acked away rather than redelivered forever.
		s.logger.Error("dropping malformed stream entry", "id", msg.ID, "error", err)
		_ = s.client.XAck(ctx, s.key, group, msg.ID).Err()
		return
	}

	if err := h(ctx, entry); err != nil {
		s.logger.Warn("handler failed, entry stays pending",
			"group", group, "id", msg.ID, "event", string(entry.Envelope.EventType), "error", err)
		return
	}

	if err := s.client.XAck(ctx, s.key, group, msg.ID).Err(); err != nil && ctx.Err() == nil {
		s.logger.Error("ack failed", "group", group, "id", msg.ID, "error", err)
	}
}

func (s *Stream) ensureGroup(ctx context.Context, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, s.key, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s: %w", group, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Stream) Close() error {
	return s.client.Close()
}

func decode(msg goredis.XMessage) (stream.Entry, error) {
	get := func(key string) (string, error) {
		v, ok := msg.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		str, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("field %s is not a string", key)
		}
		return str, nil
	}

	eventType, err := get("event_type")
	if err != nil {
		return stream.Entry{}, err
	}
	aggregateKey, err := get("aggregate_key")
	if err != nil {
		return stream.Entry{}, err
	}
	payload, err := get("payload")
	if err != nil {
		return stream.Entry{}, err
	}
	traceID, _ := msg.Values["trace_id"].(string)

	env := types.Envelope{
		EventType:    types.EventType(eventType),
		AggregateKey: aggregateKey,
		TraceID:      traceID,
		Payload:      []byte(payload),
	}
	if ts, ok := msg.Values["published_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			env.PublishedAt = t
		}
	}

	return stream.Entry{ID: msg.ID, Envelope: env}, nil
}
