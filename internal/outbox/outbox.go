// Package outbox implements the transactional outbox: events written in
// the same transaction as the business change they describe, relayed to
// the event stream by a polling background process.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/introspect-labs/introspect/pkg/types"
)

// Event is one outbox row. A row exists iff the business transaction that
// created it committed; pending -> published happens exactly once on the
// happy path, and failed is reached only after the relay exhausts its
// attempt budget.
type Event struct {
	ID            int64
	EventType     types.EventType
	AggregateKey  string
	Payload       []byte
	TraceID       string
	Status        types.OutboxStatus
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// NewEvent builds a pending event with a JSON-encoded payload.
func NewEvent(eventType types.EventType, aggregateKey, traceID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	return Event{
		EventType:    eventType,
		AggregateKey: aggregateKey,
		Payload:      data,
		TraceID:      traceID,
		Status:       types.OutboxPending,
	}, nil
}

// Envelope converts the event to its stream wire form.
func (e Event) Envelope(publishedAt time.Time) types.Envelope {
	return types.Envelope{
		EventType:    e.EventType,
		AggregateKey: e.AggregateKey,
		TraceID:      e.TraceID,
		Payload:      e.Payload,
		PublishedAt:  publishedAt,
	}
}

// Disposition is the relay's verdict on one claimed event.
type Disposition int

const (
	// DispositionPublished marks the row published (terminal).
	DispositionPublished Disposition = iota
	// DispositionRetry leaves the row pending with a later retry time.
	DispositionRetry
	// DispositionFailed marks the row failed (terminal, alerted).
	DispositionFailed
)

// Outcome tells the store how to settle a claimed row.
type Outcome struct {
	Disposition   Disposition
	PublishedAt   time.Time // Published
	Attempts      int       // Retry, Failed
	NextAttemptAt time.Time // Retry
	Reason        string    // Failed
}

// Store is the durable outbox table. Claiming and settling happen inside
// one store-level transaction so concurrent relay instances never publish
// the same row twice.
type Store interface {
	// ProcessPending claims up to limit due pending rows and invokes fn
	// for each in id order, settling the row per the returned Outcome.
	// Only the head (lowest id) pending event of each aggregate key is
	// eligible, which preserves per-aggregate publish order across retries.
	// Rows claimed by another relay instance are skipped, not waited on.
	ProcessPending(ctx context.Context, limit int, now time.Time, fn func(Event) Outcome) (int, error)

	// Counts reports row counts by status (for status surfaces).
	Counts(ctx context.Context) (map[types.OutboxStatus]int64, error)
}
