// Package stream defines the event stream contract: an ordered,
// replayable log with consumer-group checkpointing and at-least-once
// delivery. Handlers must be idempotent.
package stream

import (
	"context"
	"time"

	"github.com/introspect-labs/introspect/pkg/types"
)

// DefaultVisibilityTimeout is how long a delivered entry stays owned by
// one consumer before it becomes eligible for redelivery.
const DefaultVisibilityTimeout = 30 * time.Second

// Entry is one delivered stream record.
type Entry struct {
	ID       string // backend-assigned id, unique within the stream
	Envelope types.Envelope
}

// Handler processes one entry. Returning nil acknowledges the entry and
// advances the group's checkpoint; returning an error leaves it
// unacknowledged so it is redelivered after the visibility timeout.
type Handler func(ctx context.Context, entry Entry) error

// Stream is a partitioned append-only event log with consumer groups.
// Publish order is preserved per aggregate key; independent groups each
// keep their own checkpoint.
type Stream interface {
	// Publish appends the envelope to the stream.
	Publish(ctx context.Context, env types.Envelope) error

	// Consume delivers unacknowledged entries for the named group to the
	// handler, blocking until ctx is cancelled. consumer names this group
	// member for pending-entry ownership.
	Consume(ctx context.Context, group, consumer string, h Handler) error

	Close() error
}
