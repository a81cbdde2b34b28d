// Package memstream is an in-memory Stream used by unit tests and the
// memory storage driver. It honors the same contract as the durable
// backends: per-group checkpoints, at-least-once redelivery after a
// visibility timeout, fan-out across independent groups.
package memstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/introspect-labs/introspect/internal/stream"
	"github.com/introspect-labs/introspect/pkg/types"
)

const pollInterval = 10 * time.Millisecond

type pendingEntry struct {
	index       int
	deliveredAt time.Time
}

type group struct {
	cursor  int
	pending map[string]*pendingEntry
}

// Stream is an in-memory event log with consumer groups.
type Stream struct {
	mu         sync.Mutex
	entries    []stream.Entry
	groups     map[string]*group
	visibility time.Duration
	nextID     int64
	closed     bool
}

// New creates a memory stream with the given visibility timeout.
func New(visibility time.Duration) *Stream {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &Stream{
		groups:     make(map[string]*group),
		visibility: visibility,
	}
}

// Publish appends the envelope to the log.
func (s *Stream) Publish(_ context.Context, env types.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream closed")
	}
	s.nextID++
	s.entries = append(s.entries, stream.Entry{
		ID:       fmt.Sprintf("%d", s.nextID),
		Envelope: env,
	})
	return nil
}

// Consume delivers entries for the group until ctx is cancelled.
func (s *Stream) Consume(ctx context.Context, groupName, _ string, h stream.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entry, ok := s.next(groupName)
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		if err := h(ctx, entry); err == nil {
			s.ack(groupName, entry.ID)
		}
		// On handler error the entry stays pending and is redelivered
		// once its visibility timeout elapses.
	}
}

// next picks the oldest redeliverable pending entry, or the next
// never-delivered entry, marking it in-flight.
func (s *Stream) next(groupName string) (stream.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupName]
	if !ok {
		g = &group{pending: make(map[string]*pendingEntry)}
		s.groups[groupName] = g
	}

	now := time.Now()
	for _, p := range g.pending {
		if now.Sub(p.deliveredAt) >= s.visibility {
			p.deliveredAt = now
			return s.entries[p.index], true
		}
	}

	if g.cursor < len(s.entries) {
		e := s.entries[g.cursor]
		g.pending[e.ID] = &pendingEntry{index: g.cursor, deliveredAt: now}
		g.cursor++
		return e, true
	}

	return stream.Entry{}, false
}

func (s *Stream) ack(groupName, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[groupName]; ok {
		delete(g.pending, id)
	}
}

// Close marks the stream closed for publishing.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len reports the number of published entries (test helper).
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a copy of all published entries (test helper).
func (s *Stream) Entries() []stream.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stream.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// PendingCount reports unacknowledged in-flight entries for a group
// (test helper).
func (s *Stream) PendingCount(groupName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[groupName]; ok {
		return len(g.pending)
	}
	return 0
}
