package memstream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/introspect-labs/introspect/internal/stream"
	"github.com/introspect-labs/introspect/pkg/types"
)

func envelope(t *testing.T, aggregateKey, answerID string) types.Envelope {
	t.Helper()
	payload, err := json.Marshal(types.AnswerSubmitted{AnswerID: answerID, SessionID: aggregateKey})
	require.NoError(t, err)
	return types.Envelope{
		EventType:    types.EventAnswerSubmitted,
		AggregateKey: aggregateKey,
		TraceID:      "trace-" + answerID,
		Payload:      payload,
		PublishedAt:  time.Now(),
	}
}

// collect consumes until n entries were acknowledged or the timeout hits.
func collect(t *testing.T, s *Stream, group string, n int, handler stream.Handler) []stream.Entry {
	t.Helper()

	var mu sync.Mutex
	var got []stream.Entry

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Consume(ctx, group, "c-1", func(ctx context.Context, e stream.Entry) error {
			if handler != nil {
				if err := handler(ctx, e); err != nil {
					return err
				}
			}
			mu.Lock()
			got = append(got, e)
			full := len(got) == n
			mu.Unlock()
			if full {
				cancel()
			}
			return nil
		})
	}()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, n, "expected %d acknowledged entries", n)
	return got
}

func TestStream_DeliversInPublishOrder(t *testing.T) {
	s := New(time.Second)
	ctx := context.Background()

	require.NoError(t, s.Publish(ctx, envelope(t, "sess-1", "ans-1")))
	require.NoError(t, s.Publish(ctx, envelope(t, "sess-1", "ans-2")))

	got := collect(t, s, "g1", 2, nil)
	assert.Equal(t, "trace-ans-1", got[0].Envelope.TraceID)
	assert.Equal(t, "trace-ans-2", got[1].Envelope.TraceID)
}

func TestStream_RedeliversAfterVisibilityTimeout(t *testing.T) {
	s := New(50 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, s.Publish(ctx, envelope(t, "sess-1", "ans-1")))

	deliveries := 0
	got := collect(t, s, "g1", 1, func(ctx context.Context, e stream.Entry) error {
		deliveries++
		if deliveries == 1 {
			return errors.New("handler failed")
		}
		return nil
	})

	assert.Equal(t, 2, deliveries)
	assert.Equal(t, "trace-ans-1", got[0].Envelope.TraceID)
	assert.Zero(t, s.PendingCount("g1"))
}

func TestStream_GroupsCheckpointIndependently(t *testing.T) {
	s := New(time.Second)
	ctx := context.Background()
	require.NoError(t, s.Publish(ctx, envelope(t, "sess-1", "ans-1")))

	a := collect(t, s, "analysis", 1, nil)
	b := collect(t, s, "profile", 1, nil)

	assert.Equal(t, a[0].ID, b[0].ID)
}

func TestStream_ClosedRefusesPublish(t *testing.T) {
	s := New(time.Second)
	require.NoError(t, s.Close())
	assert.Error(t, s.Publish(context.Background(), envelope(t, "sess-1", "ans-1")))
}
