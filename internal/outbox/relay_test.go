package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/introspect-labs/introspect/internal/outbox"
	"github.com/introspect-labs/introspect/internal/store/memory"
	"github.com/introspect-labs/introspect/internal/stream/memstream"
	"github.com/introspect-labs/introspect/pkg/types"
)

type flakyStream struct {
	*memstream.Stream

	mu       sync.Mutex
	failures int
}

func (s *flakyStream) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *flakyStream) Publish(ctx context.Context, env types.Envelope) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("stream unavailable")
	}
	s.mu.Unlock()
	return s.Stream.Publish(ctx, env)
}

func seedEvent(t *testing.T, store *memory.Store, aggregateKey, answerID string) {
	t.Helper()
	ev, err := outbox.NewEvent(types.EventAnswerSubmitted, aggregateKey, "trace-"+answerID, types.AnswerSubmitted{
		AnswerID: answerID, SessionID: aggregateKey, QuestionID: "q-1", Text: "an answer",
	})
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), ev))
}

func newRelay(store *memory.Store, str *flakyStream, maxAttempts int, alertFn func(context.Context, types.Alert)) *outbox.Relay {
	return outbox.NewRelay(store, str, outbox.RelayConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		MaxAttempts:  maxAttempts,
		BaseBackoff:  time.Minute,
		MaxBackoff:   time.Hour,
	}, alertFn, nil)
}

func TestRelay_PublishesPendingEvents(t *testing.T) {
	store := memory.New()
	str := &flakyStream{Stream: memstream.New(time.Second)}
	seedEvent(t, store, "sess-1", "ans-1")

	relay := newRelay(store, str, 8, nil)
	n, err := relay.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, types.OutboxPublished, events[0].Status)
	require.NotNil(t, events[0].PublishedAt)
	assert.Equal(t, 1, str.Len())
}

func TestRelay_RetriesWithBackoff(t *testing.T) {
	store := memory.New()
	str := &flakyStream{Stream: memstream.New(time.Second)}
	seedEvent(t, store, "sess-1", "ans-1")
	str.FailNext(1)

	relay := newRelay(store, str, 8, nil)
	n, err := relay.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, types.OutboxPending, events[0].Status)
	assert.Equal(t, 1, events[0].Attempts)
	assert.True(t, events[0].NextAttemptAt.After(time.Now()), "retry must be deferred")

	// Not due yet: the next cycle claims nothing.
	n, err = relay.Cycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_FailsAndAlertsAfterMaxAttempts(t *testing.T) {
	store := memory.New()
	str := &flakyStream{Stream: memstream.New(time.Second)}
	seedEvent(t, store, "sess-1", "ans-1")
	str.FailNext(100)

	var alerts []types.Alert
	relay := newRelay(store, str, 1, func(ctx context.Context, a types.Alert) {
		alerts = append(alerts, a)
	})

	n, err := relay.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, types.OutboxFailed, events[0].Status)

	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertLevelError, alerts[0].Level)
	assert.Equal(t, "outbox_failed", alerts[0].Category)
	assert.Equal(t, "sess-1", alerts[0].AggregateKey)
}

func TestRelay_FailingHeadBlocksAggregate(t *testing.T) {
	store := memory.New()
	str := &flakyStream{Stream: memstream.New(time.Second)}

	seedEvent(t, store, "sess-1", "ans-1")
	seedEvent(t, store, "sess-1", "ans-2")
	seedEvent(t, store, "sess-2", "ans-3")

	// First publish of the batch fails (sess-1's head), the rest succeed.
	str.FailNext(1)

	relay := newRelay(store, str, 8, nil)
	n, err := relay.Cycle(context.Background())
	require.NoError(t, err)
	// One claim per aggregate: sess-1's head plus sess-2's head.
	assert.Equal(t, 2, n)

	published := publishedAnswerIDs(t, str)
	assert.Equal(t, []string{"ans-3"}, published)

	// sess-1 stays fully blocked behind its backed-off head.
	n, err = relay.Cycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_PreservesPerAggregateOrder(t *testing.T) {
	store := memory.New()
	str := &flakyStream{Stream: memstream.New(time.Second)}

	seedEvent(t, store, "sess-1", "ans-1")
	seedEvent(t, store, "sess-1", "ans-2")
	seedEvent(t, store, "sess-1", "ans-3")

	relay := newRelay(store, str, 8, nil)
	for i := 0; i < 3; i++ {
		_, err := relay.Cycle(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"ans-1", "ans-2", "ans-3"}, publishedAnswerIDs(t, str))
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	store := memory.New()
	str := &flakyStream{Stream: memstream.New(time.Second)}
	relay := newRelay(store, str, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func publishedAnswerIDs(t *testing.T, str *flakyStream) []string {
	t.Helper()
	var ids []string
	for _, entry := range str.Entries() {
		var p types.AnswerSubmitted
		require.NoError(t, json.Unmarshal(entry.Envelope.Payload, &p))
		ids = append(ids, p.AnswerID)
	}
	return ids
}
