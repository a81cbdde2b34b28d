package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/introspect-labs/introspect/internal/model"
	"github.com/introspect-labs/introspect/internal/resilience"
	"github.com/introspect-labs/introspect/internal/store/memory"
	"github.com/introspect-labs/introspect/internal/stream"
	"github.com/introspect-labs/introspect/internal/tasks"
	"github.com/introspect-labs/introspect/internal/testutil"
	"github.com/introspect-labs/introspect/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClient struct {
	mu    sync.Mutex
	calls int
	fn    func(req model.Request) (model.Result, error)
}

func (c *fakeClient) Generate(ctx context.Context, req model.Request) (model.Result, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.fn(req)
}

func (c *fakeClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func okClient(modelName string) *fakeClient {
	return &fakeClient{fn: func(req model.Request) (model.Result, error) {
		return model.Result{Model: modelName, Analysis: json.RawMessage(`{"score":7}`)}, nil
	}}
}

func downClient() *fakeClient {
	return &fakeClient{fn: func(req model.Request) (model.Result, error) {
		return model.Result{}, errors.New("model down")
	}}
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []types.Alert
}

func (r *alertRecorder) record(_ context.Context, a types.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *alertRecorder) categories() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a.Category)
	}
	return out
}

type fixture struct {
	store       *memory.Store
	coordinator *Coordinator
	registry    *tasks.Registry
	alerts      *alertRecorder
}

func newFixture(t *testing.T, tiers []Tier) *fixture {
	t.Helper()

	store := memory.New()
	alerts := &alertRecorder{}
	registry := tasks.NewRegistry(context.Background(), nil)
	t.Cleanup(func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = registry.Drain(drainCtx)
	})

	breakers := resilience.NewRegistry(resilience.DefaultBreakerConfig(), nil, nil)
	retry := resilience.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	coordinator := NewCoordinator(store, tiers, breakers, retry, registry, Config{
		InstantTimeout: 200 * time.Millisecond,
		DeepTimeout:    500 * time.Millisecond,
	}, alerts.record, nil)

	return &fixture{store: store, coordinator: coordinator, registry: registry, alerts: alerts}
}

func submittedEntry(t *testing.T, answerID, sessionID string) stream.Entry {
	t.Helper()
	payload, err := json.Marshal(types.AnswerSubmitted{
		AnswerID: answerID, SessionID: sessionID, QuestionID: "q-1", Text: "an answer",
	})
	require.NoError(t, err)
	return stream.Entry{
		ID: "entry-" + answerID,
		Envelope: types.Envelope{
			EventType:    types.EventAnswerSubmitted,
			AggregateKey: sessionID,
			TraceID:      "trace-" + answerID,
			Payload:      payload,
			PublishedAt:  time.Now(),
		},
	}
}

func eventTypes(store *memory.Store) []types.EventType {
	var out []types.EventType
	for _, ev := range store.Events() {
		out = append(out, ev.EventType)
	}
	return out
}

func TestCoordinator_RunsBothPhases(t *testing.T) {
	f := newFixture(t, []Tier{{Label: "primary", Client: okClient("coach-large")}})

	err := f.coordinator.Handle(context.Background(), submittedEntry(t, "ans-1", "sess-1"))
	require.NoError(t, err)

	// The instant pass finishes before Handle returns.
	task, ok, err := f.store.GetTask(context.Background(), "ans-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.PhaseDone, task.InstantStatus)

	testutil.WaitForPhase(t, f.store, "ans-1", types.PhaseDeep, types.PhaseDone, time.Second)

	assert.ElementsMatch(t,
		[]types.EventType{types.EventInstantReady, types.EventDeepReady},
		eventTypes(f.store))

	var result model.Result
	task, _, _ = f.store.GetTask(context.Background(), "ans-1")
	require.NoError(t, json.Unmarshal(task.InstantResult, &result))
	assert.Equal(t, "coach-large", result.Model)
	assert.False(t, result.Degraded)
}

func TestCoordinator_DuplicateDeliveryEmitsNothing(t *testing.T) {
	f := newFixture(t, []Tier{{Label: "primary", Client: okClient("coach-large")}})
	entry := submittedEntry(t, "ans-1", "sess-1")

	require.NoError(t, f.coordinator.Handle(context.Background(), entry))
	testutil.WaitForPhase(t, f.store, "ans-1", types.PhaseDeep, types.PhaseDone, time.Second)
	before := len(f.store.Events())

	// Redelivery of the same answer after both phases settled.
	require.NoError(t, f.coordinator.Handle(context.Background(), entry))
	require.NoError(t, f.coordinator.Handle(context.Background(), entry))

	assert.Equal(t, before, len(f.store.Events()))
}

func TestCoordinator_FallsBackToSecondTier(t *testing.T) {
	primary := downClient()
	secondary := okClient("coach-small")
	f := newFixture(t, []Tier{
		{Label: "primary", Client: primary},
		{Label: "secondary", Client: secondary},
	})

	require.NoError(t, f.coordinator.Handle(context.Background(), submittedEntry(t, "ans-1", "sess-1")))
	testutil.WaitForPhase(t, f.store, "ans-1", types.PhaseDeep, types.PhaseDone, time.Second)

	task, _, _ := f.store.GetTask(context.Background(), "ans-1")
	var result model.Result
	require.NoError(t, json.Unmarshal(task.InstantResult, &result))
	assert.Equal(t, "coach-small", result.Model)
	assert.Positive(t, primary.Calls())
}

func TestCoordinator_InstantDegradesWhenAllTiersFail(t *testing.T) {
	f := newFixture(t, []Tier{{Label: "primary", Client: downClient()}})

	require.NoError(t, f.coordinator.Handle(context.Background(), submittedEntry(t, "ans-1", "sess-1")))

	task, ok, err := f.store.GetTask(context.Background(), "ans-1")
	require.NoError(t, err)
	require.True(t, ok)
	// Degraded still counts as DONE: the session flow must not stall.
	assert.Equal(t, types.PhaseDone, task.InstantStatus)

	var result model.Result
	require.NoError(t, json.Unmarshal(task.InstantResult, &result))
	assert.True(t, result.Degraded)

	testutil.WaitForPhase(t, f.store, "ans-1", types.PhaseDeep, types.PhaseFailed, time.Second)
	testutil.WaitForOutboxEvent(t, f.store, types.EventDeepFailed, types.OutboxPending, time.Second)

	assert.Contains(t, f.alerts.categories(), "instant_degraded")
	assert.Contains(t, f.alerts.categories(), "deep_failed")
}

func TestCoordinator_IgnoresOtherEventTypes(t *testing.T) {
	f := newFixture(t, []Tier{{Label: "primary", Client: okClient("coach-large")}})

	entry := submittedEntry(t, "ans-1", "sess-1")
	entry.Envelope.EventType = types.EventInstantReady

	require.NoError(t, f.coordinator.Handle(context.Background(), entry))
	assert.Empty(t, f.store.Events())
}

func TestCoordinator_AcksMalformedPayload(t *testing.T) {
	f := newFixture(t, []Tier{{Label: "primary", Client: okClient("coach-large")}})

	entry := submittedEntry(t, "ans-1", "sess-1")
	entry.Envelope.Payload = json.RawMessage(`{not json`)

	require.NoError(t, f.coordinator.Handle(context.Background(), entry))
	assert.Empty(t, f.store.Events())
}

func TestCoordinator_RelaunchesStaleRunningPhase(t *testing.T) {
	f := newFixture(t, []Tier{{Label: "primary", Client: okClient("coach-large")}})

	// A crashed worker left both phases RUNNING long ago.
	past := time.Now().Add(-time.Hour)
	_, err := f.store.EnsureTask(context.Background(), "ans-1", "sess-1", "trace-ans-1", past)
	require.NoError(t, err)
	began, err := f.store.BeginPhase(context.Background(), "ans-1", types.PhaseInstant, past, time.Minute)
	require.NoError(t, err)
	require.True(t, began)
	began, err = f.store.BeginPhase(context.Background(), "ans-1", types.PhaseDeep, past, time.Minute)
	require.NoError(t, err)
	require.True(t, began)

	require.NoError(t, f.coordinator.Handle(context.Background(), submittedEntry(t, "ans-1", "sess-1")))

	testutil.WaitForPhase(t, f.store, "ans-1", types.PhaseDeep, types.PhaseDone, time.Second)
	task, _, _ := f.store.GetTask(context.Background(), "ans-1")
	assert.Equal(t, types.PhaseDone, task.InstantStatus)
}
