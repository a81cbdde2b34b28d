// Package memory implements the store in process memory. It backs the
// memory storage driver and the unit tests; semantics match the Postgres
// store, including head-of-aggregate outbox claiming and the RUNNING
// guard on phase transitions.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/introspect-labs/introspect/internal/lifecycle"
	"github.com/introspect-labs/introspect/internal/metrics"
	"github.com/introspect-labs/introspect/internal/outbox"
	"github.com/introspect-labs/introspect/pkg/types"
)

type taskRow struct {
	task             types.AnalysisTask
	instantUpdatedAt time.Time
	deepUpdatedAt    time.Time
}

// Store holds everything under one mutex. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	nextID    int64
	events    []*outbox.Event
	answers   map[string]types.Answer
	tasks     map[string]*taskRow
	profiles  map[string]json.RawMessage
	commitErr error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextID:   1,
		answers:  make(map[string]types.Answer),
		tasks:    make(map[string]*taskRow),
		profiles: make(map[string]json.RawMessage),
	}
}

// FailNextCommit makes the next transactional write fail with err before
// any state changes, simulating a commit failure.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

func (s *Store) takeCommitErr() error {
	err := s.commitErr
	s.commitErr = nil
	return err
}

func (s *Store) appendLocked(ev outbox.Event, now time.Time) {
	ev.ID = s.nextID
	s.nextID++
	ev.Status = types.OutboxPending
	ev.CreatedAt = now
	ev.NextAttemptAt = now
	s.events = append(s.events, &ev)
	metrics.OutboxAppended.Add(1)
}

// Append inserts a pending outbox row on its own, outside any business
// write. Tests use it to seed the relay.
func (s *Store) Append(ctx context.Context, ev outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeCommitErr(); err != nil {
		return err
	}
	s.appendLocked(ev, time.Now())
	return nil
}

// SubmitAnswer stores the answer and its outbox row atomically. A commit
// failure leaves neither behind.
func (s *Store) SubmitAnswer(ctx context.Context, ans types.Answer, ev outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeCommitErr(); err != nil {
		return err
	}
	if _, exists := s.answers[ans.AnswerID]; exists {
		return fmt.Errorf("answer %s already exists", ans.AnswerID)
	}
	s.answers[ans.AnswerID] = ans
	s.appendLocked(ev, time.Now())
	return nil
}

// ProcessPending claims due pending head-of-aggregate events in id order
// and settles each per the returned Outcome.
func (s *Store) ProcessPending(ctx context.Context, limit int, now time.Time, fn func(outbox.Event) outbox.Outcome) (int, error) {
	s.mu.Lock()
	claimed := s.claimLocked(limit, now)
	s.mu.Unlock()

	for _, ev := range claimed {
		out := fn(*ev)
		s.mu.Lock()
		switch out.Disposition {
		case outbox.DispositionPublished:
			ev.Status = types.OutboxPublished
			at := out.PublishedAt
			ev.PublishedAt = &at
		case outbox.DispositionRetry:
			ev.Attempts = out.Attempts
			ev.NextAttemptAt = out.NextAttemptAt
		case outbox.DispositionFailed:
			ev.Status = types.OutboxFailed
			ev.Attempts = out.Attempts
		}
		s.mu.Unlock()
	}
	return len(claimed), nil
}

func (s *Store) claimLocked(limit int, now time.Time) []*outbox.Event {
	headSeen := make(map[string]bool)
	var claimed []*outbox.Event
	for _, ev := range s.events {
		if ev.Status != types.OutboxPending {
			continue
		}
		if headSeen[ev.AggregateKey] {
			continue
		}
		// This is the aggregate's head; a not-yet-due head still blocks
		// the aggregate's later events.
		headSeen[ev.AggregateKey] = true
		if ev.NextAttemptAt.After(now) {
			continue
		}
		claimed = append(claimed, ev)
		if len(claimed) == limit {
			break
		}
	}
	return claimed
}

// Counts reports outbox row counts by status.
func (s *Store) Counts(ctx context.Context) (map[types.OutboxStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[types.OutboxStatus]int64)
	for _, ev := range s.events {
		counts[ev.Status]++
	}
	return counts, nil
}

// EnsureTask creates the task row if absent and returns the current row.
func (s *Store) EnsureTask(ctx context.Context, unitKey, aggregateKey, traceID string, now time.Time) (types.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tasks[unitKey]
	if !ok {
		row = &taskRow{
			task: types.AnalysisTask{
				UnitKey:       unitKey,
				AggregateKey:  aggregateKey,
				TraceID:       traceID,
				InstantStatus: types.PhasePending,
				DeepStatus:    types.PhasePending,
				CreatedAt:     now,
				UpdatedAt:     now,
			},
			instantUpdatedAt: now,
			deepUpdatedAt:    now,
		}
		s.tasks[unitKey] = row
	}
	return row.task, nil
}

// GetTask loads one task row.
func (s *Store) GetTask(ctx context.Context, unitKey string) (types.AnalysisTask, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tasks[unitKey]
	if !ok {
		return types.AnalysisTask{}, false, nil
	}
	return row.task, true, nil
}

// BeginPhase moves a phase to RUNNING if it is PENDING or stale RUNNING.
func (s *Store) BeginPhase(ctx context.Context, unitKey string, phase types.Phase, now time.Time, staleAfter time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tasks[unitKey]
	if !ok {
		return false, nil
	}
	status, updatedAt := row.phase(phase)
	eligible := status == types.PhasePending ||
		(status == types.PhaseRunning && !updatedAt.After(now.Add(-staleAfter)))
	if !eligible {
		return false, nil
	}
	row.setPhase(phase, types.PhaseRunning, now)
	return true, nil
}

// CompletePhase moves a RUNNING phase to DONE and appends the completion
// event atomically. Returns whether the transition happened.
func (s *Store) CompletePhase(ctx context.Context, unitKey string, phase types.Phase, result json.RawMessage, ev outbox.Event, now time.Time) (bool, error) {
	return s.transition(unitKey, phase, types.PhaseDone, result, ev, now)
}

// FailPhase moves a RUNNING phase to FAILED and appends the failure event
// atomically.
func (s *Store) FailPhase(ctx context.Context, unitKey string, phase types.Phase, ev outbox.Event, now time.Time) (bool, error) {
	return s.transition(unitKey, phase, types.PhaseFailed, nil, ev, now)
}

func (s *Store) transition(unitKey string, phase types.Phase, to types.PhaseStatus, result json.RawMessage, ev outbox.Event, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeCommitErr(); err != nil {
		return false, err
	}
	row, ok := s.tasks[unitKey]
	if !ok {
		return false, nil
	}
	// Only RUNNING may settle; the transition table enforces it.
	status, _ := row.phase(phase)
	if !lifecycle.CanTransition(status, to) {
		return false, nil
	}
	row.setPhase(phase, to, now)
	if to == types.PhaseDone {
		if phase == types.PhaseInstant {
			row.task.InstantResult = result
		} else {
			row.task.DeepResult = result
		}
	}
	s.appendLocked(ev, now)
	return true, nil
}

func (r *taskRow) phase(phase types.Phase) (types.PhaseStatus, time.Time) {
	if phase == types.PhaseInstant {
		return r.task.InstantStatus, r.instantUpdatedAt
	}
	return r.task.DeepStatus, r.deepUpdatedAt
}

func (r *taskRow) setPhase(phase types.Phase, to types.PhaseStatus, now time.Time) {
	if phase == types.PhaseInstant {
		r.task.InstantStatus = to
		r.instantUpdatedAt = now
	} else {
		r.task.DeepStatus = to
		r.deepUpdatedAt = now
	}
	r.task.UpdatedAt = now
}

// SaveResult stores one phase result, ignoring duplicates.
func (s *Store) SaveResult(ctx context.Context, unitKey string, phase types.Phase, sessionID string, result json.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := unitKey + "/" + string(phase)
	if _, exists := s.profiles[key]; exists {
		return false, nil
	}
	s.profiles[key] = result
	return true, nil
}

// Events returns a snapshot of all outbox rows, for tests.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, *ev)
	}
	return out
}

// Answer returns a stored answer, for tests.
func (s *Store) Answer(answerID string) (types.Answer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ans, ok := s.answers[answerID]
	return ans, ok
}

// ProfileCount returns the number of stored profile results, for tests.
func (s *Store) ProfileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}
