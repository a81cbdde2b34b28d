package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/introspect-labs/introspect/internal/outbox"
	"github.com/introspect-labs/introspect/pkg/types"
)

const ensureTaskSQL = `
INSERT INTO analysis_tasks (unit_key, aggregate_key, trace_id, instant_status, deep_status,
                            instant_updated_at, deep_updated_at, created_at, updated_at)
VALUES ($1, $2, $3, 'PENDING', 'PENDING', $4, $4, $4, $4)
ON CONFLICT (unit_key) DO NOTHING`

const getTaskSQL = `
SELECT unit_key, aggregate_key, trace_id, instant_status, deep_status,
       instant_result, deep_result, created_at, updated_at
FROM analysis_tasks WHERE unit_key = $1`

// EnsureTask creates the task row if it does not exist and returns the
// current row either way. The returned row is what redelivery decisions
// are made from.
func (s *Store) EnsureTask(ctx context.Context, unitKey, aggregateKey, traceID string, now time.Time) (types.AnalysisTask, error) {
	if _, err := s.pool.Exec(ctx, ensureTaskSQL, unitKey, aggregateKey, traceID, now); err != nil {
		return types.AnalysisTask{}, fmt.Errorf("ensuring task %s: %w", unitKey, err)
	}
	task, ok, err := s.GetTask(ctx, unitKey)
	if err != nil {
		return types.AnalysisTask{}, err
	}
	if !ok {
		return types.AnalysisTask{}, fmt.Errorf("task %s missing after ensure", unitKey)
	}
	return task, nil
}

// GetTask loads one task row. The second return is false when no row
// exists for the unit key.
func (s *Store) GetTask(ctx context.Context, unitKey string) (types.AnalysisTask, bool, error) {
	var t types.AnalysisTask
	var instant, deep string
	err := s.pool.QueryRow(ctx, getTaskSQL, unitKey).Scan(
		&t.UnitKey, &t.AggregateKey, &t.TraceID, &instant, &deep,
		&t.InstantResult, &t.DeepResult, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return types.AnalysisTask{}, false, nil
	}
	if err != nil {
		return types.AnalysisTask{}, false, fmt.Errorf("loading task %s: %w", unitKey, err)
	}
	t.InstantStatus = types.PhaseStatus(instant)
	t.DeepStatus = types.PhaseStatus(deep)
	return t, true, nil
}

// phaseColumns maps a phase to its column prefix. Phase is a closed enum;
// anything else is a programming error.
func phaseColumns(phase types.Phase) (string, error) {
	switch phase {
	case types.PhaseInstant:
		return "instant", nil
	case types.PhaseDeep:
		return "deep", nil
	default:
		return "", fmt.Errorf("unknown phase %q", phase)
	}
}

// BeginPhase moves a phase to RUNNING if it is PENDING, or if it has been
// RUNNING longer than staleAfter (a crashed worker's claim expires and
// redelivery relaunches the work). Returns false when the phase is
// already terminal or freshly running, which means the caller should not
// start the work.
func (s *Store) BeginPhase(ctx context.Context, unitKey string, phase types.Phase, now time.Time, staleAfter time.Duration) (bool, error) {
	col, err := phaseColumns(phase)
	if err != nil {
		return false, err
	}
	sql := fmt.Sprintf(`
UPDATE analysis_tasks
SET %[1]s_status = 'RUNNING', %[1]s_updated_at = $2, updated_at = $2
WHERE unit_key = $1
  AND (%[1]s_status = 'PENDING'
       OR (%[1]s_status = 'RUNNING' AND %[1]s_updated_at <= $3))`, col)

	tag, err := s.pool.Exec(ctx, sql, unitKey, now, now.Add(-staleAfter))
	if err != nil {
		return false, fmt.Errorf("beginning %s phase for %s: %w", phase, unitKey, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompletePhase moves a RUNNING phase to DONE and appends the completion
// event to the outbox in the same transaction. The RUNNING guard makes
// the emission at-most-once per phase: a concurrent or redelivered
// completion finds zero rows and emits nothing. Returns whether the
// transition (and therefore the emission) happened.
func (s *Store) CompletePhase(ctx context.Context, unitKey string, phase types.Phase, result json.RawMessage, ev outbox.Event, now time.Time) (bool, error) {
	col, err := phaseColumns(phase)
	if err != nil {
		return false, err
	}
	sql := fmt.Sprintf(`
UPDATE analysis_tasks
SET %[1]s_status = 'DONE', %[1]s_result = $2, %[1]s_updated_at = $3, updated_at = $3
WHERE unit_key = $1 AND %[1]s_status = 'RUNNING'`, col)

	return s.transitionWithEvent(ctx, unitKey, phase, ev, sql, unitKey, result, now)
}

// FailPhase moves a RUNNING phase to FAILED and appends the failure event
// to the outbox in the same transaction, with the same at-most-once guard
// as CompletePhase.
func (s *Store) FailPhase(ctx context.Context, unitKey string, phase types.Phase, ev outbox.Event, now time.Time) (bool, error) {
	col, err := phaseColumns(phase)
	if err != nil {
		return false, err
	}
	sql := fmt.Sprintf(`
UPDATE analysis_tasks
SET %[1]s_status = 'FAILED', %[1]s_updated_at = $2, updated_at = $2
WHERE unit_key = $1 AND %[1]s_status = 'RUNNING'`, col)

	return s.transitionWithEvent(ctx, unitKey, phase, ev, sql, unitKey, now)
}

func (s *Store) transitionWithEvent(ctx context.Context, unitKey string, phase types.Phase, ev outbox.Event, sql string, args ...any) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("settling %s phase for %s: %w", phase, unitKey, err)
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if err := s.AppendOutbox(ctx, tx, ev); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transition tx: %w", err)
	}
	return true, nil
}
