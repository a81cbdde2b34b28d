package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/introspect-labs/introspect/internal/metrics"
	"github.com/introspect-labs/introspect/internal/outbox"
	"github.com/introspect-labs/introspect/pkg/types"
)

const appendOutboxSQL = `
INSERT INTO outbox_events (event_type, aggregate_key, payload, trace_id, status, attempts, next_attempt_at, created_at)
VALUES ($1, $2, $3, $4, 'pending', 0, $5, $5)`

// Only the head (lowest pending id) event of each aggregate is eligible,
// so a backing-off event blocks its aggregate's later events and
// per-aggregate publish order survives retries. SKIP LOCKED lets
// concurrent relay instances claim disjoint rows.
const claimPendingSQL = `
SELECT id, event_type, aggregate_key, payload, trace_id, attempts, next_attempt_at, created_at
FROM outbox_events o
WHERE status = 'pending'
  AND next_attempt_at <= $1
  AND NOT EXISTS (
      SELECT 1 FROM outbox_events e
      WHERE e.aggregate_key = o.aggregate_key
        AND e.status = 'pending'
        AND e.id < o.id
  )
ORDER BY id
LIMIT $2
FOR UPDATE OF o SKIP LOCKED`

const markPublishedSQL = `
UPDATE outbox_events SET status = 'published', published_at = $2 WHERE id = $1`

const scheduleRetrySQL = `
UPDATE outbox_events SET attempts = $2, next_attempt_at = $3 WHERE id = $1`

const markFailedSQL = `
UPDATE outbox_events SET status = 'failed', attempts = $2, failure_reason = $3 WHERE id = $1`

// AppendOutbox inserts a pending outbox row using the caller's open
// transaction. It never opens its own transaction: the row is durable iff
// the caller commits, and no network call happens here.
func (s *Store) AppendOutbox(ctx context.Context, tx pgx.Tx, ev outbox.Event) error {
	now := time.Now()
	if _, err := tx.Exec(ctx, appendOutboxSQL,
		string(ev.EventType), ev.AggregateKey, ev.Payload, ev.TraceID, now); err != nil {
		return fmt.Errorf("appending outbox event: %w", err)
	}
	metrics.OutboxAppended.Add(1)
	return nil
}

// ProcessPending claims a batch of due pending rows under FOR UPDATE SKIP
// LOCKED and settles each inside the same transaction. The row locks are
// the claim: no second relay can process these rows until commit.
func (s *Store) ProcessPending(ctx context.Context, limit int, now time.Time, fn func(outbox.Event) outbox.Outcome) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	events, err := scanClaimed(ctx, tx, limit, now)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, tx.Commit(ctx)
	}

	for _, ev := range events {
		out := fn(ev)
		if err := settle(ctx, tx, ev, out); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit claim tx: %w", err)
	}
	return len(events), nil
}

func scanClaimed(ctx context.Context, tx pgx.Tx, limit int, now time.Time) ([]outbox.Event, error) {
	rows, err := tx.Query(ctx, claimPendingSQL, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming pending events: %w", err)
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var ev outbox.Event
		var eventType string
		if err := rows.Scan(&ev.ID, &eventType, &ev.AggregateKey, &ev.Payload,
			&ev.TraceID, &ev.Attempts, &ev.NextAttemptAt, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", err)
		}
		ev.EventType = types.EventType(eventType)
		ev.Status = types.OutboxPending
		events = append(events, ev)
	}
	return events, rows.Err()
}

func settle(ctx context.Context, tx pgx.Tx, ev outbox.Event, out outbox.Outcome) error {
	var err error
	switch out.Disposition {
	case outbox.DispositionPublished:
		_, err = tx.Exec(ctx, markPublishedSQL, ev.ID, out.PublishedAt)
	case outbox.DispositionRetry:
		_, err = tx.Exec(ctx, scheduleRetrySQL, ev.ID, out.Attempts, out.NextAttemptAt)
	case outbox.DispositionFailed:
		_, err = tx.Exec(ctx, markFailedSQL, ev.ID, out.Attempts, out.Reason)
	default:
		err = fmt.Errorf("unknown disposition %d", out.Disposition)
	}
	if err != nil {
		return fmt.Errorf("settling outbox event %d: %w", ev.ID, err)
	}
	return nil
}

// Counts reports outbox row counts by status.
func (s *Store) Counts(ctx context.Context) (map[types.OutboxStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM outbox_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting outbox events: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.OutboxStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[types.OutboxStatus(status)] = n
	}
	return counts, rows.Err()
}
