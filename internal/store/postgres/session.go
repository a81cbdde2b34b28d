package postgres

import (
	"context"
	"fmt"

	"github.com/introspect-labs/introspect/internal/outbox"
	"github.com/introspect-labs/introspect/pkg/types"
)

const insertAnswerSQL = `
INSERT INTO answers (answer_id, session_id, question_id, body, created_at)
VALUES ($1, $2, $3, $4, $5)`

// SubmitAnswer persists the answer and its answer.submitted outbox row in
// one transaction. Either both commit or neither does; there is no state
// where the answer exists without a pending event.
func (s *Store) SubmitAnswer(ctx context.Context, ans types.Answer, ev outbox.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin submit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertAnswerSQL,
		ans.AnswerID, ans.SessionID, ans.QuestionID, ans.Text, ans.CreatedAt); err != nil {
		return fmt.Errorf("inserting answer %s: %w", ans.AnswerID, err)
	}
	if err := s.AppendOutbox(ctx, tx, ev); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit submit tx: %w", err)
	}
	return nil
}
