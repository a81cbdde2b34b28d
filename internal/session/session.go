// Package session accepts coaching answers and records them together
// with their answer.submitted event.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/introspect-labs/introspect/internal/outbox"
	"github.com/introspect-labs/introspect/pkg/types"
)

// Store persists an answer and its outbox event in one transaction.
type Store interface {
	SubmitAnswer(ctx context.Context, ans types.Answer, ev outbox.Event) error
}

// Service handles answer submission.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a session service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// SubmitRequest is one answer submission.
type SubmitRequest struct {
	SessionID  string `json:"sessionId"`
	QuestionID string `json:"questionId"`
	Text       string `json:"text"`
}

// Validate checks the request fields.
func (r SubmitRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return fmt.Errorf("sessionId is required")
	}
	if strings.TrimSpace(r.QuestionID) == "" {
		return fmt.Errorf("questionId is required")
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

// SubmitAnswer assigns the answer an id and trace id, then writes the
// answer row and the answer.submitted outbox event atomically. The
// session id is the aggregate key, so one session's events are delivered
// in order.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitRequest) (types.Answer, error) {
	if err := req.Validate(); err != nil {
		return types.Answer{}, err
	}

	now := time.Now()
	ans := types.Answer{
		AnswerID:   newID("ans", now),
		SessionID:  req.SessionID,
		QuestionID: req.QuestionID,
		Text:       req.Text,
		CreatedAt:  now,
	}
	traceID := newID("trc", now)

	ev, err := outbox.NewEvent(types.EventAnswerSubmitted, ans.SessionID, traceID, types.AnswerSubmitted{
		AnswerID:   ans.AnswerID,
		SessionID:  ans.SessionID,
		QuestionID: ans.QuestionID,
		Text:       ans.Text,
	})
	if err != nil {
		return types.Answer{}, err
	}

	if err := s.store.SubmitAnswer(ctx, ans, ev); err != nil {
		return types.Answer{}, fmt.Errorf("submitting answer: %w", err)
	}

	s.logger.Info("answer submitted",
		"answer", ans.AnswerID, "session", ans.SessionID, "question", ans.QuestionID, "trace", traceID)
	return ans, nil
}

func newID(prefix string, now time.Time) string {
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}
