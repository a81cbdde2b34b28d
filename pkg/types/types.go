package types

import (
	"encoding/json"
	"time"
)

// Envelope is the wire format of an event on the stream. The payload is
// opaque to the substrate; consumers decode it by event type.
type Envelope struct {
	EventType    EventType       `json:"eventType"`
	AggregateKey string          `json:"aggregateKey"`
	TraceID      string          `json:"traceId"`
	Payload      json.RawMessage `json:"payload"`
	PublishedAt  time.Time       `json:"publishedAt"`
}

// AnalysisTask tracks the two-phase analysis of one unit of work.
// UnitKey is the idempotency key (the answer id); completion events for a
// given phase are emitted at most once per unit key.
type AnalysisTask struct {
	UnitKey       string          `json:"unitKey"`
	AggregateKey  string          `json:"aggregateKey"`
	TraceID       string          `json:"traceId"`
	InstantStatus PhaseStatus     `json:"instantStatus"`
	DeepStatus    PhaseStatus     `json:"deepStatus"`
	InstantResult json.RawMessage `json:"instantResult,omitempty"`
	DeepResult    json.RawMessage `json:"deepResult,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Answer is the business record written alongside its outbox row.
type Answer struct {
	AnswerID   string    `json:"answerId"`
	SessionID  string    `json:"sessionId"`
	QuestionID string    `json:"questionId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AnswerSubmitted is the payload of the answer.submitted event.
type AnswerSubmitted struct {
	AnswerID   string `json:"answerId"`
	SessionID  string `json:"sessionId"`
	QuestionID string `json:"questionId"`
	Text       string `json:"text"`
}

// AnalysisReady is the payload of analysis.instant.ready and
// analysis.deep.ready events.
type AnalysisReady struct {
	AnswerID  string          `json:"answerId"`
	SessionID string          `json:"sessionId"`
	Phase     Phase           `json:"phase"`
	Result    json.RawMessage `json:"result"`
	Degraded  bool            `json:"degraded,omitempty"`
}

// AnalysisFailed is the payload of the analysis.deep.failed event.
type AnalysisFailed struct {
	AnswerID  string `json:"answerId"`
	SessionID string `json:"sessionId"`
	Phase     Phase  `json:"phase"`
	Reason    string `json:"reason"`
}

// Alert is a notification dispatched to configured sinks.
type Alert struct {
	Level        AlertLevel             `json:"level"`
	Category     string                 `json:"category,omitempty"`
	AggregateKey string                 `json:"aggregateKey,omitempty"`
	Message      string                 `json:"message"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}
