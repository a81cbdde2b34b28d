// Package types defines the public domain types for the introspect event substrate.
package types

// EventType tags an event envelope with its logical meaning.
type EventType string

// EventType values enumerate the events the substrate produces and consumes.
const (
	EventAnswerSubmitted EventType = "answer.submitted"
	EventInstantReady    EventType = "analysis.instant.ready"
	EventDeepReady       EventType = "analysis.deep.ready"
	EventDeepFailed      EventType = "analysis.deep.failed"
)

// OutboxStatus represents the delivery state of an outbox row.
type OutboxStatus string

// OutboxStatus values: pending rows await the relay, published is terminal,
// failed is terminal and requires operator intervention.
const (
	OutboxPending   OutboxStatus = "pending"
	OutboxPublished OutboxStatus = "published"
	OutboxFailed    OutboxStatus = "failed"
)

// Phase identifies one of the two analysis passes for a unit of work.
type Phase string

const (
	PhaseInstant Phase = "instant"
	PhaseDeep    Phase = "deep"
)

// PhaseStatus represents the lifecycle state of a single analysis phase.
type PhaseStatus string

// PhaseStatus values represent the lifecycle states of an analysis phase.
const (
	PhasePending PhaseStatus = "PENDING"
	PhaseRunning PhaseStatus = "RUNNING"
	PhaseDone    PhaseStatus = "DONE"
	PhaseFailed  PhaseStatus = "FAILED"
)

// FailureCategory classifies why a dependency call failed.
type FailureCategory string

const (
	FailureTransient   FailureCategory = "TRANSIENT"
	FailurePermanent   FailureCategory = "PERMANENT"
	FailureTimeout     FailureCategory = "TIMEOUT"
	FailureCircuitOpen FailureCategory = "CIRCUIT_OPEN"
)

// AlertType defines the alert sink type.
type AlertType string

// AlertType values enumerate the supported alert sink backends.
const (
	AlertConsole AlertType = "console"
	AlertFile    AlertType = "file"
	AlertWebhook AlertType = "webhook"
)

// AlertLevel defines alert severity.
type AlertLevel string

const (
	AlertLevelInfo    AlertLevel = "info"
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelError   AlertLevel = "error"
)
