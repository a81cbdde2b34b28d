// Package analysis runs the two-phase analysis of submitted answers: a
// bounded instant pass answered inline, and a deep pass tracked as
// background work. Both passes route through the model fallback chain
// and emit their completion events through the outbox.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/introspect-labs/introspect/internal/lifecycle"
	"github.com/introspect-labs/introspect/internal/metrics"
	"github.com/introspect-labs/introspect/internal/model"
	"github.com/introspect-labs/introspect/internal/outbox"
	"github.com/introspect-labs/introspect/internal/resilience"
	"github.com/introspect-labs/introspect/internal/stream"
	"github.com/introspect-labs/introspect/internal/tasks"
	"github.com/introspect-labs/introspect/pkg/types"
)

// TaskStore is the durable task state the coordinator transitions.
// CompletePhase and FailPhase append their event in the same transaction
// as the status change, which is what makes per-phase emission
// at-most-once under redelivery.
type TaskStore interface {
	EnsureTask(ctx context.Context, unitKey, aggregateKey, traceID string, now time.Time) (types.AnalysisTask, error)
	BeginPhase(ctx context.Context, unitKey string, phase types.Phase, now time.Time, staleAfter time.Duration) (bool, error)
	CompletePhase(ctx context.Context, unitKey string, phase types.Phase, result json.RawMessage, ev outbox.Event, now time.Time) (bool, error)
	FailPhase(ctx context.Context, unitKey string, phase types.Phase, ev outbox.Event, now time.Time) (bool, error)
}

// Tier pairs a configured model client with its breaker label.
type Tier struct {
	Label  string
	Client model.Client
}

// NewTiers builds HTTP-backed tiers from configuration, in configured
// preference order.
func NewTiers(cfgs []types.TierConfig) []Tier {
	tiers := make([]Tier, 0, len(cfgs))
	for _, cfg := range cfgs {
		tiers = append(tiers, Tier{Label: cfg.Label, Client: model.NewHTTPClient(cfg)})
	}
	return tiers
}

// Config bounds the two passes. A phase that has been RUNNING longer
// than its timeout is considered abandoned and relaunched on redelivery.
type Config struct {
	InstantTimeout time.Duration // default 5s
	DeepTimeout    time.Duration // default 2m
}

func (c Config) withDefaults() Config {
	if c.InstantTimeout <= 0 {
		c.InstantTimeout = 5 * time.Second
	}
	if c.DeepTimeout <= 0 {
		c.DeepTimeout = 2 * time.Minute
	}
	return c
}

// Coordinator consumes answer.submitted events and drives both analysis
// phases for each one.
type Coordinator struct {
	store    TaskStore
	tiers    []Tier
	breakers *resilience.Registry
	retry    resilience.RetryPolicy
	registry *tasks.Registry
	cfg      Config
	alertFn  func(context.Context, types.Alert)
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewCoordinator creates a coordinator. alertFn may be nil.
func NewCoordinator(store TaskStore, tiers []Tier, breakers *resilience.Registry, retry resilience.RetryPolicy,
	registry *tasks.Registry, cfg Config, alertFn func(context.Context, types.Alert), logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    store,
		tiers:    tiers,
		breakers: breakers,
		retry:    retry,
		registry: registry,
		cfg:      cfg.withDefaults(),
		alertFn:  alertFn,
		logger:   logger,
		tracer:   otel.Tracer("introspect/analysis"),
	}
}

// Handle processes one delivered stream entry. Returning an error leaves
// the entry pending for redelivery; returning nil acknowledges it.
func (c *Coordinator) Handle(ctx context.Context, entry stream.Entry) error {
	if entry.Envelope.EventType != types.EventAnswerSubmitted {
		return nil
	}

	var sub types.AnswerSubmitted
	if err := json.Unmarshal(entry.Envelope.Payload, &sub); err != nil {
		// Malformed payloads never heal on redelivery.
		c.logger.Error("dropping malformed answer.submitted payload", "id", entry.ID, "error", err)
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "analysis.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("analysis.answer", sub.AnswerID),
		attribute.String("analysis.session", sub.SessionID),
	)

	now := time.Now()
	task, err := c.store.EnsureTask(ctx, sub.AnswerID, entry.Envelope.AggregateKey, entry.Envelope.TraceID, now)
	if err != nil {
		return err
	}

	if lifecycle.IsTerminal(task.InstantStatus) && lifecycle.IsTerminal(task.DeepStatus) {
		metrics.DuplicatesIgnored.Add(1)
		c.logger.Debug("duplicate delivery ignored", "answer", sub.AnswerID)
		return nil
	}

	if err := c.runInstant(ctx, task, sub); err != nil {
		return err
	}
	return c.launchDeep(ctx, task, sub)
}

// runInstant performs the instant pass inline. Chain exhaustion degrades
// to a placeholder result rather than failing the delivery: the answer
// flow must not stall on model trouble.
func (c *Coordinator) runInstant(ctx context.Context, task types.AnalysisTask, sub types.AnswerSubmitted) error {
	now := time.Now()
	began, err := c.store.BeginPhase(ctx, task.UnitKey, types.PhaseInstant, now, c.cfg.InstantTimeout)
	if err != nil {
		return err
	}
	if !began {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "analysis.instant")
	defer span.End()

	req := model.Request{
		AnswerID:   sub.AnswerID,
		SessionID:  sub.SessionID,
		QuestionID: sub.QuestionID,
		Text:       sub.Text,
		Phase:      types.PhaseInstant,
	}

	result, err := c.route(ctx, req, c.cfg.InstantTimeout)
	if err != nil {
		var exhausted *resilience.ExhaustedError
		if !errors.As(err, &exhausted) {
			// Delivery-level failure (shutdown, store trouble). Leave the
			// phase RUNNING; the stale claim expires and redelivery retries.
			return err
		}
		metrics.InstantDegraded.Add(1)
		c.logger.Warn("instant analysis degraded", "answer", sub.AnswerID, "error", err)
		c.alert(ctx, types.AlertLevelWarning, "instant_degraded", sub.SessionID,
			fmt.Sprintf("instant analysis for answer %s degraded: %v", sub.AnswerID, err))
		result = model.DegradedResult(req)
	}

	return c.completePhase(ctx, task, sub, types.PhaseInstant, types.EventInstantReady, result)
}

// launchDeep hands the deep pass to the background registry. The claim is
// taken before launch so a redelivery arriving mid-run does not start a
// second worker.
func (c *Coordinator) launchDeep(ctx context.Context, task types.AnalysisTask, sub types.AnswerSubmitted) error {
	began, err := c.store.BeginPhase(ctx, task.UnitKey, types.PhaseDeep, time.Now(), c.cfg.DeepTimeout)
	if err != nil {
		return err
	}
	if !began {
		return nil
	}

	if err := c.registry.Go("analysis.deep", func(taskCtx context.Context) error {
		c.runDeep(taskCtx, task, sub)
		return nil
	}); err != nil {
		// Rejected at shutdown. The RUNNING claim goes stale and a
		// redelivered entry relaunches the pass.
		return err
	}
	return nil
}

func (c *Coordinator) runDeep(ctx context.Context, task types.AnalysisTask, sub types.AnswerSubmitted) {
	ctx, span := c.tracer.Start(ctx, "analysis.deep")
	defer span.End()
	span.SetAttributes(attribute.String("analysis.answer", sub.AnswerID))

	req := model.Request{
		AnswerID:   sub.AnswerID,
		SessionID:  sub.SessionID,
		QuestionID: sub.QuestionID,
		Text:       sub.Text,
		Phase:      types.PhaseDeep,
	}

	result, err := c.route(ctx, req, c.cfg.DeepTimeout)
	if err != nil {
		c.failDeep(ctx, task, sub, err)
		return
	}
	if err := c.completePhase(ctx, task, sub, types.PhaseDeep, types.EventDeepReady, result); err != nil {
		c.logger.Error("completing deep phase failed", "answer", sub.AnswerID, "error", err)
	}
}

func (c *Coordinator) completePhase(ctx context.Context, task types.AnalysisTask, sub types.AnswerSubmitted,
	phase types.Phase, eventType types.EventType, result model.Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding %s result: %w", phase, err)
	}

	ev, err := outbox.NewEvent(eventType, task.AggregateKey, task.TraceID, types.AnalysisReady{
		AnswerID:  sub.AnswerID,
		SessionID: sub.SessionID,
		Phase:     phase,
		Result:    resultJSON,
		Degraded:  result.Degraded,
	})
	if err != nil {
		return err
	}

	emitted, err := c.store.CompletePhase(ctx, task.UnitKey, phase, resultJSON, ev, time.Now())
	if err != nil {
		return fmt.Errorf("completing %s phase: %w", phase, err)
	}
	if !emitted {
		c.logger.Debug("phase already settled", "answer", sub.AnswerID, "phase", phase)
		return nil
	}

	switch phase {
	case types.PhaseInstant:
		metrics.InstantCompleted.Add(1)
	case types.PhaseDeep:
		metrics.DeepCompleted.Add(1)
	}
	c.logger.Info("analysis phase complete",
		"answer", sub.AnswerID, "phase", string(phase), "model", result.Model, "degraded", result.Degraded)
	return nil
}

func (c *Coordinator) failDeep(ctx context.Context, task types.AnalysisTask, sub types.AnswerSubmitted, cause error) {
	ev, err := outbox.NewEvent(types.EventDeepFailed, task.AggregateKey, task.TraceID, types.AnalysisFailed{
		AnswerID:  sub.AnswerID,
		SessionID: sub.SessionID,
		Phase:     types.PhaseDeep,
		Reason:    cause.Error(),
	})
	if err != nil {
		c.logger.Error("encoding deep failure event", "answer", sub.AnswerID, "error", err)
		return
	}

	emitted, err := c.store.FailPhase(ctx, task.UnitKey, types.PhaseDeep, ev, time.Now())
	if err != nil {
		c.logger.Error("failing deep phase", "answer", sub.AnswerID, "error", err)
		return
	}
	if !emitted {
		return
	}

	metrics.DeepFailed.Add(1)
	c.logger.Error("deep analysis failed", "answer", sub.AnswerID, "error", cause)
	c.alert(ctx, types.AlertLevelError, "deep_failed", sub.SessionID,
		fmt.Sprintf("deep analysis for answer %s failed: %v", sub.AnswerID, cause))
}

// route builds a chain for this request over the shared breaker registry
// and tries the tiers in preference order.
func (c *Coordinator) route(ctx context.Context, req model.Request, callTimeout time.Duration) (model.Result, error) {
	chainTiers := make([]resilience.Tier[model.Result], 0, len(c.tiers))
	for _, t := range c.tiers {
		client := t.Client
		chainTiers = append(chainTiers, resilience.Tier[model.Result]{
			Label: t.Label,
			Invoke: func(ctx context.Context) (model.Result, error) {
				return client.Generate(ctx, req)
			},
		})
	}
	chain := resilience.NewChain(c.breakers, c.retry, callTimeout, c.logger, chainTiers...)
	return chain.Route(ctx)
}

func (c *Coordinator) alert(ctx context.Context, level types.AlertLevel, category, aggregateKey, msg string) {
	if c.alertFn == nil {
		return
	}
	c.alertFn(ctx, types.Alert{
		Level:        level,
		Category:     category,
		AggregateKey: aggregateKey,
		Message:      msg,
		Timestamp:    time.Now(),
	})
}
