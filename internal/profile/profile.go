// Package profile consumes completed analysis events and stores their
// results for later profile reads.
package profile

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/introspect-labs/introspect/internal/metrics"
	"github.com/introspect-labs/introspect/internal/stream"
	"github.com/introspect-labs/introspect/pkg/types"
)

// Store persists one phase result per unit key, idempotently.
type Store interface {
	SaveResult(ctx context.Context, unitKey string, phase types.Phase, sessionID string, result json.RawMessage) (bool, error)
}

// Consumer stores analysis.instant.ready and analysis.deep.ready results.
type Consumer struct {
	store  Store
	logger *slog.Logger
}

// NewConsumer creates a profile consumer.
func NewConsumer(store Store, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{store: store, logger: logger}
}

// Handle stores the result carried by a ready event. Other event types
// are acknowledged untouched. Redelivered results are absorbed by the
// store's uniqueness on (unit key, phase).
func (c *Consumer) Handle(ctx context.Context, entry stream.Entry) error {
	switch entry.Envelope.EventType {
	case types.EventInstantReady, types.EventDeepReady:
	default:
		return nil
	}

	var ready types.AnalysisReady
	if err := json.Unmarshal(entry.Envelope.Payload, &ready); err != nil {
		c.logger.Error("dropping malformed analysis result", "id", entry.ID, "error", err)
		return nil
	}

	stored, err := c.store.SaveResult(ctx, ready.AnswerID, ready.Phase, ready.SessionID, ready.Result)
	if err != nil {
		return err
	}
	if !stored {
		metrics.DuplicatesIgnored.Add(1)
		return nil
	}

	metrics.ProfilesStored.Add(1)
	c.logger.Info("profile result stored",
		"answer", ready.AnswerID, "session", ready.SessionID, "phase", string(ready.Phase), "degraded", ready.Degraded)
	return nil
}
