// Package handlers implements HTTP request handlers for the introspect API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/introspect-labs/introspect/internal/resilience"
	"github.com/introspect-labs/introspect/internal/session"
	"github.com/introspect-labs/introspect/internal/tasks"
	"github.com/introspect-labs/introspect/pkg/types"
)

// StatusStore reads the operational state the status endpoints expose.
type StatusStore interface {
	Counts(ctx context.Context) (map[types.OutboxStatus]int64, error)
	GetTask(ctx context.Context, unitKey string) (types.AnalysisTask, bool, error)
}

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	sessions *session.Service
	store    StatusStore
	breakers *resilience.Registry
	registry *tasks.Registry
	logger   *slog.Logger
}

// New creates a new Handlers instance.
func New(sessions *session.Service, store StatusStore, breakers *resilience.Registry, registry *tasks.Registry) *Handlers {
	return &Handlers{
		sessions: sessions,
		store:    store,
		breakers: breakers,
		registry: registry,
		logger:   slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response failed", "error", err)
	}
}
