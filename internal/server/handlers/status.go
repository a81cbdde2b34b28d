package handlers

import (
	"net/http"

	"github.com/introspect-labs/introspect/pkg/types"
)

type statusResponse struct {
	Outbox   map[types.OutboxStatus]int64 `json:"outbox"`
	Breakers map[string]string            `json:"breakers"`
	InFlight map[string]int               `json:"inFlight"`
}

// Status reports outbox backlog, breaker states, and in-flight
// background work.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.Counts(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to read outbox counts", err)
		return
	}

	h.writeJSON(w, http.StatusOK, statusResponse{
		Outbox:   counts,
		Breakers: h.breakers.States(),
		InFlight: h.registry.InFlight(),
	})
}
