package handlers

import (
	"net/http"
)

// Health returns the server health status. The store is considered
// reachable when outbox counts can be read.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if _, err := h.store.Counts(r.Context()); err != nil {
		status = "degraded"
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
