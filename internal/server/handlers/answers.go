package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/introspect-labs/introspect/internal/session"
)

// SubmitAnswer accepts one coaching answer and records it with its
// outbox event. The response returns before any analysis happens; the
// relay and the analysis workers take it from here.
func (h *Handlers) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req session.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ans, err := h.sessions.SubmitAnswer(r.Context(), req)
	if err != nil {
		if verr := req.Validate(); verr != nil {
			h.writeError(w, http.StatusBadRequest, verr.Error(), nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to submit answer", err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, ans)
}

// GetAnalysis returns the analysis task state for one answer.
func (h *Handlers) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	answerID := chi.URLParam(r, "answerID")

	task, ok, err := h.store.GetTask(r.Context(), answerID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load analysis", err)
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "no analysis for answer", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, task)
}
