// Package model calls the analysis model endpoints. Each configured tier
// gets its own Client; routing between tiers is the caller's concern.
package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/introspect-labs/introspect/pkg/types"
)

// Request is one analysis call.
type Request struct {
	AnswerID   string      `json:"answerId"`
	SessionID  string      `json:"sessionId"`
	QuestionID string      `json:"questionId"`
	Text       string      `json:"text"`
	Phase      types.Phase `json:"phase"`
}

// Result is a completed analysis. Analysis is the model's structured
// output, stored and forwarded as-is.
type Result struct {
	Model    string          `json:"model"`
	Analysis json.RawMessage `json:"analysis"`
	Degraded bool            `json:"degraded,omitempty"`
}

// Client produces an analysis for one request.
type Client interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// DegradedResult is the placeholder returned when no tier could serve an
// instant analysis. It is explicitly marked so downstream consumers can
// distinguish it from a real result.
func DegradedResult(req Request) Result {
	analysis, _ := json.Marshal(map[string]string{
		"status": "degraded",
		"note":   fmt.Sprintf("analysis unavailable for answer %s", req.AnswerID),
	})
	return Result{Model: "none", Analysis: analysis, Degraded: true}
}
