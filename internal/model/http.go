package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/introspect-labs/introspect/internal/resilience"
	"github.com/introspect-labs/introspect/pkg/types"
)

// HTTPClient calls one model endpoint over JSON.
type HTTPClient struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewHTTPClient builds a client for one configured tier.
func NewHTTPClient(cfg types.TierConfig) *HTTPClient {
	return &HTTPClient{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type generateRequest struct {
	Model      string      `json:"model"`
	Phase      types.Phase `json:"phase"`
	AnswerID   string      `json:"answerId"`
	SessionID  string      `json:"sessionId"`
	QuestionID string      `json:"questionId"`
	Text       string      `json:"text"`
}

type generateResponse struct {
	Analysis json.RawMessage `json:"analysis"`
}

// Generate posts the request to the tier endpoint. 4xx responses are
// permanent (retrying the same request cannot help); 5xx and transport
// errors are left transient for the retry layer.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(generateRequest{
		Model:      c.model,
		Phase:      req.Phase,
		AnswerID:   req.AnswerID,
		SessionID:  req.SessionID,
		QuestionID: req.QuestionID,
		Text:       req.Text,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encoding generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("building generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("calling model %s: %w", c.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("model %s returned %d", c.model, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return Result{}, resilience.Permanent(fmt.Errorf("model %s rejected request: %d", c.model, resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("reading model %s response: %w", c.model, err)
	}
	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, resilience.Permanent(fmt.Errorf("decoding model %s response: %w", c.model, err))
	}
	return Result{Model: c.model, Analysis: out.Analysis}, nil
}
