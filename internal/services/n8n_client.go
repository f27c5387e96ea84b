package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"flowdeck/backend/internal/relay"
	"flowdeck/backend/pkg/models"
)

// APIKeyHeader carries the upstream API key.
const APIKeyHeader = "X-N8N-API-KEY"

// ErrUnexpectedFormat is returned when a 2xx response body has the wrong shape.
var ErrUnexpectedFormat = errors.New("unexpected upstream response format")

// UpstreamError is a non-2xx answer from the upstream API, or a relay failure.
type UpstreamError struct {
	Op      string
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("failed to %s: %d - %s", e.Op, e.Status, e.Message)
}

// Relayer is the part of the relay the client needs.
type Relayer interface {
	Do(ctx context.Context, req *relay.Request) *relay.Response
}

// HTTPWorkflowClient is a WorkflowClient that sends every call through the
// relay, exactly as a browser would through /api/v1.
type HTTPWorkflowClient struct {
	relay Relayer
}

// NewHTTPWorkflowClient creates a new HTTPWorkflowClient.
func NewHTTPWorkflowClient(r Relayer) *HTTPWorkflowClient {
	return &HTTPWorkflowClient{relay: r}
}

func (c *HTTPWorkflowClient) do(ctx context.Context, apiKey, method, path string, body any) *relay.Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set(APIKeyHeader, apiKey)
	return c.relay.Do(ctx, &relay.Request{Method: method, Path: path, Header: h, Body: body})
}

// ListWorkflows returns every workflow visible to the key.
func (c *HTTPWorkflowClient) ListWorkflows(ctx context.Context, apiKey string) ([]*models.Workflow, error) {
	resp := c.do(ctx, apiKey, http.MethodGet, "workflows", nil)
	if !ok(resp) {
		return nil, detailedError("load workflows", resp)
	}

	var result struct {
		Data []*models.Workflow `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedFormat, err)
	}
	if result.Data == nil {
		return nil, fmt.Errorf("%w: workflows not found in data", ErrUnexpectedFormat)
	}
	return result.Data, nil
}

// GetWorkflow returns a single workflow, unwrapping {"data": ...} if present.
func (c *HTTPWorkflowClient) GetWorkflow(ctx context.Context, apiKey, id string) (*models.Workflow, error) {
	resp := c.do(ctx, apiKey, http.MethodGet, "workflows/"+url.PathEscape(id), nil)
	if !ok(resp) {
		return nil, detailedError("load workflow", resp)
	}

	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	raw := resp.Body
	if err := json.Unmarshal(resp.Body, &wrapped); err == nil && len(wrapped.Data) > 0 && string(wrapped.Data) != "null" {
		raw = wrapped.Data
	}

	var wf models.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedFormat, err)
	}
	return &wf, nil
}

// UpdateWorkflow sends the minimal update payload.
func (c *HTTPWorkflowClient) UpdateWorkflow(ctx context.Context, apiKey, id string, payload *models.UpdatePayload) error {
	resp := c.do(ctx, apiKey, http.MethodPut, "workflows/"+url.PathEscape(id), payload)
	if !ok(resp) {
		return detailedError("update workflow", resp)
	}
	return nil
}

// ActivateWorkflow turns a workflow on.
func (c *HTTPWorkflowClient) ActivateWorkflow(ctx context.Context, apiKey, id string) error {
	return c.post(ctx, apiKey, id, "activate")
}

// DeactivateWorkflow turns a workflow off.
func (c *HTTPWorkflowClient) DeactivateWorkflow(ctx context.Context, apiKey, id string) error {
	return c.post(ctx, apiKey, id, "deactivate")
}

// ExecuteWorkflow starts a run.
func (c *HTTPWorkflowClient) ExecuteWorkflow(ctx context.Context, apiKey, id string) (*models.Execution, error) {
	resp := c.do(ctx, apiKey, http.MethodPost, "workflows/"+url.PathEscape(id)+"/execute", nil)
	if !ok(resp) {
		return nil, genericError("execute workflow", resp)
	}
	var exec models.Execution
	if err := json.Unmarshal(resp.Body, &exec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedFormat, err)
	}
	return &exec, nil
}

func (c *HTTPWorkflowClient) post(ctx context.Context, apiKey, id, verb string) error {
	resp := c.do(ctx, apiKey, http.MethodPost, "workflows/"+url.PathEscape(id)+"/"+verb, nil)
	if !ok(resp) {
		return genericError(verb+" workflow", resp)
	}
	return nil
}

func ok(resp *relay.Response) bool {
	return resp.Status >= 200 && resp.Status < 300
}

// detailedError builds an UpstreamError from the body's message (upstream
// API) or details (relay envelope), falling back to the status text.
func detailedError(op string, resp *relay.Response) error {
	msg := http.StatusText(resp.Status)
	var body struct {
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		switch {
		case body.Message != "":
			msg = body.Message
		case body.Details != "":
			msg = body.Details
		}
	}
	if msg == "" {
		msg = "unknown error"
	}
	return &UpstreamError{Op: op, Status: resp.Status, Message: msg}
}

func genericError(op string, resp *relay.Response) error {
	return &UpstreamError{Op: op, Status: resp.Status, Message: http.StatusText(resp.Status)}
}
