// Package worker provides Worker implementations: a remote HTTP worker
// speaking a small JSON protocol over pooled connections, and a
// scripted worker for tests and examples. Provider-backed agent workers
// live in the subpackages (anthropic, openai, google).
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jharlan/flowgraph-go/flow"
	"github.com/jharlan/flowgraph-go/flow/pool"
)

// taskRequest is the JSON body POSTed to a remote worker.
type taskRequest struct {
	RunID       string                 `json:"runID"`
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// taskResponse is the JSON body a remote worker answers with.
type taskResponse struct {
	// Status is "success", "failure" or "input_required".
	Status  string                 `json:"status"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Prompt  map[string]interface{} `json:"prompt,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// HTTPWorker executes tasks on a remote worker process over pooled HTTP
// connections. Each execution leases one connection for its duration,
// so the pool's per-endpoint cap bounds the remote worker's concurrency
// and pool.ErrExhausted surfaces saturation to the engine.
//
// Protocol: POST {executePath} with a taskRequest body; the remote
// answers a taskResponse. Transport and non-2xx errors are returned as
// errors (retryable under the engine's policy); protocol-level failures
// come back as failure outcomes.
type HTTPWorker struct {
	pool        *pool.Pool
	endpoint    string
	executePath string
}

// NewHTTPWorker creates a worker bound to one endpoint (base URL).
// executePath defaults to "/execute" when empty.
func NewHTTPWorker(p *pool.Pool, endpoint, executePath string) (*HTTPWorker, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if executePath == "" {
		executePath = "/execute"
	}
	return &HTTPWorker{pool: p, endpoint: endpoint, executePath: executePath}, nil
}

// Execute implements flow.Worker.
func (w *HTTPWorker) Execute(ctx context.Context, task flow.Task, rc *flow.RunContext) (flow.Outcome, error) {
	body, err := json.Marshal(taskRequest{
		RunID:       rc.RunID,
		Type:        task.Type,
		Description: task.Description,
		Input:       task.Input,
		Metadata:    task.Metadata,
	})
	if err != nil {
		return flow.Outcome{}, fmt.Errorf("failed to encode task: %w", err)
	}

	h, err := w.pool.Acquire(ctx, w.endpoint)
	if err != nil {
		return flow.Outcome{}, err
	}

	conn, ok := h.Conn.(*pool.HTTPConn)
	if !ok {
		w.pool.Release(h)
		return flow.Outcome{}, fmt.Errorf("pool handed a non-HTTP connection for %s", w.endpoint)
	}

	respBody, err := conn.Post(ctx, w.executePath, body)
	if err != nil {
		// The connection may be broken; retire it rather than reuse.
		w.pool.Discard(h)
		return flow.Outcome{}, err
	}
	w.pool.Release(h)

	var resp taskResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return flow.Outcome{}, fmt.Errorf("failed to decode worker response: %w", err)
	}

	switch resp.Status {
	case "success":
		return flow.Success(resp.Payload), nil
	case "failure":
		reason := resp.Error
		if reason == "" {
			reason = "remote worker reported failure"
		}
		return flow.Failed(reason), nil
	case "input_required":
		return flow.NeedInput(resp.Prompt), nil
	default:
		return flow.Outcome{}, fmt.Errorf("remote worker returned unknown status %q", resp.Status)
	}
}
