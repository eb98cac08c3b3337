package flow

import (
	"sync"
	"time"
)

// RunContext is the explicit per-run context handed to every worker
// invocation. It replaces ambient run state: workers read the run
// identity, the originating query and the settled results of their
// upstream nodes from here instead of from shared globals.
type RunContext struct {
	// RunID identifies the run this execution belongs to.
	RunID string

	// Query is the originating request the run was planned from. Empty
	// for hand-built workflows.
	Query string

	// StartedAt is when the engine began (or resumed) the run.
	StartedAt time.Time

	mu      sync.RWMutex
	values  map[string]interface{}
	results map[string]map[string]interface{}
}

// NewRunContext creates a RunContext for the given run.
func NewRunContext(runID string) *RunContext {
	return &RunContext{
		RunID:     runID,
		StartedAt: time.Now(),
		values:    make(map[string]interface{}),
		results:   make(map[string]map[string]interface{}),
	}
}

// SetValue stores a run-scoped value shared across workers.
func (rc *RunContext) SetValue(key string, v interface{}) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.values[key] = v
}

// Value returns a run-scoped value previously stored with SetValue.
func (rc *RunContext) Value(key string) (interface{}, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.values[key]
	return v, ok
}

// Result returns the payload of a completed upstream node by its key.
// Workers use this to consume their dependencies' outputs. When several
// nodes share a key, the payload of the one that completed last wins.
func (rc *RunContext) Result(nodeKey string) (map[string]interface{}, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	p, ok := rc.results[nodeKey]
	return p, ok
}

// Results returns a copy of every completed node payload keyed by node
// key. Fan-in workers aggregate from here.
func (rc *RunContext) Results() map[string]map[string]interface{} {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make(map[string]map[string]interface{}, len(rc.results))
	for k, v := range rc.results {
		out[k] = v
	}
	return out
}

// setResult records a completed node's payload. Called by the engine
// when a node settles successfully.
func (rc *RunContext) setResult(nodeKey string, payload map[string]interface{}) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.results[nodeKey] = payload
}
