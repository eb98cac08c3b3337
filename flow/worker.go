package flow

import (
	"context"
	"sort"
	"sync"
)

// OutcomeKind classifies how a worker settled a task.
type OutcomeKind string

const (
	// OutcomeSuccess means the task completed and Payload holds the output.
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeFailure means the task failed in a way the worker could
	// describe; Reason holds the detail. Distinct from Execute returning
	// an error, which signals an infrastructure fault eligible for retry.
	OutcomeFailure OutcomeKind = "failure"

	// OutcomeInputRequired means the worker needs external input before
	// it can finish; Prompt describes what it needs. The node parks in
	// PAUSED_FOR_INPUT until Resume supplies the input.
	OutcomeInputRequired OutcomeKind = "input_required"
)

// Outcome is a worker's settled verdict on one task execution.
type Outcome struct {
	// Kind selects which of the remaining fields is meaningful.
	Kind OutcomeKind

	// Payload is the task output when Kind is OutcomeSuccess.
	Payload map[string]interface{}

	// Prompt describes the needed input when Kind is OutcomeInputRequired.
	Prompt map[string]interface{}

	// Reason is the failure detail when Kind is OutcomeFailure.
	Reason string
}

// Success builds a successful outcome carrying the given payload.
func Success(payload map[string]interface{}) Outcome {
	return Outcome{Kind: OutcomeSuccess, Payload: payload}
}

// Failed builds a failure outcome with the given reason.
func Failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailure, Reason: reason}
}

// NeedInput builds an input-required outcome with the given prompt.
func NeedInput(prompt map[string]interface{}) Outcome {
	return Outcome{Kind: OutcomeInputRequired, Prompt: prompt}
}

// Worker executes tasks of one or more task types. Implementations must
// be safe for concurrent use: the engine calls Execute from multiple
// goroutines within a level.
//
// Execute returns (Outcome, nil) for any verdict the worker could reach,
// including failures it can describe. A non-nil error signals an
// infrastructure fault (network, timeout, broken transport) that the
// engine may retry under the node's RetryPolicy.
type Worker interface {
	Execute(ctx context.Context, task Task, rc *RunContext) (Outcome, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, task Task, rc *RunContext) (Outcome, error)

// Execute implements Worker.
func (f WorkerFunc) Execute(ctx context.Context, task Task, rc *RunContext) (Outcome, error) {
	return f(ctx, task, rc)
}

// Registry maps task types to Workers. The engine resolves each node's
// Task.Type through the registry, and validates the whole workflow
// against it before the first dispatch, so an unregistered type is a
// synchronous ValidationError rather than a runtime node failure.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
}

// NewRegistry creates an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]Worker)}
}

// Register binds a task type to a worker. Re-registering a type is a
// ValidationError; registries are meant to be assembled once at startup.
func (r *Registry) Register(taskType string, w Worker) error {
	if taskType == "" {
		return &ValidationError{Message: "task type must not be empty"}
	}
	if w == nil {
		return &ValidationError{Message: "worker for type " + taskType + " is nil"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[taskType]; exists {
		return &ValidationError{Message: "task type already registered: " + taskType}
	}
	r.workers[taskType] = w
	return nil
}

// Lookup returns the worker for a task type.
func (r *Registry) Lookup(taskType string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[taskType]
	return w, ok
}

// Types returns the registered task types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.workers))
	for t := range r.workers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ValidateWorkflow checks that every node's task type has a registered
// worker. Returns a ValidationError naming the first unresolvable node.
func (r *Registry) ValidateWorkflow(w *Workflow) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range w.Nodes() {
		if _, ok := r.workers[n.Task.Type]; !ok {
			return &ValidationError{Message: "no worker registered for task type " + n.Task.Type + " (node " + n.Key + ")"}
		}
	}
	return nil
}
