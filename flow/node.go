package flow

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a single node.
//
// Legal transitions:
//
//	PENDING -> READY -> RUNNING -> {COMPLETED, FAILED, PAUSED_FOR_INPUT, CANCELLED}
//	PAUSED_FOR_INPUT -> READY (resume with input)
//	PENDING -> CANCELLED (run cancelled, or upstream failure)
//
// COMPLETED, FAILED and CANCELLED are terminal. PAUSED_FOR_INPUT is not:
// a paused node resumes to READY once the caller supplies input.
type Status string

const (
	// StatusPending means the node is registered but its dependencies
	// have not all completed.
	StatusPending Status = "PENDING"

	// StatusReady means every dependency has completed and the node is
	// eligible for the next dispatch level.
	StatusReady Status = "READY"

	// StatusRunning means a worker is currently executing the node.
	StatusRunning Status = "RUNNING"

	// StatusCompleted means the node finished successfully and its
	// Result payload is available to downstream nodes.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed means the node failed after exhausting its retries.
	StatusFailed Status = "FAILED"

	// StatusPausedForInput means the worker requested external input.
	// The node holds its level; independent branches keep executing.
	StatusPausedForInput Status = "PAUSED_FOR_INPUT"

	// StatusCancelled means the node was abandoned, either because the
	// run was cancelled or because an upstream dependency failed.
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is the opaque work payload attached to a node. The engine never
// interprets it; it is handed to the Worker registered for Type.
type Task struct {
	// Type selects the Worker from the registry (e.g. "research",
	// "http", "anthropic").
	Type string

	// Description is the human-readable statement of what the node
	// should do. Agent workers typically use it as the prompt.
	Description string

	// Input carries structured inputs for the worker. Resume merges the
	// caller-supplied input into this map before re-dispatch.
	Input map[string]interface{}

	// Metadata carries caller annotations that workers may consult but
	// the engine ignores.
	Metadata map[string]interface{}
}

// Result is the settled output of a node execution.
type Result struct {
	// Payload is the worker's output for a completed node.
	Payload map[string]interface{}

	// Err is set instead of Payload when the node failed.
	Err error
}

// Node is a single unit of work in a Workflow.
//
// All mutable fields are guarded by the node's own mutex; callers go
// through the accessor methods rather than touching fields directly. The
// Workflow owns structural facts (edges, ordering); the Node owns its
// execution state.
type Node struct {
	// ID is the engine-assigned unique identifier (a UUID).
	ID string

	// Key is the caller-supplied name. Planners reference dependencies
	// by key; keys need not be unique across the workflow.
	Key string

	// Task is the work payload. Task.Input is mutated on resume, under
	// the node mutex.
	Task Task

	mu          sync.Mutex
	status      Status
	result      *Result
	pauseReason map[string]interface{}
	attempts    int

	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// Status returns the node's current lifecycle state.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// Result returns the settled result, or nil while the node is unsettled.
func (n *Node) Result() *Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.result
}

// PauseReason returns the prompt payload supplied by the worker when it
// requested input, or nil if the node is not paused.
func (n *Node) PauseReason() map[string]interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pauseReason
}

// Attempts returns how many execution attempts have been made.
func (n *Node) Attempts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts
}

// CreatedAt returns when the node was registered in its workflow.
func (n *Node) CreatedAt() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.createdAt
}

// StartedAt returns when the first execution attempt began (zero if the
// node never ran).
func (n *Node) StartedAt() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.startedAt
}

// CompletedAt returns when the node reached a terminal status (zero if
// it has not).
func (n *Node) CompletedAt() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.completedAt
}

// markRunning transitions the node to RUNNING and records the start
// timestamp on the first dispatch.
func (n *Node) markRunning() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = StatusRunning
	if n.startedAt.IsZero() {
		n.startedAt = time.Now()
	}
}

// noteAttempt counts one execution attempt.
func (n *Node) noteAttempt() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++
}

// taskSnapshot returns a copy of the task safe to hand to a worker
// while resume may later mutate the original input map.
func (n *Node) taskSnapshot() Task {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := n.Task
	if n.Task.Input != nil {
		t.Input = make(map[string]interface{}, len(n.Task.Input))
		for k, v := range n.Task.Input {
			t.Input[k] = v
		}
	}
	return t
}

// markCompleted settles the node with a success payload.
func (n *Node) markCompleted(payload map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = StatusCompleted
	n.result = &Result{Payload: payload}
	n.pauseReason = nil
	n.completedAt = time.Now()
}

// markFailed settles the node with an error.
func (n *Node) markFailed(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = StatusFailed
	n.result = &Result{Err: err}
	n.completedAt = time.Now()
}

// markPaused parks the node waiting for external input. The prompt is
// retained so the caller can see what the worker asked for.
func (n *Node) markPaused(prompt map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = StatusPausedForInput
	n.pauseReason = prompt
}

// markCancelled settles the node as abandoned. A node that already
// reached a terminal status keeps it; cancellation never rewrites
// COMPLETED or FAILED.
func (n *Node) markCancelled(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status.Terminal() {
		return
	}
	n.status = StatusCancelled
	n.result = &Result{Err: &CancellationError{NodeID: n.ID, Reason: reason}}
	n.completedAt = time.Now()
}

// resume merges caller input into the task payload and returns the node
// to READY. Returns ErrNodeNotPaused unless the node is waiting for
// input.
func (n *Node) resume(input map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status != StatusPausedForInput {
		return ErrNodeNotPaused
	}
	if n.Task.Input == nil {
		n.Task.Input = make(map[string]interface{}, len(input))
	}
	for k, v := range input {
		n.Task.Input[k] = v
	}
	n.status = StatusReady
	n.pauseReason = nil
	return nil
}

// setReady moves a PENDING node to READY once its dependencies have all
// completed. Other states are left untouched.
func (n *Node) setReady() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status == StatusPending {
		n.status = StatusReady
	}
}
