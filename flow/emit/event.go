// Package emit provides the event model and emitters for workflow run
// observability: log and OTel sinks, buffered history, and the bounded
// channel stream the orchestration facade hands to callers.
package emit

// Type identifies what happened in the run lifecycle.
type Type string

const (
	// LevelStarted marks the dispatch of one concurrency level. NodeIDs
	// lists the members; Level is the zero-indexed round number.
	LevelStarted Type = "level_started"

	// NodeCompleted marks one node settling, successfully or not. The
	// Outcome field distinguishes ("success", "failure", "cancelled").
	NodeCompleted Type = "node_completed"

	// NodePaused marks a node parking in PAUSED_FOR_INPUT. Prompt holds
	// the worker's description of the input it needs.
	NodePaused Type = "node_paused"

	// RunPaused marks the run going quiescent with at least one paused
	// node and nothing else dispatchable.
	RunPaused Type = "run_paused"

	// RunCompleted marks the run settling with useful output. Manifest
	// may be non-empty under the continue-independent failure policy.
	RunCompleted Type = "run_completed"

	// RunFailed marks the run settling with nothing useful produced, or
	// stopped by the fail-fast policy. Manifest holds the failures.
	RunFailed Type = "run_failed"

	// RunCancelled marks a deliberate caller cancellation.
	RunCancelled Type = "run_cancelled"
)

// Failure is one failure-manifest entry in a terminal event.
type Failure struct {
	// NodeID identifies the failed node.
	NodeID string `json:"nodeID"`

	// Key is the caller-supplied node key.
	Key string `json:"key"`

	// Err is the rendered failure message.
	Err string `json:"err"`
}

// Event is one observability record from a workflow run.
//
// Which fields are populated depends on Type; RunID and Type are always
// set. Events are values, safe to fan out to multiple emitters.
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string `json:"runID"`

	// Type identifies the lifecycle transition.
	Type Type `json:"type"`

	// Level is the zero-indexed dispatch round. Meaningful for
	// LevelStarted and node-scoped events.
	Level int `json:"level"`

	// NodeID identifies the node for node-scoped events.
	NodeID string `json:"nodeID,omitempty"`

	// NodeKey is the caller-supplied key of the node, for readability.
	NodeKey string `json:"nodeKey,omitempty"`

	// NodeIDs lists the members of a LevelStarted event.
	NodeIDs []string `json:"nodeIDs,omitempty"`

	// Outcome is the node verdict for NodeCompleted events: "success",
	// "failure" or "cancelled".
	Outcome string `json:"outcome,omitempty"`

	// Payload is the node output for successful NodeCompleted events.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Prompt is the requested-input description for NodePaused events.
	Prompt map[string]interface{} `json:"prompt,omitempty"`

	// FinalState is the run state for terminal events.
	FinalState string `json:"finalState,omitempty"`

	// Manifest aggregates node failures for terminal events.
	Manifest []Failure `json:"manifest,omitempty"`

	// Msg is a human-readable description of the event.
	Msg string `json:"msg,omitempty"`
}

// Terminal reports whether the event ends (or suspends) its run's event
// stream: RunCompleted, RunFailed, RunCancelled and RunPaused all close
// the caller's channel.
func (e Event) Terminal() bool {
	switch e.Type {
	case RunCompleted, RunFailed, RunCancelled, RunPaused:
		return true
	default:
		return false
	}
}
