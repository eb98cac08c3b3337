// Package flow provides a dependency-graph workflow orchestration engine
// for multi-agent pipelines.
package flow

import (
	"context"
	"errors"
)

// ErrNodeTimeout indicates that a single node execution attempt exceeded
// its configured timeout. After all retry attempts are exhausted the
// sentinel is wrapped into a NodeExecutionError, so callers can test for
// it with errors.Is.
var ErrNodeTimeout = errors.New("node execution exceeded timeout")

// ErrRunCancelled indicates that the run was cancelled by the caller.
// Cancellation is deliberate, not a failure: cancelled runs settle with a
// RunCancelled event and every non-terminal node moves to CANCELLED.
var ErrRunCancelled = errors.New("run cancelled")

// ErrRunNotResumable indicates a resume request against a run whose state
// does not allow continuation (already terminal, or never started).
var ErrRunNotResumable = errors.New("run is not in a resumable state")

// ErrNodeNotPaused indicates a resume request naming a node that is not
// waiting for input.
var ErrNodeNotPaused = errors.New("node is not paused for input")

// ErrInvalidRetryPolicy indicates a RetryPolicy with out-of-range fields
// (MaxAttempts < 1, or MaxDelay below BaseDelay).
var ErrInvalidRetryPolicy = errors.New("invalid retry policy configuration")

// ErrWorkflowSealed indicates a structural mutation against a sealed
// workflow that was not opened for dynamic changes.
var ErrWorkflowSealed = errors.New("workflow is sealed against mutation")

// ValidationError indicates a malformed workflow or request detected
// before any dispatch: edges naming unknown nodes, unregistered task
// types, empty plans, duplicate keys within a plan.
//
// Structural problems are always surfaced synchronously, never as
// runtime node failures.
type ValidationError struct {
	// Message is the human-readable description of the violation.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "validation: " + e.Message
}

// DependencyError indicates that adding an edge would create a cycle in
// the workflow graph. It carries the offending edge so callers can report
// exactly which connection was rejected.
type DependencyError struct {
	// From is the node ID at the tail of the rejected edge.
	From string

	// To is the node ID at the head of the rejected edge.
	To string
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	return "dependency cycle: edge " + e.From + " -> " + e.To + " would close a cycle"
}

// NodeExecutionError reports a node whose execution failed after all
// retry attempts. It is recorded in the run's FailureManifest and, for
// timeout failures, wraps ErrNodeTimeout.
type NodeExecutionError struct {
	// NodeID identifies which node failed.
	NodeID string

	// Key is the caller-supplied node key, kept for readable manifests.
	Key string

	// Attempts is the number of execution attempts made.
	Attempts int

	// Cause is the error from the final attempt.
	Cause error
}

// Error implements the error interface.
func (e *NodeExecutionError) Error() string {
	msg := "node " + e.Key + " failed"
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeExecutionError) Unwrap() error {
	return e.Cause
}

// CancellationError reports the node-level effect of a cancelled run: the
// node was still pending or running when the run was cancelled, or its
// upstream dependency failed and the failure policy abandoned the branch.
type CancellationError struct {
	// NodeID identifies the cancelled node.
	NodeID string

	// Reason distinguishes caller cancellation from upstream failure.
	Reason string
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return "node " + e.NodeID + " cancelled: " + e.Reason
}

// Failure is one entry of a run's FailureManifest: the node that failed
// and the error that settled it.
type Failure struct {
	NodeID string
	Key    string
	Err    error
}

// FailureManifest aggregates every node failure observed during a run. It
// is delivered with the terminal RunCompleted or RunFailed event; a run
// under the continue-independent policy can complete with a non-empty
// manifest.
type FailureManifest []Failure

// isTimeout reports whether err is an attempt timeout, either the
// package sentinel or a context deadline from the per-attempt context.
func isTimeout(err error) bool {
	return errors.Is(err, ErrNodeTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Error implements the error interface, joining the individual failures.
func (m FailureManifest) Error() string {
	if len(m) == 0 {
		return "no failures"
	}
	msg := m[0].Err.Error()
	for _, f := range m[1:] {
		msg += "; " + f.Err.Error()
	}
	return msg
}
