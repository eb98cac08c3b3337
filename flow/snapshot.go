package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jharlan/flowgraph-go/flow/store"
)

// Snapshot flattens the workflow into persistable records: one per node
// and one per edge, plus the run state. Task, result and pause payloads
// are JSON-encoded.
func (w *Workflow) Snapshot() (store.Snapshot, error) {
	snap := store.Snapshot{
		RunID:   w.RunID(),
		State:   string(w.State()),
		SavedAt: time.Now().UTC(),
	}

	for _, n := range w.Nodes() {
		rec, err := nodeRecord(w.RunID(), n)
		if err != nil {
			return store.Snapshot{}, err
		}
		snap.Nodes = append(snap.Nodes, rec)
	}

	for _, e := range w.Edges() {
		snap.Edges = append(snap.Edges, store.EdgeRecord{
			RunID:  w.RunID(),
			FromID: e[0],
			ToID:   e[1],
		})
	}
	return snap, nil
}

func nodeRecord(runID string, n *Node) (store.NodeRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	task, err := json.Marshal(n.Task)
	if err != nil {
		return store.NodeRecord{}, fmt.Errorf("failed to encode task for node %s: %w", n.Key, err)
	}

	rec := store.NodeRecord{
		RunID:       runID,
		NodeID:      n.ID,
		Key:         n.Key,
		Status:      string(n.status),
		Task:        task,
		Attempts:    n.attempts,
		CreatedAt:   n.createdAt,
		StartedAt:   n.startedAt,
		CompletedAt: n.completedAt,
	}

	if n.result != nil {
		if n.result.Payload != nil {
			payload, err := json.Marshal(n.result.Payload)
			if err != nil {
				return store.NodeRecord{}, fmt.Errorf("failed to encode result for node %s: %w", n.Key, err)
			}
			rec.Result = payload
		}
		if n.result.Err != nil {
			rec.ResultErr = n.result.Err.Error()
		}
	}

	if n.pauseReason != nil {
		prompt, err := json.Marshal(n.pauseReason)
		if err != nil {
			return store.NodeRecord{}, fmt.Errorf("failed to encode pause reason for node %s: %w", n.Key, err)
		}
		rec.PauseReason = prompt
	}
	return rec, nil
}

// RestoreWorkflow rebuilds a Workflow from a snapshot so a paused run
// can continue after process restart.
//
// Nodes that were RUNNING at snapshot time return to PENDING: their
// attempt was lost with the process, and the planner re-dispatches them
// with the last incomplete level. Settled and paused nodes keep their
// recorded status, result and prompt.
func RestoreWorkflow(snap store.Snapshot) (*Workflow, error) {
	if snap.RunID == "" {
		return nil, &ValidationError{Message: "snapshot has no run id"}
	}

	w := NewWorkflow(WithRunID(snap.RunID))

	for _, rec := range snap.Nodes {
		n, err := restoreNode(rec)
		if err != nil {
			return nil, err
		}
		w.nodes[n.ID] = n
		w.byKey[n.Key] = n
		w.order = append(w.order, n)
	}

	for _, e := range snap.Edges {
		if err := w.addEdgeLocked(e.FromID, e.ToID); err != nil {
			return nil, fmt.Errorf("failed to restore edge: %w", err)
		}
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}

	w.restoreState(RunState(snap.State))
	w.Seal()
	return w, nil
}

func restoreNode(rec store.NodeRecord) (*Node, error) {
	var task Task
	if err := json.Unmarshal(rec.Task, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task for node %s: %w", rec.Key, err)
	}

	n := &Node{
		ID:          rec.NodeID,
		Key:         rec.Key,
		Task:        task,
		attempts:    rec.Attempts,
		createdAt:   rec.CreatedAt,
		startedAt:   rec.StartedAt,
		completedAt: rec.CompletedAt,
	}

	status := Status(rec.Status)
	switch status {
	case StatusRunning, StatusReady:
		// The in-flight attempt died with the process; re-plan it.
		n.status = StatusPending
	case "":
		n.status = StatusPending
	default:
		n.status = status
	}

	if len(rec.Result) > 0 {
		var payload map[string]interface{}
		if err := json.Unmarshal(rec.Result, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode result for node %s: %w", rec.Key, err)
		}
		n.result = &Result{Payload: payload}
	}
	if rec.ResultErr != "" {
		if n.result == nil {
			n.result = &Result{}
		}
		n.result.Err = errors.New(rec.ResultErr)
	}

	if len(rec.PauseReason) > 0 {
		var prompt map[string]interface{}
		if err := json.Unmarshal(rec.PauseReason, &prompt); err != nil {
			return nil, fmt.Errorf("failed to decode pause reason for node %s: %w", rec.Key, err)
		}
		n.pauseReason = prompt
	}
	return n, nil
}
