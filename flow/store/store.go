// Package store provides snapshot persistence for workflow runs.
//
// A snapshot is the flat-record form of a run: one record per node with
// its status, task and result, one record per edge, plus the run state.
// Snapshots are written when a run settles or pauses and read back to
// resume a paused run after process restart.
//
// Three backends are provided:
//   - MemoryStore: in-process, for tests and ephemeral runs
//   - SQLiteStore: single-file database, zero-setup persistence
//   - MySQLStore: shared database for multi-process deployments
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound indicates that no snapshot exists for the requested run.
var ErrNotFound = errors.New("snapshot not found")

// NodeRecord is the persisted form of one node.
type NodeRecord struct {
	// RunID identifies the run this node belongs to.
	RunID string

	// NodeID is the node's unique identifier.
	NodeID string

	// Key is the caller-supplied node key.
	Key string

	// Status is the node lifecycle state at snapshot time.
	Status string

	// Task is the JSON-encoded task payload.
	Task json.RawMessage

	// Result is the JSON-encoded success payload, nil if the node has
	// no payload.
	Result json.RawMessage

	// ResultErr is the rendered error for failed or cancelled nodes.
	ResultErr string

	// PauseReason is the JSON-encoded prompt for paused nodes.
	PauseReason json.RawMessage

	// Attempts is how many execution attempts were made.
	Attempts int

	// CreatedAt is when the node was registered in its workflow.
	CreatedAt time.Time

	// StartedAt is when the node first ran (zero if it never did).
	StartedAt time.Time

	// CompletedAt is when the node settled (zero if unsettled).
	CompletedAt time.Time
}

// EdgeRecord is the persisted form of one dependency edge.
type EdgeRecord struct {
	RunID  string
	FromID string
	ToID   string
}

// Snapshot is the complete persisted form of one run.
type Snapshot struct {
	// RunID identifies the run.
	RunID string

	// State is the run lifecycle state at snapshot time.
	State string

	// Query is the originating request the run was planned from.
	Query string

	// SavedAt is when the snapshot was written.
	SavedAt time.Time

	// Nodes holds one record per node, in workflow insertion order.
	Nodes []NodeRecord

	// Edges holds one record per dependency edge.
	Edges []EdgeRecord
}

// SnapshotStore persists run snapshots. Saving is whole-run replacement:
// each SaveSnapshot supersedes any previous snapshot of the same run.
//
// Implementations must be safe for concurrent use.
type SnapshotStore interface {
	// SaveSnapshot persists the snapshot, replacing any existing
	// snapshot for the same run.
	SaveSnapshot(ctx context.Context, snap Snapshot) error

	// LoadSnapshot retrieves the snapshot for a run.
	// Returns ErrNotFound if the run was never saved.
	LoadSnapshot(ctx context.Context, runID string) (Snapshot, error)

	// DeleteSnapshot removes a run's snapshot. Deleting a run that was
	// never saved is not an error.
	DeleteSnapshot(ctx context.Context, runID string) error

	// ListRuns returns the IDs of every persisted run.
	ListRuns(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}
