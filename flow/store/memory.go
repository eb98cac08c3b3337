package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process SnapshotStore.
//
// Designed for:
//   - Tests (no setup, no files)
//   - Ephemeral runs where persistence across restarts is not needed
//
// Snapshots are deep-copied on save and load, so callers can keep
// mutating their records without aliasing the stored data.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

// SaveSnapshot stores a copy of the snapshot, replacing any previous
// snapshot of the same run.
func (m *MemoryStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.RunID] = copySnapshot(snap)
	return nil
}

// LoadSnapshot returns a copy of the stored snapshot, or ErrNotFound.
func (m *MemoryStore) LoadSnapshot(_ context.Context, runID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[runID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return copySnapshot(snap), nil
}

// DeleteSnapshot removes the snapshot for a run.
func (m *MemoryStore) DeleteSnapshot(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, runID)
	return nil
}

// ListRuns returns every stored run ID, sorted.
func (m *MemoryStore) ListRuns(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.snaps))
	for id := range m.snaps {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func copySnapshot(snap Snapshot) Snapshot {
	out := snap
	out.Nodes = make([]NodeRecord, len(snap.Nodes))
	for i, n := range snap.Nodes {
		// Clone the raw JSON too; a shallow record copy would still
		// alias the byte slices with the caller.
		n.Task = bytes.Clone(n.Task)
		n.Result = bytes.Clone(n.Result)
		n.PauseReason = bytes.Clone(n.PauseReason)
		out.Nodes[i] = n
	}
	out.Edges = make([]EdgeRecord, len(snap.Edges))
	copy(out.Edges, snap.Edges)
	return out
}
