package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// This emitter captures every event and provides query capabilities for
// post-run analysis. Events are organized by runID for efficient
// retrieval and filtering.
//
// Warning: all events stay in memory. For long-running deployments call
// Clear periodically or prefer a persistent sink.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	engine := flow.NewEngine(registry, flow.WithEmitter(emitter))
//
//	engine.Run(ctx, wf, rc, nil)
//
//	history := emitter.History(wf.RunID())
//	failures := emitter.HistoryWithFilter(wf.RunID(), emit.HistoryFilter{Type: emit.NodeCompleted, Outcome: "failure"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter specifies criteria for filtering run history.
//
// All fields are optional; set fields combine with AND logic.
type HistoryFilter struct {
	NodeID   string // Filter by node ID (empty = no filter)
	Type     Type   // Filter by event type (empty = no filter)
	Outcome  string // Filter by node outcome (empty = no filter)
	MinLevel *int   // Minimum level number (nil = no filter)
	MaxLevel *int   // Maximum level number (nil = no filter)
}

// NewBufferedEmitter creates a BufferedEmitter. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History retrieves all events for a run, in emission order. Returns a
// copy, so callers can inspect it while the run keeps emitting.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// HistoryWithFilter retrieves the events for a run matching every set
// filter field, in emission order.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[runID] {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.NodeID != "" && event.NodeID != filter.NodeID {
		return false
	}
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Outcome != "" && event.Outcome != filter.Outcome {
		return false
	}
	if filter.MinLevel != nil && event.Level < *filter.MinLevel {
		return false
	}
	if filter.MaxLevel != nil && event.Level > *filter.MaxLevel {
		return false
	}
	return true
}

// Clear removes stored events. A non-empty runID clears that run only;
// an empty runID clears everything.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, runID)
	}
}
