package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter implements Emitter by writing structured log output to a
// writer.
//
// Supports two output modes:
//   - Text mode (default): human-readable format with key=value pairs
//   - JSON mode: machine-readable JSONL, one event per line
//
// Example text output:
//
//	[level_started] runID=run-001 level=0 nodes=[a b c]
//	[node_completed] runID=run-001 level=0 nodeID=n-1 key=a outcome=success
//
// Example JSON output:
//
//	{"runID":"run-001","type":"node_completed","level":0,"nodeID":"n-1","outcome":"success"}
//
// Usage:
//
//	// Text output to stdout
//	emitter := emit.NewLogEmitter(os.Stdout, false)
//
//	// JSONL output to file
//	f, _ := os.Create("events.jsonl")
//	defer f.Close()
//	emitter := emit.NewLogEmitter(f, true)
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a new LogEmitter.
//
// Parameters:
//   - writer: where to write the log output (e.g., os.Stdout, file).
//     Defaults to os.Stdout if nil.
//   - jsonMode: if true, emit JSONL; if false, emit text format
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes an event to the configured writer. Writes are serialized
// so concurrent level goroutines do not interleave lines.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		// Fallback to error message if marshal fails
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] runID=%s level=%d", event.Type, event.RunID, event.Level)

	if event.NodeID != "" {
		fmt.Fprintf(l.writer, " nodeID=%s", event.NodeID)
	}
	if event.NodeKey != "" {
		fmt.Fprintf(l.writer, " key=%s", event.NodeKey)
	}
	if len(event.NodeIDs) > 0 {
		fmt.Fprintf(l.writer, " nodes=%v", event.NodeIDs)
	}
	if event.Outcome != "" {
		fmt.Fprintf(l.writer, " outcome=%s", event.Outcome)
	}
	if event.FinalState != "" {
		fmt.Fprintf(l.writer, " finalState=%s", event.FinalState)
	}
	if len(event.Manifest) > 0 {
		if manifestJSON, err := json.Marshal(event.Manifest); err == nil {
			fmt.Fprintf(l.writer, " manifest=%s", manifestJSON)
		}
	}
	if event.Msg != "" {
		fmt.Fprintf(l.writer, " msg=%q", event.Msg)
	}

	fmt.Fprint(l.writer, "\n")
}
