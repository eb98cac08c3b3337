package emit

// Emitter receives observability events from workflow execution.
//
// Implementations must be:
//   - Thread-safe: the engine emits concurrently from level goroutines
//   - Resilient: Emit must not panic; backend failures are handled
//     internally (buffered, dropped with a counter, or logged)
//
// Emit should avoid blocking the run. The one deliberate exception is
// ChannelEmitter, which applies bounded backpressure before dropping.
type Emitter interface {
	// Emit delivers one event to the backend.
	Emit(event Event)
}

// NullEmitter discards all events. Useful for benchmarks and for runs
// where observability is handled entirely by metrics.
type NullEmitter struct{}

// NewNullEmitter creates an emitter that does nothing.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(_ Event) {}

// MultiEmitter fans each event out to several emitters in order. The
// facade uses it to combine a caller's channel stream with the engine's
// configured log or trace sink.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates a fan-out over the given emitters. Nil entries
// are skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit delivers the event to every registered emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
