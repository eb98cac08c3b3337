package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes a span named after the event type, carrying the run
// ID, level, node identity and outcome as attributes. Terminal failure
// events set error status on the span and record the manifest entries.
//
// Spans are ended immediately; events mark points in time, not
// durations. Node durations are the metrics layer's job.
//
// Usage:
//
//	// Setup OpenTelemetry provider (application code)
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//
//	tracer := otel.Tracer("flowgraph")
//	emitter := emit.NewOTelEmitter(tracer)
//	engine := flow.NewEngine(registry, flow.WithEmitter(emitter))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter over the given tracer
// (typically otel.Tracer("flowgraph")).
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and immediately ends a span for the event.
func (o *OTelEmitter) Emit(event Event) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, string(event.Type))
	defer span.End()

	o.addStandardAttributes(span, event)

	switch event.Type {
	case NodeCompleted:
		if event.Outcome == "failure" {
			span.SetStatus(codes.Error, event.Msg)
			if event.Msg != "" {
				span.RecordError(fmt.Errorf("%s", event.Msg))
			}
		}
	case RunFailed:
		span.SetStatus(codes.Error, "run failed")
		for _, f := range event.Manifest {
			span.RecordError(fmt.Errorf("node %s: %s", f.Key, f.Err))
		}
	}
}

// Flush forces export of all pending spans.
//
// Calls ForceFlush on the global tracer provider if it supports it (the
// SDK provider does; the noop provider does not). Should be called
// before application shutdown so batched spans reach the backend.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// addStandardAttributes adds core event fields as span attributes,
// namespaced "flowgraph." per OpenTelemetry naming conventions.
func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("flowgraph.run_id", event.RunID),
		attribute.Int("flowgraph.level", event.Level),
	)
	if event.NodeID != "" {
		span.SetAttributes(attribute.String("flowgraph.node_id", event.NodeID))
	}
	if event.NodeKey != "" {
		span.SetAttributes(attribute.String("flowgraph.node_key", event.NodeKey))
	}
	if len(event.NodeIDs) > 0 {
		span.SetAttributes(attribute.StringSlice("flowgraph.level_nodes", event.NodeIDs))
	}
	if event.Outcome != "" {
		span.SetAttributes(attribute.String("flowgraph.outcome", event.Outcome))
	}
	if event.FinalState != "" {
		span.SetAttributes(attribute.String("flowgraph.final_state", event.FinalState))
	}
	if len(event.Manifest) > 0 {
		span.SetAttributes(attribute.Int("flowgraph.failure_count", len(event.Manifest)))
	}
}
