package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics provides Prometheus-compatible metrics for workflow
// execution monitoring.
//
// Metrics exposed (all namespaced "flowgraph_"):
//
//  1. inflight_nodes (gauge): nodes executing concurrently right now.
//  2. level_size (histogram): node count per dispatch level. Labels: run_id.
//  3. node_latency_ms (histogram): node settlement duration in
//     milliseconds, from first dispatch to terminal status.
//     Labels: task_type, status (success/failure/timeout/cancelled/paused).
//  4. retries_total (counter): cumulative retry attempts.
//     Labels: task_type, reason (timeout/error).
//  5. pauses_total (counter): nodes that parked waiting for input.
//     Labels: task_type.
//  6. runs_total (counter): settled runs. Labels: final_state.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewEngineMetrics(registry)
//	engine := flow.NewEngine(workers, flow.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type EngineMetrics struct {
	inflightNodes prometheus.Gauge
	levelSize     *prometheus.HistogramVec
	nodeLatency   *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	pauses        *prometheus.CounterVec
	runs          *prometheus.CounterVec
}

// NewEngineMetrics creates and registers all engine metrics with the
// provided registry (prometheus.DefaultRegisterer when nil; a custom
// registry is recommended for isolation).
func NewEngineMetrics(registry prometheus.Registerer) *EngineMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	m := &EngineMetrics{}

	m.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowgraph",
		Name:      "inflight_nodes",
		Help:      "Current number of nodes executing concurrently",
	})

	m.levelSize = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowgraph",
		Name:      "level_size",
		Help:      "Number of nodes dispatched per concurrency level",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
	}, []string{"run_id"})

	m.nodeLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowgraph",
		Name:      "node_latency_ms",
		Help:      "Node settlement duration in milliseconds (first dispatch to terminal status)",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	}, []string{"task_type", "status"})

	m.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowgraph",
		Name:      "retries_total",
		Help:      "Cumulative count of node retry attempts",
	}, []string{"task_type", "reason"}) // reason: timeout, error

	m.pauses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowgraph",
		Name:      "pauses_total",
		Help:      "Nodes that paused waiting for external input",
	}, []string{"task_type"})

	m.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowgraph",
		Name:      "runs_total",
		Help:      "Settled runs by final state",
	}, []string{"final_state"})

	return m
}

// NodeStarted records one node entering execution.
func (m *EngineMetrics) NodeStarted() {
	if m == nil {
		return
	}
	m.inflightNodes.Inc()
}

// NodeSettled records a node leaving execution with the given status and
// total latency.
func (m *EngineMetrics) NodeSettled(taskType string, latency time.Duration, status string) {
	if m == nil {
		return
	}
	m.inflightNodes.Dec()
	m.nodeLatency.WithLabelValues(taskType, status).Observe(float64(latency.Milliseconds()))
}

// LevelDispatched records the size of one dispatched level.
func (m *EngineMetrics) LevelDispatched(runID string, size int) {
	if m == nil {
		return
	}
	m.levelSize.WithLabelValues(runID).Observe(float64(size))
}

// RetryAttempted records one retry of a node.
func (m *EngineMetrics) RetryAttempted(taskType, reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(taskType, reason).Inc()
}

// NodePausedForInput records a node parking for input.
func (m *EngineMetrics) NodePausedForInput(taskType string) {
	if m == nil {
		return
	}
	m.pauses.WithLabelValues(taskType).Inc()
}

// RunSettled records a run reaching a quiescent state.
func (m *EngineMetrics) RunSettled(finalState RunState) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(finalState)).Inc()
}
