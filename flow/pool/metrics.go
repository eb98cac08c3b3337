package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus-compatible metrics for pool behavior.
//
// Metrics exposed (all namespaced "flowgraph_pool_"):
//
//  1. opened_total (counter): connections dialed. Labels: endpoint.
//  2. reused_total (counter): acquires served from idle. Labels: endpoint.
//  3. evicted_total (counter): connections retired.
//     Labels: endpoint, reason (idle_ttl/unhealthy/broken).
//  4. exhausted_total (counter): acquires that timed out at the cap.
//     Labels: endpoint.
//  5. open (gauge): live connections, leased plus idle. Labels: endpoint.
//  6. idle (gauge): idle connections awaiting reuse. Labels: endpoint.
//
// A nil *Metrics is valid and records nothing, so the pool can run
// unmetered in tests.
type Metrics struct {
	opened    *prometheus.CounterVec
	reused    *prometheus.CounterVec
	evicted   *prometheus.CounterVec
	exhausted *prometheus.CounterVec
	open      *prometheus.GaugeVec
	idle      *prometheus.GaugeVec
}

// NewMetrics creates and registers the pool metrics with the provided
// registry (prometheus.DefaultRegisterer when nil).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		opened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph", Subsystem: "pool",
			Name: "opened_total",
			Help: "Connections dialed per endpoint",
		}, []string{"endpoint"}),
		reused: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph", Subsystem: "pool",
			Name: "reused_total",
			Help: "Acquires served from the idle set per endpoint",
		}, []string{"endpoint"}),
		evicted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph", Subsystem: "pool",
			Name: "evicted_total",
			Help: "Connections retired, by endpoint and reason",
		}, []string{"endpoint", "reason"}),
		exhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph", Subsystem: "pool",
			Name: "exhausted_total",
			Help: "Acquire timeouts at the per-endpoint cap",
		}, []string{"endpoint"}),
		open: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowgraph", Subsystem: "pool",
			Name: "open",
			Help: "Live connections (leased plus idle) per endpoint",
		}, []string{"endpoint"}),
		idle: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowgraph", Subsystem: "pool",
			Name: "idle",
			Help: "Idle connections awaiting reuse per endpoint",
		}, []string{"endpoint"}),
	}
}

// Opened records a freshly dialed connection.
func (m *Metrics) Opened(endpoint string) {
	if m == nil {
		return
	}
	m.opened.WithLabelValues(endpoint).Inc()
}

// Reused records an acquire served from the idle set.
func (m *Metrics) Reused(endpoint string) {
	if m == nil {
		return
	}
	m.reused.WithLabelValues(endpoint).Inc()
}

// Evicted records a retired connection.
func (m *Metrics) Evicted(endpoint, reason string) {
	if m == nil {
		return
	}
	m.evicted.WithLabelValues(endpoint, reason).Inc()
}

// Exhausted records an acquire that timed out at the cap.
func (m *Metrics) Exhausted(endpoint string) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(endpoint).Inc()
}

// observe refreshes the open/idle gauges from a pool snapshot.
func (m *Metrics) observe(p *Pool) {
	if m == nil {
		return
	}
	stats := p.Stats()
	m.open.Reset()
	m.idle.Reset()
	for ep, n := range stats.Open {
		m.open.WithLabelValues(ep).Set(float64(n))
	}
	for ep, n := range stats.Idle {
		m.idle.WithLabelValues(ep).Set(float64(n))
	}
}
