package flow

import (
	"time"

	"github.com/jharlan/flowgraph-go/flow/emit"
	"github.com/jharlan/flowgraph-go/flow/store"
)

// Option is a functional option for configuring an Engine.
//
// Functional options provide a clean, extensible API for engine
// configuration:
//   - Chainable: engine := NewEngine(workers, WithNodeTimeout(30*time.Second), WithFailFast())
//   - Self-documenting: option names describe their purpose
//   - Optional: only specify the configuration you need
//
// Example:
//
//	engine := flow.NewEngine(
//	    workers,
//	    flow.WithNodeTimeout(30*time.Second),
//	    flow.WithRetryPolicy(flow.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}),
//	    flow.WithMetrics(metrics),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
// This indirection allows validation and composition of options.
type engineConfig struct {
	nodeTimeout       time.Duration
	runBudget         time.Duration
	retry             RetryPolicy
	failure           FailurePolicy
	parallelThreshold int
	maxConcurrent     int
	emitter           emit.Emitter
	metrics           *EngineMetrics
	snapshots         store.SnapshotStore
	snapshotTerminal  bool
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		nodeTimeout:       60 * time.Second,
		retry:             RetryPolicy{MaxAttempts: 1},
		failure:           ContinueIndependent,
		parallelThreshold: DefaultParallelThreshold,
		emitter:           emit.NewNullEmitter(),
		snapshotTerminal:  true,
	}
}

// WithNodeTimeout sets the per-attempt execution timeout applied to
// every node.
//
// Default: 60s. Zero disables the timeout (workers then run until the
// run context is cancelled).
//
// A timed-out attempt counts against the retry budget; once attempts
// are exhausted the node fails with a NodeExecutionError wrapping
// ErrNodeTimeout.
func WithNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &ValidationError{Message: "node timeout must not be negative"}
		}
		cfg.nodeTimeout = d
		return nil
	}
}

// WithRunBudget sets a wall-clock budget for the whole run, layered on
// top of per-node timeouts. When the budget expires the run is cancelled
// exactly as if the caller had cancelled the context.
//
// Default: 0 (no budget).
func WithRunBudget(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &ValidationError{Message: "run budget must not be negative"}
		}
		cfg.runBudget = d
		return nil
	}
}

// WithRetryPolicy sets the retry policy applied to node execution
// attempts.
//
// Default: MaxAttempts 1 (no retries). The policy is validated when the
// option is applied.
func WithRetryPolicy(rp RetryPolicy) Option {
	return func(cfg *engineConfig) error {
		if err := rp.Validate(); err != nil {
			return err
		}
		cfg.retry = rp
		return nil
	}
}

// WithFailFast switches the engine to the fail-fast failure policy:
// the first node failure stops dispatch, interrupts in-flight nodes and
// cancels everything non-terminal.
//
// Default: continue-independent, which keeps executing branches that do
// not depend on the failure.
func WithFailFast() Option {
	return func(cfg *engineConfig) error {
		cfg.failure = FailFast
		return nil
	}
}

// WithParallelThreshold sets the minimum level size dispatched
// concurrently. Levels below the threshold run sequentially in
// insertion order.
//
// Default: 2 (single-node levels stay off the goroutine path).
func WithParallelThreshold(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 1 {
			return &ValidationError{Message: "parallel threshold must be >= 1"}
		}
		cfg.parallelThreshold = n
		return nil
	}
}

// WithMaxConcurrent caps how many nodes of one level execute at once.
//
// Default: 0 (no cap; the whole level runs together).
//
// Tuning guidance:
//   - Agent workloads bound by provider rate limits: match the limit.
//   - CPU-bound workers: runtime.NumCPU().
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &ValidationError{Message: "max concurrent must not be negative"}
		}
		cfg.maxConcurrent = n
		return nil
	}
}

// WithEmitter sets the engine's base emitter, receiving every event of
// every run (in addition to any per-run stream the facade attaches).
//
// Default: emit.NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if e == nil {
			e = emit.NewNullEmitter()
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics attaches a Prometheus metrics collector.
//
// Default: nil (no metrics recorded).
func WithMetrics(m *EngineMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithSnapshotStore attaches a snapshot store. The engine persists a
// snapshot every time a run settles or pauses, and the facade's Restore
// reads from the same store.
//
// Default: nil (no persistence).
func WithSnapshotStore(s store.SnapshotStore) Option {
	return func(cfg *engineConfig) error {
		cfg.snapshots = s
		return nil
	}
}

// WithPausedSnapshotsOnly limits snapshot persistence to paused runs.
// Terminal settles (completed, failed, cancelled) skip the write; paused
// runs are still persisted, since they are what Restore resumes.
//
// Default: snapshots are written on every settle and pause.
func WithPausedSnapshotsOnly() Option {
	return func(cfg *engineConfig) error {
		cfg.snapshotTerminal = false
		return nil
	}
}
