package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jharlan/flowgraph-go/flow/emit"
	"github.com/jharlan/flowgraph-go/flow/store"
)

// Engine executes workflows level by level.
//
// Each round the planner computes the next maximal set of nodes whose
// dependencies have all completed; the engine dispatches the set
// (concurrently once it reaches the parallel threshold), waits for every
// member to settle, then plans the next round. A node settles as
// COMPLETED, FAILED, PAUSED_FOR_INPUT or CANCELLED; per-node timeouts
// and the retry policy are applied around each worker attempt.
//
// The engine is stateless across runs and safe for concurrent use: all
// per-run state lives in the Workflow and RunContext.
//
// Example:
//
//	workers := flow.NewRegistry()
//	workers.Register("research", researchWorker)
//
//	engine, err := flow.NewEngine(workers,
//	    flow.WithNodeTimeout(30*time.Second),
//	    flow.WithRetryPolicy(flow.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = engine.Run(ctx, wf, nil, nil)
type Engine struct {
	workers *Registry
	cfg     engineConfig
	planner levelPlanner
}

// NewEngine creates an Engine over the given worker registry. Options
// are validated as they are applied.
func NewEngine(workers *Registry, opts ...Option) (*Engine, error) {
	if workers == nil {
		return nil, &ValidationError{Message: "worker registry is required"}
	}
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &Engine{workers: workers, cfg: cfg}, nil
}

// Run executes the workflow until it settles or pauses.
//
// Validation happens before any dispatch: the graph must be acyclic and
// non-empty, and every task type must resolve in the registry. These
// structural problems are returned synchronously as errors.
//
// Orderly outcomes are not errors. Run returns nil whenever the run
// settles through its own lifecycle (COMPLETED, FAILED with a manifest,
// PAUSED, CANCELLED); callers read the final state from the workflow and
// the detail from the event stream. Run is re-entrant in the sense that
// a paused workflow can be passed again after ResumeNode to continue
// from the last incomplete level.
//
// rc may be nil, in which case a fresh RunContext is created. stream, if
// non-nil, receives this run's events in addition to the engine's
// configured base emitter.
func (e *Engine) Run(ctx context.Context, w *Workflow, rc *RunContext, stream emit.Emitter) error {
	if w == nil {
		return &ValidationError{Message: "workflow is required"}
	}
	if w.State().Terminal() {
		return ErrRunNotResumable
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if err := e.workers.ValidateWorkflow(w); err != nil {
		return err
	}
	w.Seal()

	if rc == nil {
		rc = NewRunContext(w.RunID())
	}
	// Seed upstream results for resumed and restored runs.
	for _, n := range w.Nodes() {
		if n.Status() == StatusCompleted {
			if r := n.Result(); r != nil {
				rc.setResult(n.Key, r.Payload)
			}
		}
	}

	em := e.cfg.emitter
	if stream != nil {
		em = emit.NewMultiEmitter(e.cfg.emitter, stream)
	}

	runCtx := ctx
	if e.cfg.runBudget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.runBudget)
		defer cancel()
	}

	w.setState(RunRunning)

	for level := 0; ; level++ {
		if runCtx.Err() != nil {
			return e.settleCancelled(w, rc, em, level)
		}

		nodes := e.planner.nextLevel(w)
		if len(nodes) == 0 {
			return e.settleQuiescent(w, rc, em, level)
		}

		em.Emit(emit.Event{
			RunID:   w.RunID(),
			Type:    emit.LevelStarted,
			Level:   level,
			NodeIDs: nodeIDs(nodes),
		})
		e.cfg.metrics.LevelDispatched(w.RunID(), len(nodes))

		anyFailed := e.dispatchLevel(runCtx, w, rc, em, level, nodes)

		if runCtx.Err() != nil {
			return e.settleCancelled(w, rc, em, level)
		}
		if anyFailed && e.cfg.failure == FailFast {
			return e.settleFailFast(w, rc, em, level)
		}
	}
}

// CancelRun settles a quiescent (paused) run as cancelled. Running runs
// are cancelled through their context instead; the facade picks the
// right path.
func (e *Engine) CancelRun(w *Workflow, rc *RunContext, stream emit.Emitter) error {
	if w == nil {
		return &ValidationError{Message: "workflow is required"}
	}
	if w.State().Terminal() {
		return ErrRunNotResumable
	}
	if rc == nil {
		rc = NewRunContext(w.RunID())
	}
	em := e.cfg.emitter
	if stream != nil {
		em = emit.NewMultiEmitter(e.cfg.emitter, stream)
	}
	return e.settleCancelled(w, rc, em, 0)
}

// Snapshots returns the configured snapshot store, or nil.
func (e *Engine) Snapshots() store.SnapshotStore {
	return e.cfg.snapshots
}

// ResumeNode merges caller-supplied input into a paused node and returns
// it to READY. The workflow must then be passed to Run again to continue
// execution; the resumed node joins the next planned level.
func (e *Engine) ResumeNode(w *Workflow, nodeID string, input map[string]interface{}) error {
	if w == nil {
		return &ValidationError{Message: "workflow is required"}
	}
	if w.State().Terminal() {
		return ErrRunNotResumable
	}
	n := w.Node(nodeID)
	if n == nil {
		return &ValidationError{Message: "unknown node: " + nodeID}
	}
	return n.resume(input)
}

// dispatchLevel runs one level to completion. Levels at or above the
// parallel threshold fan out to goroutines (optionally capped by
// WithMaxConcurrent); smaller levels run inline in insertion order.
// Under fail-fast, the first failure interrupts the rest of the level.
func (e *Engine) dispatchLevel(ctx context.Context, w *Workflow, rc *RunContext, em emit.Emitter, level int, nodes []*Node) bool {
	levelCtx, interrupt := context.WithCancel(ctx)
	defer interrupt()

	var failedMu sync.Mutex
	anyFailed := false
	noteFailure := func() {
		failedMu.Lock()
		anyFailed = true
		failedMu.Unlock()
		if e.cfg.failure == FailFast {
			interrupt()
		}
	}

	if len(nodes) < e.cfg.parallelThreshold {
		for _, n := range nodes {
			if levelCtx.Err() != nil {
				break
			}
			e.executeNode(levelCtx, w, rc, em, level, n, noteFailure)
		}
	} else {
		var sem chan struct{}
		if e.cfg.maxConcurrent > 0 {
			sem = make(chan struct{}, e.cfg.maxConcurrent)
		}
		var wg sync.WaitGroup
		for _, n := range nodes {
			wg.Add(1)
			go func(n *Node) {
				defer wg.Done()
				if sem != nil {
					sem <- struct{}{}
					defer func() { <-sem }()
				}
				e.executeNode(levelCtx, w, rc, em, level, n, noteFailure)
			}(n)
		}
		wg.Wait()
	}

	failedMu.Lock()
	defer failedMu.Unlock()
	return anyFailed
}

// executeNode runs one node through its attempt loop and settles it.
func (e *Engine) executeNode(ctx context.Context, w *Workflow, rc *RunContext, em emit.Emitter, level int, n *Node, noteFailure func()) {
	worker, ok := e.workers.Lookup(n.Task.Type)
	if !ok {
		// ValidateWorkflow runs before dispatch; this covers task types
		// introduced by a mid-run mutation batch.
		n.markFailed(&NodeExecutionError{
			NodeID: n.ID, Key: n.Key, Attempts: 0,
			Cause: &ValidationError{Message: "no worker registered for task type " + n.Task.Type},
		})
		e.emitNodeCompleted(em, w, level, n, "failure", "no worker for task type "+n.Task.Type)
		noteFailure()
		return
	}

	n.markRunning()
	e.cfg.metrics.NodeStarted()
	start := time.Now()

	outcome, err := e.attemptLoop(ctx, worker, n, rc)

	switch {
	case err == nil && outcome.Kind == OutcomeSuccess:
		n.markCompleted(outcome.Payload)
		rc.setResult(n.Key, outcome.Payload)
		e.cfg.metrics.NodeSettled(n.Task.Type, time.Since(start), "success")
		e.emitNodeCompleted(em, w, level, n, "success", "")

	case err == nil && outcome.Kind == OutcomeInputRequired:
		n.markPaused(outcome.Prompt)
		e.cfg.metrics.NodeSettled(n.Task.Type, time.Since(start), "paused")
		e.cfg.metrics.NodePausedForInput(n.Task.Type)
		em.Emit(emit.Event{
			RunID:   w.RunID(),
			Type:    emit.NodePaused,
			Level:   level,
			NodeID:  n.ID,
			NodeKey: n.Key,
			Prompt:  outcome.Prompt,
		})

	case err == nil:
		// Worker-described failure (OutcomeFailure).
		failure := &NodeExecutionError{
			NodeID: n.ID, Key: n.Key, Attempts: n.Attempts(),
			Cause: errors.New(outcome.Reason),
		}
		n.markFailed(failure)
		e.cfg.metrics.NodeSettled(n.Task.Type, time.Since(start), "failure")
		e.emitNodeCompleted(em, w, level, n, "failure", outcome.Reason)
		noteFailure()

	case ctx.Err() != nil && !errors.Is(err, ErrNodeTimeout):
		// The run was cancelled (caller, budget, or fail-fast) while
		// this node was in flight.
		n.markCancelled("run cancelled")
		e.cfg.metrics.NodeSettled(n.Task.Type, time.Since(start), "cancelled")
		e.emitNodeCompleted(em, w, level, n, "cancelled", "run cancelled")

	default:
		status := "failure"
		if isTimeout(err) {
			status = "timeout"
		}
		failure := &NodeExecutionError{
			NodeID: n.ID, Key: n.Key, Attempts: n.Attempts(), Cause: err,
		}
		n.markFailed(failure)
		e.cfg.metrics.NodeSettled(n.Task.Type, time.Since(start), status)
		e.emitNodeCompleted(em, w, level, n, "failure", failure.Error())
		noteFailure()
	}
}

// attemptLoop applies the per-attempt timeout and the retry policy
// around the worker. Exhausted timeouts come back wrapping
// ErrNodeTimeout.
func (e *Engine) attemptLoop(ctx context.Context, worker Worker, n *Node, rc *RunContext) (Outcome, error) {
	rp := e.cfg.retry
	var outcome Outcome
	var err error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if e.cfg.nodeTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.nodeTimeout)
		}

		n.noteAttempt()
		outcome, err = worker.Execute(attemptCtx, n.taskSnapshot(), rc)

		if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s", ErrNodeTimeout, e.cfg.nodeTimeout)
		}
		cancel()

		if err == nil {
			return outcome, nil
		}
		if ctx.Err() != nil {
			// Run-level cancellation; do not burn retries against it.
			return outcome, err
		}
		if attempt == rp.MaxAttempts-1 || !rp.shouldRetry(err) {
			return outcome, err
		}

		reason := "error"
		if isTimeout(err) {
			reason = "timeout"
		}
		e.cfg.metrics.RetryAttempted(n.Task.Type, reason)

		delay := computeBackoff(attempt, rp.BaseDelay, rp.MaxDelay, nil)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return outcome, err
			}
		}
	}
	return outcome, err
}

// settleQuiescent handles the empty-level case: either the run pauses
// behind input-waiting nodes, or it is over and stranded descendants of
// failures are cancelled.
func (e *Engine) settleQuiescent(w *Workflow, rc *RunContext, em emit.Emitter, level int) error {
	if e.planner.hasPaused(w) {
		w.setState(RunPaused)
		e.cfg.metrics.RunSettled(RunPaused)
		em.Emit(emit.Event{
			RunID:      w.RunID(),
			Type:       emit.RunPaused,
			Level:      level,
			FinalState: string(RunPaused),
		})
		return e.saveSnapshot(w, rc)
	}

	// Anything not settled at this point is stranded behind a failed or
	// cancelled ancestor.
	for _, n := range e.planner.unsettled(w) {
		n.markCancelled("upstream failure")
		e.emitNodeCompleted(em, w, level, n, "cancelled", "upstream failure")
	}

	manifest := collectManifest(w)
	state := RunCompleted
	if len(manifest) > 0 && !anyCompleted(w) {
		state = RunFailed
	}
	w.setState(state)
	e.cfg.metrics.RunSettled(state)

	evType := emit.RunCompleted
	if state == RunFailed {
		evType = emit.RunFailed
	}
	em.Emit(emit.Event{
		RunID:      w.RunID(),
		Type:       evType,
		Level:      level,
		FinalState: string(state),
		Manifest:   emitManifest(manifest),
	})
	return e.saveSnapshot(w, rc)
}

// settleFailFast settles the run after the fail-fast policy stopped it:
// every non-terminal node (paused ones included) is cancelled and the
// run fails with the collected manifest.
func (e *Engine) settleFailFast(w *Workflow, rc *RunContext, em emit.Emitter, level int) error {
	for _, n := range w.Nodes() {
		n.markCancelled("failure policy")
	}
	manifest := collectManifest(w)
	w.setState(RunFailed)
	e.cfg.metrics.RunSettled(RunFailed)
	em.Emit(emit.Event{
		RunID:      w.RunID(),
		Type:       emit.RunFailed,
		Level:      level,
		FinalState: string(RunFailed),
		Manifest:   emitManifest(manifest),
	})
	return e.saveSnapshot(w, rc)
}

// settleCancelled settles a deliberately cancelled run. Cancellation is
// final: paused nodes are cancelled too and the run cannot be resumed.
func (e *Engine) settleCancelled(w *Workflow, rc *RunContext, em emit.Emitter, level int) error {
	for _, n := range w.Nodes() {
		n.markCancelled("run cancelled")
	}
	w.setState(RunCancelled)
	e.cfg.metrics.RunSettled(RunCancelled)
	em.Emit(emit.Event{
		RunID:      w.RunID(),
		Type:       emit.RunCancelled,
		Level:      level,
		FinalState: string(RunCancelled),
	})
	return e.saveSnapshot(w, rc)
}

// saveSnapshot persists the run if a snapshot store is configured. Runs
// settle even when the caller's context is gone, so the write uses its
// own deadline.
func (e *Engine) saveSnapshot(w *Workflow, rc *RunContext) error {
	if e.cfg.snapshots == nil {
		return nil
	}
	if w.State().Terminal() && !e.cfg.snapshotTerminal {
		return nil
	}
	snap, err := w.Snapshot()
	if err != nil {
		return err
	}
	snap.Query = rc.Query

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.cfg.snapshots.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to persist snapshot for run %s: %w", w.RunID(), err)
	}
	return nil
}

func (e *Engine) emitNodeCompleted(em emit.Emitter, w *Workflow, level int, n *Node, outcome, msg string) {
	ev := emit.Event{
		RunID:   w.RunID(),
		Type:    emit.NodeCompleted,
		Level:   level,
		NodeID:  n.ID,
		NodeKey: n.Key,
		Outcome: outcome,
		Msg:     msg,
	}
	if outcome == "success" {
		if r := n.Result(); r != nil {
			ev.Payload = r.Payload
		}
	}
	em.Emit(ev)
}

func nodeIDs(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

// collectManifest gathers every FAILED node into a FailureManifest, in
// insertion order.
func collectManifest(w *Workflow) FailureManifest {
	var m FailureManifest
	for _, n := range w.Nodes() {
		if n.Status() != StatusFailed {
			continue
		}
		var err error
		if r := n.Result(); r != nil {
			err = r.Err
		}
		if err == nil {
			err = errors.New("node " + n.Key + " failed")
		}
		m = append(m, Failure{NodeID: n.ID, Key: n.Key, Err: err})
	}
	return m
}

func anyCompleted(w *Workflow) bool {
	for _, n := range w.Nodes() {
		if n.Status() == StatusCompleted {
			return true
		}
	}
	return false
}

func emitManifest(m FailureManifest) []emit.Failure {
	if len(m) == 0 {
		return nil
	}
	out := make([]emit.Failure, len(m))
	for i, f := range m {
		out[i] = emit.Failure{NodeID: f.NodeID, Key: f.Key, Err: f.Err.Error()}
	}
	return out
}
