package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jharlan/flowgraph-go/flow/emit"
)

// PlannedTask is one unit of the decomposition a TaskPlanner produces
// from a query. DependsOn references other planned tasks by Key.
type PlannedTask struct {
	// Key names the task, unique within the plan.
	Key string

	// Type selects the worker that will execute the task.
	Type string

	// Description is the human-readable statement of the work.
	Description string

	// DependsOn lists the keys of tasks that must complete first.
	DependsOn []string

	// Input carries structured inputs for the worker.
	Input map[string]interface{}

	// Metadata carries caller annotations passed through to the task.
	Metadata map[string]interface{}
}

// TaskPlanner decomposes a query into planned tasks with dependencies.
// Implementations range from static templates to LLM-backed planners;
// the facade treats them uniformly.
type TaskPlanner interface {
	Plan(ctx context.Context, query string) ([]PlannedTask, error)
}

// QualityReport is a quality gate's verdict on a completed run.
type QualityReport struct {
	// Score is the gate's numeric assessment, gate-defined scale.
	Score float64

	// Passed reports whether the run met the gate's bar.
	Passed bool

	// Notes carries the gate's free-form commentary.
	Notes string
}

// QualityGate reviews the aggregate results of a completed run. The
// facade consults it after RunCompleted; how the gate scores is its own
// business.
type QualityGate interface {
	Review(ctx context.Context, runID string, results map[string]map[string]interface{}) (QualityReport, error)
}

// Orchestrator is the facade tying the pieces together: it asks the
// planner to decompose a query, builds and validates the workflow, runs
// it on the engine, and exposes the run lifecycle (event streams,
// resume, cancel, restore) to callers.
//
// Example:
//
//	orc, err := flow.NewOrchestrator(planner, engine)
//	runID, events, err := orc.Launch(ctx, "compare the top three approaches")
//	for ev := range events {
//	    if ev.Type == emit.NodePaused {
//	        orc.Resume(ctx, runID, ev.NodeID, map[string]interface{}{"answer": "yes"})
//	    }
//	}
type Orchestrator struct {
	planner TaskPlanner
	engine  *Engine
	gate    QualityGate

	mu   sync.Mutex
	runs map[string]*runHandle
}

type runHandle struct {
	wf      *Workflow
	rc      *RunContext
	cancel  context.CancelFunc
	running bool
	report  *QualityReport
}

// OrchestratorOption customizes the facade.
type OrchestratorOption func(*Orchestrator)

// WithQualityGate attaches a quality gate consulted after every
// completed run.
func WithQualityGate(g QualityGate) OrchestratorOption {
	return func(o *Orchestrator) { o.gate = g }
}

// NewOrchestrator creates the facade. planner may be nil if callers only
// use StartWorkflow with hand-built workflows.
func NewOrchestrator(planner TaskPlanner, engine *Engine, opts ...OrchestratorOption) (*Orchestrator, error) {
	if engine == nil {
		return nil, &ValidationError{Message: "engine is required"}
	}
	o := &Orchestrator{
		planner: planner,
		engine:  engine,
		runs:    make(map[string]*runHandle),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Launch plans the query, builds the workflow and starts it in the
// background. It returns the run ID and a bounded event stream; the
// stream closes after the terminal event (RunPaused included, since a
// paused run goes quiescent until Resume opens a new stream).
//
// ctx governs planning only. The run itself is detached and stops via
// Cancel, the engine's run budget, or its own settlement.
func (o *Orchestrator) Launch(ctx context.Context, query string) (string, <-chan emit.Event, error) {
	if o.planner == nil {
		return "", nil, &ValidationError{Message: "no planner configured"}
	}

	tasks, err := o.planner.Plan(ctx, query)
	if err != nil {
		return "", nil, fmt.Errorf("planning failed: %w", err)
	}

	wf, err := BuildWorkflow(tasks)
	if err != nil {
		return "", nil, err
	}

	rc := NewRunContext(wf.RunID())
	rc.Query = query

	events, err := o.start(wf, rc)
	if err != nil {
		return "", nil, err
	}
	return wf.RunID(), events, nil
}

// StartWorkflow runs a hand-built workflow through the facade, giving it
// the same lifecycle surface (stream, resume, cancel) as planned runs.
func (o *Orchestrator) StartWorkflow(wf *Workflow, rc *RunContext) (<-chan emit.Event, error) {
	if wf == nil {
		return nil, &ValidationError{Message: "workflow is required"}
	}
	if rc == nil {
		rc = NewRunContext(wf.RunID())
	}
	return o.start(wf, rc)
}

func (o *Orchestrator) start(wf *Workflow, rc *RunContext) (<-chan emit.Event, error) {
	o.mu.Lock()
	if h, exists := o.runs[wf.RunID()]; exists && h.running {
		o.mu.Unlock()
		return nil, &ValidationError{Message: "run already active: " + wf.RunID()}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	stream := emit.NewChannelEmitter(0, 0)
	h := &runHandle{wf: wf, rc: rc, cancel: cancel, running: true}
	o.runs[wf.RunID()] = h
	o.mu.Unlock()

	go func() {
		defer stream.Close()
		defer cancel()

		err := o.engine.Run(runCtx, wf, rc, stream)
		if err != nil {
			stream.Emit(emit.Event{
				RunID:      wf.RunID(),
				Type:       emit.RunFailed,
				FinalState: string(RunFailed),
				Msg:        err.Error(),
			})
		}

		if err == nil && wf.State() == RunCompleted && o.gate != nil {
			o.reviewRun(wf, rc, h)
		}

		o.mu.Lock()
		h.running = false
		o.mu.Unlock()
	}()

	return stream.Events(), nil
}

// reviewRun consults the quality gate over the run's aggregate results.
func (o *Orchestrator) reviewRun(wf *Workflow, rc *RunContext, h *runHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	report, err := o.gate.Review(ctx, wf.RunID(), rc.Results())
	if err != nil {
		return
	}
	o.mu.Lock()
	h.report = &report
	o.mu.Unlock()
}

// Resume supplies input to a paused node and continues the run,
// returning a fresh event stream for the continuation. Level numbering
// continues from zero within the new stream; node and run identity
// carry over.
func (o *Orchestrator) Resume(ctx context.Context, runID, nodeID string, input map[string]interface{}) (<-chan emit.Event, error) {
	h, err := o.handle(runID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	busy := h.running
	o.mu.Unlock()
	if busy {
		return nil, &ValidationError{Message: "run is still executing: " + runID}
	}
	if h.wf.State() != RunPaused {
		return nil, ErrRunNotResumable
	}

	if err := o.engine.ResumeNode(h.wf, nodeID, input); err != nil {
		return nil, err
	}
	return o.start(h.wf, h.rc)
}

// Cancel stops a run. A running run is interrupted through its context;
// a paused run is settled directly. Cancellation is final: the run
// cannot be resumed afterwards.
func (o *Orchestrator) Cancel(runID string) error {
	h, err := o.handle(runID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	running := h.running
	o.mu.Unlock()

	if running {
		h.cancel()
		return nil
	}
	if h.wf.State() == RunPaused {
		return o.engine.CancelRun(h.wf, h.rc, nil)
	}
	if h.wf.State().Terminal() {
		return nil
	}
	h.cancel()
	return nil
}

// Restore loads a persisted run from the engine's snapshot store and
// registers it with the facade. The run comes back in its saved state;
// a paused run can then be continued with Resume.
func (o *Orchestrator) Restore(ctx context.Context, runID string) (*Workflow, error) {
	snaps := o.engine.Snapshots()
	if snaps == nil {
		return nil, &ValidationError{Message: "no snapshot store configured"}
	}

	snap, err := snaps.LoadSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	wf, err := RestoreWorkflow(snap)
	if err != nil {
		return nil, err
	}

	rc := NewRunContext(runID)
	rc.Query = snap.Query

	o.mu.Lock()
	defer o.mu.Unlock()
	if h, exists := o.runs[runID]; exists && h.running {
		return nil, &ValidationError{Message: "run already active: " + runID}
	}
	o.runs[runID] = &runHandle{wf: wf, rc: rc, cancel: func() {}}
	return wf, nil
}

// Workflow returns the live workflow for a registered run.
func (o *Orchestrator) Workflow(runID string) (*Workflow, error) {
	h, err := o.handle(runID)
	if err != nil {
		return nil, err
	}
	return h.wf, nil
}

// QualityVerdict returns the quality gate's report for a completed run,
// if the gate has delivered one.
func (o *Orchestrator) QualityVerdict(runID string) (QualityReport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.runs[runID]
	if !ok || h.report == nil {
		return QualityReport{}, false
	}
	return *h.report, true
}

func (o *Orchestrator) handle(runID string) (*runHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.runs[runID]
	if !ok {
		return nil, &ValidationError{Message: "unknown run: " + runID}
	}
	return h, nil
}

// BuildWorkflow turns a plan into a workflow: one node per task, one
// edge per dependency, resolved by key. The plan must be non-empty,
// its keys unique (DependsOn entries would otherwise be ambiguous),
// dependencies resolvable and acyclic.
func BuildWorkflow(tasks []PlannedTask) (*Workflow, error) {
	if len(tasks) == 0 {
		return nil, &ValidationError{Message: "plan has no tasks"}
	}

	wf := NewWorkflow()
	byKey := make(map[string]*Node, len(tasks))
	for _, t := range tasks {
		if _, dup := byKey[t.Key]; dup {
			return nil, &ValidationError{Message: "plan has duplicate task key: " + t.Key}
		}
		n, err := wf.AddNode(t.Key, Task{
			Type:        t.Type,
			Description: t.Description,
			Input:       t.Input,
			Metadata:    t.Metadata,
		})
		if err != nil {
			return nil, err
		}
		byKey[t.Key] = n
	}

	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			from, ok := byKey[dep]
			if !ok {
				return nil, &ValidationError{Message: "task " + t.Key + " depends on unknown task " + dep}
			}
			if err := wf.AddEdge(from.ID, byKey[t.Key].ID); err != nil {
				return nil, err
			}
		}
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}
