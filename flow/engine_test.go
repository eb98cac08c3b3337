package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jharlan/flowgraph-go/flow/emit"
)

// recordingWorker completes every task and records, under a lock, the
// order in which nodes started.
type recordingWorker struct {
	mu    sync.Mutex
	order []string
}

func (r *recordingWorker) Execute(_ context.Context, task Task, _ *RunContext) (Outcome, error) {
	r.mu.Lock()
	r.order = append(r.order, task.Description)
	r.mu.Unlock()
	return Success(map[string]interface{}{"done": task.Description}), nil
}

func (r *recordingWorker) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func registryWith(t *testing.T, taskType string, w Worker) *Registry {
	t.Helper()
	reg := NewRegistry()
	if err := reg.Register(taskType, w); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return reg
}

func indexOf(items []string, want string) int {
	for i, v := range items {
		if v == want {
			return i
		}
	}
	return -1
}

// TestEngine_TopologicalSoundness verifies that no node starts before
// all of its dependencies have completed, across repeated runs.
func TestEngine_TopologicalSoundness(t *testing.T) {
	for i := 0; i < 10; i++ {
		wf, _ := diamondWorkflow(t)
		rec := &recordingWorker{}
		engine, err := NewEngine(registryWith(t, "t", rec))
		if err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}

		if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if wf.State() != RunCompleted {
			t.Fatalf("expected COMPLETED, got %s", wf.State())
		}

		order := rec.started()
		if len(order) != 5 {
			t.Fatalf("expected 5 executions, got %d: %v", len(order), order)
		}
		if order[0] != "plan" {
			t.Errorf("plan must start first, got %v", order)
		}
		if idx := indexOf(order, "synthesize"); idx != 4 {
			t.Errorf("synthesize must start last, got %v", order)
		}
	}
}

// TestEngine_DiamondLevels verifies the emitted level structure of the
// diamond: three levels sized 1, 3, 1.
func TestEngine_DiamondLevels(t *testing.T) {
	wf, _ := diamondWorkflow(t)
	buf := emit.NewBufferedEmitter()
	engine, err := NewEngine(registryWith(t, "t", &recordingWorker{}), WithEmitter(buf))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	levels := buf.HistoryWithFilter(wf.RunID(), emit.HistoryFilter{Type: emit.LevelStarted})
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(levels))
	}
	for i, want := range []int{1, 3, 1} {
		if got := len(levels[i].NodeIDs); got != want {
			t.Errorf("level %d: expected %d nodes, got %d", i, want, got)
		}
	}

	terminal := buf.HistoryWithFilter(wf.RunID(), emit.HistoryFilter{Type: emit.RunCompleted})
	if len(terminal) != 1 {
		t.Fatalf("expected one RunCompleted event, got %d", len(terminal))
	}
}

// TestEngine_ResultsFlowDownstream verifies completed payloads are
// visible to later levels through the run context.
func TestEngine_ResultsFlowDownstream(t *testing.T) {
	wf := NewWorkflow()
	up, _ := wf.AddNode("up", Task{Type: "t", Description: "up"})
	down, _ := wf.AddNode("down", Task{Type: "t", Description: "down"})
	if err := wf.AddEdge(up.ID, down.ID); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	var sawUpstream map[string]interface{}
	var mu sync.Mutex
	worker := WorkerFunc(func(_ context.Context, task Task, rc *RunContext) (Outcome, error) {
		if task.Description == "down" {
			payload, _ := rc.Result("up")
			mu.Lock()
			sawUpstream = payload
			mu.Unlock()
		}
		return Success(map[string]interface{}{"from": task.Description}), nil
	})

	engine, _ := NewEngine(registryWith(t, "t", worker))
	if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if sawUpstream == nil || sawUpstream["from"] != "up" {
		t.Errorf("downstream node did not see upstream payload: %v", sawUpstream)
	}
}

// TestEngine_IndependentBranchPause verifies that a paused node stops
// its own branch only: independent branches finish, the run pauses.
func TestEngine_IndependentBranchPause(t *testing.T) {
	wf := NewWorkflow()
	gate, _ := wf.AddNode("gate", Task{Type: "t", Description: "gate"})
	dep, _ := wf.AddNode("dependent", Task{Type: "t", Description: "dependent"})
	free, _ := wf.AddNode("independent", Task{Type: "t", Description: "independent"})
	if err := wf.AddEdge(gate.ID, dep.ID); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	worker := WorkerFunc(func(_ context.Context, task Task, _ *RunContext) (Outcome, error) {
		if task.Description == "gate" {
			if _, resumed := task.Input["answer"]; !resumed {
				return NeedInput(map[string]interface{}{"question": "proceed?"}), nil
			}
		}
		return Success(map[string]interface{}{"done": task.Description}), nil
	})

	buf := emit.NewBufferedEmitter()
	engine, _ := NewEngine(registryWith(t, "t", worker), WithEmitter(buf))
	if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if wf.State() != RunPaused {
		t.Fatalf("expected PAUSED, got %s", wf.State())
	}
	if gate.Status() != StatusPausedForInput {
		t.Errorf("gate should be PAUSED_FOR_INPUT, got %s", gate.Status())
	}
	if free.Status() != StatusCompleted {
		t.Errorf("independent branch should have completed, got %s", free.Status())
	}
	if dep.Status() != StatusPending {
		t.Errorf("dependent should still be PENDING, got %s", dep.Status())
	}
	if prompt := gate.PauseReason(); prompt == nil || prompt["question"] != "proceed?" {
		t.Errorf("pause prompt not retained: %v", prompt)
	}

	paused := buf.HistoryWithFilter(wf.RunID(), emit.HistoryFilter{Type: emit.NodePaused})
	if len(paused) != 1 || paused[0].NodeID != gate.ID {
		t.Errorf("expected one NodePaused event for gate, got %v", paused)
	}
}

// TestEngine_ResumeContinuity verifies the pause/resume cycle: supplied
// input reaches the worker, completed nodes are not re-executed, and
// the run settles.
func TestEngine_ResumeContinuity(t *testing.T) {
	wf := NewWorkflow()
	gate, _ := wf.AddNode("gate", Task{Type: "t", Description: "gate"})
	dep, _ := wf.AddNode("dependent", Task{Type: "t", Description: "dependent"})
	free, _ := wf.AddNode("independent", Task{Type: "t", Description: "independent"})
	if err := wf.AddEdge(gate.ID, dep.ID); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	var mu sync.Mutex
	counts := make(map[string]int)
	var gateInput interface{}
	worker := WorkerFunc(func(_ context.Context, task Task, _ *RunContext) (Outcome, error) {
		mu.Lock()
		counts[task.Description]++
		mu.Unlock()
		if task.Description == "gate" {
			answer, resumed := task.Input["answer"]
			if !resumed {
				return NeedInput(map[string]interface{}{"question": "proceed?"}), nil
			}
			mu.Lock()
			gateInput = answer
			mu.Unlock()
		}
		return Success(map[string]interface{}{"done": task.Description}), nil
	})

	engine, _ := NewEngine(registryWith(t, "t", worker))
	rc := NewRunContext(wf.RunID())

	if err := engine.Run(context.Background(), wf, rc, nil); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if wf.State() != RunPaused {
		t.Fatalf("expected PAUSED after first run, got %s", wf.State())
	}

	if err := engine.ResumeNode(wf, gate.ID, map[string]interface{}{"answer": "yes"}); err != nil {
		t.Fatalf("ResumeNode failed: %v", err)
	}
	if gate.Status() != StatusReady {
		t.Fatalf("resumed gate should be READY, got %s", gate.Status())
	}

	if err := engine.Run(context.Background(), wf, rc, nil); err != nil {
		t.Fatalf("continuation Run failed: %v", err)
	}
	if wf.State() != RunCompleted {
		t.Fatalf("expected COMPLETED after resume, got %s", wf.State())
	}
	if dep.Status() != StatusCompleted {
		t.Errorf("dependent should complete after resume, got %s", dep.Status())
	}

	mu.Lock()
	defer mu.Unlock()
	if gateInput != "yes" {
		t.Errorf("resumed input did not reach the worker: %v", gateInput)
	}
	if counts["independent"] != 1 {
		t.Errorf("independent node re-executed: %d runs", counts["independent"])
	}
	if counts["gate"] != 2 {
		t.Errorf("gate should run twice (pause + resume), ran %d times", counts["gate"])
	}
	_ = free
}

// TestEngine_ResumeRejections verifies resume guards.
func TestEngine_ResumeRejections(t *testing.T) {
	t.Run("non-paused node", func(t *testing.T) {
		wf := NewWorkflow()
		n, _ := wf.AddNode("a", Task{Type: "t"})
		engine, _ := NewEngine(registryWith(t, "t", &recordingWorker{}))
		if err := engine.ResumeNode(wf, n.ID, nil); !errors.Is(err, ErrNodeNotPaused) {
			t.Errorf("expected ErrNodeNotPaused, got %v", err)
		}
	})

	t.Run("unknown node", func(t *testing.T) {
		wf := NewWorkflow()
		wf.AddNode("a", Task{Type: "t"})
		engine, _ := NewEngine(registryWith(t, "t", &recordingWorker{}))
		var ve *ValidationError
		if err := engine.ResumeNode(wf, "missing", nil); !errors.As(err, &ve) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})

	t.Run("settled run", func(t *testing.T) {
		wf := NewWorkflow()
		n, _ := wf.AddNode("a", Task{Type: "t"})
		engine, _ := NewEngine(registryWith(t, "t", &recordingWorker{}))
		if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if err := engine.ResumeNode(wf, n.ID, nil); !errors.Is(err, ErrRunNotResumable) {
			t.Errorf("expected ErrRunNotResumable, got %v", err)
		}
	})
}

// TestEngine_FailureContainment verifies continue-independent semantics:
// the failure's descendants are cancelled, independent branches finish,
// and the run completes carrying a manifest.
func TestEngine_FailureContainment(t *testing.T) {
	wf := NewWorkflow()
	bad, _ := wf.AddNode("bad", Task{Type: "t", Description: "bad"})
	child, _ := wf.AddNode("child", Task{Type: "t", Description: "child"})
	free, _ := wf.AddNode("independent", Task{Type: "t", Description: "independent"})
	if err := wf.AddEdge(bad.ID, child.ID); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	worker := WorkerFunc(func(_ context.Context, task Task, _ *RunContext) (Outcome, error) {
		if task.Description == "bad" {
			return Failed("backend rejected the request"), nil
		}
		return Success(map[string]interface{}{"done": task.Description}), nil
	})

	buf := emit.NewBufferedEmitter()
	engine, _ := NewEngine(registryWith(t, "t", worker), WithEmitter(buf))
	if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if wf.State() != RunCompleted {
		t.Fatalf("expected COMPLETED with manifest, got %s", wf.State())
	}
	if bad.Status() != StatusFailed {
		t.Errorf("bad should be FAILED, got %s", bad.Status())
	}
	if child.Status() != StatusCancelled {
		t.Errorf("child should be CANCELLED behind the failure, got %s", child.Status())
	}
	if free.Status() != StatusCompleted {
		t.Errorf("independent should complete, got %s", free.Status())
	}

	var ce *CancellationError
	if r := child.Result(); r == nil || !errors.As(r.Err, &ce) || ce.Reason != "upstream failure" {
		t.Errorf("child should carry an upstream-failure cancellation, got %v", child.Result())
	}

	terminal := buf.HistoryWithFilter(wf.RunID(), emit.HistoryFilter{Type: emit.RunCompleted})
	if len(terminal) != 1 {
		t.Fatalf("expected RunCompleted event, got %v", buf.History(wf.RunID()))
	}
	if len(terminal[0].Manifest) != 1 || terminal[0].Manifest[0].Key != "bad" {
		t.Errorf("manifest should name the failed node, got %v", terminal[0].Manifest)
	}
}

// TestEngine_AllFailed verifies a run with no completed nodes settles
// as FAILED.
func TestEngine_AllFailed(t *testing.T) {
	wf := NewWorkflow()
	wf.AddNode("a", Task{Type: "t", Description: "a"})
	wf.AddNode("b", Task{Type: "t", Description: "b"})

	worker := WorkerFunc(func(_ context.Context, _ Task, _ *RunContext) (Outcome, error) {
		return Failed("nothing works"), nil
	})
	engine, _ := NewEngine(registryWith(t, "t", worker))
	if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if wf.State() != RunFailed {
		t.Errorf("expected FAILED, got %s", wf.State())
	}
}

// TestEngine_FailFast verifies the fail-fast policy cancels everything
// after the first failure.
func TestEngine_FailFast(t *testing.T) {
	wf := NewWorkflow()
	bad, _ := wf.AddNode("bad", Task{Type: "t", Description: "bad"})
	free, _ := wf.AddNode("independent", Task{Type: "t", Description: "independent"})
	late, _ := wf.AddNode("late", Task{Type: "t", Description: "late"})
	if err := wf.AddEdge(free.ID, late.ID); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	worker := WorkerFunc(func(ctx context.Context, task Task, _ *RunContext) (Outcome, error) {
		switch task.Description {
		case "bad":
			return Failed("hard failure"), nil
		case "independent":
			// Slow enough that the failure lands first.
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return Outcome{}, ctx.Err()
			}
			return Success(nil), nil
		default:
			return Success(nil), nil
		}
	})

	engine, _ := NewEngine(registryWith(t, "t", worker), WithFailFast())
	if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if wf.State() != RunFailed {
		t.Fatalf("expected FAILED under fail-fast, got %s", wf.State())
	}
	if bad.Status() != StatusFailed {
		t.Errorf("bad should be FAILED, got %s", bad.Status())
	}
	if late.Status() != StatusCancelled {
		t.Errorf("late should be CANCELLED, got %s", late.Status())
	}
}

// TestEngine_RetryFlaky verifies transient errors are retried under the
// policy and the attempt count is recorded.
func TestEngine_RetryFlaky(t *testing.T) {
	wf := NewWorkflow()
	n, _ := wf.AddNode("flaky", Task{Type: "t", Description: "flaky"})

	var mu sync.Mutex
	calls := 0
	worker := WorkerFunc(func(_ context.Context, _ Task, _ *RunContext) (Outcome, error) {
		mu.Lock()
		calls++
		attempt := calls
		mu.Unlock()
		if attempt < 3 {
			return Outcome{}, errors.New("connection reset")
		}
		return Success(map[string]interface{}{"ok": true}), nil
	})

	engine, _ := NewEngine(registryWith(t, "t", worker),
		WithRetryPolicy(RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Retryable:   func(error) bool { return true },
		}),
	)
	if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if n.Status() != StatusCompleted {
		t.Fatalf("flaky node should succeed on third attempt, got %s", n.Status())
	}
	if n.Attempts() != 3 {
		t.Errorf("expected 3 attempts, got %d", n.Attempts())
	}
}

// TestEngine_RetryExhaustion verifies permanent failure after the
// attempt budget, with the cause preserved.
func TestEngine_RetryExhaustion(t *testing.T) {
	wf := NewWorkflow()
	n, _ := wf.AddNode("down", Task{Type: "t", Description: "down"})

	worker := WorkerFunc(func(_ context.Context, _ Task, _ *RunContext) (Outcome, error) {
		return Outcome{}, errors.New("connection reset")
	})
	engine, _ := NewEngine(registryWith(t, "t", worker),
		WithRetryPolicy(RetryPolicy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			Retryable:   func(error) bool { return true },
		}),
	)
	if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if n.Status() != StatusFailed {
		t.Fatalf("expected FAILED after exhaustion, got %s", n.Status())
	}
	if n.Attempts() != 2 {
		t.Errorf("expected 2 attempts, got %d", n.Attempts())
	}
	var nee *NodeExecutionError
	if r := n.Result(); r == nil || !errors.As(r.Err, &nee) || nee.Attempts != 2 {
		t.Errorf("failure should carry a NodeExecutionError with attempts, got %v", n.Result())
	}
}

// TestEngine_NodeTimeout verifies the per-attempt timeout fails the node
// with ErrNodeTimeout.
func TestEngine_NodeTimeout(t *testing.T) {
	wf := NewWorkflow()
	n, _ := wf.AddNode("slow", Task{Type: "t", Description: "slow"})

	worker := WorkerFunc(func(ctx context.Context, _ Task, _ *RunContext) (Outcome, error) {
		<-ctx.Done()
		return Outcome{}, ctx.Err()
	})
	engine, _ := NewEngine(registryWith(t, "t", worker), WithNodeTimeout(20*time.Millisecond))
	if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if n.Status() != StatusFailed {
		t.Fatalf("expected FAILED on timeout, got %s", n.Status())
	}
	if r := n.Result(); r == nil || !errors.Is(r.Err, ErrNodeTimeout) {
		t.Errorf("failure should wrap ErrNodeTimeout, got %v", n.Result())
	}
}

// TestEngine_CancellationFinality verifies that cancelling a run settles
// every non-terminal node and the run can never be resumed.
func TestEngine_CancellationFinality(t *testing.T) {
	wf := NewWorkflow()
	slow, _ := wf.AddNode("slow", Task{Type: "t", Description: "slow"})
	after, _ := wf.AddNode("after", Task{Type: "t", Description: "after"})
	if err := wf.AddEdge(slow.ID, after.ID); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	started := make(chan struct{})
	worker := WorkerFunc(func(ctx context.Context, _ Task, _ *RunContext) (Outcome, error) {
		close(started)
		<-ctx.Done()
		return Outcome{}, ctx.Err()
	})

	buf := emit.NewBufferedEmitter()
	engine, _ := NewEngine(registryWith(t, "t", worker), WithEmitter(buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx, wf, nil, nil) }()

	<-started
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if wf.State() != RunCancelled {
		t.Fatalf("expected CANCELLED, got %s", wf.State())
	}
	if slow.Status() != StatusCancelled {
		t.Errorf("in-flight node should be CANCELLED, got %s", slow.Status())
	}
	if after.Status() != StatusCancelled {
		t.Errorf("pending node should be CANCELLED, got %s", after.Status())
	}

	// Finality: neither a new Run nor a resume can revive the workflow.
	if err := engine.Run(context.Background(), wf, nil, nil); !errors.Is(err, ErrRunNotResumable) {
		t.Errorf("expected ErrRunNotResumable from Run, got %v", err)
	}
	if err := engine.ResumeNode(wf, slow.ID, nil); !errors.Is(err, ErrRunNotResumable) {
		t.Errorf("expected ErrRunNotResumable from ResumeNode, got %v", err)
	}

	terminal := buf.HistoryWithFilter(wf.RunID(), emit.HistoryFilter{Type: emit.RunCancelled})
	if len(terminal) != 1 {
		t.Errorf("expected one RunCancelled event, got %v", buf.History(wf.RunID()))
	}
}

// TestEngine_RunBudget verifies the wall-clock budget cancels the run.
func TestEngine_RunBudget(t *testing.T) {
	wf := NewWorkflow()
	wf.AddNode("slow", Task{Type: "t", Description: "slow"})

	worker := WorkerFunc(func(ctx context.Context, _ Task, _ *RunContext) (Outcome, error) {
		<-ctx.Done()
		return Outcome{}, ctx.Err()
	})
	engine, _ := NewEngine(registryWith(t, "t", worker), WithRunBudget(30*time.Millisecond))
	if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if wf.State() != RunCancelled {
		t.Errorf("expected CANCELLED when the budget expires, got %s", wf.State())
	}
}

// TestEngine_StructuralErrors verifies validation failures are returned
// synchronously before any dispatch.
func TestEngine_StructuralErrors(t *testing.T) {
	t.Run("unregistered task type", func(t *testing.T) {
		wf := NewWorkflow()
		wf.AddNode("a", Task{Type: "unknown"})
		rec := &recordingWorker{}
		engine, _ := NewEngine(registryWith(t, "t", rec))
		var ve *ValidationError
		if err := engine.Run(context.Background(), wf, nil, nil); !errors.As(err, &ve) {
			t.Errorf("expected ValidationError, got %v", err)
		}
		if len(rec.started()) != 0 {
			t.Error("no node should execute on validation failure")
		}
	})

	t.Run("empty workflow", func(t *testing.T) {
		engine, _ := NewEngine(registryWith(t, "t", &recordingWorker{}))
		var ve *ValidationError
		if err := engine.Run(context.Background(), NewWorkflow(), nil, nil); !errors.As(err, &ve) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})

	t.Run("nil workflow", func(t *testing.T) {
		engine, _ := NewEngine(registryWith(t, "t", &recordingWorker{}))
		var ve *ValidationError
		if err := engine.Run(context.Background(), nil, nil, nil); !errors.As(err, &ve) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})
}

// TestEngine_MaxConcurrent verifies the per-level concurrency cap.
func TestEngine_MaxConcurrent(t *testing.T) {
	wf := NewWorkflow()
	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		wf.AddNode(k, Task{Type: "t", Description: k})
	}

	var mu sync.Mutex
	inflight, peak := 0, 0
	worker := WorkerFunc(func(ctx context.Context, _ Task, _ *RunContext) (Outcome, error) {
		mu.Lock()
		inflight++
		if inflight > peak {
			peak = inflight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inflight--
		mu.Unlock()
		return Success(nil), nil
	})

	engine, _ := NewEngine(registryWith(t, "t", worker), WithMaxConcurrent(2))
	if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("concurrency cap breached: peak %d", peak)
	}
	if wf.State() != RunCompleted {
		t.Errorf("expected COMPLETED, got %s", wf.State())
	}
}

// TestEngine_CancelRunPaused verifies the direct settle path used for
// quiescent paused runs.
func TestEngine_CancelRunPaused(t *testing.T) {
	wf := NewWorkflow()
	gate, _ := wf.AddNode("gate", Task{Type: "t", Description: "gate"})

	worker := WorkerFunc(func(_ context.Context, _ Task, _ *RunContext) (Outcome, error) {
		return NeedInput(map[string]interface{}{"question": "proceed?"}), nil
	})
	engine, _ := NewEngine(registryWith(t, "t", worker))
	if err := engine.Run(context.Background(), wf, nil, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if wf.State() != RunPaused {
		t.Fatalf("expected PAUSED, got %s", wf.State())
	}

	if err := engine.CancelRun(wf, nil, nil); err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	if wf.State() != RunCancelled {
		t.Errorf("expected CANCELLED, got %s", wf.State())
	}
	if gate.Status() != StatusCancelled {
		t.Errorf("paused node should be CANCELLED, got %s", gate.Status())
	}
	if err := engine.CancelRun(wf, nil, nil); !errors.Is(err, ErrRunNotResumable) {
		t.Errorf("second CancelRun should report finality, got %v", err)
	}
}
