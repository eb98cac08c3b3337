package flow

import (
	"errors"
	"testing"
)

// TestWorkflow_AddNode verifies node registration and its validation.
func TestWorkflow_AddNode(t *testing.T) {
	t.Run("register node", func(t *testing.T) {
		wf := NewWorkflow()
		n, err := wf.AddNode("plan", Task{Type: "research", Description: "decompose the question"})
		if err != nil {
			t.Fatalf("AddNode failed: %v", err)
		}
		if n.ID == "" {
			t.Error("expected engine-assigned node ID")
		}
		if n.Key != "plan" {
			t.Errorf("expected key %q, got %q", "plan", n.Key)
		}
		if n.Status() != StatusPending {
			t.Errorf("expected new node PENDING, got %s", n.Status())
		}
		if n.CreatedAt().IsZero() {
			t.Error("expected creation timestamp to be recorded")
		}
		if wf.NodeByKey("plan") != n {
			t.Error("NodeByKey did not return the registered node")
		}
	})

	t.Run("empty key rejected", func(t *testing.T) {
		wf := NewWorkflow()
		_, err := wf.AddNode("", Task{Type: "research"})
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("empty task type rejected", func(t *testing.T) {
		wf := NewWorkflow()
		_, err := wf.AddNode("plan", Task{})
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("duplicate keys allowed with distinct ids", func(t *testing.T) {
		wf := NewWorkflow()
		first, err := wf.AddNode("plan", Task{Type: "research"})
		if err != nil {
			t.Fatalf("first AddNode failed: %v", err)
		}
		second, err := wf.AddNode("plan", Task{Type: "research"})
		if err != nil {
			t.Fatalf("AddNode with a reused key failed: %v", err)
		}
		if first.ID == second.ID {
			t.Error("nodes sharing a key must still get unique IDs")
		}
		if len(wf.Nodes()) != 2 {
			t.Fatalf("expected 2 nodes, got %d", len(wf.Nodes()))
		}
		if wf.NodeByKey("plan") != second {
			t.Error("NodeByKey should resolve to the most recently added node")
		}
	})

	t.Run("insertion order preserved", func(t *testing.T) {
		wf := NewWorkflow()
		keys := []string{"c", "a", "b"}
		for _, k := range keys {
			if _, err := wf.AddNode(k, Task{Type: "t"}); err != nil {
				t.Fatalf("AddNode(%s) failed: %v", k, err)
			}
		}
		nodes := wf.Nodes()
		for i, k := range keys {
			if nodes[i].Key != k {
				t.Errorf("position %d: expected %q, got %q", i, k, nodes[i].Key)
			}
		}
	})
}

// TestWorkflow_AddEdge verifies dependency registration and the
// incremental cycle check.
func TestWorkflow_AddEdge(t *testing.T) {
	build := func(t *testing.T, keys ...string) (*Workflow, map[string]*Node) {
		t.Helper()
		wf := NewWorkflow()
		nodes := make(map[string]*Node, len(keys))
		for _, k := range keys {
			n, err := wf.AddNode(k, Task{Type: "t"})
			if err != nil {
				t.Fatalf("AddNode(%s) failed: %v", k, err)
			}
			nodes[k] = n
		}
		return wf, nodes
	}

	t.Run("edge recorded both directions", func(t *testing.T) {
		wf, nodes := build(t, "a", "b")
		if err := wf.AddEdge(nodes["a"].ID, nodes["b"].ID); err != nil {
			t.Fatalf("AddEdge failed: %v", err)
		}
		if succ := wf.Successors(nodes["a"].ID); len(succ) != 1 || succ[0] != nodes["b"].ID {
			t.Errorf("unexpected successors: %v", succ)
		}
		if pred := wf.Predecessors(nodes["b"].ID); len(pred) != 1 || pred[0] != nodes["a"].ID {
			t.Errorf("unexpected predecessors: %v", pred)
		}
	})

	t.Run("unknown node rejected", func(t *testing.T) {
		wf, nodes := build(t, "a")
		err := wf.AddEdge(nodes["a"].ID, "no-such-node")
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("self edge rejected", func(t *testing.T) {
		wf, nodes := build(t, "a")
		err := wf.AddEdge(nodes["a"].ID, nodes["a"].ID)
		var de *DependencyError
		if !errors.As(err, &de) {
			t.Fatalf("expected DependencyError, got %v", err)
		}
	})

	t.Run("duplicate edge is idempotent", func(t *testing.T) {
		wf, nodes := build(t, "a", "b")
		if err := wf.AddEdge(nodes["a"].ID, nodes["b"].ID); err != nil {
			t.Fatalf("first AddEdge failed: %v", err)
		}
		if err := wf.AddEdge(nodes["a"].ID, nodes["b"].ID); err != nil {
			t.Fatalf("duplicate AddEdge should be a no-op, got %v", err)
		}
		if succ := wf.Successors(nodes["a"].ID); len(succ) != 1 {
			t.Errorf("expected 1 successor after duplicate edge, got %d", len(succ))
		}
	})

	t.Run("cycle closing edge rejected before storage", func(t *testing.T) {
		wf, nodes := build(t, "a", "b", "c")
		if err := wf.AddEdge(nodes["a"].ID, nodes["b"].ID); err != nil {
			t.Fatalf("a->b failed: %v", err)
		}
		if err := wf.AddEdge(nodes["b"].ID, nodes["c"].ID); err != nil {
			t.Fatalf("b->c failed: %v", err)
		}

		err := wf.AddEdge(nodes["c"].ID, nodes["a"].ID)
		var de *DependencyError
		if !errors.As(err, &de) {
			t.Fatalf("expected DependencyError for c->a, got %v", err)
		}

		// The rejected edge must not have been stored.
		if succ := wf.Successors(nodes["c"].ID); len(succ) != 0 {
			t.Errorf("rejected edge leaked into the graph: %v", succ)
		}
		if err := wf.Validate(); err != nil {
			t.Errorf("graph should still validate after rejected edge: %v", err)
		}
	})
}

// TestWorkflow_Validate verifies the full topological check.
func TestWorkflow_Validate(t *testing.T) {
	t.Run("empty workflow rejected", func(t *testing.T) {
		wf := NewWorkflow()
		var ve *ValidationError
		if err := wf.Validate(); !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError for empty workflow, got %v", err)
		}
	})

	t.Run("diamond validates", func(t *testing.T) {
		wf := NewWorkflow()
		plan, _ := wf.AddNode("plan", Task{Type: "t"})
		a, _ := wf.AddNode("a", Task{Type: "t"})
		b, _ := wf.AddNode("b", Task{Type: "t"})
		synth, _ := wf.AddNode("synthesize", Task{Type: "t"})
		for _, e := range [][2]string{{plan.ID, a.ID}, {plan.ID, b.ID}, {a.ID, synth.ID}, {b.ID, synth.ID}} {
			if err := wf.AddEdge(e[0], e[1]); err != nil {
				t.Fatalf("AddEdge failed: %v", err)
			}
		}
		if err := wf.Validate(); err != nil {
			t.Errorf("diamond should validate: %v", err)
		}
	})
}

// TestWorkflow_Seal verifies that sealing freezes structure.
func TestWorkflow_Seal(t *testing.T) {
	t.Run("mutation after seal rejected", func(t *testing.T) {
		wf := NewWorkflow()
		a, _ := wf.AddNode("a", Task{Type: "t"})
		b, _ := wf.AddNode("b", Task{Type: "t"})
		wf.Seal()

		if !wf.Sealed() {
			t.Fatal("workflow should report sealed")
		}
		if _, err := wf.AddNode("c", Task{Type: "t"}); !errors.Is(err, ErrWorkflowSealed) {
			t.Errorf("expected ErrWorkflowSealed from AddNode, got %v", err)
		}
		if err := wf.AddEdge(a.ID, b.ID); !errors.Is(err, ErrWorkflowSealed) {
			t.Errorf("expected ErrWorkflowSealed from AddEdge, got %v", err)
		}
	})

	t.Run("dynamic workflow mutates after seal", func(t *testing.T) {
		wf := NewWorkflow(WithDynamicMutation())
		a, _ := wf.AddNode("a", Task{Type: "t"})
		wf.Seal()

		err := wf.Mutate(func(m *Mutation) error {
			b, err := m.AddNode("b", Task{Type: "t"})
			if err != nil {
				return err
			}
			return m.AddEdge(a.ID, b.ID)
		})
		if err != nil {
			t.Fatalf("Mutate failed on dynamic workflow: %v", err)
		}
		if wf.NodeByKey("b") == nil {
			t.Error("mutation batch did not land")
		}
	})
}

// TestWorkflow_Mutate verifies atomic batch semantics: a failing batch
// leaves no trace.
func TestWorkflow_Mutate(t *testing.T) {
	t.Run("failed batch rolls back staged nodes", func(t *testing.T) {
		wf := NewWorkflow(WithDynamicMutation())
		a, _ := wf.AddNode("a", Task{Type: "t"})
		wf.Seal()

		err := wf.Mutate(func(m *Mutation) error {
			b, err := m.AddNode("b", Task{Type: "t"})
			if err != nil {
				return err
			}
			if err := m.AddEdge(a.ID, b.ID); err != nil {
				return err
			}
			// Close a cycle: rejected, failing the whole batch.
			return m.AddEdge(b.ID, a.ID)
		})
		var de *DependencyError
		if !errors.As(err, &de) {
			t.Fatalf("expected DependencyError, got %v", err)
		}

		if wf.NodeByKey("b") != nil {
			t.Error("staged node survived a failed batch")
		}
		if len(wf.Nodes()) != 1 {
			t.Errorf("expected 1 node after rollback, got %d", len(wf.Nodes()))
		}
		if succ := wf.Successors(a.ID); len(succ) != 0 {
			t.Errorf("staged edge survived rollback: %v", succ)
		}
	})

	t.Run("rollback repoints a shared key", func(t *testing.T) {
		wf := NewWorkflow(WithDynamicMutation())
		a, _ := wf.AddNode("a", Task{Type: "t"})
		wf.Seal()

		// The staged node reuses an existing key; rolling it back must
		// leave the key index pointing at the original node.
		err := wf.Mutate(func(m *Mutation) error {
			b, err := m.AddNode("a", Task{Type: "t"})
			if err != nil {
				return err
			}
			if err := m.AddEdge(a.ID, b.ID); err != nil {
				return err
			}
			return m.AddEdge(b.ID, a.ID)
		})
		if err == nil {
			t.Fatal("expected the batch to fail")
		}
		if wf.NodeByKey("a") != a {
			t.Error("key index not repointed after rollback")
		}
	})

	t.Run("batch rejected on settled run", func(t *testing.T) {
		wf := NewWorkflow(WithDynamicMutation())
		wf.AddNode("a", Task{Type: "t"})
		wf.setState(RunRunning)
		wf.setState(RunCompleted)

		err := wf.Mutate(func(m *Mutation) error {
			_, err := m.AddNode("b", Task{Type: "t"})
			return err
		})
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError on settled run, got %v", err)
		}
	})

	t.Run("non-dynamic sealed workflow rejected", func(t *testing.T) {
		wf := NewWorkflow()
		wf.AddNode("a", Task{Type: "t"})
		wf.Seal()
		err := wf.Mutate(func(m *Mutation) error { return nil })
		if !errors.Is(err, ErrWorkflowSealed) {
			t.Errorf("expected ErrWorkflowSealed, got %v", err)
		}
	})
}

// TestRunState_Terminal verifies terminal classification and stickiness.
func TestRunState_Terminal(t *testing.T) {
	terminal := []RunState{RunCompleted, RunFailed, RunCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []RunState{RunPending, RunRunning, RunPaused} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}

	t.Run("terminal state is sticky", func(t *testing.T) {
		wf := NewWorkflow()
		wf.AddNode("a", Task{Type: "t"})
		wf.setState(RunCancelled)
		wf.setState(RunRunning)
		if wf.State() != RunCancelled {
			t.Errorf("terminal state was overwritten: %s", wf.State())
		}
	})
}
