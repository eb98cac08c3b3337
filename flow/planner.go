package flow

// DefaultParallelThreshold is the minimum level size at which the engine
// dispatches nodes concurrently. Levels below the threshold run
// sequentially in insertion order, which keeps single-node levels off
// the goroutine path.
const DefaultParallelThreshold = 2

// levelPlanner computes, one round at a time, the next maximal set of
// nodes that can run concurrently: every node whose dependencies have
// all completed and that has not yet been dispatched.
//
// Levels are computed lazily against the live workflow rather than
// precomputed, so nodes added mid-run (dynamic mutation) and nodes
// resumed from PAUSED_FOR_INPUT join the next round naturally. Ties
// are broken by insertion order.
type levelPlanner struct{}

// nextLevel returns the next dispatchable set in insertion order, moving
// each member from PENDING to READY. An empty result means no node can
// currently be dispatched; the engine then settles or pauses the run.
func (levelPlanner) nextLevel(w *Workflow) []*Node {
	var level []*Node
	for _, n := range w.Nodes() {
		switch n.Status() {
		case StatusPending, StatusReady:
		default:
			continue
		}
		if !dependenciesCompleted(w, n) {
			continue
		}
		n.setReady()
		level = append(level, n)
	}
	return level
}

// hasPaused reports whether any node is waiting for external input.
func (levelPlanner) hasPaused(w *Workflow) bool {
	for _, n := range w.Nodes() {
		if n.Status() == StatusPausedForInput {
			return true
		}
	}
	return false
}

// unsettled returns nodes that are neither terminal nor paused. When
// nextLevel is empty and nothing is paused, these are exactly the nodes
// stranded behind a failed or cancelled ancestor.
func (levelPlanner) unsettled(w *Workflow) []*Node {
	var out []*Node
	for _, n := range w.Nodes() {
		s := n.Status()
		if s.Terminal() || s == StatusPausedForInput {
			continue
		}
		out = append(out, n)
	}
	return out
}

// dependenciesCompleted reports whether every predecessor of n has
// completed. A failed, cancelled or paused predecessor blocks the node.
func dependenciesCompleted(w *Workflow, n *Node) bool {
	for _, pid := range w.Predecessors(n.ID) {
		p := w.Node(pid)
		if p == nil || p.Status() != StatusCompleted {
			return false
		}
	}
	return true
}
