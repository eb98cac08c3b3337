package flow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunState is the lifecycle state of a whole run.
type RunState string

const (
	// RunPending means the workflow is built but execution has not started.
	RunPending RunState = "PENDING"

	// RunRunning means the engine is dispatching levels.
	RunRunning RunState = "RUNNING"

	// RunPaused means every dispatchable node is blocked behind at least
	// one PAUSED_FOR_INPUT node. The run continues on Resume.
	RunPaused RunState = "PAUSED"

	// RunCompleted means the run settled; under the continue-independent
	// policy it may carry a non-empty failure manifest.
	RunCompleted RunState = "COMPLETED"

	// RunFailed means the run settled with nothing useful produced, or
	// the fail-fast policy stopped it on the first failure.
	RunFailed RunState = "FAILED"

	// RunCancelled means the caller cancelled the run.
	RunCancelled RunState = "CANCELLED"
)

// Terminal reports whether the run state admits no further transitions.
func (s RunState) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Workflow is the dependency graph for one run: nodes in insertion
// order plus a double-indexed edge set (successors and predecessors) so
// readiness checks are O(indegree).
//
// Structural mutation (AddNode, AddEdge) is rejected after Seal unless
// the workflow was created with dynamic mutation enabled, in which case
// changes go through Mutate as atomic batches. Node execution state is
// owned by the nodes themselves; the Workflow mutex guards structure and
// run state only.
type Workflow struct {
	runID string

	mu      sync.RWMutex
	nodes   map[string]*Node
	byKey   map[string]*Node
	order   []*Node
	succ    map[string][]string
	pred    map[string][]string
	state   RunState
	sealed  bool
	dynamic bool
}

// WorkflowOption customizes workflow construction.
type WorkflowOption func(*Workflow)

// WithRunID sets an explicit run identifier instead of a generated UUID.
// Used when restoring a workflow from a snapshot.
func WithRunID(id string) WorkflowOption {
	return func(w *Workflow) { w.runID = id }
}

// WithDynamicMutation allows structural changes after the workflow is
// sealed. Changes must go through Mutate so each batch is validated and
// applied atomically while the engine is between levels.
func WithDynamicMutation() WorkflowOption {
	return func(w *Workflow) { w.dynamic = true }
}

// NewWorkflow creates an empty workflow in state PENDING.
func NewWorkflow(opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		nodes: make(map[string]*Node),
		byKey: make(map[string]*Node),
		succ:  make(map[string][]string),
		pred:  make(map[string][]string),
		state: RunPending,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.runID == "" {
		w.runID = uuid.NewString()
	}
	return w
}

// RunID returns the run identifier.
func (w *Workflow) RunID() string {
	return w.runID
}

// AddNode registers a node under the caller-supplied key and returns it.
// Keys need not be unique across the workflow; every node gets its own
// unique ID. When keys collide, NodeByKey and key-addressed results
// resolve to the most recently added node. Task.Type must be non-empty.
func (w *Workflow) AddNode(key string, task Task) (*Node, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addNodeLocked(key, task)
}

func (w *Workflow) addNodeLocked(key string, task Task) (*Node, error) {
	if w.sealed && !w.dynamic {
		return nil, ErrWorkflowSealed
	}
	if key == "" {
		return nil, &ValidationError{Message: "node key must not be empty"}
	}
	if task.Type == "" {
		return nil, &ValidationError{Message: "node " + key + " has no task type"}
	}
	n := &Node{
		ID:        uuid.NewString(),
		Key:       key,
		Task:      task,
		status:    StatusPending,
		createdAt: time.Now(),
	}
	w.nodes[n.ID] = n
	w.byKey[key] = n
	w.order = append(w.order, n)
	return n, nil
}

// AddEdge records a dependency: to cannot start until from completes.
// Both arguments are node IDs. The edge is checked incrementally; an
// edge that would close a cycle is rejected with a DependencyError
// before it is stored, so the graph is acyclic at all times.
func (w *Workflow) AddEdge(from, to string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addEdgeLocked(from, to)
}

func (w *Workflow) addEdgeLocked(from, to string) error {
	if w.sealed && !w.dynamic {
		return ErrWorkflowSealed
	}
	if _, ok := w.nodes[from]; !ok {
		return &ValidationError{Message: "edge references unknown node: " + from}
	}
	if _, ok := w.nodes[to]; !ok {
		return &ValidationError{Message: "edge references unknown node: " + to}
	}
	if from == to {
		return &DependencyError{From: from, To: to}
	}
	for _, s := range w.succ[from] {
		if s == to {
			// Duplicate edges are idempotent.
			return nil
		}
	}
	// If from is already reachable from to, adding from->to closes a cycle.
	if w.reachesLocked(to, from) {
		return &DependencyError{From: from, To: to}
	}

	w.succ[from] = append(w.succ[from], to)
	w.pred[to] = append(w.pred[to], from)
	return nil
}

// reachesLocked reports whether target is reachable from start following
// successor edges. Caller holds the mutex.
func (w *Workflow) reachesLocked(start, target string) bool {
	if start == target {
		return true
	}
	visited := make(map[string]bool, len(w.nodes))
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, next := range w.succ[id] {
			if next == target {
				return true
			}
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Validate performs a full Kahn topological check over the graph. The
// incremental check on AddEdge already keeps the graph acyclic; Validate
// is the belt-and-braces pass the engine runs before dispatch, and the
// check that protects restored snapshots and mutation batches.
func (w *Workflow) Validate() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.validateLocked()
}

func (w *Workflow) validateLocked() error {
	if len(w.order) == 0 {
		return &ValidationError{Message: "workflow has no nodes"}
	}

	indegree := make(map[string]int, len(w.nodes))
	for id := range w.nodes {
		indegree[id] = len(w.pred[id])
	}

	var queue []string
	for _, n := range w.order {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range w.succ[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if processed != len(w.nodes) {
		// Name one edge inside the residual cycle for the error.
		for _, n := range w.order {
			if indegree[n.ID] <= 0 {
				continue
			}
			for _, p := range w.pred[n.ID] {
				if indegree[p] > 0 {
					return &DependencyError{From: p, To: n.ID}
				}
			}
		}
		return &DependencyError{}
	}
	return nil
}

// Seal freezes the workflow structure. The engine seals before the first
// dispatch; later AddNode/AddEdge calls fail with ErrWorkflowSealed
// unless dynamic mutation was enabled.
func (w *Workflow) Seal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sealed = true
}

// Sealed reports whether the structure is frozen.
func (w *Workflow) Sealed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sealed
}

// Mutation collects structural changes applied atomically by Mutate.
type Mutation struct {
	w     *Workflow
	added []*Node
	err   error
}

// AddNode stages a new node in the batch.
func (m *Mutation) AddNode(key string, task Task) (*Node, error) {
	if m.err != nil {
		return nil, m.err
	}
	n, err := m.w.addNodeLocked(key, task)
	if err != nil {
		m.err = err
		return nil, err
	}
	m.added = append(m.added, n)
	return n, nil
}

// AddEdge stages a new dependency in the batch.
func (m *Mutation) AddEdge(from, to string) error {
	if m.err != nil {
		return m.err
	}
	if err := m.w.addEdgeLocked(from, to); err != nil {
		m.err = err
		return err
	}
	return nil
}

// Mutate applies a batch of structural changes under the workflow lock.
// The batch is validated as a whole (including a full topological check)
// before Mutate returns nil; if the batch function or validation fails,
// staged nodes are rolled back and the error is returned.
//
// Requires dynamic mutation to have been enabled at construction when
// the workflow is sealed. The engine picks up new nodes at the next
// level boundary.
func (w *Workflow) Mutate(fn func(*Mutation) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sealed && !w.dynamic {
		return ErrWorkflowSealed
	}
	if w.state.Terminal() {
		return &ValidationError{Message: "cannot mutate a settled run"}
	}

	m := &Mutation{w: w}
	err := fn(m)
	if err == nil {
		err = m.err
	}
	if err == nil {
		err = w.validateLocked()
	}
	if err != nil {
		w.rollbackLocked(m.added)
		return err
	}
	return nil
}

// rollbackLocked removes staged nodes and any edges touching them.
func (w *Workflow) rollbackLocked(added []*Node) {
	for _, n := range added {
		delete(w.nodes, n.ID)
		for i, o := range w.order {
			if o.ID == n.ID {
				w.order = append(w.order[:i], w.order[i+1:]...)
				break
			}
		}
		// Keys are not unique; repoint the key index at the newest
		// surviving node with this key, if any.
		if w.byKey[n.Key] == n {
			delete(w.byKey, n.Key)
			for i := len(w.order) - 1; i >= 0; i-- {
				if w.order[i].Key == n.Key {
					w.byKey[n.Key] = w.order[i]
					break
				}
			}
		}
		for _, p := range w.pred[n.ID] {
			w.succ[p] = removeID(w.succ[p], n.ID)
		}
		for _, s := range w.succ[n.ID] {
			w.pred[s] = removeID(w.pred[s], n.ID)
		}
		delete(w.pred, n.ID)
		delete(w.succ, n.ID)
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Node returns the node with the given ID, or nil.
func (w *Workflow) Node(id string) *Node {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.nodes[id]
}

// NodeByKey returns the node most recently registered under key, or nil.
func (w *Workflow) NodeByKey(key string) *Node {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.byKey[key]
}

// Nodes returns the nodes in insertion order.
func (w *Workflow) Nodes() []*Node {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Node, len(w.order))
	copy(out, w.order)
	return out
}

// Predecessors returns the IDs of the nodes that must complete before id.
func (w *Workflow) Predecessors(id string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.pred[id]))
	copy(out, w.pred[id])
	return out
}

// Successors returns the IDs of the nodes that depend on id.
func (w *Workflow) Successors(id string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.succ[id]))
	copy(out, w.succ[id])
	return out
}

// Edges returns every (from, to) pair, ordered by the insertion order of
// the from node. Used by snapshot persistence.
func (w *Workflow) Edges() [][2]string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out [][2]string
	for _, n := range w.order {
		for _, to := range w.succ[n.ID] {
			out = append(out, [2]string{n.ID, to})
		}
	}
	return out
}

// State returns the current run state.
func (w *Workflow) State() RunState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// setState transitions the run state. Terminal states are sticky: once a
// run settles, later transitions are ignored.
func (w *Workflow) setState(s RunState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.Terminal() {
		return
	}
	w.state = s
}

// restoreState sets the run state without the terminal-stickiness guard.
// Only snapshot restoration uses it.
func (w *Workflow) restoreState(s RunState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}
