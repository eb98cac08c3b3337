package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jharlan/flowgraph-go/flow"
)

// Step is one scripted execution: the verdict to return, or an error
// standing in for an infrastructure fault, after an optional delay.
type Step struct {
	Outcome flow.Outcome
	Err     error
	Delay   time.Duration
}

// ScriptedWorker returns pre-programmed outcomes keyed by task
// description, consuming each key's steps in order (the last step
// repeats once the script runs out). Unscripted descriptions get the
// fallback step.
//
// Used in tests and examples to stage failures, pauses, retries and
// slow nodes without real backends.
//
// Example:
//
//	w := worker.NewScriptedWorker(worker.Step{Outcome: flow.Success(nil)})
//	w.Script("flaky step",
//	    worker.Step{Err: errors.New("connection reset")},
//	    worker.Step{Outcome: flow.Success(nil)},
//	)
type ScriptedWorker struct {
	mu       sync.Mutex
	steps    map[string][]Step
	fallback Step
	calls    []string
}

// NewScriptedWorker creates a scripted worker with the given fallback
// step for unscripted tasks.
func NewScriptedWorker(fallback Step) *ScriptedWorker {
	return &ScriptedWorker{
		steps:    make(map[string][]Step),
		fallback: fallback,
	}
}

// Script programs the steps returned for tasks with this description.
func (s *ScriptedWorker) Script(description string, steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[description] = steps
}

// Calls returns the task descriptions executed so far, in order.
func (s *ScriptedWorker) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times a description was executed.
func (s *ScriptedWorker) CallCount(description string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, c := range s.calls {
		if c == description {
			count++
		}
	}
	return count
}

// Execute implements flow.Worker.
func (s *ScriptedWorker) Execute(ctx context.Context, task flow.Task, _ *flow.RunContext) (flow.Outcome, error) {
	s.mu.Lock()
	s.calls = append(s.calls, task.Description)
	step := s.fallback
	if queue, ok := s.steps[task.Description]; ok && len(queue) > 0 {
		step = queue[0]
		if len(queue) > 1 {
			s.steps[task.Description] = queue[1:]
		}
	}
	s.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return flow.Outcome{}, ctx.Err()
		}
	}

	if step.Err != nil {
		return flow.Outcome{}, step.Err
	}
	return step.Outcome, nil
}
