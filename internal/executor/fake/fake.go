// Package fake provides a scriptable ActionRunner for tests and for
// running the daemon without a desktop automation backend.
package fake

import (
	"context"
	"sync"

	"autotask/internal/task"
)

// Outcome scripts the result for one action type or step id.
type Outcome struct {
	Success bool
	Message string
	Err     error
}

// Runner records every step it is asked to run and answers from a script.
// Unscripted steps succeed. Step-id entries take precedence over
// action-type entries.
type Runner struct {
	mu       sync.Mutex
	byStepID map[string]Outcome
	byType   map[task.ActionType]Outcome
	calls    []task.ActionStep
}

func NewRunner() *Runner {
	return &Runner{
		byStepID: make(map[string]Outcome),
		byType:   make(map[task.ActionType]Outcome),
	}
}

func (r *Runner) ScriptStep(stepID string, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byStepID[stepID] = o
}

func (r *Runner) ScriptType(t task.ActionType, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[t] = o
}

// Calls returns a copy of the steps run so far, in order.
func (r *Runner) Calls() []task.ActionStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]task.ActionStep(nil), r.calls...)
}

func (r *Runner) Run(ctx context.Context, step task.ActionStep, target string) (task.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return task.ExecutionResult{}, err
	}
	r.mu.Lock()
	r.calls = append(r.calls, step)
	o, ok := r.byStepID[step.ID]
	if !ok {
		o, ok = r.byType[step.Type]
	}
	r.mu.Unlock()

	if !ok {
		return task.SuccessResult(string(step.Type), target, "ok", nil), nil
	}
	if o.Err != nil {
		return task.ExecutionResult{}, o.Err
	}
	if o.Success {
		return task.SuccessResult(string(step.Type), target, o.Message, nil), nil
	}
	return task.FailureResult(string(step.Type), target, o.Message, nil), nil
}
