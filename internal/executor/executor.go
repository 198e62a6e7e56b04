// Package executor runs action sequences against a desktop automation
// backend with per-step delays, retries and an overall deadline.
package executor

import (
	"context"
	"fmt"
	"time"

	"autotask/internal/task"
	"autotask/pkg/logx"
)

// partialSuccessThreshold is the minimum step success rate for a run with
// failures to still count as a (partial) success.
const partialSuccessThreshold = 0.5

// ActionRunner performs one action step against the target application.
// A non-nil error or a result with Success=false both count as a failed
// step.
type ActionRunner interface {
	Run(ctx context.Context, step task.ActionStep, target string) (task.ExecutionResult, error)
}

// Executor walks an action sequence step by step.
type Executor struct {
	runner ActionRunner
	log    logx.Logger
}

func New(runner ActionRunner, log logx.Logger) *Executor {
	return &Executor{runner: runner, log: log}
}

// ExecuteSequence runs steps in order and reports an aggregate result.
// Details always carry executed_steps and failed_steps as per-step info
// lists, plus total_steps, duration and success_rate.
func (e *Executor) ExecuteSequence(ctx context.Context, steps []task.ActionStep, opts task.ExecutionOptions, target string) task.ExecutionResult {
	start := time.Now()
	if len(steps) == 0 {
		return task.FailureResult("execute_sequence", target, "empty action sequence",
			sequenceDetails(nil, nil, 0, 0))
	}

	var deadline time.Time
	if opts.MaxExecutionTime > 0 {
		deadline = start.Add(opts.MaxExecutionTime)
	}

	var executed, failed []map[string]any
	stopped := false

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			e.log.Warn("sequence canceled",
				logx.String("target", target),
				logx.Int("step", i),
				logx.Err(err))
			stopped = true
			break
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			elapsed := time.Since(start)
			e.log.Warn("sequence deadline exceeded",
				logx.String("target", target),
				logx.Int("step", i),
				logx.Duration("limit", opts.MaxExecutionTime))
			details := sequenceDetails(executed, failed, len(steps), elapsed)
			details["timeout"] = opts.MaxExecutionTime.Seconds()
			return task.FailureResult("execute_sequence", target,
				fmt.Sprintf("sequence timed out after %.2fs", elapsed.Seconds()), details)
		}

		stepStart := time.Now()
		res := e.runStep(ctx, step, target)
		info := map[string]any{
			"step_index":  i,
			"step_id":     step.ID,
			"action_type": string(step.Type),
			"duration":    time.Since(stepStart).Seconds(),
			"success":     res.Success,
			"message":     res.Message,
		}

		if res.Success {
			executed = append(executed, info)
			// Delay only after a successful step.
			if !e.delayAfter(ctx, step, opts, i == len(steps)-1) {
				stopped = true
				break
			}
			continue
		}

		e.log.Warn("step failed",
			logx.String("step_id", step.ID),
			logx.String("action", string(step.Type)),
			logx.String("message", res.Message))

		// The stop policy wins over retries: a sequence that must stop on
		// error fails right here, with no second attempt.
		if opts.StopOnFirstError || !step.ContinueOnError {
			failed = append(failed, info)
			details := sequenceDetails(executed, failed, len(steps), time.Since(start))
			details["failed_step"] = info
			return task.FailureResult("execute_sequence", target,
				fmt.Sprintf("sequence stopped at step %d: %s", i+1, res.Message), details)
		}

		if opts.RetryFailedActions {
			e.log.Debug("retrying failed step",
				logx.String("step_id", step.ID),
				logx.String("action", string(step.Type)))
			retry := e.runStep(ctx, step, target)
			info["retried"] = true
			if retry.Success {
				info["success"] = true
				info["message"] = "succeeded on retry: " + retry.Message
				executed = append(executed, info)
				if !e.delayAfter(ctx, step, opts, i == len(steps)-1) {
					stopped = true
					break
				}
				continue
			}
			info["retry_message"] = retry.Message
		}
		failed = append(failed, info)
	}

	dur := time.Since(start)
	ran := len(executed) + len(failed)
	rate := 0.0
	if ran > 0 {
		rate = float64(len(executed)) / float64(ran)
	}
	details := sequenceDetails(executed, failed, len(steps), dur)
	details["success_rate"] = rate

	switch {
	case len(failed) == 0 && !stopped && len(executed) == len(steps):
		return task.SuccessResult("execute_sequence", target,
			fmt.Sprintf("executed %d steps", len(executed)), details)
	case len(failed) > 0 && rate >= partialSuccessThreshold && !stopped:
		return task.SuccessResult("execute_sequence", target,
			fmt.Sprintf("partial success: %d/%d steps failed", len(failed), ran), details)
	default:
		return task.FailureResult("execute_sequence", target,
			fmt.Sprintf("sequence failed: %d/%d steps executed, %d failed", ran, len(steps), len(failed)), details)
	}
}

// delayAfter applies the post-step pause, skipped for the last step. It
// reports whether the sequence may continue.
func (e *Executor) delayAfter(ctx context.Context, step task.ActionStep, opts task.ExecutionOptions, last bool) bool {
	delay := step.DelayAfter
	if delay <= 0 {
		delay = opts.DefaultDelay
	}
	if delay <= 0 || last {
		return true
	}
	return sleepCtx(ctx, delay)
}

// runStep validates, runs and panic-guards a single step.
func (e *Executor) runStep(ctx context.Context, step task.ActionStep, target string) (res task.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("step panicked",
				logx.String("step_id", step.ID),
				logx.String("action", string(step.Type)),
				logx.Any("panic", r))
			res = task.FailureResult(string(step.Type), target,
				fmt.Sprintf("action panicked: %v", r), nil)
		}
	}()

	if !task.ValidateActionParams(step.Type, step.Params) {
		return task.FailureResult(string(step.Type), target, "invalid action parameters", nil)
	}
	out, err := e.runner.Run(ctx, step, target)
	if err != nil {
		return task.FailureResult(string(step.Type), target, err.Error(), nil)
	}
	return out
}

func sequenceDetails(executed, failed []map[string]any, total int, dur time.Duration) map[string]any {
	if executed == nil {
		executed = []map[string]any{}
	}
	if failed == nil {
		failed = []map[string]any{}
	}
	return map[string]any{
		"executed_steps": executed,
		"failed_steps":   failed,
		"total_steps":    total,
		"duration":       dur.Seconds(),
	}
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
