package core

import (
	"context"
	"time"
)

// Task is the unit of work (Closure).
// A nil Task is a valid submission: it is accepted and treated as already
// complete.
type Task func(ctx context.Context)

// =============================================================================
// TaskRunner: Define task submission interface
// =============================================================================

// TaskRunner accepts tasks for immediate or delayed execution.
//
// Both Post methods return without blocking. The boolean result means
// "accepted for scheduling", never "ran successfully" - a task body's own
// failure is the caller's concern and is not observed or retried by the
// runner.
type TaskRunner interface {
	// PostTask enqueues task for FIFO-eligible immediate execution.
	PostTask(task Task) bool

	// PostDelayedTask enqueues task to become eligible at now + delay.
	// A zero or negative delay behaves as an immediate task.
	PostDelayedTask(delay time.Duration, task Task) bool
}

// =============================================================================
// Context Helper
// =============================================================================
type taskRunnerKeyType struct{}

var taskRunnerKey taskRunnerKeyType

// GetCurrentTaskRunner returns the TaskRunner executing the current task,
// or nil when ctx did not come from a runner.
func GetCurrentTaskRunner(ctx context.Context) TaskRunner {
	if v := ctx.Value(taskRunnerKey); v != nil {
		return v.(TaskRunner)
	}
	return nil
}
