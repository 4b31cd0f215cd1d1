package core

import (
	"context"
	"fmt"
	"time"
)

// SingleThreadExecutor is a ThreadPoolTaskRunner fixed at width 1.
//
// It inherits all width-1 ordering guarantees: every submitted task executes
// strictly one at a time, in ascending order of eligibility time, ties broken
// by submission order. It is the serialization backbone for shared mutable
// state - owners route every mutation through it instead of locking.
type SingleThreadExecutor struct {
	*ThreadPoolTaskRunner
}

// NewSingleThreadExecutor creates and starts a width-1 executor.
func NewSingleThreadExecutor() *SingleThreadExecutor {
	return NewSingleThreadExecutorWithConfig("", DefaultRunnerConfig())
}

// NewSingleThreadExecutorWithConfig creates and starts a width-1 executor
// with a custom name and RunnerConfig.
func NewSingleThreadExecutorWithConfig(name string, config *RunnerConfig) *SingleThreadExecutor {
	return &SingleThreadExecutor{
		ThreadPoolTaskRunner: NewThreadPoolTaskRunnerWithConfig(name, 1, config),
	}
}

// Execute submits a runnable for serialized execution. Alias for PostTask.
func (e *SingleThreadExecutor) Execute(task Task) bool {
	return e.PostTask(task)
}

// ExecuteAfter submits a runnable to execute once delay has elapsed.
// Alias for PostDelayedTask.
func (e *SingleThreadExecutor) ExecuteAfter(delay time.Duration, task Task) bool {
	return e.PostDelayedTask(delay, task)
}

// WaitIdle blocks until all tasks submitted before this call have completed.
//
// This is implemented by appending a barrier task and waiting for that
// specific task to execute. Because the executor is strictly FIFO and
// single-threaded, completion of the barrier proves every task submitted
// strictly before it has finished - tasks submitted concurrently with or
// after the call are explicitly not waited on, which is what guarantees
// termination under continuous background activity.
//
// Returns an error if ctx is cancelled or the executor is closed.
func (e *SingleThreadExecutor) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})

	if !e.PostTask(func(taskCtx context.Context) {
		close(done)
	}) {
		return fmt.Errorf("executor is closed")
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
