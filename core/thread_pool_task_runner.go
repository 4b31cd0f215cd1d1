package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ThreadPoolTaskRunner executes tasks on a fixed set of worker goroutines
// (count fixed at construction) sharing one ready-queue and one DelayQueue.
//
// Ordering contract:
//   - Width 1: all eligible work executes strictly one at a time, in ascending
//     order of eligibility time; ties are broken by submission order. A delayed
//     task with a shorter delay submitted after one with a longer delay
//     overtakes it.
//   - Width > 1: up to N tasks may execute concurrently across distinct
//     workers; no ordering is guaranteed between tasks assigned to different
//     workers. A delayed task is never dispatched before its due time, but may
//     be delayed further by pool saturation.
//
// Once accepted, a task will run; there is no cancellation API.
type ThreadPoolTaskRunner struct {
	name    string
	workers int

	queue   *FIFOTaskQueue
	signal  chan struct{}
	delayed *DelayQueue
	wakeup  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed  atomic.Bool
	running atomic.Int32

	panicHandler PanicHandler
	metrics      Metrics
	logger       Logger

	shutdownOnce sync.Once
}

var _ TaskRunner = (*ThreadPoolTaskRunner)(nil)

// NewThreadPoolTaskRunner creates and starts a runner with the given worker
// count. Panics if workers < 1.
func NewThreadPoolTaskRunner(workers int) *ThreadPoolTaskRunner {
	return NewThreadPoolTaskRunnerWithConfig("", workers, DefaultRunnerConfig())
}

// NewThreadPoolTaskRunnerWithConfig creates and starts a runner with a custom
// name and RunnerConfig. An empty name gets a generated one.
func NewThreadPoolTaskRunnerWithConfig(name string, workers int, config *RunnerConfig) *ThreadPoolTaskRunner {
	if workers < 1 {
		panic(fmt.Sprintf("ThreadPoolTaskRunner: workers must be at least 1, got %d", workers))
	}
	if name == "" {
		name = "runner-" + uuid.NewString()[:8]
	}
	if config == nil {
		config = DefaultRunnerConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &ThreadPoolTaskRunner{
		name:    name,
		workers: workers,
		queue:   NewFIFOTaskQueue(),
		signal:  make(chan struct{}, workers*2),
		delayed: NewDelayQueue(),
		wakeup:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	r.panicHandler = config.PanicHandler
	r.metrics = config.Metrics
	r.logger = config.Logger
	if r.panicHandler == nil {
		r.panicHandler = &DefaultPanicHandler{}
	}
	if r.metrics == nil {
		r.metrics = &NilMetrics{}
	}
	if r.logger == nil {
		r.logger = NewNoOpLogger()
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.workerLoop(i)
	}
	r.wg.Add(1)
	go r.timerLoop()

	r.logger.Debug("task runner started", F("runner", name), F("workers", workers))
	return r
}

// Name returns the runner's name.
func (r *ThreadPoolTaskRunner) Name() string {
	return r.name
}

// WorkerCount returns the fixed worker count.
func (r *ThreadPoolTaskRunner) WorkerCount() int {
	return r.workers
}

// IsClosed returns true if the runner has been shut down.
func (r *ThreadPoolTaskRunner) IsClosed() bool {
	return r.closed.Load()
}

// PostTask enqueues task for FIFO-eligible immediate execution.
// Returns false after Shutdown. A nil task is accepted, treated as already
// complete, and produces no observable effect.
func (r *ThreadPoolTaskRunner) PostTask(task Task) bool {
	if r.closed.Load() {
		r.metrics.RecordTaskRejected(r.name, "shutdown")
		return false
	}
	if task == nil {
		return true
	}

	r.queue.Push(task)
	r.metrics.RecordQueueDepth(r.name, r.queue.Len())
	r.kick()
	return true
}

// PostDelayedTask enqueues task to become eligible at now + delay, without
// blocking the caller. A nil task still "fires" (consumes its slot) at the due
// time with no observable effect. A zero or negative delay behaves as an
// immediate task.
func (r *ThreadPoolTaskRunner) PostDelayedTask(delay time.Duration, task Task) bool {
	if r.closed.Load() {
		r.metrics.RecordTaskRejected(r.name, "shutdown")
		return false
	}
	if delay <= 0 {
		if task == nil {
			return true
		}
		return r.PostTask(task)
	}

	newHead := r.delayed.Add(task, time.Now().Add(delay))
	r.metrics.RecordDelayedDepth(r.name, r.delayed.Len())
	if newHead {
		select {
		case r.wakeup <- struct{}{}:
		default:
		}
	}
	return true
}

// Stats returns current observability data for this runner.
func (r *ThreadPoolTaskRunner) Stats() RunnerStats {
	return RunnerStats{
		Name:    r.name,
		Workers: r.workers,
		Pending: r.queue.Len(),
		Delayed: r.delayed.Len(),
		Running: int(r.running.Load()),
		Closed:  r.closed.Load(),
	}
}

// Shutdown stops the runner. Tasks already executing run to completion;
// queued and delayed tasks are abandoned. Post calls made after Shutdown
// return false. Safe to call more than once.
func (r *ThreadPoolTaskRunner) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.closed.Store(true)
		r.cancel()
		r.queue.Clear()
		r.delayed.Clear()
		r.wg.Wait()
		r.logger.Debug("task runner stopped", F("runner", r.name))
	})
}

// kick hints the workers that the ready-queue grew. A dropped hint is fine:
// the task is already queued and the channel being full means workers have
// pending hints to consume.
func (r *ThreadPoolTaskRunner) kick() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// workerLoop pulls tasks from the ready-queue and executes them.
func (r *ThreadPoolTaskRunner) workerLoop(id int) {
	defer r.wg.Done()

	runCtx := context.WithValue(r.ctx, taskRunnerKey, TaskRunner(r))

	for {
		if task, ok := r.queue.Pop(); ok {
			if task != nil {
				r.runTask(runCtx, id, task)
			}
			continue
		}

		select {
		case <-r.signal:
		case <-r.ctx.Done():
			return
		}
	}
}

// runTask executes one task with panic recovery and duration metrics.
func (r *ThreadPoolTaskRunner) runTask(ctx context.Context, workerID int, task Task) {
	r.running.Add(1)
	started := time.Now()

	defer func() {
		r.running.Add(-1)
		r.metrics.RecordTaskDuration(r.name, time.Since(started))
		if rec := recover(); rec != nil {
			r.metrics.RecordTaskPanic(r.name, rec)
			r.panicHandler.HandlePanic(ctx, r.name, workerID, rec, debug.Stack())
		}
	}()
	task(ctx)
}

// timerLoop promotes delayed tasks into the ready-queue once their due time
// arrives. Promotion order follows the DelayQueue key (runAt asc, seq asc), so
// a width-1 runner preserves the eligibility-time ordering contract.
func (r *ThreadPoolTaskRunner) timerLoop() {
	defer r.wg.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		next := r.nextWait()
		timer.Reset(next)

		select {
		case <-r.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.promoteDue()
		case <-r.wakeup:
			// New head entry, recalculate the wait
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// nextWait determines how long to sleep until the head entry is due.
func (r *ThreadPoolTaskRunner) nextWait() time.Duration {
	runAt, ok := r.delayed.NextRunAt()
	if !ok {
		// No delayed tasks, wait until woken
		return 1000 * time.Hour
	}
	wait := time.Until(runAt)
	if wait < 0 {
		return 0
	}
	return wait
}

// promoteDue moves every entry whose due time has arrived onto the
// ready-queue, in due order. A nil entry keeps its slot so it still "fires".
func (r *ThreadPoolTaskRunner) promoteDue() {
	for _, task := range r.delayed.ExtractDue(time.Now()) {
		r.queue.Push(task)
		r.kick()
	}
	r.metrics.RecordDelayedDepth(r.name, r.delayed.Len())
	r.metrics.RecordQueueDepth(r.name, r.queue.Len())
}
