package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestThreadPoolTaskRunner_BasicExecution tests basic execution functionality
// Main test items:
// 1. Create a runner and submit a task
// 2. Verify the task executes
func TestThreadPoolTaskRunner_BasicExecution(t *testing.T) {
	runner := NewThreadPoolTaskRunner(1)
	defer runner.Shutdown()

	var executed atomic.Bool
	if !runner.PostTask(func(ctx context.Context) {
		executed.Store(true)
	}) {
		t.Fatal("PostTask rejected on open runner")
	}

	time.Sleep(50 * time.Millisecond)

	if !executed.Load() {
		t.Error("Task was not executed")
	}
}

// TestThreadPoolTaskRunner_FIFOOrder tests the width-1 ordering contract
// Main test items:
// 1. Submit many immediate tasks to a width-1 runner
// 2. Verify they execute strictly in submission order
func TestThreadPoolTaskRunner_FIFOOrder(t *testing.T) {
	runner := NewThreadPoolTaskRunner(1)
	defer runner.Shutdown()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		id := i
		runner.PostTask(func(ctx context.Context) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		})
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 100 {
		t.Fatalf("Expected 100 tasks executed, got %d", len(order))
	}
	for i := 0; i < 100; i++ {
		if order[i] != i {
			t.Fatalf("Task order incorrect at position %d: got %d", i, order[i])
		}
	}
}

// TestThreadPoolTaskRunner_DelayedOvertake tests delayed-task ordering
// Main test items:
// 1. Post task A with a long delay, then task B with a short delay
// 2. Verify B executes before A on a width-1 runner
func TestThreadPoolTaskRunner_DelayedOvertake(t *testing.T) {
	runner := NewThreadPoolTaskRunner(1)
	defer runner.Shutdown()

	var mu sync.Mutex
	var order []string

	runner.PostDelayedTask(200*time.Millisecond, func(ctx context.Context) {
		mu.Lock()
		order = append(order, "A")
		mu.Unlock()
	})
	runner.PostDelayedTask(50*time.Millisecond, func(ctx context.Context) {
		mu.Lock()
		order = append(order, "B")
		mu.Unlock()
	})

	time.Sleep(400 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 {
		t.Fatalf("Expected 2 tasks executed, got %d", len(order))
	}
	if order[0] != "B" || order[1] != "A" {
		t.Errorf("Expected B before A, got %v", order)
	}
}

func TestThreadPoolTaskRunner_DelayedNotEarly(t *testing.T) {
	runner := NewThreadPoolTaskRunner(1)
	defer runner.Shutdown()

	started := time.Now()
	done := make(chan time.Duration, 1)
	runner.PostDelayedTask(100*time.Millisecond, func(ctx context.Context) {
		done <- time.Since(started)
	})

	select {
	case elapsed := <-done:
		if elapsed < 100*time.Millisecond {
			t.Errorf("delayed task ran after %v, before its due time", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
}

// TestThreadPoolTaskRunner_NilTask tests nil task acceptance
// Main test items:
// 1. A nil immediate task is accepted and the runner keeps working
// 2. A nil delayed task consumes its slot without blocking later tasks
func TestThreadPoolTaskRunner_NilTask(t *testing.T) {
	runner := NewThreadPoolTaskRunner(1)
	defer runner.Shutdown()

	if !runner.PostTask(nil) {
		t.Error("nil immediate task should be accepted")
	}
	if !runner.PostDelayedTask(10*time.Millisecond, nil) {
		t.Error("nil delayed task should be accepted")
	}

	var executed atomic.Bool
	runner.PostDelayedTask(20*time.Millisecond, func(ctx context.Context) {
		executed.Store(true)
	})

	time.Sleep(150 * time.Millisecond)
	if !executed.Load() {
		t.Error("task behind nil slots never ran")
	}
}

func TestThreadPoolTaskRunner_ZeroDelayIsImmediate(t *testing.T) {
	runner := NewThreadPoolTaskRunner(1)
	defer runner.Shutdown()

	done := make(chan struct{})
	runner.PostDelayedTask(0, func(ctx context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero-delay task did not execute promptly")
	}
}

// TestThreadPoolTaskRunner_Parallelism tests width > 1 concurrency
// Main test items:
// 1. Submit 10 blocking tasks to a width-10 runner
// 2. Verify wall time is close to one task's duration, not their sum
func TestThreadPoolTaskRunner_Parallelism(t *testing.T) {
	runner := NewThreadPoolTaskRunner(10)
	defer runner.Shutdown()

	var wg sync.WaitGroup
	started := time.Now()
	for i := 0; i < 10; i++ {
		wg.Add(1)
		runner.PostTask(func(ctx context.Context) {
			defer wg.Done()
			time.Sleep(100 * time.Millisecond)
		})
	}
	wg.Wait()

	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Errorf("10 tasks on 10 workers took %v, expected them to overlap", elapsed)
	}
}

func TestThreadPoolTaskRunner_PostAfterShutdown(t *testing.T) {
	runner := NewThreadPoolTaskRunner(1)
	runner.Shutdown()

	if runner.PostTask(func(ctx context.Context) {}) {
		t.Error("PostTask after Shutdown should return false")
	}
	if runner.PostDelayedTask(time.Millisecond, func(ctx context.Context) {}) {
		t.Error("PostDelayedTask after Shutdown should return false")
	}
	if !runner.IsClosed() {
		t.Error("IsClosed should report true after Shutdown")
	}
}

func TestThreadPoolTaskRunner_ShutdownTwice(t *testing.T) {
	runner := NewThreadPoolTaskRunner(2)
	runner.Shutdown()
	runner.Shutdown() // must not panic or deadlock
}

// TestThreadPoolTaskRunner_PanicRecovery tests panic isolation
// Main test items:
// 1. A panicking task does not kill its worker
// 2. The panic handler receives the panic value
// 3. Later tasks still execute
func TestThreadPoolTaskRunner_PanicRecovery(t *testing.T) {
	var panics atomic.Int32
	handler := panicHandlerFunc(func(ctx context.Context, runnerName string, workerID int, panicValue any, stack []byte) {
		panics.Add(1)
	})

	runner := NewThreadPoolTaskRunnerWithConfig("panic-test", 1, &RunnerConfig{
		PanicHandler: handler,
	})
	defer runner.Shutdown()

	runner.PostTask(func(ctx context.Context) {
		panic("boom")
	})

	var executed atomic.Bool
	runner.PostTask(func(ctx context.Context) {
		executed.Store(true)
	})

	time.Sleep(100 * time.Millisecond)

	if panics.Load() != 1 {
		t.Errorf("panic handler called %d times, want 1", panics.Load())
	}
	if !executed.Load() {
		t.Error("task after panic never ran")
	}
}

func TestThreadPoolTaskRunner_Stats(t *testing.T) {
	runner := NewThreadPoolTaskRunnerWithConfig("stats-test", 3, nil)
	defer runner.Shutdown()

	runner.PostDelayedTask(time.Hour, func(ctx context.Context) {})
	time.Sleep(20 * time.Millisecond)

	stats := runner.Stats()
	if stats.Name != "stats-test" {
		t.Errorf("Name = %q, want stats-test", stats.Name)
	}
	if stats.Workers != 3 {
		t.Errorf("Workers = %d, want 3", stats.Workers)
	}
	if stats.Delayed != 1 {
		t.Errorf("Delayed = %d, want 1", stats.Delayed)
	}
	if stats.Closed {
		t.Error("Closed = true on an open runner")
	}
}

func TestThreadPoolTaskRunner_CurrentRunnerInContext(t *testing.T) {
	runner := NewThreadPoolTaskRunner(1)
	defer runner.Shutdown()

	found := make(chan bool, 1)
	runner.PostTask(func(ctx context.Context) {
		found <- GetCurrentTaskRunner(ctx) == TaskRunner(runner)
	})

	select {
	case ok := <-found:
		if !ok {
			t.Error("GetCurrentTaskRunner did not return the executing runner")
		}
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestThreadPoolTaskRunner_InvalidWorkerCount(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for workers < 1")
		}
	}()
	NewThreadPoolTaskRunner(0)
}

type panicHandlerFunc func(ctx context.Context, runnerName string, workerID int, panicValue any, stack []byte)

func (f panicHandlerFunc) HandlePanic(ctx context.Context, runnerName string, workerID int, panicValue any, stack []byte) {
	f(ctx, runnerName, workerID, panicValue, stack)
}
