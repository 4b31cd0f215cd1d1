package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestSingleThreadExecutor_Serialization tests the serialization guarantee
// Main test items:
// 1. Submit tasks from many goroutines at once
// 2. Verify no two task bodies ever overlap
func TestSingleThreadExecutor_Serialization(t *testing.T) {
	executor := NewSingleThreadExecutor()
	defer executor.Shutdown()

	var inFlight atomic.Int32
	var overlaps atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				executor.Execute(func(ctx context.Context) {
					if inFlight.Add(1) > 1 {
						overlaps.Add(1)
					}
					inFlight.Add(-1)
				})
			}
		}()
	}
	wg.Wait()

	if err := executor.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle failed: %v", err)
	}
	if overlaps.Load() != 0 {
		t.Errorf("%d overlapping executions on a single-thread executor", overlaps.Load())
	}
}

// TestSingleThreadExecutor_WaitIdleBarrier tests the barrier semantics
// Main test items:
// 1. WaitIdle returns only after all previously submitted tasks finish
// 2. Slow tasks in front of the barrier are waited on
func TestSingleThreadExecutor_WaitIdleBarrier(t *testing.T) {
	executor := NewSingleThreadExecutor()
	defer executor.Shutdown()

	var completed atomic.Int32
	for i := 0; i < 10; i++ {
		executor.Execute(func(ctx context.Context) {
			time.Sleep(5 * time.Millisecond)
			completed.Add(1)
		})
	}

	if err := executor.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle failed: %v", err)
	}
	if completed.Load() != 10 {
		t.Errorf("WaitIdle returned with %d of 10 tasks complete", completed.Load())
	}
}

func TestSingleThreadExecutor_WaitIdleEmpty(t *testing.T) {
	executor := NewSingleThreadExecutor()
	defer executor.Shutdown()

	done := make(chan error, 1)
	go func() {
		done <- executor.WaitIdle(context.Background())
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitIdle on idle executor failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIdle on an idle executor did not return promptly")
	}
}

func TestSingleThreadExecutor_WaitIdleContextCancel(t *testing.T) {
	executor := NewSingleThreadExecutor()
	defer executor.Shutdown()

	release := make(chan struct{})
	executor.Execute(func(ctx context.Context) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := executor.WaitIdle(ctx); err == nil {
		t.Error("WaitIdle should fail when the context expires first")
	}
}

func TestSingleThreadExecutor_WaitIdleAfterShutdown(t *testing.T) {
	executor := NewSingleThreadExecutor()
	executor.Shutdown()

	if err := executor.WaitIdle(context.Background()); err == nil {
		t.Error("WaitIdle on a closed executor should return an error")
	}
}

func TestSingleThreadExecutor_ExecuteAfter(t *testing.T) {
	executor := NewSingleThreadExecutor()
	defer executor.Shutdown()

	started := time.Now()
	done := make(chan time.Duration, 1)
	executor.ExecuteAfter(50*time.Millisecond, func(ctx context.Context) {
		done <- time.Since(started)
	})

	select {
	case elapsed := <-done:
		if elapsed < 50*time.Millisecond {
			t.Errorf("delayed task ran after %v, before its due time", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
}
