package prometheus

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nearfield/mediumsim/core"
)

type runnerStub struct {
	stats core.RunnerStats
}

func (s runnerStub) Stats() core.RunnerStats { return s.stats }

type envStub struct {
	pending int
}

func (s envStub) PendingJobCount() int { return s.pending }

func TestSnapshotPoller_CollectsRunnerAndEnvironmentStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddRunner("runner-a", runnerStub{stats: core.RunnerStats{
		Name:    "runner-a",
		Workers: 4,
		Pending: 3,
		Delayed: 2,
		Running: 1,
		Closed:  true,
	}})
	poller.AddEnvironment("env-a", envStub{pending: 5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		pending := testutil.ToFloat64(poller.runnerPending.WithLabelValues("runner-a"))
		envPending := testutil.ToFloat64(poller.envPendingJobs.WithLabelValues("env-a"))
		return pending == 3 && envPending == 5
	})

	if got := testutil.ToFloat64(poller.runnerDelayed.WithLabelValues("runner-a")); got != 2 {
		t.Fatalf("runner delayed gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(poller.runnerWorkers.WithLabelValues("runner-a")); got != 4 {
		t.Fatalf("runner workers gauge = %v, want 4", got)
	}
	if got := testutil.ToFloat64(poller.runnerClosed.WithLabelValues("runner-a")); got != 1 {
		t.Fatalf("runner closed gauge = %v, want 1", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
