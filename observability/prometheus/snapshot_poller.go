package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/nearfield/mediumsim/core"
)

// RunnerSnapshotProvider provides current runner stats snapshots.
type RunnerSnapshotProvider interface {
	Stats() core.RunnerStats
}

// EnvironmentSnapshotProvider reports scheduled-but-not-completed environment
// jobs. Satisfied by mediumenv.Environment.
type EnvironmentSnapshotProvider interface {
	PendingJobCount() int
}

// SnapshotPoller periodically exports Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	runnersMu sync.RWMutex
	runners   map[string]RunnerSnapshotProvider

	envsMu sync.RWMutex
	envs   map[string]EnvironmentSnapshotProvider

	runnerPending *prom.GaugeVec
	runnerDelayed *prom.GaugeVec
	runnerRunning *prom.GaugeVec
	runnerWorkers *prom.GaugeVec
	runnerClosed  *prom.GaugeVec

	envPendingJobs *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	runnerPending := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "mediumsim",
		Name:      "runner_pending",
		Help:      "Number of pending tasks per runner.",
	}, []string{"runner"})
	runnerDelayed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "mediumsim",
		Name:      "runner_delayed",
		Help:      "Number of delayed tasks per runner.",
	}, []string{"runner"})
	runnerRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "mediumsim",
		Name:      "runner_running",
		Help:      "Number of running tasks per runner.",
	}, []string{"runner"})
	runnerWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "mediumsim",
		Name:      "runner_workers",
		Help:      "Worker count per runner.",
	}, []string{"runner"})
	runnerClosed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "mediumsim",
		Name:      "runner_closed",
		Help:      "Runner closed state (1=closed, 0=open).",
	}, []string{"runner"})

	envPendingJobs := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "mediumsim",
		Name:      "environment_pending_jobs",
		Help:      "Jobs scheduled but not completed per environment.",
	}, []string{"environment"})

	var err error
	if runnerPending, err = registerCollector(reg, runnerPending); err != nil {
		return nil, err
	}
	if runnerDelayed, err = registerCollector(reg, runnerDelayed); err != nil {
		return nil, err
	}
	if runnerRunning, err = registerCollector(reg, runnerRunning); err != nil {
		return nil, err
	}
	if runnerWorkers, err = registerCollector(reg, runnerWorkers); err != nil {
		return nil, err
	}
	if runnerClosed, err = registerCollector(reg, runnerClosed); err != nil {
		return nil, err
	}
	if envPendingJobs, err = registerCollector(reg, envPendingJobs); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:       interval,
		runners:        make(map[string]RunnerSnapshotProvider),
		envs:           make(map[string]EnvironmentSnapshotProvider),
		runnerPending:  runnerPending,
		runnerDelayed:  runnerDelayed,
		runnerRunning:  runnerRunning,
		runnerWorkers:  runnerWorkers,
		runnerClosed:   runnerClosed,
		envPendingJobs: envPendingJobs,
	}, nil
}

// AddRunner adds or replaces a runner snapshot provider by name.
func (p *SnapshotPoller) AddRunner(name string, provider RunnerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "runner")
	p.runnersMu.Lock()
	p.runners[name] = provider
	p.runnersMu.Unlock()
}

// AddEnvironment adds or replaces an environment snapshot provider by name.
func (p *SnapshotPoller) AddEnvironment(name string, provider EnvironmentSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "environment")
	p.envsMu.Lock()
	p.envs[name] = provider
	p.envsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.runnersMu.RLock()
	for name, provider := range p.runners {
		stats := provider.Stats()
		p.runnerPending.WithLabelValues(name).Set(float64(stats.Pending))
		p.runnerDelayed.WithLabelValues(name).Set(float64(stats.Delayed))
		p.runnerRunning.WithLabelValues(name).Set(float64(stats.Running))
		p.runnerWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		if stats.Closed {
			p.runnerClosed.WithLabelValues(name).Set(1)
		} else {
			p.runnerClosed.WithLabelValues(name).Set(0)
		}
	}
	p.runnersMu.RUnlock()

	p.envsMu.RLock()
	for name, provider := range p.envs {
		p.envPendingJobs.WithLabelValues(name).Set(float64(provider.PendingJobCount()))
	}
	p.envsMu.RUnlock()
}
