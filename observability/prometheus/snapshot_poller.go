package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-msgtask/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// TaskSnapshotProvider provides current task stats snapshots.
type TaskSnapshotProvider interface {
	Stats() core.TaskStats
}

// PulserSnapshotProvider provides current pulser stats snapshots.
type PulserSnapshotProvider interface {
	Stats() core.PulserStats
}

// SnapshotPoller periodically exports task/pulser Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	tasksMu sync.RWMutex
	tasks   map[string]TaskSnapshotProvider

	pulsersMu sync.RWMutex
	pulsers   map[string]PulserSnapshotProvider

	taskPending    *prom.GaugeVec
	taskDelayed    *prom.GaugeVec
	taskRunning    *prom.GaugeVec
	taskDispatched *prom.GaugeVec
	taskFailures   *prom.GaugeVec
	taskRejected   *prom.GaugeVec
	taskState      *prom.GaugeVec

	pulserSent    *prom.GaugeVec
	pulserPeriod  *prom.GaugeVec
	pulserRunning *prom.GaugeVec

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

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "msgtask",
			Name:      name,
			Help:      help,
		}, labels)
	}

	p := &SnapshotPoller{
		interval: interval,
		tasks:    make(map[string]TaskSnapshotProvider),
		pulsers:  make(map[string]PulserSnapshotProvider),

		taskPending:    gauge("task_pending", "Messages waiting in the task queue.", "task"),
		taskDelayed:    gauge("task_delayed", "Delayed messages not yet posted.", "task"),
		taskRunning:    gauge("task_running", "Messages being handled (0 or 1).", "task"),
		taskDispatched: gauge("task_dispatched", "Dispatched message count snapshot.", "task"),
		taskFailures:   gauge("task_failures", "Handler failure count snapshot.", "task"),
		taskRejected:   gauge("task_rejected", "Rejected post count snapshot.", "task"),
		taskState:      gauge("task_state", "Task lifecycle state (1 for the current state).", "task", "state"),

		pulserSent:    gauge("pulser_pulses_sent", "Pulses delivered so far.", "pulser"),
		pulserPeriod:  gauge("pulser_period_seconds", "Configured pulse period.", "pulser"),
		pulserRunning: gauge("pulser_running", "Pulser running state (1=running, 0=stopped).", "pulser"),
	}

	for _, vec := range []**prom.GaugeVec{
		&p.taskPending, &p.taskDelayed, &p.taskRunning, &p.taskDispatched,
		&p.taskFailures, &p.taskRejected, &p.taskState,
		&p.pulserSent, &p.pulserPeriod, &p.pulserRunning,
	} {
		registered, err := registerCollector(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}
	return p, nil
}

// AddTask adds or replaces a task snapshot provider by name.
func (p *SnapshotPoller) AddTask(name string, provider TaskSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "task")
	p.tasksMu.Lock()
	p.tasks[name] = provider
	p.tasksMu.Unlock()
}

// AddPulser adds or replaces a pulser snapshot provider by name.
func (p *SnapshotPoller) AddPulser(name string, provider PulserSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pulser")
	p.pulsersMu.Lock()
	p.pulsers[name] = provider
	p.pulsersMu.Unlock()
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

	go p.loop(pollCtx, p.done)
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

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CollectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectOnce()
		}
	}
}

var taskStates = []core.TaskState{
	core.TaskStateCreated,
	core.TaskStateRunning,
	core.TaskStateExitRequested,
	core.TaskStateStopped,
}

// CollectOnce exports one snapshot of every registered provider.
func (p *SnapshotPoller) CollectOnce() {
	p.tasksMu.RLock()
	for name, provider := range p.tasks {
		stats := provider.Stats()
		p.taskPending.WithLabelValues(name).Set(float64(stats.Pending))
		p.taskDelayed.WithLabelValues(name).Set(float64(stats.Delayed))
		p.taskRunning.WithLabelValues(name).Set(float64(stats.Running))
		p.taskDispatched.WithLabelValues(name).Set(float64(stats.Dispatched))
		p.taskFailures.WithLabelValues(name).Set(float64(stats.Failures))
		p.taskRejected.WithLabelValues(name).Set(float64(stats.Rejected))
		for _, st := range taskStates {
			v := 0.0
			if st == stats.State {
				v = 1
			}
			p.taskState.WithLabelValues(name, st.String()).Set(v)
		}
	}
	p.tasksMu.RUnlock()

	p.pulsersMu.RLock()
	for name, provider := range p.pulsers {
		stats := provider.Stats()
		p.pulserSent.WithLabelValues(name).Set(float64(stats.PulsesSent))
		p.pulserPeriod.WithLabelValues(name).Set(stats.Period.Seconds())
		if stats.State == core.TaskStateRunning || stats.State == core.TaskStateExitRequested {
			p.pulserRunning.WithLabelValues(name).Set(1)
		} else {
			p.pulserRunning.WithLabelValues(name).Set(0)
		}
	}
	p.pulsersMu.RUnlock()
}
