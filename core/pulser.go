package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// PulseFunc receives the zero-based index of each pulse.
type PulseFunc func(ctx context.Context, index uint64)

// Pulser calls a callback at a fixed period on its own Task, optionally
// stopping by itself after a number of pulses.
type Pulser struct {
	cfg TaskConfig

	mu       sync.Mutex
	task     *Task
	callback PulseFunc
	period   time.Duration
	limit    uint64

	sent      atomic.Uint64
	lastPulse atomic.Int64 // unix nanos
}

// NewPulser creates an idle Pulser. config may be nil; its PeriodicTimeout
// is ignored in favor of the period given to Start.
func NewPulser(config *TaskConfig) *Pulser {
	cfg := config.withDefaults()
	if cfg.Name == "" {
		cfg.Name = "pulser"
	}
	return &Pulser{cfg: cfg}
}

// Start runs callback every period. With limit > 0 the Pulser stops itself
// after limit pulses; limit 0 pulses until Stop.
func (p *Pulser) Start(period time.Duration, limit uint64, callback PulseFunc) error {
	if period <= 0 {
		return newInvalidStateError("pulser period must be positive")
	}
	if callback == nil {
		return newInvalidStateError("pulser callback is nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.task != nil {
		return newInvalidStateError("pulser already started")
	}

	p.callback = callback
	p.period = period
	p.limit = limit

	cfg := p.cfg
	cfg.PeriodicTimeout = period
	task := NewTask(HandlerFunc(p.handle), &cfg)
	if err := task.Start(); err != nil {
		return err
	}
	p.task = task

	p.cfg.Logger.Debug("pulser started",
		F("pulser", p.cfg.Name),
		F("period", period),
		F("limit", limit),
	)
	return nil
}

func (p *Pulser) handle(ctx context.Context, msg *Message) error {
	if msg.Type() != MessageTypePeriodic {
		return nil
	}

	// An overdue tick can still be dispatched after the last pulse was sent.
	index := p.sent.Load()
	if p.limit > 0 && index >= p.limit {
		return nil
	}

	p.callback(ctx, index)
	p.sent.Add(1)
	p.lastPulse.Store(stamp().UnixNano())
	p.cfg.Metrics.RecordPulse(p.cfg.Name)

	if p.limit > 0 && index+1 >= p.limit {
		// Called on the worker: only queues EXIT, never joins.
		if task := GetCurrentTask(ctx); task != nil {
			return task.Exit(Infinite)
		}
	}
	return nil
}

// Stop ends the pulses and, unless called from the callback, waits for the
// Pulser's thread to finish. Stopping an idle or stopped Pulser is a no-op.
func (p *Pulser) Stop() error {
	task := p.currentTask()
	if task == nil {
		return nil
	}
	return task.Exit(Infinite)
}

// Wait blocks until the Pulser stops or ctx is done.
func (p *Pulser) Wait(ctx context.Context) error {
	task := p.currentTask()
	if task == nil {
		return newInvalidStateError("pulser not started")
	}
	select {
	case <-task.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the Pulser stops. It is nil before Start.
func (p *Pulser) Done() <-chan struct{} {
	task := p.currentTask()
	if task == nil {
		return nil
	}
	return task.Done()
}

// PulsesSent returns the number of completed callbacks.
func (p *Pulser) PulsesSent() uint64 { return p.sent.Load() }

// State returns the state of the underlying task; CREATED before Start.
func (p *Pulser) State() TaskState {
	task := p.currentTask()
	if task == nil {
		return TaskStateCreated
	}
	return task.State()
}

// Name returns the configured name.
func (p *Pulser) Name() string { return p.cfg.Name }

// Stats returns a snapshot for exporters.
func (p *Pulser) Stats() PulserStats {
	p.mu.Lock()
	period, limit := p.period, p.limit
	p.mu.Unlock()

	stats := PulserStats{
		Name:       p.cfg.Name,
		State:      p.State(),
		Period:     period,
		Limit:      limit,
		PulsesSent: p.sent.Load(),
	}
	if ns := p.lastPulse.Load(); ns != 0 {
		stats.LastPulse = time.Unix(0, ns)
	}
	return stats
}

func (p *Pulser) currentTask() *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.task
}
