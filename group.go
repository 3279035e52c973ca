package msgtask

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-msgtask/core"
	"github.com/agilira/go-errors"
	"golang.org/x/sync/errgroup"
)

// Group owns a set of Tasks and Pulsers and stops them together.
// Members share the group's default TaskConfig collaborators (logger,
// metrics, tracer) unless their own config sets them.
type Group struct {
	id       string
	defaults core.TaskConfig

	mu      sync.Mutex
	tasks   []*core.Task
	pulsers []*core.Pulser
	closed  bool
}

// NewGroup creates an empty group. defaults may be nil.
func NewGroup(id string, defaults *core.TaskConfig) *Group {
	g := &Group{id: id}
	if defaults != nil {
		g.defaults = *defaults
	}
	return g
}

// ID returns the ID of the group
func (g *Group) ID() string {
	return g.id
}

func (g *Group) config(cfg *core.TaskConfig) *core.TaskConfig {
	out := g.defaults
	if cfg != nil {
		out = *cfg
		if out.Logger == nil {
			out.Logger = g.defaults.Logger
		}
		if out.Metrics == nil {
			out.Metrics = g.defaults.Metrics
		}
		if out.Tracer == nil {
			out.Tracer = g.defaults.Tracer
		}
		if out.PanicHandler == nil {
			out.PanicHandler = g.defaults.PanicHandler
		}
	}
	return &out
}

// StartTask creates a Task with handler, starts it and adds it to the group.
func (g *Group) StartTask(handler core.Handler, cfg *core.TaskConfig) (*core.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, errGroupClosed(g.id)
	}

	task := core.NewTask(handler, g.config(cfg))
	if err := task.Start(); err != nil {
		return nil, err
	}
	g.tasks = append(g.tasks, task)
	return task, nil
}

// StartPulser starts a Pulser and adds it to the group.
func (g *Group) StartPulser(cfg *core.TaskConfig, period time.Duration, limit uint64, callback core.PulseFunc) (*core.Pulser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, errGroupClosed(g.id)
	}

	p := core.NewPulser(g.config(cfg))
	if err := p.Start(period, limit, callback); err != nil {
		return nil, err
	}
	g.pulsers = append(g.pulsers, p)
	return p, nil
}

// Tasks returns the member tasks in start order.
func (g *Group) Tasks() []*core.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*core.Task(nil), g.tasks...)
}

// Pulsers returns the member pulsers in start order.
func (g *Group) Pulsers() []*core.Pulser {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*core.Pulser(nil), g.pulsers...)
}

// Stats returns one snapshot per member task.
func (g *Group) Stats() []core.TaskStats {
	tasks := g.Tasks()
	out := make([]core.TaskStats, len(tasks))
	for i, t := range tasks {
		out[i] = t.Stats()
	}
	return out
}

// Shutdown stops pulsers first, then exits every task in parallel. Each exit
// waits until ctx is done; the first error is returned. After Shutdown the
// group accepts no new members.
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	tasks := append([]*core.Task(nil), g.tasks...)
	pulsers := append([]*core.Pulser(nil), g.pulsers...)
	g.mu.Unlock()

	timeout := core.Infinite
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), 0)
	}

	var stopPulsers errgroup.Group
	for _, p := range pulsers {
		stopPulsers.Go(p.Stop)
	}
	if err := stopPulsers.Wait(); err != nil {
		return err
	}

	var exitTasks errgroup.Group
	for _, t := range tasks {
		exitTasks.Go(func() error { return t.Exit(timeout) })
	}
	return exitTasks.Wait()
}

func errGroupClosed(id string) error {
	return errors.New(core.ErrCodeTaskStopped, "group is shut down").
		WithContext("group", id)
}

// Closed reports whether Shutdown was called.
func (g *Group) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// =============================================================================
// Global Group Helper (Singleton)
// =============================================================================

var (
	globalGroup *Group
	globalMu    sync.Mutex
)

// InitGlobalGroup creates the process-wide group. Later calls are no-ops.
func InitGlobalGroup(defaults *core.TaskConfig) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalGroup != nil {
		return // Already initialized
	}
	globalGroup = NewGroup("global", defaults)
}

// GetGlobalGroup returns the global group instance.
// It panics if InitGlobalGroup has not been called.
func GetGlobalGroup() *Group {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalGroup == nil {
		panic("global group not initialized. Call InitGlobalGroup() first.")
	}
	return globalGroup
}

// ShutdownGlobalGroup stops every member of the global group and forgets it.
func ShutdownGlobalGroup(ctx context.Context) error {
	globalMu.Lock()
	g := globalGroup
	globalGroup = nil
	globalMu.Unlock()

	if g == nil {
		return nil
	}
	return g.Shutdown(ctx)
}

// StartTask starts a Task in the global group.
// This is the recommended way to get a new Task.
func StartTask(handler core.Handler, cfg *core.TaskConfig) (*core.Task, error) {
	return GetGlobalGroup().StartTask(handler, cfg)
}
