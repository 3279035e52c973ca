package msgtask

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Swind/go-msgtask/core"
)

func quietDefaults() *core.TaskConfig {
	return &core.TaskConfig{Logger: core.NewNoOpLogger()}
}

func TestGroup_Lifecycle(t *testing.T) {
	g := NewGroup("test-group", quietDefaults())

	if g.ID() != "test-group" {
		t.Errorf("expected ID 'test-group', got %s", g.ID())
	}

	var handled atomic.Int32
	task, err := g.StartTask(HandlerFunc(func(ctx context.Context, msg *Message) error {
		if msg.Type() == MessageTypeUser {
			handled.Add(1)
		}
		return nil
	}), &TaskConfig{Name: "member"})
	if err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}

	var pulses atomic.Int32
	p, err := g.StartPulser(nil, 5*time.Millisecond, 0, func(ctx context.Context, index uint64) {
		pulses.Add(1)
	})
	if err != nil {
		t.Fatalf("StartPulser failed: %v", err)
	}

	for range 10 {
		_ = task.Send(MessageTypeUser, nil, PriorityNormal)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if got := handled.Load(); got != 10 {
		t.Errorf("handled = %d, want 10", got)
	}
	if !task.IsStopped() || p.State() != core.TaskStateStopped {
		t.Error("members not stopped after Shutdown")
	}
	if !g.Closed() {
		t.Error("group should be closed after Shutdown")
	}
	if _, err := g.StartTask(HandlerFunc(nil), nil); !IsTaskStopped(err) {
		t.Errorf("StartTask after Shutdown error = %v, want TaskStopped", err)
	}
}

func TestGroup_SharesDefaults(t *testing.T) {
	logger := core.NewNoOpLogger()
	g := NewGroup("defaults", &core.TaskConfig{Logger: logger})
	defer g.Shutdown(context.Background())

	merged := g.config(&TaskConfig{Name: "x"})

	if merged.Logger != logger {
		t.Error("member config did not inherit the group logger")
	}
	if merged.Name != "x" {
		t.Errorf("Name = %q, want x", merged.Name)
	}
}

func TestGroup_Stats(t *testing.T) {
	g := NewGroup("stats", quietDefaults())
	defer g.Shutdown(context.Background())

	for _, name := range []string{"a", "b"} {
		if _, err := g.StartTask(HandlerFunc(func(ctx context.Context, msg *Message) error { return nil }), &TaskConfig{Name: name}); err != nil {
			t.Fatalf("StartTask(%s) failed: %v", name, err)
		}
	}

	stats := g.Stats()
	if len(stats) != 2 || stats[0].Name != "a" || stats[1].Name != "b" {
		t.Errorf("Stats() = %+v, want tasks a and b", stats)
	}
	if len(g.Tasks()) != 2 || len(g.Pulsers()) != 0 {
		t.Error("unexpected member counts")
	}
}

func TestGroup_ShutdownTimeout(t *testing.T) {
	g := NewGroup("slow", quietDefaults())
	release := make(chan struct{})
	entered := make(chan struct{})

	task, _ := g.StartTask(HandlerFunc(func(ctx context.Context, msg *Message) error {
		if msg.Type() == MessageTypeUser {
			close(entered)
			<-release
		}
		return nil
	}), nil)
	_ = task.Send(MessageTypeUser, nil, PriorityNormal)
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Shutdown(ctx)

	if !IsTimeout(err) {
		t.Errorf("Shutdown error = %v, want timeout", err)
	}
	close(release)
	if err := task.Close(); err != nil {
		t.Errorf("Close after timeout failed: %v", err)
	}
}

func TestGlobalGroup(t *testing.T) {
	InitGlobalGroup(quietDefaults())
	InitGlobalGroup(nil) // no-op
	if GetGlobalGroup() == nil {
		t.Fatal("GetGlobalGroup returned nil")
	}

	task, err := StartTask(HandlerFunc(func(ctx context.Context, msg *Message) error { return nil }), nil)
	if err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}

	if err := ShutdownGlobalGroup(context.Background()); err != nil {
		t.Fatalf("ShutdownGlobalGroup failed: %v", err)
	}
	if !task.IsStopped() {
		t.Error("global task not stopped")
	}
	if err := ShutdownGlobalGroup(context.Background()); err != nil {
		t.Errorf("second ShutdownGlobalGroup failed: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("GetGlobalGroup after shutdown should panic")
		}
	}()
	GetGlobalGroup()
}
