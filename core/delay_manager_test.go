package core_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Swind/go-msgtask/core"
)

// =============================================================================
// DelayManager Tests
// =============================================================================

func TestDelayManager_BatchProcessing(t *testing.T) {
	var posted atomic.Int32
	dm := core.NewDelayManager(func(msg *core.Message) error {
		posted.Add(1)
		return nil
	}, nil)
	defer dm.Stop()

	// Add 100 messages that all expire at approximately the same time
	for range 100 {
		if err := dm.Add(core.NewMessage(core.MessageTypeUser, core.PriorityNormal, nil), 50*time.Millisecond); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for posted.Load() < 100 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := posted.Load(); got != 100 {
		t.Errorf("posted = %d, want 100", got)
	}
	if dm.Len() != 0 {
		t.Errorf("Len() = %d, want 0", dm.Len())
	}
}

func TestDelayManager_PostsInDueOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	dm := core.NewDelayManager(func(msg *core.Message) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, msg.Payload().(int))
		if len(order) == 3 {
			close(done)
		}
		return nil
	}, nil)
	defer dm.Stop()

	// Added out of order; an earlier deadline must wake the timer.
	_ = dm.Add(core.NewMessage(core.MessageTypeUser, core.PriorityNormal, 3), 90*time.Millisecond)
	_ = dm.Add(core.NewMessage(core.MessageTypeUser, core.PriorityNormal, 1), 10*time.Millisecond)
	_ = dm.Add(core.NewMessage(core.MessageTypeUser, core.PriorityNormal, 2), 50*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed messages were not all posted")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []int{1, 2, 3} {
		if order[i] != want {
			t.Errorf("order[%d] = %d, want %d", i, order[i], want)
		}
	}
}

func TestDelayManager_StopReturnsPending(t *testing.T) {
	dm := core.NewDelayManager(func(msg *core.Message) error {
		t.Error("nothing should be posted")
		return nil
	}, nil)

	for range 3 {
		_ = dm.Add(core.NewMessage(core.MessageTypeUser, core.PriorityNormal, nil), time.Hour)
	}

	pending := dm.Stop()

	if len(pending) != 3 {
		t.Errorf("len(Stop()) = %d, want 3", len(pending))
	}
	if err := dm.Add(core.NewMessage(core.MessageTypeUser, core.PriorityNormal, nil), 0); !core.IsTaskStopped(err) {
		t.Errorf("Add() after Stop error = %v, want TaskStoppedError", err)
	}
}

// warnCounter counts Warn calls and discards everything else.
type warnCounter struct {
	core.NoOpLogger
	warns atomic.Int32
}

func (l *warnCounter) Warn(msg string, fields ...core.Field) { l.warns.Add(1) }

func TestDelayManager_PostFailureIsLogged(t *testing.T) {
	logger := &warnCounter{}
	dm := core.NewDelayManager(func(msg *core.Message) error {
		return errors.New("queue full")
	}, logger)
	defer dm.Stop()
	msg := core.NewWaitableMessage(core.MessageTypeUser, core.PriorityNormal, nil)

	if err := dm.Add(msg, time.Millisecond); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	msg.WaitProcessed(time.Second)
	if msg.State() != core.MessageStateDropped {
		t.Fatalf("msg.State() = %v, want DROPPED", msg.State())
	}
	deadline := time.Now().Add(time.Second)
	for logger.warns.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := logger.warns.Load(); got != 1 {
		t.Errorf("warnings = %d, want 1", got)
	}
}
