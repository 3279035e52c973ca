package core

import (
	goerrors "errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// ThreadPriority is a portable scheduling hint for a Thread.
// It is mapped best-effort onto the platform's native scheduling classes.
// The zero value is ThreadPriorityNormal.
type ThreadPriority int

const (
	ThreadPriorityLowest ThreadPriority = iota - 2
	ThreadPriorityBelowNormal
	ThreadPriorityNormal
	ThreadPriorityAboveNormal
	ThreadPriorityHighest
)

func (p ThreadPriority) String() string {
	switch p {
	case ThreadPriorityLowest:
		return "lowest"
	case ThreadPriorityBelowNormal:
		return "below_normal"
	case ThreadPriorityNormal:
		return "normal"
	case ThreadPriorityAboveNormal:
		return "above_normal"
	case ThreadPriorityHighest:
		return "highest"
	default:
		return fmt.Sprintf("ThreadPriority(%d)", int(p))
	}
}

func clampThreadPriority(p ThreadPriority) ThreadPriority {
	if p < ThreadPriorityLowest {
		return ThreadPriorityLowest
	}
	if p > ThreadPriorityHighest {
		return ThreadPriorityHighest
	}
	return p
}

// Thread is one goroutine pinned to its own OS thread for its whole life.
//
// The OS thread is never unlocked: when the entry returns the runtime
// terminates it, so a changed native priority cannot leak into other
// goroutines.
type Thread struct {
	name      string
	requested ThreadPriority
	effective atomic.Int32
	id        atomic.Int64

	done   chan struct{}
	joined atomic.Bool
	err    error // set before done is closed
}

// SpawnThread starts entry on a new pinned thread.
// It returns a ThreadCreationError when entry is nil or the thread fails
// during start-up; an unsupported priority is clamped, never an error.
func SpawnThread(name string, priority ThreadPriority, entry func()) (*Thread, error) {
	if entry == nil {
		return nil, newThreadCreationError(name, goerrors.New("nil entry"))
	}

	t := &Thread{
		name:      name,
		requested: priority,
		done:      make(chan struct{}),
	}

	started := make(chan error, 1)
	go t.trampoline(entry, started)

	if err := <-started; err != nil {
		return nil, newThreadCreationError(name, err)
	}
	return t, nil
}

// trampoline is the common entry point of every Thread.
func (t *Thread) trampoline(entry func(), started chan<- error) {
	defer close(t.done)

	runtime.LockOSThread()

	startErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("thread start-up panicked: %v", r)
			}
		}()
		t.id.Store(currentThreadID())
		t.effective.Store(int32(applyThreadPriority(clampThreadPriority(t.requested))))
		return nil
	}()

	started <- startErr
	if startErr != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			t.err = newPanicFailure("thread "+t.name, r)
		}
	}()
	entry()
}

// Name returns the name given at spawn time.
func (t *Thread) Name() string { return t.name }

// ID returns the native thread identifier.
func (t *Thread) ID() int64 { return t.id.Load() }

// RequestedPriority returns the priority asked for at spawn time.
func (t *Thread) RequestedPriority() ThreadPriority { return t.requested }

// EffectivePriority returns the priority actually applied by the platform.
func (t *Thread) EffectivePriority() ThreadPriority {
	return ThreadPriority(t.effective.Load())
}

// IsCurrent reports whether the caller is running on this thread.
func (t *Thread) IsCurrent() bool {
	return t.id.Load() == currentThreadID()
}

// Done is closed once the entry callback has returned.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Running reports whether the entry callback is still executing.
func (t *Thread) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Join blocks until the entry callback returns. Joining twice, or joining
// from the thread itself, is an InvalidStateError. A panic in the entry is
// returned as a HandlerFailure.
func (t *Thread) Join() error {
	if t.IsCurrent() {
		return newInvalidStateError("thread cannot join itself")
	}
	if !t.joined.CompareAndSwap(false, true) {
		return newInvalidStateError("thread already joined")
	}
	<-t.done
	return t.err
}

// JoinTimeout is Join with a deadline. On timeout it returns a TimeoutError
// and the thread may still be joined later. Infinite waits like Join.
func (t *Thread) JoinTimeout(timeout time.Duration) error {
	if timeout < 0 {
		return t.Join()
	}
	if t.IsCurrent() {
		return newInvalidStateError("thread cannot join itself")
	}
	if t.joined.Load() {
		return newInvalidStateError("thread already joined")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		if !t.joined.CompareAndSwap(false, true) {
			return newInvalidStateError("thread already joined")
		}
		return t.err
	case <-timer.C:
		return newTimeoutError("thread join", timeout)
	}
}

// CurrentThreadID returns the native identifier of the calling thread.
func CurrentThreadID() int64 { return currentThreadID() }
