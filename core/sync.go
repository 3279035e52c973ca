package core

import (
	"context"
	"math"
	"sync"
	"time"
)

// =============================================================================
// Mutex
// =============================================================================

// Mutex is a non-reentrant mutual exclusion lock with timed acquisition.
// Locking it twice from the same goroutine deadlocks, like a native mutex.
// The zero value is an unlocked Mutex.
//
// Unlike sync.Mutex, unlocking an unlocked Mutex is reported as an
// InvalidStateError instead of terminating the process.
type Mutex struct {
	once sync.Once
	ch   chan struct{}
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	m := &Mutex{}
	m.init()
	return m
}

func (m *Mutex) init() {
	m.once.Do(func() {
		m.ch = make(chan struct{}, 1)
	})
}

// Lock blocks until the mutex is acquired.
func (m *Mutex) Lock() {
	m.init()
	m.ch <- struct{}{}
}

// TryLock acquires the mutex if it is free and reports whether it did.
func (m *Mutex) TryLock() bool {
	m.init()
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// LockTimeout tries to acquire the mutex until timeout elapses.
// A timeout <= 0 behaves like TryLock.
func (m *Mutex) LockTimeout(timeout time.Duration) bool {
	if timeout <= 0 {
		return m.TryLock()
	}
	m.init()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m.ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// LockContext acquires the mutex or returns ctx.Err() when ctx is done first.
func (m *Mutex) LockContext(ctx context.Context) error {
	m.init()
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() error {
	m.init()
	select {
	case <-m.ch:
		return nil
	default:
		return newInvalidStateError("unlock of unlocked mutex")
	}
}

// Locked reports whether the mutex is currently held by some goroutine.
func (m *Mutex) Locked() bool {
	m.init()
	return len(m.ch) == 1
}

// Acquire implements Lockable.
func (m *Mutex) Acquire() { m.Lock() }

// Release implements Lockable.
func (m *Mutex) Release() error { return m.Unlock() }

// =============================================================================
// Condition
// =============================================================================

// Condition is a condition variable bound to exactly one Mutex.
//
// Wait and TimedWait must be called with the bound Mutex held. They release it
// while blocked and hold it again on return, whatever the outcome. Wakeups may
// be spurious from the caller's point of view (another goroutine can change the
// predicate before the Mutex is re-acquired), so callers re-check their
// predicate in a loop.
type Condition struct {
	mu      sync.Mutex
	m       *Mutex
	waiters []chan struct{}
}

// NewCondition returns a Condition bound to m.
func NewCondition(m *Mutex) *Condition {
	return &Condition{m: m}
}

// Bind attaches the condition to m. Binding again to the same Mutex is a
// no-op; binding to a different one returns an InvalidStateError.
func (c *Condition) Bind(m *Mutex) error {
	if m == nil {
		return newInvalidStateError("condition cannot bind a nil mutex")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.m != nil && c.m != m {
		return newInvalidStateError("condition already bound to another mutex")
	}
	c.m = m
	return nil
}

// Mutex returns the bound mutex, or nil.
func (c *Condition) Mutex() *Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m
}

// Wait blocks until Signal or Broadcast wakes this waiter.
func (c *Condition) Wait() error {
	_, err := c.wait(context.Background(), 0)
	return err
}

// TimedWait blocks until signaled or until timeout elapses. signaled is false
// on timeout. The mutex is held again in both cases.
func (c *Condition) TimedWait(timeout time.Duration) (signaled bool, err error) {
	if timeout <= 0 {
		// Expires immediately; the lock is never released.
		if c.Mutex() == nil {
			return false, newInvalidStateError("condition is not bound to a mutex")
		}
		return false, nil
	}
	return c.wait(context.Background(), timeout)
}

// WaitContext blocks until signaled or until ctx is done, in which case
// ctx.Err() is returned. The mutex is held again in both cases.
func (c *Condition) WaitContext(ctx context.Context) error {
	signaled, err := c.wait(ctx, 0)
	if err != nil {
		return err
	}
	if !signaled {
		return ctx.Err()
	}
	return nil
}

func (c *Condition) wait(ctx context.Context, timeout time.Duration) (bool, error) {
	ch := make(chan struct{})

	c.mu.Lock()
	m := c.m
	if m == nil {
		c.mu.Unlock()
		return false, newInvalidStateError("condition is not bound to a mutex")
	}
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	if err := m.Unlock(); err != nil {
		c.remove(ch)
		return false, newInvalidStateError("condition wait without holding its mutex")
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	signaled := true
	select {
	case <-ch:
	case <-timeoutC:
		// A signal that raced with the timer already removed us.
		signaled = !c.remove(ch)
	case <-ctx.Done():
		signaled = !c.remove(ch)
	}

	m.Lock()
	return signaled, nil
}

// remove drops ch from the waiter list and reports whether it was still there.
func (c *Condition) remove(ch chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, w := range c.waiters {
		if w == ch {
			copy(c.waiters[i:], c.waiters[i+1:])
			c.waiters[len(c.waiters)-1] = nil
			c.waiters = c.waiters[:len(c.waiters)-1]
			return true
		}
	}
	return false
}

// Signal wakes the longest-waiting goroutine, if any.
func (c *Condition) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.waiters) == 0 {
		return
	}
	ch := c.waiters[0]
	c.waiters[0] = nil
	c.waiters = c.waiters[1:]
	close(ch)
}

// Broadcast wakes every waiting goroutine.
func (c *Condition) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, ch := range c.waiters {
		close(ch)
		c.waiters[i] = nil
	}
	c.waiters = nil
}

// Waiters returns the number of goroutines blocked in Wait.
func (c *Condition) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// =============================================================================
// Semaphore
// =============================================================================

// DefaultSemaphoreMax is the ceiling used when NewSemaphore gets max <= 0.
const DefaultSemaphoreMax = math.MaxInt32

// Semaphore is a classic counting semaphore with an upper bound.
type Semaphore struct {
	tokens chan struct{}
}

// NewSemaphore returns a semaphore holding initial permits and at most max.
func NewSemaphore(initial, max int) *Semaphore {
	if max <= 0 {
		max = DefaultSemaphoreMax
	}
	if initial < 0 {
		initial = 0
	}
	if initial > max {
		initial = max
	}

	s := &Semaphore{tokens: make(chan struct{}, max)}
	for range initial {
		s.tokens <- struct{}{}
	}
	return s
}

// Post releases one permit. Exceeding the configured max is an InvalidStateError.
func (s *Semaphore) Post() error {
	select {
	case s.tokens <- struct{}{}:
		return nil
	default:
		return newInvalidStateError("semaphore count would exceed its max")
	}
}

// Wait blocks until a permit is available and takes it.
func (s *Semaphore) Wait() {
	<-s.tokens
}

// TryWait takes a permit if one is available.
func (s *Semaphore) TryWait() bool {
	select {
	case <-s.tokens:
		return true
	default:
		return false
	}
}

// TimedWait takes a permit, giving up after timeout.
func (s *Semaphore) TimedWait(timeout time.Duration) bool {
	if timeout <= 0 {
		return s.TryWait()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.tokens:
		return true
	case <-timer.C:
		return false
	}
}

// WaitContext takes a permit or returns ctx.Err().
func (s *Semaphore) WaitContext(ctx context.Context) error {
	select {
	case <-s.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the number of available permits.
func (s *Semaphore) Count() int { return len(s.tokens) }

// Max returns the configured upper bound.
func (s *Semaphore) Max() int { return cap(s.tokens) }

// Acquire implements Lockable.
func (s *Semaphore) Acquire() { s.Wait() }

// Release implements Lockable.
func (s *Semaphore) Release() error { return s.Post() }
