package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Mutex Tests
// =============================================================================

// TestMutex_MutualExclusion verifies only one goroutine is inside the lock at a time
// Given: 8 goroutines incrementing a shared counter 1000 times under one Mutex
// When: All goroutines finish
// Then: The counter is exactly 8000 and the mutex is free
func TestMutex_MutualExclusion(t *testing.T) {
	// Arrange
	mu := NewMutex()
	counter := 0
	var wg sync.WaitGroup

	// Act
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				mu.Lock()
				counter++
				if err := mu.Unlock(); err != nil {
					t.Errorf("Unlock() error = %v", err)
				}
			}
		}()
	}
	wg.Wait()

	// Assert
	if counter != 8000 {
		t.Errorf("counter = %d, want 8000", counter)
	}
	if mu.Locked() {
		t.Error("mutex still locked after all goroutines finished")
	}
}

// TestMutex_UnlockUnlocked verifies misuse is reported instead of crashing
// Given: An unlocked Mutex
// When: Unlock is called
// Then: An InvalidStateError is returned
func TestMutex_UnlockUnlocked(t *testing.T) {
	// Arrange
	var mu Mutex

	// Act
	err := mu.Unlock()

	// Assert
	if !IsInvalidState(err) {
		t.Errorf("Unlock() error = %v, want InvalidStateError", err)
	}
}

// TestMutex_TryLockAndTimeout verifies non-blocking and timed acquisition
// Given: A Mutex held by the test
// When: TryLock and LockTimeout(30ms) are attempted
// Then: Both fail, LockTimeout waits at least the timeout, and TryLock succeeds after Unlock
func TestMutex_TryLockAndTimeout(t *testing.T) {
	// Arrange
	mu := NewMutex()
	mu.Lock()

	// Act & Assert
	if mu.TryLock() {
		t.Fatal("TryLock() on a held mutex = true, want false")
	}

	start := time.Now()
	if mu.LockTimeout(30 * time.Millisecond) {
		t.Fatal("LockTimeout() on a held mutex = true, want false")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("LockTimeout returned after %v, want >= 30ms", elapsed)
	}

	if err := mu.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if !mu.TryLock() {
		t.Error("TryLock() on a free mutex = false, want true")
	}
}

// TestMutex_LockContext verifies cancellation while waiting for the lock
// Given: A held Mutex and a context with a 20ms deadline
// When: LockContext is called
// Then: context.DeadlineExceeded is returned
func TestMutex_LockContext(t *testing.T) {
	// Arrange
	mu := NewMutex()
	mu.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Act
	err := mu.LockContext(ctx)

	// Assert
	if err != context.DeadlineExceeded {
		t.Errorf("LockContext() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

// =============================================================================
// Condition Tests
// =============================================================================

// TestCondition_SignalWakesOneWaiter verifies Signal wakes exactly one waiter
// Given: Two goroutines waiting on a Condition
// When: Signal is called once
// Then: Exactly one waiter returns; Broadcast releases the other
func TestCondition_SignalWakesOneWaiter(t *testing.T) {
	// Arrange
	mu := NewMutex()
	cond := NewCondition(mu)
	var woken atomic.Int32
	var wg sync.WaitGroup

	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			if err := cond.Wait(); err != nil {
				t.Errorf("Wait() error = %v", err)
			}
			woken.Add(1)
			_ = mu.Unlock()
		}()
	}
	waitForWaiters(t, cond, 2)

	// Act
	cond.Signal()
	time.Sleep(30 * time.Millisecond)

	// Assert
	if got := woken.Load(); got != 1 {
		t.Fatalf("woken after Signal = %d, want 1", got)
	}

	cond.Broadcast()
	wg.Wait()
	if got := woken.Load(); got != 2 {
		t.Errorf("woken after Broadcast = %d, want 2", got)
	}
}

// TestCondition_TimedWaitExpires verifies a timed wait reacquires the mutex on timeout
// Given: A Condition nobody signals
// When: TimedWait(25ms) is called with the mutex held
// Then: It reports not signaled, waited >= 25ms, and the mutex is held again
func TestCondition_TimedWaitExpires(t *testing.T) {
	// Arrange
	mu := NewMutex()
	cond := NewCondition(mu)
	mu.Lock()

	// Act
	start := time.Now()
	signaled, err := cond.TimedWait(25 * time.Millisecond)
	elapsed := time.Since(start)

	// Assert
	if err != nil {
		t.Fatalf("TimedWait() error = %v", err)
	}
	if signaled {
		t.Error("TimedWait() signaled = true, want false")
	}
	if elapsed < 25*time.Millisecond {
		t.Errorf("TimedWait returned after %v, want >= 25ms", elapsed)
	}
	if !mu.Locked() {
		t.Error("mutex not held after TimedWait")
	}
	if cond.Waiters() != 0 {
		t.Errorf("Waiters() = %d, want 0", cond.Waiters())
	}
}

// TestCondition_WaitWithoutMutex verifies waiting without holding the mutex is rejected
// Given: A Condition whose mutex is not held
// When: Wait is called
// Then: An InvalidStateError is returned immediately
func TestCondition_WaitWithoutMutex(t *testing.T) {
	// Arrange
	cond := NewCondition(NewMutex())

	// Act
	err := cond.Wait()

	// Assert
	if !IsInvalidState(err) {
		t.Errorf("Wait() error = %v, want InvalidStateError", err)
	}
}

// TestCondition_Bind verifies a condition stays bound to a single mutex
// Given: An unbound Condition
// When: It is bound to one mutex, then to another
// Then: The first Bind succeeds and the second fails
func TestCondition_Bind(t *testing.T) {
	// Arrange
	var cond Condition
	first, second := NewMutex(), NewMutex()

	// Act
	errFirst := cond.Bind(first)
	errSame := cond.Bind(first)
	errSecond := cond.Bind(second)

	// Assert
	if errFirst != nil || errSame != nil {
		t.Fatalf("Bind() errors = %v, %v, want nil", errFirst, errSame)
	}
	if !IsInvalidState(errSecond) {
		t.Errorf("Bind(other) error = %v, want InvalidStateError", errSecond)
	}
	if cond.Mutex() != first {
		t.Error("Mutex() is not the first bound mutex")
	}
}

func waitForWaiters(t *testing.T, cond *Condition, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for cond.Waiters() < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d waiters blocked", cond.Waiters(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

// =============================================================================
// Semaphore Tests
// =============================================================================

// TestSemaphore_CountAndMax verifies the count stays within [0, max]
// Given: A semaphore with initial=1, max=2
// When: Posting twice and taking permits
// Then: The second Post fails, TryWait drains to zero and then fails
func TestSemaphore_CountAndMax(t *testing.T) {
	// Arrange
	sem := NewSemaphore(1, 2)

	// Act & Assert
	if err := sem.Post(); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if err := sem.Post(); !IsInvalidState(err) {
		t.Fatalf("Post() beyond max error = %v, want InvalidStateError", err)
	}
	if sem.Count() != 2 {
		t.Errorf("Count() = %d, want 2", sem.Count())
	}

	if !sem.TryWait() || !sem.TryWait() {
		t.Fatal("TryWait() with permits available = false")
	}
	if sem.TryWait() {
		t.Error("TryWait() on empty semaphore = true, want false")
	}
}

// TestSemaphore_TimedWait verifies a timed wait is satisfied by a later Post
// Given: An empty semaphore
// When: TimedWait(1s) is called and another goroutine posts after 20ms
// Then: TimedWait succeeds well before the timeout
func TestSemaphore_TimedWait(t *testing.T) {
	// Arrange
	sem := NewSemaphore(0, 0)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = sem.Post()
	}()

	// Act
	start := time.Now()
	ok := sem.TimedWait(time.Second)

	// Assert
	if !ok {
		t.Fatal("TimedWait() = false, want true")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("TimedWait took %v, want well under 1s", elapsed)
	}
	if sem.Max() != DefaultSemaphoreMax {
		t.Errorf("Max() = %d, want %d", sem.Max(), DefaultSemaphoreMax)
	}
}

// TestSemaphore_TimedWaitExpires verifies an unposted semaphore times out
// Given: An empty semaphore
// When: TimedWait(20ms) is called
// Then: It returns false
func TestSemaphore_TimedWaitExpires(t *testing.T) {
	sem := NewSemaphore(0, 1)

	if sem.TimedWait(20 * time.Millisecond) {
		t.Error("TimedWait() on empty semaphore = true, want false")
	}
}
