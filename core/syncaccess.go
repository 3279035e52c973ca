package core

import "sync/atomic"

// Lockable is anything SyncAccess can hold: Mutex and Semaphore both qualify.
type Lockable interface {
	Acquire()
	Release() error
}

// SyncAccess is a scoped guard over a Lockable. It acquires on construction
// and releases exactly once, however the guarded scope is left:
//
//	guard := core.Acquire(mu)
//	defer guard.Release()
//
// A SyncAccess must not be copied; pass the pointer.
type SyncAccess struct {
	_        noCopy
	lock     Lockable
	released atomic.Bool
}

// Acquire blocks until l is acquired and returns the guard holding it.
func Acquire(l Lockable) *SyncAccess {
	l.Acquire()
	return &SyncAccess{lock: l}
}

// Release gives the lock back. Only the first call has an effect; later calls
// return nil.
func (g *SyncAccess) Release() error {
	if !g.released.CompareAndSwap(false, true) {
		return nil
	}
	return g.lock.Release()
}

// Released reports whether Release already ran.
func (g *SyncAccess) Released() bool { return g.released.Load() }

// WithLock runs fn while holding l. The lock is released on every exit path,
// including a panic in fn, which is re-raised after the release.
func WithLock(l Lockable, fn func() error) (err error) {
	guard := Acquire(l)
	defer func() {
		if relErr := guard.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn()
}

// noCopy lets `go vet -copylocks` flag copies of guard values.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
