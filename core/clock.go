package core

import (
	"time"

	"github.com/agilira/go-timecache"
)

// Infinite makes a timed operation wait without a deadline.
// A zero timeout polls: it never blocks.
const Infinite time.Duration = -1

// Clock is the time source for periodic scheduling.
// Implementations must be monotonic for Sub/Until arithmetic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the runtime's monotonic clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// stamp is a cheap wall-clock timestamp for records that are displayed, never
// used for deadlines.
func stamp() time.Time { return timecache.CachedTime() }

// newDeadlineTimer returns a channel firing after timeout, or nil (blocks
// forever in a select) for Infinite. The stop func is always safe to call.
func newDeadlineTimer(timeout time.Duration) (<-chan time.Time, func()) {
	if timeout < 0 {
		return nil, func() {}
	}
	timer := time.NewTimer(timeout)
	return timer.C, func() { timer.Stop() }
}
