package core

import "time"

// RetryPolicy describes how a caller escalates a wait that keeps timing out.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retry, 1 = one retry)
	MaxRetries int

	// InitialDelay is the timeout of the first attempt
	InitialDelay time.Duration

	// MaxDelay is the maximum timeout of a single attempt
	MaxDelay time.Duration

	// BackoffRatio is the multiplier applied after each attempt (e.g., 2.0 for exponential)
	// For example, with InitialDelay=100ms and BackoffRatio=2.0:
	// - Attempt 1: 100ms
	// - Attempt 2: 200ms
	// - Attempt 3: 400ms (capped by MaxDelay)
	BackoffRatio float64
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		BackoffRatio: 2.0,
	}
}

// NoRetry returns a retry policy with a single attempt
func NoRetry() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   0,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		BackoffRatio: 1.0,
	}
}

// calculateDelay returns the timeout of the given attempt (0-indexed).
func (p RetryPolicy) calculateDelay(attempt int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}

	delay := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.BackoffRatio
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	return time.Duration(delay)
}

// TotalBudget is the longest AwaitProcessed can block under this policy.
func (p RetryPolicy) TotalBudget() time.Duration {
	var total time.Duration
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		total += p.calculateDelay(attempt)
	}
	return total
}

// AwaitProcessed waits for msg with growing per-attempt timeouts, logging each
// expiry. It returns nil once msg is processed, a TaskStoppedError if msg was
// dropped, and a TimeoutError when every attempt expired.
func AwaitProcessed(msg *Message, policy RetryPolicy, logger Logger) error {
	if logger == nil {
		logger = NewNoOpLogger()
	}

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		timeout := policy.calculateDelay(attempt)
		if msg.WaitProcessed(timeout) {
			return nil
		}
		if msg.State() == MessageStateDropped {
			return newTaskStoppedError("", "await processed")
		}
		logger.Debug("message not processed yet",
			F("message_id", msg.ID().String()),
			F("attempt", attempt+1),
			F("timeout", timeout),
		)
	}

	logger.Warn("giving up waiting for message",
		F("message_id", msg.ID().String()),
		F("state", msg.State().String()),
	)
	return newTimeoutError("await processed", policy.TotalBudget())
}
