package core

import (
	"time"

	"github.com/google/uuid"
)

// DispatchRecord captures one completed dispatch.
type DispatchRecord struct {
	MessageID   uuid.UUID
	MessageType MessageType
	Priority    Priority
	TaskName    string
	QueuedFor   time.Duration
	StartedAt   time.Time
	FinishedAt  time.Time
	Duration    time.Duration
	Failed      bool
	Panicked    bool
}

// TaskStats represents runtime observability state for a task.
type TaskStats struct {
	Name            string
	State           TaskState
	Pending         int
	Delayed         int
	Running         int
	Dispatched      int64
	Failures        int64
	Rejected        int64
	PeriodicTimeout time.Duration
	ThreadPriority  ThreadPriority
	LastMessageType MessageType
	LastDispatchAt  time.Time
}

// PulserStats represents runtime observability state for a pulser.
type PulserStats struct {
	Name       string
	State      TaskState
	Period     time.Duration
	Limit      uint64
	PulsesSent uint64
	LastPulse  time.Time
}
