package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MessageType is the semantic code of a Message. Negative codes are reserved
// for control messages; application codes start at MessageTypeUser.
type MessageType int

const (
	MessageTypeExit     MessageType = -1
	MessageTypePeriodic MessageType = -2
	MessageTypeInit     MessageType = -3
	MessageTypeBarrier  MessageType = -4
	MessageTypeConfig   MessageType = -5

	MessageTypeUser MessageType = 0
)

// IsControl reports whether t is one of the reserved codes.
func (t MessageType) IsControl() bool { return t < MessageTypeUser }

func (t MessageType) String() string {
	switch t {
	case MessageTypeExit:
		return "EXIT"
	case MessageTypePeriodic:
		return "PERIODIC"
	case MessageTypeInit:
		return "INIT"
	case MessageTypeBarrier:
		return "BARRIER"
	case MessageTypeConfig:
		return "CONFIG"
	default:
		return fmt.Sprintf("USER(%d)", int(t))
	}
}

// Priority orders messages inside a Task queue. Higher values dequeue first.
type Priority int

const (
	PriorityLowest Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityHighest
)

func (p Priority) String() string {
	switch p {
	case PriorityLowest:
		return "lowest"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityHighest:
		return "highest"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// MessageState is the lifecycle of a Message. Transitions only move forward:
// Pending -> Processing -> Processed, or Pending -> Dropped when a stopping
// Task discards it.
type MessageState int32

const (
	MessageStatePending MessageState = iota
	MessageStateProcessing
	MessageStateProcessed
	MessageStateDropped
)

func (s MessageState) String() string {
	switch s {
	case MessageStatePending:
		return "PENDING"
	case MessageStateProcessing:
		return "PROCESSING"
	case MessageStateProcessed:
		return "PROCESSED"
	case MessageStateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("MessageState(%d)", int32(s))
	}
}

// Message is a prioritized unit of work exchanged between goroutines.
//
// A Message is shared by its poster and the queue until it reaches a final
// state; the payload then belongs to the handler (see TakePayload).
// A Message can be posted once.
type Message struct {
	id       uuid.UUID
	msgType  MessageType
	priority Priority
	waitable bool

	payloadMu sync.Mutex
	payload   any

	state  atomic.Int32
	posted atomic.Bool
	done   chan struct{} // closed on Processed or Dropped

	postedAt atomic.Int64 // unix nanos
	err      error        // handler failure, set before done is closed

	reply *replyRoute
}

// NewMessage returns a fire-and-forget message.
func NewMessage(msgType MessageType, priority Priority, payload any) *Message {
	return &Message{
		id:       uuid.New(),
		msgType:  msgType,
		priority: priority,
		payload:  payload,
		done:     make(chan struct{}),
	}
}

// NewWaitableMessage returns a message whose poster blocks in Task.Post until
// it is processed or the post timeout elapses.
func NewWaitableMessage(msgType MessageType, priority Priority, payload any) *Message {
	m := NewMessage(msgType, priority, payload)
	m.waitable = true
	return m
}

func (m *Message) ID() uuid.UUID         { return m.id }
func (m *Message) Type() MessageType     { return m.msgType }
func (m *Message) Priority() Priority    { return m.priority }
func (m *Message) IsWaitable() bool      { return m.waitable }
func (m *Message) State() MessageState   { return MessageState(m.state.Load()) }
func (m *Message) Done() <-chan struct{} { return m.done }

// PostedAt returns when the message entered a queue, or the zero time.
func (m *Message) PostedAt() time.Time {
	ns := m.postedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Payload returns the payload without taking ownership.
func (m *Message) Payload() any {
	m.payloadMu.Lock()
	defer m.payloadMu.Unlock()
	return m.payload
}

// TakePayload hands the payload over to the caller; later calls return nil.
func (m *Message) TakePayload() any {
	m.payloadMu.Lock()
	defer m.payloadMu.Unlock()
	p := m.payload
	m.payload = nil
	return p
}

// Err returns the handler failure recorded for this message, if any.
// It is only meaningful once Done is closed.
func (m *Message) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// WaitProcessed blocks until the message is processed or timeout elapses and
// reports whether the handler ran to completion. It returns false at once
// for a dropped message. Infinite waits without a deadline.
func (m *Message) WaitProcessed(timeout time.Duration) bool {
	if m.State() == MessageStateProcessed {
		return true
	}

	timeoutC, stop := newDeadlineTimer(timeout)
	defer stop()

	select {
	case <-m.done:
		return m.State() == MessageStateProcessed
	case <-timeoutC:
		return m.State() == MessageStateProcessed
	}
}

// WaitContext blocks until the message reaches a final state or ctx is done.
// A dropped message yields a TaskStoppedError.
func (m *Message) WaitContext(ctx context.Context) error {
	select {
	case <-m.done:
		if m.State() == MessageStateDropped {
			return newTaskStoppedError("", "wait")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{id=%s type=%s priority=%s state=%s}",
		m.id, m.msgType, m.priority, m.State())
}

// markPosted claims the message for a queue. A message can be posted once.
func (m *Message) markPosted() bool {
	if !m.posted.CompareAndSwap(false, true) {
		return false
	}
	m.postedAt.Store(stamp().UnixNano())
	return true
}

func (m *Message) markProcessing() bool {
	return m.state.CompareAndSwap(int32(MessageStatePending), int32(MessageStateProcessing))
}

// markProcessed records the handler outcome and wakes every waiter.
func (m *Message) markProcessed(err error) {
	if !m.state.CompareAndSwap(int32(MessageStateProcessing), int32(MessageStateProcessed)) {
		return
	}
	m.err = err
	close(m.done)
}

func (m *Message) markDropped() bool {
	if !m.state.CompareAndSwap(int32(MessageStatePending), int32(MessageStateDropped)) {
		return false
	}
	close(m.done)
	return true
}
