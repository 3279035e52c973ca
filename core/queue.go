package core

import (
	"container/heap"
	"time"
)

const defaultQueueCap = 16

// =============================================================================
// messageHeap: Max-Heap on priority with stability (FIFO for same priority)
// =============================================================================

type queueItem struct {
	msg      *Message
	sequence uint64 // arrival order, for stability
	index    int    // for heap
}

// messageHeap implements heap.Interface
type messageHeap []*queueItem

func (h messageHeap) Len() int { return len(h) }

// Less implements priority logic: High priority first, then small sequence first (FIFO)
func (h messageHeap) Less(i, j int) bool {
	if h[i].msg.priority != h[j].msg.priority {
		return h[i].msg.priority > h[j].msg.priority
	}
	return h[i].sequence < h[j].sequence
}

func (h messageHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *messageHeap) Push(x any) {
	n := len(*h)
	item := x.(*queueItem)
	item.index = n
	*h = append(*h, item)
}

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // Avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// =============================================================================
// MessageQueue: blocking priority queue, many producers / one consumer
// =============================================================================

// MessageQueue orders messages by (priority desc, arrival asc). Any number of
// goroutines may push; exactly one consumer pops.
//
// With a capacity > 0 the queue is bounded and producers block while it is
// full. All state is guarded by one Mutex.
type MessageQueue struct {
	mu       *Mutex
	notEmpty *Condition
	notFull  *Condition

	pq           messageHeap
	nextSequence uint64
	capacity     int
	closed       bool
}

// NewMessageQueue returns an empty queue. capacity <= 0 means unbounded.
func NewMessageQueue(capacity int) *MessageQueue {
	if capacity < 0 {
		capacity = 0
	}
	mu := NewMutex()
	return &MessageQueue{
		mu:       mu,
		notEmpty: NewCondition(mu),
		notFull:  NewCondition(mu),
		pq:       make(messageHeap, 0, defaultQueueCap),
		capacity: capacity,
	}
}

func (q *MessageQueue) lock()   { q.mu.Lock() }
func (q *MessageQueue) unlock() { _ = q.mu.Unlock() }

// Push inserts msg, blocking while a bounded queue is full.
func (q *MessageQueue) Push(msg *Message) error {
	return q.PushTimeout(msg, Infinite)
}

// PushTimeout inserts msg, waiting at most timeout for room in a bounded
// queue. It fails with TaskStoppedError once the queue is closed and with
// TimeoutError when no room appeared in time.
func (q *MessageQueue) PushTimeout(msg *Message, timeout time.Duration) error {
	q.lock()
	defer q.unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for !q.closed && q.capacity > 0 && len(q.pq) >= q.capacity {
		switch {
		case timeout < 0:
			_ = q.notFull.Wait()
		case timeout == 0:
			return newTimeoutError("queue push", timeout)
		default:
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return newTimeoutError("queue push", timeout)
			}
			_, _ = q.notFull.TimedWait(remaining)
		}
	}

	if q.closed {
		return newTaskStoppedError("", "queue push")
	}
	q.pushLocked(msg)
	return nil
}

// pushUnbounded ignores capacity. Control messages use it so that a full
// queue can never keep a task from stopping.
func (q *MessageQueue) pushUnbounded(msg *Message) error {
	q.lock()
	defer q.unlock()

	if q.closed {
		return newTaskStoppedError("", "queue push")
	}
	q.pushLocked(msg)
	return nil
}

func (q *MessageQueue) pushLocked(msg *Message) {
	item := &queueItem{
		msg:      msg,
		sequence: q.nextSequence,
	}
	q.nextSequence++

	heap.Push(&q.pq, item)
	q.notEmpty.Signal()
}

// Pop removes the highest-priority, oldest message. It blocks up to timeout
// (Infinite: forever, 0: not at all) and returns false when nothing arrived
// in time or the queue is closed and empty.
func (q *MessageQueue) Pop(timeout time.Duration) (*Message, bool) {
	q.lock()
	defer q.unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for len(q.pq) == 0 {
		if q.closed {
			return nil, false
		}
		switch {
		case timeout < 0:
			_ = q.notEmpty.Wait()
		case timeout == 0:
			return nil, false
		default:
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, false
			}
			_, _ = q.notEmpty.TimedWait(remaining)
		}
	}

	item := heap.Pop(&q.pq).(*queueItem)
	q.notFull.Signal()
	return item.msg, true
}

// PeekPriority returns the priority of the next message without removing it.
func (q *MessageQueue) PeekPriority() (Priority, bool) {
	q.lock()
	defer q.unlock()

	if len(q.pq) == 0 {
		return 0, false
	}
	// 0 is the next item because Less puts the highest priority at the top
	return q.pq[0].msg.priority, true
}

// Drain removes and returns every queued message in dequeue order.
func (q *MessageQueue) Drain() []*Message {
	q.lock()
	defer q.unlock()

	if len(q.pq) == 0 {
		return nil
	}
	out := make([]*Message, 0, len(q.pq))
	for len(q.pq) > 0 {
		out = append(out, heap.Pop(&q.pq).(*queueItem).msg)
	}
	q.pq = make(messageHeap, 0, defaultQueueCap)
	q.notFull.Broadcast()
	return out
}

// Close rejects further pushes and wakes every blocked producer and consumer.
// Messages already queued can still be popped or drained.
func (q *MessageQueue) Close() {
	q.lock()
	defer q.unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Closed reports whether Close was called.
func (q *MessageQueue) Closed() bool {
	q.lock()
	defer q.unlock()
	return q.closed
}

func (q *MessageQueue) Len() int {
	q.lock()
	defer q.unlock()
	return len(q.pq)
}

func (q *MessageQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Capacity returns the high-water mark, 0 when unbounded.
func (q *MessageQueue) Capacity() int { return q.capacity }
