package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// delayedMessage is a message waiting for its post time.
type delayedMessage struct {
	postAt time.Time
	msg    *Message
	index  int // for heap interface
}

// delayedHeap implements heap.Interface, earliest postAt on top.
type delayedHeap []*delayedMessage

func (h delayedHeap) Len() int           { return len(h) }
func (h delayedHeap) Less(i, j int) bool { return h[i].postAt.Before(h[j].postAt) }
func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedHeap) Push(x any) {
	n := len(*h)
	item := x.(*delayedMessage)
	item.index = n
	*h = append(*h, item)
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *delayedHeap) Peek() *delayedMessage {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayManager holds delayed messages for one Task and posts each one when
// its time comes, from a single timer goroutine started on first use.
type DelayManager struct {
	post   func(msg *Message) error
	logger Logger

	pq      delayedHeap
	mu      sync.Mutex
	wakeup  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// NewDelayManager returns a manager that hands due messages to post. Post
// failures are logged to logger; nil discards them.
func NewDelayManager(post func(msg *Message) error, logger Logger) *DelayManager {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DelayManager{
		post:   post,
		logger: logger,
		pq:     make(delayedHeap, 0),
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add schedules msg to be posted after delay. It fails with TaskStoppedError
// once the manager is stopped.
func (dm *DelayManager) Add(msg *Message, delay time.Duration) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.stopped {
		return newTaskStoppedError("", "post delayed")
	}
	if !dm.started {
		dm.started = true
		go dm.loop()
	}

	item := &delayedMessage{
		postAt: time.Now().Add(delay),
		msg:    msg,
	}
	heap.Push(&dm.pq, item)

	if item.index == 0 {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

func (dm *DelayManager) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		nextRun, ok := dm.nextRun()
		if !ok {
			// Nothing scheduled; sleep until Add wakes us.
			nextRun = 1000 * time.Hour
		}
		timer.Reset(nextRun)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.postExpired()
		case <-dm.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// nextRun returns how long until the earliest message is due, and false when
// nothing is scheduled.
func (dm *DelayManager) nextRun() (time.Duration, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.Peek()
	if item == nil {
		return 0, false
	}
	return max(time.Until(item.postAt), 0), true
}

// postExpired posts every due message outside the lock.
func (dm *DelayManager) postExpired() {
	dm.mu.Lock()
	now := time.Now()
	var expired []*delayedMessage
	for dm.pq.Len() > 0 {
		item := dm.pq.Peek()
		if item.postAt.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		expired = append(expired, item)
	}
	dm.mu.Unlock()

	for _, item := range expired {
		if err := dm.post(item.msg); err != nil {
			item.msg.markDropped()
			dm.logger.Warn("delayed message not posted",
				F("message_type", item.msg.Type().String()),
				F("error", err),
			)
		}
	}
}

// Stop ends the timer goroutine and returns the messages that were never
// posted.
func (dm *DelayManager) Stop() []*Message {
	dm.cancel()

	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.stopped = true
	out := make([]*Message, 0, len(dm.pq))
	for dm.pq.Len() > 0 {
		out = append(out, heap.Pop(&dm.pq).(*delayedMessage).msg)
	}
	return out
}

// Len returns the number of messages still waiting.
func (dm *DelayManager) Len() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
