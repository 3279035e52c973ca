package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TaskState is the lifecycle of a Task:
// CREATED -> RUNNING -> EXIT_REQUESTED -> STOPPED.
type TaskState int32

const (
	TaskStateCreated TaskState = iota
	TaskStateRunning
	TaskStateExitRequested
	TaskStateStopped
)

func (s TaskState) String() string {
	switch s {
	case TaskStateCreated:
		return "CREATED"
	case TaskStateRunning:
		return "RUNNING"
	case TaskStateExitRequested:
		return "EXIT_REQUESTED"
	case TaskStateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("TaskState(%d)", int32(s))
	}
}

// Task is an actor: one worker thread dispatching the messages of one
// priority queue to a Handler, strictly one at a time.
//
// Messages of equal priority are handled in post order; a higher priority
// always goes first. There is no aging, so a steady stream of high-priority
// messages can starve lower ones.
//
// A started Task must be stopped with Exit or Close; Go has no destructor to
// do it implicitly.
type Task struct {
	name    string
	handler Handler
	cfg     TaskConfig

	queue  *MessageQueue
	delays *DelayManager
	state  atomic.Int32

	periodic atomic.Int64 // time.Duration

	thread   atomic.Pointer[Thread]
	workerID atomic.Int64
	joinOnce sync.Once
	joinErr  error

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	history    *dispatchHistory
	active     atomic.Int32
	dispatched atomic.Int64
	failures   atomic.Int64
	rejected   atomic.Int64
}

// NewTask creates a Task in the CREATED state. Messages may be posted before
// Start; they are dispatched once the worker runs.
func NewTask(handler Handler, config *TaskConfig) *Task {
	cfg := config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	t := &Task{
		name:    resolveHandlerName(handler, cfg.Name),
		handler: handler,
		cfg:     cfg,
		queue:   NewMessageQueue(cfg.QueueCapacity),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		history: newDispatchHistory(cfg.HistoryCapacity),
	}
	t.delays = NewDelayManager(func(msg *Message) error {
		return t.push(msg, Infinite)
	}, cfg.Logger)
	t.periodic.Store(int64(cfg.PeriodicTimeout))
	return t
}

// NewTaskFunc is NewTask for a plain function handler.
func NewTaskFunc(fn func(ctx context.Context, msg *Message) error, config *TaskConfig) *Task {
	return NewTask(HandlerFunc(fn), config)
}

// Name returns the name of the task
func (t *Task) Name() string { return t.name }

// State returns the current lifecycle state.
func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

// IsStopped reports whether the worker has finished.
func (t *Task) IsStopped() bool { return t.State() == TaskStateStopped }

// Done is closed when the task reaches STOPPED.
func (t *Task) Done() <-chan struct{} { return t.stopped }

// Thread returns the worker thread, or nil before Start.
func (t *Task) Thread() *Thread { return t.thread.Load() }

// Start spawns the worker thread. Starting twice is an InvalidStateError; a
// spawn failure is a ThreadCreationError and leaves the task STOPPED.
func (t *Task) Start() error {
	if !t.state.CompareAndSwap(int32(TaskStateCreated), int32(TaskStateRunning)) {
		return newInvalidStateError("task already started")
	}

	ready := make(chan struct{})
	th, err := SpawnThread(t.name, t.cfg.ThreadPriority, func() {
		<-ready
		t.runLoop()
	})
	if err != nil {
		t.cfg.Logger.Error("cannot start task", F("task", t.name), F("error", err))
		t.state.Store(int32(TaskStateStopped))
		t.queue.Close()
		t.discard(t.queue.Drain(), "start failed")
		t.discard(t.delays.Stop(), "start failed")
		t.cancel()
		close(t.stopped)
		return err
	}
	t.thread.Store(th)
	close(ready)

	t.cfg.Logger.Debug("task started",
		F("task", t.name),
		F("thread_id", th.ID()),
		F("thread_priority", th.EffectivePriority().String()),
	)
	return nil
}

// Go is an alias of Start.
func (t *Task) Go() error { return t.Start() }

// isWorker reports whether the caller runs on this task's worker thread.
func (t *Task) isWorker() bool {
	id := t.workerID.Load()
	return id != 0 && id == CurrentThreadID()
}

// =============================================================================
// Posting
// =============================================================================

// Post enqueues msg. For a waitable message it then blocks until the message
// is processed and returns a TimeoutError if that takes longer than timeout
// (the message may still be processed later). Infinite waits forever.
//
// Posting to a task that is exiting or stopped fails at once with
// TaskStoppedError and enqueues nothing. Handler failures are not returned;
// see msg.Err.
func (t *Task) Post(msg *Message, timeout time.Duration) error {
	if msg == nil {
		return newInvalidStateError("cannot post a nil message")
	}
	if msg.Type() == MessageTypeExit {
		return t.postExit(msg, timeout)
	}
	if msg.IsWaitable() && t.isWorker() {
		return newInvalidStateError("waitable post from the task's own thread would deadlock")
	}

	start := time.Now()
	if err := t.enqueue(msg, timeout); err != nil {
		return err
	}
	if !msg.IsWaitable() {
		return nil
	}

	remaining := timeout
	if timeout > 0 {
		remaining = max(timeout-time.Since(start), 0)
	}
	if msg.WaitProcessed(remaining) {
		return nil
	}
	if msg.State() == MessageStateDropped {
		return newTaskStoppedError(t.name, "post")
	}
	return newTimeoutError("wait processed", timeout)
}

// enqueue checks the state and pushes msg without waiting for it.
func (t *Task) enqueue(msg *Message, timeout time.Duration) error {
	if st := t.State(); st == TaskStateExitRequested || st == TaskStateStopped {
		t.reject(msg, "task stopped")
		return newTaskStoppedError(t.name, "post")
	}
	if !msg.markPosted() {
		return newInvalidStateError("message already posted")
	}
	return t.push(msg, timeout)
}

// push queues a message that is already claimed. A message that cannot be
// queued is marked Dropped.
func (t *Task) push(msg *Message, timeout time.Duration) error {
	if st := t.State(); st == TaskStateExitRequested || st == TaskStateStopped {
		msg.markDropped()
		t.reject(msg, "task stopped")
		return newTaskStoppedError(t.name, "post")
	}
	if err := t.queue.PushTimeout(msg, timeout); err != nil {
		msg.markDropped()
		if IsTimeout(err) {
			t.reject(msg, "queue full")
		} else {
			t.reject(msg, "task stopped")
		}
		return err
	}
	t.cfg.Metrics.RecordQueueDepth(t.name, t.queue.Len())
	return nil
}

func (t *Task) reject(msg *Message, reason string) {
	t.rejected.Add(1)
	t.cfg.Metrics.RecordMessageRejected(t.name, reason)
	t.cfg.RejectedMessageHandler.HandleRejectedMessage(t.name, msg, reason)
}

// Send posts a fire-and-forget message built from its parts.
func (t *Task) Send(msgType MessageType, payload any, priority Priority) error {
	return t.Post(NewMessage(msgType, priority, payload), Infinite)
}

// SendAndWait posts a waitable message and waits up to timeout for it.
// The message is returned even on error so the caller can keep waiting.
func (t *Task) SendAndWait(msgType MessageType, payload any, priority Priority, timeout time.Duration) (*Message, error) {
	msg := NewWaitableMessage(msgType, priority, payload)
	return msg, t.Post(msg, timeout)
}

// PostDelayed posts msg after delay without waiting for it. If the task
// stops in the meantime the message is dropped.
func (t *Task) PostDelayed(msg *Message, delay time.Duration) error {
	if msg == nil {
		return newInvalidStateError("cannot post a nil message")
	}
	if st := t.State(); st == TaskStateExitRequested || st == TaskStateStopped {
		t.reject(msg, "task stopped")
		return newTaskStoppedError(t.name, "post delayed")
	}
	if delay <= 0 {
		return t.enqueue(msg, Infinite)
	}
	if !msg.markPosted() {
		return newInvalidStateError("message already posted")
	}

	if err := t.delays.Add(msg, delay); err != nil {
		msg.markDropped()
		return err
	}
	return nil
}

// SetPeriodicTimeout changes the periodic timeout; 0 disables it. The change
// takes effect on the worker thread before the next message.
func (t *Task) SetPeriodicTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.periodic.Store(int64(d))

	if t.State() == TaskStateRunning && !t.isWorker() {
		wake := NewMessage(MessageTypeConfig, PriorityHighest, nil)
		wake.markPosted()
		_ = t.queue.pushUnbounded(wake)
	}
}

// PeriodicTimeout returns the configured periodic timeout.
func (t *Task) PeriodicTimeout() time.Duration {
	return time.Duration(t.periodic.Load())
}

// WaitIdle blocks until every message queued before the call has been
// handled. It posts a lowest-priority barrier, so messages of higher
// priority posted meanwhile are waited for too.
func (t *Task) WaitIdle(ctx context.Context) error {
	if t.isWorker() {
		return newInvalidStateError("WaitIdle from the task's own thread would deadlock")
	}
	barrier := NewWaitableMessage(MessageTypeBarrier, PriorityLowest, nil)
	if err := t.enqueue(barrier, Infinite); err != nil {
		return err
	}
	return barrier.WaitContext(ctx)
}

// =============================================================================
// Exit
// =============================================================================

// Exit posts a highest-priority EXIT message and joins the worker thread,
// waiting at most timeout (Infinite: forever). It is idempotent: once the
// task is exiting or stopped, Exit only waits.
//
// Called from the worker thread itself (e.g. inside the handler), Exit
// requests the stop and returns at once; the task stops after the current
// message.
func (t *Task) Exit(timeout time.Duration) error {
	if t.stopUnstarted() {
		return nil
	}

	t.requestExit(NewWaitableMessage(MessageTypeExit, PriorityHighest, nil))

	if t.isWorker() {
		return nil
	}
	return t.waitStopped(timeout)
}

// Close is Exit without a deadline.
func (t *Task) Close() error { return t.Exit(Infinite) }

// stopUnstarted moves CREATED straight to STOPPED, dropping whatever was
// posted before Start. It reports whether the task was CREATED.
func (t *Task) stopUnstarted() bool {
	if !t.state.CompareAndSwap(int32(TaskStateCreated), int32(TaskStateStopped)) {
		return false
	}
	t.queue.Close()
	t.discard(t.queue.Drain(), "task never started")
	t.discard(t.delays.Stop(), "task never started")
	t.cancel()
	close(t.stopped)
	return true
}

// postExit handles an EXIT message posted explicitly. Only the first one has
// an effect; later ones are rejected. On a task that never started the EXIT
// stops it at once and counts as processed.
func (t *Task) postExit(msg *Message, timeout time.Duration) error {
	if t.stopUnstarted() {
		msg.markPosted()
		msg.markProcessing()
		msg.markProcessed(nil)
		return nil
	}
	if !t.requestExit(msg) {
		t.reject(msg, "task stopped")
		return newTaskStoppedError(t.name, "post exit")
	}
	if !msg.IsWaitable() || t.isWorker() {
		return nil
	}
	return t.waitStopped(timeout)
}

// requestExit moves RUNNING to EXIT_REQUESTED and queues msg. It reports
// whether msg became the effective EXIT.
func (t *Task) requestExit(msg *Message) bool {
	if !t.state.CompareAndSwap(int32(TaskStateRunning), int32(TaskStateExitRequested)) {
		return false
	}
	msg.markPosted()
	if err := t.queue.pushUnbounded(msg); err != nil {
		// The queue only closes on the worker after EXIT; unreachable while RUNNING.
		t.cfg.Logger.Error("cannot queue exit", F("task", t.name), F("error", err))
		return false
	}
	t.cfg.Logger.Debug("task exit requested", F("task", t.name))
	return true
}

func (t *Task) waitStopped(timeout time.Duration) error {
	timeoutC, stop := newDeadlineTimer(timeout)
	defer stop()

	select {
	case <-t.stopped:
	case <-timeoutC:
		return newTimeoutError("task exit", timeout)
	}

	th := t.thread.Load()
	if th == nil {
		return nil
	}
	t.joinOnce.Do(func() {
		t.joinErr = th.Join()
	})
	return t.joinErr
}

// discard marks messages Dropped and releases their waiters.
func (t *Task) discard(msgs []*Message, reason string) {
	for _, msg := range msgs {
		if msg.markDropped() {
			t.cfg.Logger.Debug("message dropped",
				F("task", t.name),
				F("message_type", msg.Type().String()),
				F("reason", reason),
			)
		}
	}
}

// =============================================================================
// Worker loop
// =============================================================================

// runLoop occupies the worker thread until EXIT.
func (t *Task) runLoop() {
	t.workerID.Store(CurrentThreadID())
	defer t.finish()

	ctx := context.WithValue(t.ctx, taskKey, t)

	t.dispatch(ctx, NewMessage(MessageTypeInit, PriorityHighest, nil))

	period := t.PeriodicTimeout()
	var next time.Time
	if period > 0 {
		next = t.cfg.Clock.Now().Add(period)
	}

	for {
		if p := t.PeriodicTimeout(); p != period {
			period = p
			if period > 0 {
				next = t.cfg.Clock.Now().Add(period)
			}
		}

		timeout := Infinite
		if period > 0 {
			now := t.cfg.Clock.Now()
			if !now.Before(next) {
				t.dispatch(ctx, NewMessage(MessageTypePeriodic, PriorityNormal, nil))
				next = t.cfg.Clock.Now().Add(period)
				continue
			}
			timeout = next.Sub(now)
		}

		msg, ok := t.queue.Pop(timeout)
		if !ok {
			// Timed out: the periodic check at the top of the loop fires.
			continue
		}

		switch msg.Type() {
		case MessageTypeExit:
			t.handleExit(ctx, msg)
			return
		case MessageTypeConfig, MessageTypeBarrier:
			msg.markProcessing()
			msg.markProcessed(nil)
		default:
			t.dispatch(ctx, msg)
		}
	}
}

// handleExit applies the exit policy, hands EXIT to the handler last and
// returns; the caller ends the thread.
func (t *Task) handleExit(ctx context.Context, exitMsg *Message) {
	t.queue.Close()
	remaining := t.queue.Drain()

	switch t.cfg.ExitPolicy {
	case ExitDrop:
		t.discard(remaining, "exit")
	default:
		for _, msg := range remaining {
			switch msg.Type() {
			case MessageTypeConfig, MessageTypeBarrier:
				msg.markProcessing()
				msg.markProcessed(nil)
			default:
				t.dispatch(ctx, msg)
			}
		}
	}

	t.dispatch(ctx, exitMsg)
}

func (t *Task) finish() {
	t.discard(t.delays.Stop(), "exit")
	t.state.Store(int32(TaskStateStopped))
	t.cancel()
	close(t.stopped)

	t.cfg.Logger.Debug("task stopped",
		F("task", t.name),
		F("dispatched", t.dispatched.Load()),
		F("failures", t.failures.Load()),
	)
}

// dispatch runs the handler for one message and completes it.
func (t *Task) dispatch(ctx context.Context, msg *Message) {
	if !msg.markProcessing() {
		return
	}

	t.active.Add(1)
	startedAt := time.Now()
	recordedAt := stamp()

	spanCtx, span := t.cfg.Tracer.Start(ctx, "msgtask.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("msgtask.task", t.name),
			attribute.String("msgtask.message.id", msg.ID().String()),
			attribute.String("msgtask.message.type", msg.Type().String()),
			attribute.String("msgtask.message.priority", msg.Priority().String()),
		),
	)

	panicked, err := t.invoke(spanCtx, msg)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failure")
	}
	span.End()

	duration := time.Since(startedAt)
	t.active.Add(-1)
	t.dispatched.Add(1)

	if err != nil {
		t.failures.Add(1)
		t.cfg.Metrics.RecordHandlerFailure(t.name, panicked)
		t.cfg.Logger.Error("handler failure",
			F("task", t.name),
			F("message_type", msg.Type().String()),
			F("message_id", msg.ID().String()),
			F("error", err),
		)
	}
	t.cfg.Metrics.RecordDispatchDuration(t.name, msg.Priority(), duration)
	t.cfg.Metrics.RecordQueueDepth(t.name, t.queue.Len())

	var queuedFor time.Duration
	if postedAt := msg.PostedAt(); !postedAt.IsZero() {
		queuedFor = max(recordedAt.Sub(postedAt), 0)
	}
	t.history.Add(DispatchRecord{
		MessageID:   msg.ID(),
		MessageType: msg.Type(),
		Priority:    msg.Priority(),
		TaskName:    t.name,
		QueuedFor:   queuedFor,
		StartedAt:   recordedAt,
		FinishedAt:  recordedAt.Add(duration),
		Duration:    duration,
		Failed:      err != nil,
		Panicked:    panicked,
	})

	msg.markProcessed(err)

	if msg.reply != nil {
		t.deliverReply(msg)
	}
}

// invoke calls the handler, turning both returned errors and panics into
// HandlerFailure.
func (t *Task) invoke(ctx context.Context, msg *Message) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			t.cfg.PanicHandler.HandlePanic(ctx, t.name, msg, r, debug.Stack())
			err = newHandlerFailure(fmt.Errorf("panic: %v", r), msg)
		}
	}()

	if t.handler == nil {
		return false, nil
	}
	if herr := t.handler.HandleMessage(ctx, msg); herr != nil {
		return false, newHandlerFailure(herr, msg)
	}
	return false, nil
}

// =============================================================================
// Observability
// =============================================================================

// Stats returns a snapshot of the task's runtime state.
func (t *Task) Stats() TaskStats {
	stats := TaskStats{
		Name:            t.name,
		State:           t.State(),
		Pending:         t.queue.Len(),
		Delayed:         t.delays.Len(),
		Running:         int(t.active.Load()),
		Dispatched:      t.dispatched.Load(),
		Failures:        t.failures.Load(),
		Rejected:        t.rejected.Load(),
		PeriodicTimeout: t.PeriodicTimeout(),
		ThreadPriority:  t.cfg.ThreadPriority,
	}
	if th := t.thread.Load(); th != nil {
		stats.ThreadPriority = th.EffectivePriority()
	}
	if last, ok := t.history.Last(); ok {
		stats.LastMessageType = last.MessageType
		stats.LastDispatchAt = last.FinishedAt
	}
	return stats
}

// RecentDispatches returns up to limit dispatch records, newest first.
func (t *Task) RecentDispatches(limit int) []DispatchRecord {
	return t.history.Recent(limit)
}

// QueueLen returns the number of messages waiting.
func (t *Task) QueueLen() int { return t.queue.Len() }

// =============================================================================
// Context Helper
// =============================================================================

type taskKeyType struct{}

var taskKey taskKeyType

// GetCurrentTask returns the Task dispatching the message that ctx belongs
// to, or nil outside a handler.
func GetCurrentTask(ctx context.Context) *Task {
	if v := ctx.Value(taskKey); v != nil {
		return v.(*Task)
	}
	return nil
}
