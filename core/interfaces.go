package core

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// =============================================================================
// Handler: the per-Task message handling capability
// =============================================================================

// Handler processes the messages dispatched by a Task, one at a time, on the
// Task's worker thread. Besides application messages it receives INIT once,
// PERIODIC on every periodic timeout and EXIT last.
//
// A returned error (or a panic) is a handler failure: it is logged and
// recorded, never propagated to the poster, and the Task keeps running.
type Handler interface {
	HandleMessage(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

// HandleMessage calls f(ctx, msg).
func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// =============================================================================
// PanicHandler: Interface for handling handler panics
// =============================================================================

// PanicHandler is called when a handler panics during dispatch.
//
// Implementations should be thread-safe as they may be called concurrently
// from different tasks.
type PanicHandler interface {
	// HandlePanic is called when a handler panics.
	//
	// Parameters:
	// - ctx: The dispatch context (carries the task, see GetCurrentTask)
	// - taskName: The name of the task whose handler panicked
	// - msg: The message being dispatched
	// - panicInfo: The panic value recovered from the handler
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, taskName string, msg *Message, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler provides a basic panic handler that logs to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, taskName string, msg *Message, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Task %s] Panic while handling %s: %v\nStack trace:\n%s",
		taskName, msg, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting dispatch metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast; they run on worker threads.
type Metrics interface {
	// RecordDispatchDuration records how long a handler took for one message.
	RecordDispatchDuration(taskName string, priority Priority, duration time.Duration)

	// RecordHandlerFailure records a handler error or panic.
	RecordHandlerFailure(taskName string, panicked bool)

	// RecordQueueDepth records the current queue depth.
	RecordQueueDepth(taskName string, depth int)

	// RecordMessageRejected records that a post was refused (e.g., task stopped).
	RecordMessageRejected(taskName string, reason string)

	// RecordPulse records one pulse delivered by a Pulser.
	RecordPulse(pulserName string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordDispatchDuration is a no-op.
func (m *NilMetrics) RecordDispatchDuration(taskName string, priority Priority, duration time.Duration) {
}

// RecordHandlerFailure is a no-op.
func (m *NilMetrics) RecordHandlerFailure(taskName string, panicked bool) {}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(taskName string, depth int) {}

// RecordMessageRejected is a no-op.
func (m *NilMetrics) RecordMessageRejected(taskName string, reason string) {}

// RecordPulse is a no-op.
func (m *NilMetrics) RecordPulse(pulserName string) {}

// =============================================================================
// RejectedMessageHandler: Interface for handling rejected posts
// =============================================================================

// RejectedMessageHandler is called when a post is refused. This happens when:
// - The task has been asked to exit or has stopped
// - A bounded queue stayed full for the whole post timeout
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedMessageHandler interface {
	HandleRejectedMessage(taskName string, msg *Message, reason string)
}

// DefaultRejectedMessageHandler logs rejected messages at warning level.
type DefaultRejectedMessageHandler struct {
	Logger Logger
}

// HandleRejectedMessage logs the rejected message.
func (h *DefaultRejectedMessageHandler) HandleRejectedMessage(taskName string, msg *Message, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Warn("message rejected",
		F("task", taskName),
		F("message_type", msg.Type().String()),
		F("reason", reason),
	)
}

// =============================================================================
// TaskConfig: Configuration for Task
// =============================================================================

// ExitPolicy decides what happens to messages still queued when EXIT is seen.
type ExitPolicy int

const (
	// ExitDrain dispatches every message accepted before the exit request,
	// then stops.
	ExitDrain ExitPolicy = iota

	// ExitDrop stops right away; remaining messages are marked Dropped and
	// their waiters released.
	ExitDrop
)

func (p ExitPolicy) String() string {
	switch p {
	case ExitDrain:
		return "drain"
	case ExitDrop:
		return "drop"
	default:
		return fmt.Sprintf("ExitPolicy(%d)", int(p))
	}
}

// TaskConfig holds configuration options for Task.
// All handlers are optional; if not provided, default implementations will be used.
type TaskConfig struct {
	// Name identifies the task in logs and metrics. Defaults to the handler's
	// function name.
	Name string

	// ThreadPriority is applied best-effort to the worker thread.
	ThreadPriority ThreadPriority

	// PeriodicTimeout, when > 0, makes the task dispatch a PERIODIC message
	// every PeriodicTimeout.
	PeriodicTimeout time.Duration

	// QueueCapacity bounds the queue; 0 means unbounded.
	QueueCapacity int

	// ExitPolicy defaults to ExitDrain.
	ExitPolicy ExitPolicy

	// HistoryCapacity is the size of the RecentDispatches ring buffer.
	HistoryCapacity int

	// Logger defaults to DefaultLogger.
	Logger Logger

	// PanicHandler is called when a handler panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record dispatch metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedMessageHandler is called when a post is refused. Defaults to
	// DefaultRejectedMessageHandler writing to Logger.
	RejectedMessageHandler RejectedMessageHandler

	// Tracer starts one span per dispatch. Defaults to a no-op tracer.
	Tracer trace.Tracer

	// Clock drives periodic deadlines. Defaults to SystemClock.
	Clock Clock
}

// DefaultTaskConfig returns a config with default handlers.
func DefaultTaskConfig() *TaskConfig {
	logger := NewDefaultLogger()
	return &TaskConfig{
		ThreadPriority:         ThreadPriorityNormal,
		HistoryCapacity:        defaultTaskHistoryCapacity,
		Logger:                 logger,
		PanicHandler:           &DefaultPanicHandler{},
		Metrics:                &NilMetrics{},
		RejectedMessageHandler: &DefaultRejectedMessageHandler{Logger: logger},
		Tracer:                 noop.NewTracerProvider().Tracer("msgtask"),
		Clock:                  SystemClock{},
	}
}

// withDefaults returns a copy of c with every unset field defaulted.
func (c *TaskConfig) withDefaults() TaskConfig {
	def := DefaultTaskConfig()
	if c == nil {
		return *def
	}

	out := *c
	if out.HistoryCapacity <= 0 {
		out.HistoryCapacity = def.HistoryCapacity
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	if out.PanicHandler == nil {
		out.PanicHandler = def.PanicHandler
	}
	if out.Metrics == nil {
		out.Metrics = def.Metrics
	}
	if out.RejectedMessageHandler == nil {
		out.RejectedMessageHandler = &DefaultRejectedMessageHandler{Logger: out.Logger}
	}
	if out.Tracer == nil {
		out.Tracer = def.Tracer
	}
	if out.Clock == nil {
		out.Clock = def.Clock
	}
	if out.PeriodicTimeout < 0 {
		out.PeriodicTimeout = 0
	}
	return out
}
