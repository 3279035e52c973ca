// Package msgtask provides actor-style Tasks: a worker thread draining a
// priority message queue into a handler, one message at a time.
//
// Producers on any goroutine post Messages to a Task. The worker dispatches
// the highest-priority, oldest message first, marks it processed and wakes
// anyone waiting for it. A Task can also emit PERIODIC messages on a timer,
// and a Pulser turns that into a bounded or unbounded series of callbacks.
//
// # Quick Start
//
// Initialize the global group at application startup:
//
//	msgtask.InitGlobalGroup(nil)
//	defer msgtask.ShutdownGlobalGroup(context.Background())
//
// Start a Task and post to it:
//
//	task, _ := msgtask.StartTask(msgtask.HandlerFunc(func(ctx context.Context, msg *msgtask.Message) error {
//		// Runs on the task's own thread, never concurrently with itself
//		return nil
//	}), &msgtask.TaskConfig{Name: "worker"})
//
//	task.Send(msgtask.MessageTypeUser, "hello", msgtask.PriorityNormal)
//
// # Key Concepts
//
// Message: a typed, prioritized unit of work. A waitable Message makes Post
// block until the handler has run or the post timeout expires.
//
// Task: the worker. Its handler receives INIT first, EXIT last, and PERIODIC
// whenever the periodic timeout elapses. Handler errors and panics are
// recorded on the Message and never stop the Task.
//
// Pulser: a Task that calls a function every period, optionally stopping
// itself after a number of pulses.
//
// Mutex, Condition, Semaphore and SyncAccess: the synchronization
// primitives the queue is built on, usable on their own.
//
// # Shutdown
//
// Exit posts a highest-priority EXIT. With the default ExitDrain policy every
// message accepted before the exit request is still dispatched; ExitDrop marks
// them dropped instead. Posts after the request fail with a TaskStopped error.
package msgtask
