package msgtask

import "github.com/Swind/go-msgtask/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the msgtask package for most use cases.

// Message is the unit of work posted to a Task
type Message = core.Message

// MessageType is the semantic code of a Message
type MessageType = core.MessageType

// Priority orders messages inside a Task queue
type Priority = core.Priority

// Task runs a Handler on its own worker thread
type Task = core.Task

// TaskConfig configures a Task or Pulser
type TaskConfig = core.TaskConfig

// Handler processes dispatched messages
type Handler = core.Handler

// HandlerFunc adapts a function to Handler
type HandlerFunc = core.HandlerFunc

// Pulser emits periodic callbacks
type Pulser = core.Pulser

// Reply is the payload of a PostAndReply answer
type Reply = core.Reply

// Message type and priority constants
const (
	MessageTypeExit     = core.MessageTypeExit
	MessageTypePeriodic = core.MessageTypePeriodic
	MessageTypeInit     = core.MessageTypeInit
	MessageTypeUser     = core.MessageTypeUser

	PriorityLowest  = core.PriorityLowest
	PriorityLow     = core.PriorityLow
	PriorityNormal  = core.PriorityNormal
	PriorityHigh    = core.PriorityHigh
	PriorityHighest = core.PriorityHighest

	Infinite = core.Infinite
)

// Constructors and helpers
var (
	NewMessage         = core.NewMessage
	NewWaitableMessage = core.NewWaitableMessage
	NewTask            = core.NewTask
	NewPulser          = core.NewPulser
	DefaultTaskConfig  = core.DefaultTaskConfig
	GetCurrentTask     = core.GetCurrentTask

	IsTaskStopped  = core.IsTaskStopped
	IsTimeout      = core.IsTimeout
	IsInvalidState = core.IsInvalidState
)
