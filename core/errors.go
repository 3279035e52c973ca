package core

import (
	goerrors "errors"
	"fmt"
	"time"

	"github.com/agilira/go-errors"
)

// Error codes for msgtask operations
const (
	ErrCodeThreadCreation = "MSGTASK_THREAD_CREATION"
	ErrCodeTaskStopped    = "MSGTASK_TASK_STOPPED"
	ErrCodeTimeout        = "MSGTASK_TIMEOUT"
	ErrCodeInvalidState   = "MSGTASK_INVALID_STATE"
	ErrCodeHandlerFailure = "MSGTASK_HANDLER_FAILURE"
)

func newTaskStoppedError(taskName string, op string) error {
	return errors.New(ErrCodeTaskStopped, "task is stopped").
		WithContext("task", taskName).
		WithContext("op", op)
}

func newTimeoutError(op string, timeout time.Duration) error {
	return errors.New(ErrCodeTimeout, op+" timed out").
		WithContext("timeout", timeout.String())
}

func newInvalidStateError(msg string) error {
	return errors.New(ErrCodeInvalidState, msg)
}

func newThreadCreationError(name string, cause error) error {
	if cause == nil {
		return errors.New(ErrCodeThreadCreation, "cannot create thread").
			WithContext("thread", name)
	}
	return errors.Wrap(cause, ErrCodeThreadCreation, "cannot create thread").
		WithContext("thread", name)
}

func newHandlerFailure(cause error, msg *Message) error {
	return errors.Wrap(cause, ErrCodeHandlerFailure, "handler failed").
		WithContext("message_id", msg.ID().String()).
		WithContext("message_type", int(msg.Type()))
}

// ErrorCodeOf returns the first msgtask error code found in err's chain,
// or "" if there is none.
func ErrorCodeOf(err error) string {
	for err != nil {
		if coder, ok := err.(errors.ErrorCoder); ok {
			return string(coder.ErrorCode())
		}
		err = goerrors.Unwrap(err)
	}
	return ""
}

func hasCode(err error, code string) bool {
	for err != nil {
		if coder, ok := err.(errors.ErrorCoder); ok && string(coder.ErrorCode()) == code {
			return true
		}
		err = goerrors.Unwrap(err)
	}
	return false
}

// IsTaskStopped reports whether err was caused by posting to, or exiting, a stopped task.
func IsTaskStopped(err error) bool { return hasCode(err, ErrCodeTaskStopped) }

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool { return hasCode(err, ErrCodeTimeout) }

// IsInvalidState reports misuse such as double join or unlocking an unlocked mutex.
func IsInvalidState(err error) bool { return hasCode(err, ErrCodeInvalidState) }

// IsThreadCreation reports whether a worker thread could not be started.
func IsThreadCreation(err error) bool { return hasCode(err, ErrCodeThreadCreation) }

// IsHandlerFailure reports whether err wraps an error or panic raised by a handler.
func IsHandlerFailure(err error) bool { return hasCode(err, ErrCodeHandlerFailure) }

func newPanicFailure(where string, recovered any) error {
	return errors.New(ErrCodeHandlerFailure, where+" panicked").
		WithContext("panic", fmt.Sprint(recovered))
}
