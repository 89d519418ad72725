package model

import (
	"errors"
	"fmt"
)

// ErrNotTracked is wrapped by UnknownTaskIDError.
var ErrNotTracked = errors.New("task not tracked")

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}

// UnknownTaskIDError describes a status update for a task that is not
// tracked or has already reached a terminal state. State is empty for
// untracked ids.
type UnknownTaskIDError struct {
	TaskID string
	State  TaskState
}

func (e *UnknownTaskIDError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("status update for unknown task %s", e.TaskID)
	}
	return fmt.Sprintf("status update for task %s already in terminal state %s", e.TaskID, e.State)
}

func (e *UnknownTaskIDError) Unwrap() error {
	return ErrNotTracked
}

// TaskFailure is the rejection reason of a task that ended in a terminal
// state other than TASK_FINISHED.
type TaskFailure struct {
	TaskID  string
	State   TaskState
	Message string
	Data    []byte
	// Cause carries failure information decoded from the status payload,
	// if the task type provides any.
	Cause error
}

func (e *TaskFailure) Error() string {
	msg := fmt.Sprintf("task %s ended in %s", e.TaskID, e.State)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TaskFailure) Unwrap() error {
	return e.Cause
}

// DoubleResolutionError is raised (via panic) when a future or task state
// machine is settled a second time.
type DoubleResolutionError struct {
	TaskID string
}

func (e *DoubleResolutionError) Error() string {
	return fmt.Sprintf("result for task %s already settled", e.TaskID)
}
