package model

// TaskState represents the lifecycle state of a Task. Values match the
// resource manager's TaskState enum names.
type TaskState string

const (
	TaskStateStaging  TaskState = "TASK_STAGING"
	TaskStateStarting TaskState = "TASK_STARTING"
	TaskStateRunning  TaskState = "TASK_RUNNING"
	TaskStateFinished TaskState = "TASK_FINISHED"
	TaskStateFailed   TaskState = "TASK_FAILED"
	TaskStateKilled   TaskState = "TASK_KILLED"
	TaskStateLost     TaskState = "TASK_LOST"
	TaskStateError    TaskState = "TASK_ERROR"
)

// TaskStates lists every state in lifecycle order.
var TaskStates = []TaskState{
	TaskStateStaging,
	TaskStateStarting,
	TaskStateRunning,
	TaskStateFinished,
	TaskStateFailed,
	TaskStateKilled,
	TaskStateLost,
	TaskStateError,
}

// String returns the string representation of the task state.
func (s TaskState) String() string {
	return string(s)
}

// Valid returns true if s is one of the known task states.
func (s TaskState) Valid() bool {
	for _, known := range TaskStates {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the task is in a final state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateFinished, TaskStateFailed, TaskStateKilled, TaskStateLost, TaskStateError:
		return true
	}
	return false
}

// IsSuccessful returns true only for TASK_FINISHED.
func (s TaskState) IsSuccessful() bool {
	return s == TaskStateFinished
}

var terminalStates = []TaskState{
	TaskStateFinished, TaskStateFailed, TaskStateKilled, TaskStateLost, TaskStateError,
}

// ValidTaskTransitions defines the allowed state transitions for Tasks.
// Transitions only move forward; intermediate states may be skipped because
// the resource manager does not always report STARTING.
var ValidTaskTransitions = map[TaskState][]TaskState{
	TaskStateStaging:  append([]TaskState{TaskStateStarting, TaskStateRunning}, terminalStates...),
	TaskStateStarting: append([]TaskState{TaskStateRunning}, terminalStates...),
	TaskStateRunning:  terminalStates,
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
