package model

import (
	"time"
)

// TaskSummary is a read-only view of a tracked task, used by the status API
// and the CLI.
type TaskSummary struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	State     TaskState          `json:"state"`
	Launched  bool               `json:"launched"`
	Resources map[string]float64 `json:"resources,omitempty"`
	OfferID   string             `json:"offer_id,omitempty"`
	SlaveID   string             `json:"slave_id,omitempty"`
	Message   string             `json:"message,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	LaunchedAt  *time.Time `json:"launched_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsPending returns true if the task has not been launched yet.
func (t *TaskSummary) IsPending() bool {
	return !t.Launched && !t.State.IsTerminal()
}
