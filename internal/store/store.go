// Package store keeps a history of scheduling sessions in SQLite.
//
// The history is written as tasks settle and is only ever read back for
// reporting; a new session never resumes tasks recorded by an earlier one.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/me/quiver/pkg/model"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Session is one run of the scheduler against a cluster.
type Session struct {
	ID          string     `json:"id"`
	FrameworkID string     `json:"framework_id"`
	Name        string     `json:"name"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Tasks       int        `json:"tasks"`
	Failed      int        `json:"failed"`
}

// TaskRecord is the final outcome of a task within a session.
type TaskRecord struct {
	model.TaskSummary
	SessionID string `json:"session_id"`
	Result    string `json:"result,omitempty"`
}

// ListOptions pages through sessions, newest first.
type ListOptions struct {
	Limit  int
	Offset int
}

// Clamp bounds Limit to [1, 100] and Offset to >= 0.
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Store defines the history persistence layer.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	FinishSession(ctx context.Context, id, frameworkID string, at time.Time) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, opts ListOptions) ([]*Session, int, error)

	RecordTask(ctx context.Context, rec *TaskRecord) error
	ListTasks(ctx context.Context, sessionID string) ([]*TaskRecord, error)

	Close() error
	Migrate(ctx context.Context) error
}
