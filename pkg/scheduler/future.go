package scheduler

import (
	"context"
	"sync/atomic"

	"github.com/me/quiver/pkg/model"
)

// Future is the result handle of a submitted task. It is settled exactly
// once, when the task reaches a terminal state.
type Future struct {
	taskID  string
	done    chan struct{}
	settled atomic.Bool
	value   any
	err     error
}

func newFuture(taskID string) *Future {
	return &Future{taskID: taskID, done: make(chan struct{})}
}

// TaskID returns the id of the task the future belongs to.
func (f *Future) TaskID() string { return f.taskID }

// Done is closed once the future is settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Get blocks until the future settles or ctx is done. A task that ended in
// a failure state yields a *model.TaskFailure.
func (f *Future) Get(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled reports whether the future has a value or an error.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future) resolve(v any) { f.settle(v, nil) }

func (f *Future) reject(err error) { f.settle(nil, err) }

// settle panics if called twice: a second outcome means the task state
// machine was advanced past a terminal state.
func (f *Future) settle(v any, err error) {
	if !f.settled.CompareAndSwap(false, true) {
		panic(&model.DoubleResolutionError{TaskID: f.taskID})
	}
	f.value, f.err = v, err
	close(f.done)
}
