package scheduler

import "github.com/me/quiver/pkg/model"

// Observer receives scheduling events, typically to export metrics.
// Methods are called with the scheduler lock held and must not block.
type Observer interface {
	TaskSubmitted()
	TasksLaunched(n int)
	OfferDeclined()
	LaunchFailed()
	TaskTerminated(state model.TaskState)
	UpdateDropped(reason string)
	PendingTasks(n int)
}

type nopObserver struct{}

func (nopObserver) TaskSubmitted()                 {}
func (nopObserver) TasksLaunched(int)              {}
func (nopObserver) OfferDeclined()                 {}
func (nopObserver) LaunchFailed()                  {}
func (nopObserver) TaskTerminated(model.TaskState) {}
func (nopObserver) UpdateDropped(string)           {}
func (nopObserver) PendingTasks(int)               {}
