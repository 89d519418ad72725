package scheduler

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Driver carries the scheduler's commands to the resource manager. Messages
// are wire messages (see package wire).
type Driver interface {
	// Launch starts tasks (TaskInfo messages) on the resources of an offer.
	Launch(ctx context.Context, offerID string, tasks []proto.Message) error
	// Decline returns an offer unused. filters is a Filters message.
	Decline(ctx context.Context, offerID string, filters proto.Message) error
	// Kill asks for a task to be killed. The resulting state arrives as a
	// status update.
	Kill(ctx context.Context, taskID string) error
}

// EventHandler receives the resource manager's events. A Framework calls it
// from its own goroutine, one event at a time.
type EventHandler interface {
	OnRegistered(ctx context.Context, frameworkID string)
	OnOffers(ctx context.Context, offers []proto.Message)
	OnStatusUpdate(ctx context.Context, status proto.Message)
}

// Framework is a driver connection with a lifecycle.
type Framework interface {
	Driver
	// Register announces the framework (a FrameworkInfo message) and starts
	// delivering events to h.
	Register(ctx context.Context, info proto.Message, h EventHandler) error
	// Stop tears the connection down. No events are delivered after it returns.
	Stop(ctx context.Context) error
}

// Running registers s with fw, runs fn, and stops fw on every exit path,
// including a panic in fn.
func Running(ctx context.Context, fw Framework, s *Scheduler, fn func(ctx context.Context) error) (err error) {
	info, err := s.frameworkInfo()
	if err != nil {
		return err
	}
	s.SetDriver(fw)
	if err := fw.Register(ctx, info, s); err != nil {
		return fmt.Errorf("register framework: %w", err)
	}
	defer func() {
		if stopErr := fw.Stop(context.WithoutCancel(ctx)); stopErr != nil && err == nil {
			err = fmt.Errorf("stop framework: %w", stopErr)
		}
	}()
	return fn(ctx)
}
