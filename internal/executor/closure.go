package executor

import (
	"context"
	"fmt"

	"github.com/me/quiver/pkg/closure"
	"github.com/me/quiver/pkg/proxy"
)

// ClosureExecutor runs closure tasks in-process.
type ClosureExecutor struct {
	exec *closure.Executor
}

// NewClosureExecutor wraps a closure.Executor.
func NewClosureExecutor(exec *closure.Executor) *ClosureExecutor {
	return &ClosureExecutor{exec: exec}
}

// Kind returns KindClosure.
func (e *ClosureExecutor) Kind() Kind {
	return KindClosure
}

// Run executes the task's call.
func (e *ClosureExecutor) Run(ctx context.Context, task proxy.Proxy) proxy.Status {
	ct, ok := task.(*closure.Task)
	if !ok {
		return errorStatus(taskID(task), fmt.Errorf("%T is not a closure task", task))
	}
	return e.exec.Run(ctx, ct)
}
