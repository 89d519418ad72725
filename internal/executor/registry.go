package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/me/quiver/pkg/proxy"
)

// Registry maps payload kinds to their Executor implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	executors map[Kind]Executor
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		executors: make(map[Kind]Executor),
		logger:    logger.With("component", "executor-registry"),
	}
}

// Register adds an Executor to the registry, keyed by its Kind().
func (r *Registry) Register(exec Executor) {
	k := exec.Kind()
	r.executors[k] = exec
	r.logger.Debug("executor registered", "kind", k)
}

// Get returns the Executor for the given kind or an error if none is registered.
func (r *Registry) Get(k Kind) (Executor, error) {
	exec, ok := r.executors[k]
	if !ok {
		return nil, fmt.Errorf("no executor registered for kind %q", k)
	}
	return exec, nil
}

// Run dispatches task to the executor for its kind. A task no executor
// handles ends in TASK_ERROR.
func (r *Registry) Run(ctx context.Context, task proxy.Proxy) proxy.Status {
	exec, err := r.Get(KindOf(task))
	if err != nil {
		return errorStatus(taskID(task), err)
	}
	return exec.Run(ctx, task)
}
