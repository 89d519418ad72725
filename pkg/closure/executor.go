package closure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dop251/goja"

	"github.com/me/quiver/pkg/model"
)

// Executor runs closure tasks on the executing side.
type Executor struct {
	funcs  *Registry
	logger *slog.Logger
}

// NewExecutor creates an Executor resolving function names in funcs.
func NewExecutor(funcs *Registry, logger *slog.Logger) *Executor {
	return &Executor{
		funcs:  funcs,
		logger: logger.With("component", "closure-executor"),
	}
}

// Run executes the call carried by task and returns its terminal status:
// FINISHED with the return value, FAILED with the error, or KILLED if ctx
// was cancelled first.
func (e *Executor) Run(ctx context.Context, task *Task) *TaskStatus {
	id := task.TaskID()
	call, err := task.Call()
	if err != nil {
		return e.failed(id, err)
	}

	e.logger.Debug("running closure", "task_id", id, "call", call.String())
	value, err := e.invoke(ctx, call)
	if ctx.Err() != nil {
		st := NewTaskStatus(id, model.TaskStateKilled)
		st.SetMessage("killed")
		return st
	}
	if err != nil {
		return e.failed(id, err)
	}

	st := NewTaskStatus(id, model.TaskStateFinished)
	if err := st.SetResult(value); err != nil {
		return e.failed(id, err)
	}
	return st
}

func (e *Executor) failed(id string, err error) *TaskStatus {
	e.logger.Info("closure failed", "task_id", id, "error", err)
	st := NewTaskStatus(id, model.TaskStateFailed)
	st.SetError(err)
	return st
}

// invoke calls the target, converting panics into errors.
func (e *Executor) invoke(ctx context.Context, call Call) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	if call.Script != "" {
		return runScript(ctx, call)
	}
	fn, ok := e.funcs.Lookup(call.Fn)
	if !ok {
		return nil, fmt.Errorf("function %q is not registered", call.Fn)
	}
	return fn(ctx, call.Args, call.Kwargs)
}

// runScript evaluates call.Script as a JavaScript function expression and
// applies it to the arguments. Keyword arguments, if any, are passed as a
// trailing object.
func runScript(ctx context.Context, call Call) (any, error) {
	vm := goja.New()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt("context cancelled") })
	defer stop()

	v, err := vm.RunString("(" + call.Script + ")")
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, errors.New("script does not evaluate to a function")
	}

	args := make([]goja.Value, 0, len(call.Args)+1)
	for _, a := range call.Args {
		args = append(args, vm.ToValue(a))
	}
	if len(call.Kwargs) > 0 {
		args = append(args, vm.ToValue(call.Kwargs))
	}

	res, err := fn(goja.Undefined(), args...)
	if err != nil {
		var ex *goja.Exception
		if errors.As(err, &ex) {
			return nil, errors.New(ex.Value().String())
		}
		return nil, err
	}
	if goja.IsUndefined(res) || goja.IsNull(res) {
		return nil, nil
	}
	return res.Export(), nil
}
