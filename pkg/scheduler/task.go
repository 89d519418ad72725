package scheduler

import (
	"errors"
	"sync"

	"github.com/me/quiver/pkg/closure"
	"github.com/me/quiver/pkg/proxy"
	"github.com/me/quiver/pkg/resources"
)

// Task is a launchable task. *proxy.TaskInfo and *closure.Task implement it.
type Task interface {
	proxy.Proxy
	Info() *proxy.TaskInfo
	TaskID() string
	SetTaskID(id string)
	Name() string
	Resources() resources.List
	NotifySuccess()
}

// resulter converts a FINISHED status into the value a future resolves
// with. Tasks without it resolve with the status itself.
type resulter interface {
	Result(st proxy.Status) (any, error)
}

// failurer extracts a failure carried by a terminal status.
type failurer interface {
	Failure(st proxy.Status) error
}

// DefaultResources is used by NewTask when a configuration names none.
var DefaultResources = resources.List{
	{Kind: resources.CPUs, Amount: 1},
	{Kind: resources.Mem, Amount: 64},
}

// TaskConfig holds the recognized task options. Exactly one of Command and
// Closure must be set.
type TaskConfig struct {
	ID        string
	Name      string
	Resources resources.List

	Command string
	Shell   bool
	Args    []string
	Image   string // run the command in this Docker image

	Closure *closure.Call

	// OnSuccess is called with the task when it finishes successfully.
	OnSuccess func(Task)
}

// NewTask builds a command or closure task from cfg.
func NewTask(cfg TaskConfig) (Task, error) {
	res := cfg.Resources
	if len(res) == 0 {
		res = DefaultResources
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}

	var task Task
	switch {
	case cfg.Command != "" && cfg.Closure != nil:
		return nil, errors.New("task has both a command and a closure")
	case cfg.Closure != nil:
		ct, err := closure.NewTask(cfg.Name, *cfg.Closure, res)
		if err != nil {
			return nil, err
		}
		if cfg.OnSuccess != nil {
			ct.OnSuccess = func(t *closure.Task) { cfg.OnSuccess(t) }
		}
		task = ct
	case cfg.Command != "":
		ti := proxy.NewTaskInfo(cfg.Name)
		ti.SetResources(res)
		ti.SetCommand(proxy.NewCommandInfo(cfg.Command, cfg.Shell, cfg.Args...))
		if cfg.Image != "" {
			ti.SetContainer(proxy.NewDockerContainer(cfg.Image))
		}
		if cfg.OnSuccess != nil {
			ti.OnSuccess = func(t *proxy.TaskInfo) { cfg.OnSuccess(t) }
		}
		task = ti
	default:
		return nil, errors.New("task has neither a command nor a closure")
	}

	if cfg.ID != "" {
		task.SetTaskID(cfg.ID)
	}
	return task, nil
}

var defaultRegistry = sync.OnceValue(func() *proxy.Registry {
	r := proxy.NewRegistry()
	proxy.RegisterBuiltins(r)
	closure.RegisterProxies(r)
	return r
})

// DefaultRegistry returns the registry the scheduler decodes with unless
// given another: the built-in proxy types plus the closure types.
func DefaultRegistry() *proxy.Registry {
	return defaultRegistry()
}
