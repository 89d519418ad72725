// Package executor runs launched tasks on a node of the local cluster.
// Each Executor handles one payload kind and turns a task into its
// terminal status update.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/me/quiver/pkg/closure"
	"github.com/me/quiver/pkg/model"
	"github.com/me/quiver/pkg/proxy"
)

// Kind identifies the payload an Executor runs.
type Kind string

const (
	KindCommand Kind = "command"
	KindDocker  Kind = "docker"
	KindClosure Kind = "closure"
)

// Executor is a pluggable backend that runs tasks.
type Executor interface {
	// Kind returns the payload kind the executor handles.
	Kind() Kind

	// Run executes task to completion and returns its terminal status.
	// Cancelling ctx kills the task and yields TASK_KILLED.
	Run(ctx context.Context, task proxy.Proxy) proxy.Status
}

// KindOf returns the executor kind a decoded task needs.
func KindOf(task proxy.Proxy) Kind {
	if _, ok := task.(*closure.Task); ok {
		return KindClosure
	}
	if ti, ok := taskInfo(task); ok {
		if c, ok := ti.Container(); ok && c.Type() == "DOCKER" {
			return KindDocker
		}
	}
	return KindCommand
}

func taskInfo(p proxy.Proxy) (*proxy.TaskInfo, bool) {
	h, ok := p.(interface{ Info() *proxy.TaskInfo })
	if !ok {
		return nil, false
	}
	return h.Info(), true
}

func taskID(p proxy.Proxy) string {
	s, _ := p.Unwrap().GetString("task_id.value")
	return s
}

// maxData caps the stdout carried in a status update.
const maxData = 4 << 10

// exitStatus maps a finished process to a status update.
func exitStatus(ctx context.Context, id, stdout, stderr string, exitCode int, runErr error) *proxy.TaskStatus {
	switch {
	case ctx.Err() != nil:
		st := proxy.NewTaskStatus(id, model.TaskStateKilled)
		st.SetMessage("killed")
		return st
	case runErr != nil:
		st := proxy.NewTaskStatus(id, model.TaskStateFailed)
		st.SetMessage(runErr.Error())
		return st
	case exitCode != 0:
		st := proxy.NewTaskStatus(id, model.TaskStateFailed)
		msg := fmt.Sprintf("exit status %d", exitCode)
		if tail := lastLine(stderr); tail != "" {
			msg += ": " + tail
		}
		st.SetMessage(msg)
		return st
	}
	st := proxy.NewTaskStatus(id, model.TaskStateFinished)
	if len(stdout) > maxData {
		stdout = stdout[len(stdout)-maxData:]
	}
	if stdout != "" {
		st.SetData([]byte(stdout))
	}
	return st
}

func errorStatus(id string, err error) *proxy.TaskStatus {
	st := proxy.NewTaskStatus(id, model.TaskStateError)
	st.SetMessage(err.Error())
	return st
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
