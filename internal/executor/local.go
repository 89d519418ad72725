package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/me/quiver/pkg/proxy"
)

const waitDelay = 2 * time.Second

// CommandExecutor runs command tasks as local OS processes.
type CommandExecutor struct {
	logger  *slog.Logger
	workDir string
}

// NewCommandExecutor creates a CommandExecutor rooted at workDir.
// If workDir is empty, os.TempDir() is used.
func NewCommandExecutor(workDir string, logger *slog.Logger) *CommandExecutor {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &CommandExecutor{
		workDir: workDir,
		logger:  logger.With("component", "command-executor"),
	}
}

// Kind returns KindCommand.
func (e *CommandExecutor) Kind() Kind {
	return KindCommand
}

// Run executes the task's command in a per-task directory under the work
// dir. Shell commands run through sh -c.
func (e *CommandExecutor) Run(ctx context.Context, task proxy.Proxy) proxy.Status {
	id := taskID(task)
	ti, ok := taskInfo(task)
	if !ok {
		return errorStatus(id, fmt.Errorf("%s is not a task", task.Descriptor().FullName()))
	}
	command, ok := ti.Command()
	if !ok || command.Value() == "" {
		return errorStatus(id, errors.New("task has no command"))
	}

	taskDir := filepath.Join(e.workDir, id)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return errorStatus(id, fmt.Errorf("create work dir: %w", err))
	}

	var cmd *exec.Cmd
	if command.Shell() {
		cmd = exec.CommandContext(ctx, "sh", "-c", command.Value())
	} else {
		cmd = exec.CommandContext(ctx, command.Value(), command.Arguments()...)
	}
	cmd.Dir = taskDir
	// Children of a killed shell may hold the output pipes open.
	cmd.WaitDelay = waitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		exitCode = exitErr.ExitCode()
		runErr = nil
	}

	e.logger.Debug("command finished",
		"task_id", id,
		"command", command.Value(),
		"exit_code", exitCode,
	)
	return exitStatus(ctx, id, stdoutBuf.String(), stderrBuf.String(), exitCode, runErr)
}
