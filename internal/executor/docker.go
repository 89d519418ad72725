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

	"github.com/me/quiver/pkg/proxy"
)

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// osCommandRunner is the real implementation using os/exec.
type osCommandRunner struct{}

func (r *osCommandRunner) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	switch e := runErr.(type) {
	case nil:
		return stdout, stderr, 0, nil
	case *exec.ExitError:
		return stdout, stderr, e.ExitCode(), nil
	default:
		return stdout, stderr, -1, runErr
	}
}

// DockerExecutor runs tasks with a DOCKER container inside that image
// using the Docker CLI.
type DockerExecutor struct {
	logger  *slog.Logger
	workDir string
	runner  CommandRunner
}

// NewDockerExecutor creates a DockerExecutor rooted at workDir.
// If workDir is empty, os.TempDir() is used.
func NewDockerExecutor(workDir string, logger *slog.Logger) *DockerExecutor {
	return newDockerExecutorWithRunner(workDir, logger, &osCommandRunner{})
}

// newDockerExecutorWithRunner is used by tests to inject a mock CommandRunner.
func newDockerExecutorWithRunner(workDir string, logger *slog.Logger, runner CommandRunner) *DockerExecutor {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &DockerExecutor{
		workDir: workDir,
		logger:  logger.With("component", "docker-executor"),
		runner:  runner,
	}
}

// Kind returns KindDocker.
func (e *DockerExecutor) Kind() Kind {
	return KindDocker
}

// Run executes the task's command in a fresh container with the task
// directory mounted at /work. The container is removed when ctx is
// cancelled.
func (e *DockerExecutor) Run(ctx context.Context, task proxy.Proxy) proxy.Status {
	id := taskID(task)
	ti, ok := taskInfo(task)
	if !ok {
		return errorStatus(id, fmt.Errorf("%s is not a task", task.Descriptor().FullName()))
	}
	container, ok := ti.Container()
	if !ok || container.Image() == "" {
		return errorStatus(id, errors.New("task has no docker image"))
	}
	command, ok := ti.Command()
	if !ok || command.Value() == "" {
		return errorStatus(id, errors.New("task has no command"))
	}

	taskDir := filepath.Join(e.workDir, id)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return errorStatus(id, fmt.Errorf("create work dir: %w", err))
	}

	name := containerName(id)
	args := []string{
		"run", "--rm",
		"--name", name,
		"-v", taskDir + ":/work",
		"-w", "/work",
	}
	if network, _ := container.GetString("docker.network"); network == "HOST" {
		args = append(args, "--network", "host")
	}
	args = append(args, container.Image())
	if command.Shell() {
		args = append(args, "sh", "-c", command.Value())
	} else {
		args = append(args, command.Value())
		args = append(args, command.Arguments()...)
	}

	stdout, stderr, exitCode, runErr := e.runner.Run(ctx, "docker", args...)
	if ctx.Err() != nil {
		if _, _, _, err := e.runner.Run(context.WithoutCancel(ctx), "docker", "rm", "-f", name); err != nil {
			e.logger.Warn("remove container", "task_id", id, "container", name, "error", err)
		}
	}
	if runErr != nil {
		runErr = fmt.Errorf("docker run: %w", runErr)
	}

	e.logger.Debug("docker task finished",
		"task_id", id,
		"image", container.Image(),
		"exit_code", exitCode,
	)
	return exitStatus(ctx, id, stdout, stderr, exitCode, runErr)
}

func containerName(taskID string) string {
	return "quiver-" + taskID
}
