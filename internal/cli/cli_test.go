package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/me/quiver/internal/server"
	"github.com/me/quiver/pkg/model"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	return writeFile(t, dir, "quiver.yaml", `
cluster:
  offer_interval: 10ms
  work_dir: `+filepath.Join(dir, "work")+`
  nodes:
    - hostname: n1
      cpus: 2
      mem: 512
log:
  level: error
`)
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	jobs := writeFile(t, dir, "jobs.yaml", `
jobs:
  - name: hello
    command: echo hello
    cpus: 0.5
    mem: 32
  - name: sum
    count: 3
    cpus: 0.1
    mem: 16
    closure:
      fn: sum
      args: [5, 6]
`)

	out, err := runCLI(t, "run", "--config", writeConfig(t, dir), "--jobs", jobs, "--timeout", "20s")
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, out)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("output has %d lines, want 4:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "\thello\tOK\thello") {
		t.Errorf("hello line = %q", lines[0])
	}
	for i, line := range lines[1:] {
		want := "\tsum-" + string(rune('0'+i)) + "\tOK\t11"
		if !strings.Contains(line, want) {
			t.Errorf("sum line %d = %q, want it to contain %q", i, line, want)
		}
	}
}

func TestRunCommand_Failure(t *testing.T) {
	dir := t.TempDir()
	jobs := writeFile(t, dir, "jobs.yaml", `
jobs:
  - name: ok
    command: "true"
  - name: broken
    command: exit 4
  - name: raises
    closure:
      fn: fail
      args: [kaboom]
`)

	out, err := runCLI(t, "run", "--config", writeConfig(t, dir), "--jobs", jobs, "--timeout", "20s")
	if !errors.Is(err, errTasksFailed) {
		t.Fatalf("run error = %v, want errTasksFailed\noutput: %s", err, out)
	}
	if !strings.Contains(out, "\tbroken\tFAILED\t") || !strings.Contains(out, "exit status 4") {
		t.Errorf("missing command failure in output:\n%s", out)
	}
	if !strings.Contains(out, "\traises\tFAILED\t") || !strings.Contains(out, "kaboom") {
		t.Errorf("missing closure failure in output:\n%s", out)
	}
	if !strings.Contains(out, "\tok\tOK\t") {
		t.Errorf("missing success line in output:\n%s", out)
	}
}

func TestRunCommand_History(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "history.db")
	jobs := writeFile(t, dir, "jobs.yaml", `
jobs:
  - name: hello
    command: echo hello
  - name: broken
    command: exit 2
`)

	out, err := runCLI(t, "run", "--config", writeConfig(t, dir), "--jobs", jobs, "--history", db, "--timeout", "20s")
	if !errors.Is(err, errTasksFailed) {
		t.Fatalf("run error = %v, want errTasksFailed\noutput: %s", err, out)
	}

	out, err = runCLI(t, "history", "--db", db)
	if err != nil {
		t.Fatalf("history error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("history has %d lines, want 2:\n%s", len(lines), out)
	}
	fields := strings.Fields(lines[1])
	if len(fields) != 6 || fields[1] != "quiver" {
		t.Fatalf("session line = %q", lines[1])
	}
	if n := len(fields); fields[n-2] != "2" || fields[n-1] != "1" {
		t.Errorf("session line = %q, want 2 tasks with 1 failed", lines[1])
	}

	out, err = runCLI(t, "history", "--db", db, fields[0])
	if err != nil {
		t.Fatalf("history session error: %v", err)
	}
	if !strings.Contains(out, "hello") || !strings.Contains(out, "TASK_FINISHED") {
		t.Errorf("missing finished task:\n%s", out)
	}
	if !strings.Contains(out, "TASK_FAILED") || !strings.Contains(out, "exit status 2") {
		t.Errorf("missing failed task:\n%s", out)
	}

	if _, err := runCLI(t, "history", "--db", db, "no-such-session"); err == nil {
		t.Error("expected error for an unknown session")
	}
}

func TestRunCommand_BadJobs(t *testing.T) {
	dir := t.TempDir()
	jobs := writeFile(t, dir, "jobs.yaml", "jobs:\n  - name: empty\n")
	if _, err := runCLI(t, "run", "--jobs", jobs); err == nil {
		t.Fatal("expected error for a job with neither command nor closure")
	}
	if _, err := runCLI(t, "run"); err == nil {
		t.Fatal("expected error without --jobs")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.HasPrefix(out, "quiver "+Version) {
		t.Errorf("version output = %q", out)
	}
}

// stubScheduler backs the status API in client command tests.
type stubScheduler struct {
	tasks  []model.TaskSummary
	killed []string
}

func (s *stubScheduler) FrameworkID() string           { return "fw-test" }
func (s *stubScheduler) Pending() int                  { return 0 }
func (s *stubScheduler) Snapshot() []model.TaskSummary { return s.tasks }

func (s *stubScheduler) Kill(_ context.Context, id string) error {
	if _, ok := s.Get(id); !ok {
		return &model.UnknownTaskIDError{TaskID: id}
	}
	s.killed = append(s.killed, id)
	return nil
}

func (s *stubScheduler) Get(id string) (model.TaskSummary, bool) {
	for _, t := range s.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return model.TaskSummary{}, false
}

func startTestServer(t *testing.T) (string, *stubScheduler) {
	t.Helper()
	submitted := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sched := &stubScheduler{tasks: []model.TaskSummary{
		{ID: "T-1", Name: "echo", State: model.TaskStateFinished, SubmittedAt: submitted,
			Resources: map[string]float64{"cpus": 1, "mem": 64}, SlaveID: "S0"},
		{ID: "T-2", Name: "sum", State: model.TaskStateRunning, SubmittedAt: submitted},
	}}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	ts := httptest.NewServer(server.New(sched, logger).Handler())
	t.Cleanup(ts.Close)
	return ts.URL, sched
}

func TestListCommand(t *testing.T) {
	url, _ := startTestServer(t)

	out, err := runCLI(t, "--server", url, "list")
	if err != nil {
		t.Fatalf("list error: %v\noutput: %s", err, out)
	}
	for _, want := range []string{"T-1", "TASK_FINISHED", "T-2", "TASK_RUNNING", "2026-01-02T03:04:05Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, "--server", url, "list", "--state", "TASK_LOST")
	if err != nil {
		t.Fatalf("list --state error: %v", err)
	}
	if !strings.Contains(out, "No tasks found.") {
		t.Errorf("filtered list output = %q", out)
	}
}

func TestStatusCommand(t *testing.T) {
	url, _ := startTestServer(t)

	out, err := runCLI(t, "--server", url, "status", "T-1")
	if err != nil {
		t.Fatalf("status error: %v\noutput: %s", err, out)
	}
	for _, want := range []string{"Task: T-1", "State:     TASK_FINISHED", "Resources: cpus=1 mem=64", "Agent:     S0"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	if _, err := runCLI(t, "--server", url, "status", "missing"); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestKillCommand(t *testing.T) {
	url, sched := startTestServer(t)

	out, err := runCLI(t, "--server", url, "kill", "T-2")
	if err != nil {
		t.Fatalf("kill error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "Kill requested for task T-2") {
		t.Errorf("kill output = %q", out)
	}
	if len(sched.killed) != 1 || sched.killed[0] != "T-2" {
		t.Errorf("killed = %v", sched.killed)
	}

	if _, err := runCLI(t, "--server", url, "kill", "ghost"); err == nil {
		t.Error("expected error killing an unknown task")
	}
}
