package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/me/quiver/pkg/closure"
	"github.com/me/quiver/pkg/model"
	"github.com/me/quiver/pkg/proxy"
	"github.com/me/quiver/pkg/resources"
	"github.com/me/quiver/pkg/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type launchCall struct {
	offerID string
	tasks   []proto.Message
}

// fakeFramework records every command it receives.
type fakeFramework struct {
	mu        sync.Mutex
	launches  []launchCall
	declines  []string
	kills     []string
	launchErr error
	handler   EventHandler
	stopped   bool
}

func (f *fakeFramework) Launch(_ context.Context, offerID string, tasks []proto.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		err := f.launchErr
		f.launchErr = nil
		return err
	}
	f.launches = append(f.launches, launchCall{offerID: offerID, tasks: tasks})
	return nil
}

func (f *fakeFramework) Decline(_ context.Context, offerID string, _ proto.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declines = append(f.declines, offerID)
	return nil
}

func (f *fakeFramework) Kill(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills = append(f.kills, taskID)
	return nil
}

func (f *fakeFramework) Register(ctx context.Context, info proto.Message, h EventHandler) error {
	f.handler = h
	h.OnRegistered(ctx, "fw-1")
	return nil
}

func (f *fakeFramework) Stop(context.Context) error {
	f.stopped = true
	return nil
}

// launchedIDs returns the task ids of every launch, in order.
func (f *fakeFramework) launchedIDs(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, l := range f.launches {
		for _, m := range l.tasks {
			p, err := DefaultRegistry().Decode(m)
			if err != nil {
				t.Fatalf("decode launched task: %v", err)
			}
			ids = append(ids, p.(Task).TaskID())
		}
	}
	return ids
}

func newTestScheduler(cfg Config) (*Scheduler, *fakeFramework) {
	s := New(cfg, nil, testLogger())
	fw := &fakeFramework{}
	s.SetDriver(fw)
	return s, fw
}

func offerMsg(t *testing.T, id string, cpus, mem float64) proto.Message {
	t.Helper()
	m, err := proxy.Encode(proxy.NewOffer(id, "slave-1", "node-1", resources.List{
		{Kind: resources.CPUs, Amount: cpus},
		{Kind: resources.Mem, Amount: mem},
	}))
	if err != nil {
		t.Fatalf("encode offer: %v", err)
	}
	return m
}

func statusMsg(t *testing.T, st proxy.Proxy) proto.Message {
	t.Helper()
	m, err := proxy.Encode(st)
	if err != nil {
		t.Fatalf("encode status: %v", err)
	}
	return m
}

func update(t *testing.T, s *Scheduler, id string, state model.TaskState, message string) {
	t.Helper()
	st := proxy.NewTaskStatus(id, state)
	if message != "" {
		st.SetMessage(message)
	}
	s.OnStatusUpdate(context.Background(), statusMsg(t, st))
}

func commandTask(t *testing.T, id string, cpus, mem float64) Task {
	t.Helper()
	task, err := NewTask(TaskConfig{
		ID:        id,
		Name:      "test-task",
		Resources: resources.List{{Kind: resources.CPUs, Amount: cpus}, {Kind: resources.Mem, Amount: mem}},
		Command:   "echo 100",
		Shell:     true,
	})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	return task
}

func mustSubmit(t *testing.T, s *Scheduler, task Task) *Future {
	t.Helper()
	f, err := s.Submit(task)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return f
}

func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubmit_AssignsID(t *testing.T) {
	s, _ := newTestScheduler(DefaultConfig())
	task := commandTask(t, "", 0.1, 16)
	f := mustSubmit(t, s, task)
	if task.TaskID() == "" || f.TaskID() != task.TaskID() {
		t.Fatalf("task id = %q, future id = %q", task.TaskID(), f.TaskID())
	}
	if s.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", s.Pending())
	}
	if _, err := s.Submit(task); err == nil {
		t.Error("resubmitting a tracked id should fail")
	}
	sum, ok := s.Get(task.TaskID())
	if !ok || sum.State != model.TaskStateStaging || !sum.IsPending() {
		t.Errorf("Get() = %+v, %v", sum, ok)
	}
}

func TestSubmit_RejectsNegativeResources(t *testing.T) {
	s, _ := newTestScheduler(DefaultConfig())
	task := proxy.NewTaskInfo("bad")
	task.SetResources(resources.List{{Kind: resources.CPUs, Amount: -1}})
	if _, err := s.Submit(task); err == nil {
		t.Fatal("expected error for negative resources")
	}
}

func TestScenario_SingleTask(t *testing.T) {
	s, fw := newTestScheduler(DefaultConfig())
	ctx := shortCtx(t)

	task := commandTask(t, "test-task-id", 0.1, 16)
	var future *Future
	var settledInCallback bool
	task.Info().OnSuccess = func(*proxy.TaskInfo) { settledInCallback = future.Settled() }
	future = mustSubmit(t, s, task)

	s.OnOffers(ctx, []proto.Message{offerMsg(t, "offer-1", 1, 128)})
	if ids := fw.launchedIDs(t); len(ids) != 1 || ids[0] != "test-task-id" {
		t.Fatalf("launched = %v, want [test-task-id]", ids)
	}
	if fw.launches[0].offerID != "offer-1" {
		t.Errorf("launch offer = %q", fw.launches[0].offerID)
	}
	if len(fw.declines) != 0 {
		t.Errorf("declines = %v, want none", fw.declines)
	}

	update(t, s, "test-task-id", model.TaskStateRunning, "")
	if sum, _ := s.Get("test-task-id"); sum.State != model.TaskStateRunning || !sum.Launched {
		t.Errorf("summary after RUNNING = %+v", sum)
	}
	update(t, s, "test-task-id", model.TaskStateFinished, "")

	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	v, err := future.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	st, ok := v.(proxy.Status)
	if !ok || st.State() != model.TaskStateFinished || st.TaskID() != "test-task-id" {
		t.Errorf("future value = %#v", v)
	}
	if settledInCallback {
		t.Error("future settled before the success callback ran")
	}
}

func TestScenario_InfeasibleTaskStaysPending(t *testing.T) {
	s, fw := newTestScheduler(DefaultConfig())
	future := mustSubmit(t, s, commandTask(t, "big", 8, 16))

	s.OnOffers(context.Background(), []proto.Message{offerMsg(t, "offer-1", 1, 128), offerMsg(t, "offer-2", 2, 128)})
	if len(fw.launches) != 0 {
		t.Fatalf("launches = %v, want none", fw.launches)
	}
	if len(fw.declines) != 2 {
		t.Errorf("declines = %v, want both offers", fw.declines)
	}
	if s.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", s.Pending())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want deadline exceeded", err)
	}
	if future.Settled() {
		t.Error("future settled for a task that never launched")
	}

	s.OnOffers(context.Background(), []proto.Message{offerMsg(t, "offer-3", 8, 128)})
	if ids := fw.launchedIDs(t); len(ids) != 1 || ids[0] != "big" {
		t.Errorf("launched = %v, want [big]", ids)
	}
}

func TestOnOffers_FIFOFirstFeasible(t *testing.T) {
	s, fw := newTestScheduler(DefaultConfig())
	mustSubmit(t, s, commandTask(t, "big", 4, 16))
	mustSubmit(t, s, commandTask(t, "a", 0.5, 16))
	mustSubmit(t, s, commandTask(t, "b", 0.5, 16))

	s.OnOffers(context.Background(), []proto.Message{offerMsg(t, "o1", 1, 128), offerMsg(t, "o2", 1, 128)})

	got := fw.launchedIDs(t)
	want := []string{"a", "b"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("launched = %v, want %v", got, want)
	}
	if fw.launches[0].offerID != "o1" || fw.launches[1].offerID != "o2" {
		t.Errorf("offers used = %s, %s", fw.launches[0].offerID, fw.launches[1].offerID)
	}
	if s.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1 (big)", s.Pending())
	}
}

func TestOnOffers_Packing(t *testing.T) {
	tests := []struct {
		name     string
		max      int
		launched int
	}{
		{"greedy", 1, 1},
		{"pack", 0, 2},
		{"cap", 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MaxTasksPerOffer = tt.max
			s, fw := newTestScheduler(cfg)
			for _, id := range []string{"t0", "t1", "t2"} {
				mustSubmit(t, s, commandTask(t, id, 0.5, 16))
			}
			s.OnOffers(context.Background(), []proto.Message{offerMsg(t, "o1", 1, 128)})
			if got := len(fw.launchedIDs(t)); got != tt.launched {
				t.Errorf("launched %d tasks, want %d", got, tt.launched)
			}
			if len(fw.launches) != 1 {
				t.Errorf("launch calls = %d, want 1", len(fw.launches))
			}
		})
	}
}

func TestOnStatusUpdate_DropsStaleUpdates(t *testing.T) {
	s, _ := newTestScheduler(DefaultConfig())
	future := mustSubmit(t, s, commandTask(t, "t1", 0.1, 16))
	s.OnOffers(context.Background(), []proto.Message{offerMsg(t, "o1", 1, 128)})

	update(t, s, "t1", model.TaskStateRunning, "")
	update(t, s, "t1", model.TaskStateRunning, "")  // duplicate
	update(t, s, "t1", model.TaskStateStarting, "") // backwards
	update(t, s, "t1", model.TaskStateFinished, "")
	update(t, s, "t1", model.TaskStateFailed, "late") // after terminal
	update(t, s, "nope", model.TaskStateRunning, "")  // unknown

	sum, _ := s.Get("t1")
	if sum.State != model.TaskStateFinished {
		t.Errorf("state = %s, want TASK_FINISHED", sum.State)
	}
	if _, err := future.Get(shortCtx(t)); err != nil {
		t.Errorf("future error = %v, want success", err)
	}
}

func TestOnStatusUpdate_FailureRejects(t *testing.T) {
	tests := []model.TaskState{
		model.TaskStateFailed,
		model.TaskStateKilled,
		model.TaskStateLost,
		model.TaskStateError,
	}
	for _, state := range tests {
		t.Run(string(state), func(t *testing.T) {
			s, _ := newTestScheduler(DefaultConfig())
			called := false
			task := commandTask(t, "t1", 0.1, 16)
			task.Info().OnSuccess = func(*proxy.TaskInfo) { called = true }
			future := mustSubmit(t, s, task)
			s.OnOffers(context.Background(), []proto.Message{offerMsg(t, "o1", 1, 128)})
			update(t, s, "t1", state, "exit status 1")

			ctx := shortCtx(t)
			if err := s.Wait(ctx); err != nil {
				t.Fatalf("Wait() = %v, want nil", err)
			}
			_, err := future.Get(ctx)
			var tf *model.TaskFailure
			if !errors.As(err, &tf) {
				t.Fatalf("Get() error = %v, want *model.TaskFailure", err)
			}
			if tf.State != state || tf.Message != "exit status 1" || tf.TaskID != "t1" {
				t.Errorf("TaskFailure = %+v", tf)
			}
			if called {
				t.Error("success callback ran for a failed task")
			}
		})
	}
}

func TestOnOffers_LaunchFailureRequeues(t *testing.T) {
	s, fw := newTestScheduler(DefaultConfig())
	mustSubmit(t, s, commandTask(t, "first", 0.5, 16))
	mustSubmit(t, s, commandTask(t, "second", 0.5, 16))

	fw.launchErr = errors.New("connection reset")
	s.OnOffers(context.Background(), []proto.Message{offerMsg(t, "o1", 1, 128)})
	if s.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2 after failed launch", s.Pending())
	}

	s.OnOffers(context.Background(), []proto.Message{offerMsg(t, "o2", 1, 128)})
	if ids := fw.launchedIDs(t); len(ids) != 1 || ids[0] != "first" {
		t.Errorf("launched = %v, want [first]", ids)
	}
}

func TestOnOffers_NoDriverLeavesQueue(t *testing.T) {
	s := New(DefaultConfig(), nil, testLogger())
	future := mustSubmit(t, s, commandTask(t, "t1", 0.1, 16))

	s.OnOffers(context.Background(), []proto.Message{offerMsg(t, "o1", 1, 128)})
	if s.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", s.Pending())
	}
	if future.Settled() {
		t.Fatal("future settled without a driver")
	}

	fw := &fakeFramework{}
	s.SetDriver(fw)
	s.OnOffers(context.Background(), []proto.Message{offerMsg(t, "o2", 1, 128)})
	if ids := fw.launchedIDs(t); len(ids) != 1 || ids[0] != "t1" {
		t.Errorf("launched = %v, want [t1]", ids)
	}
}

func TestOnOffers_UnencodableTaskErrors(t *testing.T) {
	s, fw := newTestScheduler(DefaultConfig())
	task := commandTask(t, "t1", 0.1, 16)
	task.Unwrap().Set("result", "application only")
	future := mustSubmit(t, s, task)

	s.OnOffers(context.Background(), []proto.Message{offerMsg(t, "o1", 1, 128)})
	if len(fw.launches) != 0 {
		t.Fatalf("launched an unencodable task")
	}
	_, err := future.Get(shortCtx(t))
	var tf *model.TaskFailure
	var ee *proxy.EncodeError
	if !errors.As(err, &tf) || tf.State != model.TaskStateError || !errors.As(err, &ee) {
		t.Errorf("Get() error = %v, want TaskFailure(TASK_ERROR) wrapping EncodeError", err)
	}
	if err := s.Wait(shortCtx(t)); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestKill(t *testing.T) {
	s, fw := newTestScheduler(DefaultConfig())
	mustSubmit(t, s, commandTask(t, "t1", 0.1, 16))
	ctx := context.Background()

	if err := s.Kill(ctx, "t1"); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if len(fw.kills) != 1 || fw.kills[0] != "t1" {
		t.Errorf("kills = %v", fw.kills)
	}
	if sum, _ := s.Get("t1"); sum.State != model.TaskStateStaging {
		t.Errorf("Kill changed state to %s", sum.State)
	}

	if err := s.Kill(ctx, "missing"); !errors.Is(err, model.ErrNotTracked) {
		t.Errorf("Kill(missing) = %v, want ErrNotTracked", err)
	}

	update(t, s, "t1", model.TaskStateLost, "unknown task")
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d after LOST", s.Pending())
	}
	if err := s.Kill(ctx, "t1"); err == nil {
		t.Error("Kill of a settled task should fail")
	}
}

func TestSnapshot_SubmissionOrder(t *testing.T) {
	s, _ := newTestScheduler(DefaultConfig())
	for _, id := range []string{"c", "a", "b"} {
		mustSubmit(t, s, commandTask(t, id, 0.1, 16))
	}
	snap := s.Snapshot()
	if len(snap) != 3 || snap[0].ID != "c" || snap[1].ID != "a" || snap[2].ID != "b" {
		t.Errorf("Snapshot() ids = %v", snap)
	}
	if snap[0].Resources["cpus"] != 0.1 {
		t.Errorf("resources = %v", snap[0].Resources)
	}
}

func TestScenario_ClosureSums(t *testing.T) {
	s, fw := newTestScheduler(DefaultConfig())
	exec := closure.NewExecutor(closure.Builtin(), testLogger())
	ctx := shortCtx(t)

	futures := make([]*Future, 3)
	for i := range futures {
		task, err := NewTask(TaskConfig{
			Name:      "sum",
			Resources: resources.List{{Kind: resources.CPUs, Amount: 0.1}, {Kind: resources.Mem, Amount: 16}, {Kind: resources.Disk, Amount: 0}},
			Closure:   &closure.Call{Fn: "sum", Args: []any{[]any{1, 10, i}}},
		})
		if err != nil {
			t.Fatalf("NewTask: %v", err)
		}
		futures[i] = mustSubmit(t, s, task)
	}

	for round := 0; round < 3; round++ {
		s.OnOffers(ctx, []proto.Message{offerMsg(t, "o", 1, 128)})
	}
	if len(fw.launches) != 3 {
		t.Fatalf("launches = %d, want 3", len(fw.launches))
	}

	for _, l := range fw.launches {
		b, err := wire.Marshal(l.tasks[0])
		if err != nil {
			t.Fatal(err)
		}
		p, err := DefaultRegistry().DecodeBytes(wire.TaskInfo, b)
		if err != nil {
			t.Fatal(err)
		}
		task, ok := p.(*closure.Task)
		if !ok {
			t.Fatalf("launched task decoded as %T, want *closure.Task", p)
		}
		update(t, s, task.TaskID(), model.TaskStateRunning, "")
		s.OnStatusUpdate(ctx, statusMsg(t, exec.Run(ctx, task)))
	}

	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	for i, f := range futures {
		v, err := f.Get(ctx)
		if err != nil {
			t.Fatalf("future %d: %v", i, err)
		}
		if want := int64(11 + i); v != want {
			t.Errorf("future %d = %#v, want %d", i, v, want)
		}
	}
}

func TestScenario_ClosureFailure(t *testing.T) {
	s, fw := newTestScheduler(DefaultConfig())
	exec := closure.NewExecutor(closure.Builtin(), testLogger())
	ctx := shortCtx(t)

	task, err := NewTask(TaskConfig{Closure: &closure.Call{Fn: "fail", Args: []any{"division by zero"}}})
	if err != nil {
		t.Fatal(err)
	}
	future := mustSubmit(t, s, task)
	s.OnOffers(ctx, []proto.Message{offerMsg(t, "o", 2, 128)})
	if len(fw.launches) != 1 {
		t.Fatalf("launches = %d", len(fw.launches))
	}
	p, _ := DefaultRegistry().Decode(fw.launches[0].tasks[0])
	s.OnStatusUpdate(ctx, statusMsg(t, exec.Run(ctx, p.(*closure.Task))))

	_, err = future.Get(ctx)
	var re *closure.RemoteError
	var tf *model.TaskFailure
	if !errors.As(err, &tf) || !errors.As(err, &re) || re.Message != "division by zero" {
		t.Errorf("Get() error = %v, want TaskFailure wrapping RemoteError", err)
	}
}

func TestWait_IdleWithoutTasks(t *testing.T) {
	s, _ := newTestScheduler(DefaultConfig())
	if err := s.Wait(shortCtx(t)); err != nil {
		t.Errorf("Wait() on empty scheduler = %v", err)
	}
}

func TestWait_WakesOnCompletion(t *testing.T) {
	s, _ := newTestScheduler(DefaultConfig())
	mustSubmit(t, s, commandTask(t, "t1", 0.1, 16))
	s.OnOffers(context.Background(), []proto.Message{offerMsg(t, "o1", 1, 128)})

	ctx := shortCtx(t)
	done := make(chan error, 1)
	go func() { done <- s.Wait(ctx) }()

	select {
	case <-done:
		t.Fatal("Wait returned while a task was running")
	case <-time.After(20 * time.Millisecond):
	}
	update(t, s, "t1", model.TaskStateFinished, "")
	if err := <-done; err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestFuture_DoubleSettlePanics(t *testing.T) {
	f := newFuture("t1")
	f.resolve(1)
	defer func() {
		r := recover()
		if _, ok := r.(*model.DoubleResolutionError); !ok {
			t.Errorf("recover() = %v, want *model.DoubleResolutionError", r)
		}
	}()
	f.reject(errors.New("again"))
}

func TestRunning_StopsOnEveryExit(t *testing.T) {
	tests := []struct {
		name string
		fn   func(context.Context) error
		want error
	}{
		{"ok", func(context.Context) error { return nil }, nil},
		{"error", func(context.Context) error { return io.EOF }, io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(DefaultConfig(), nil, testLogger())
			fw := &fakeFramework{}
			err := Running(context.Background(), fw, s, tt.fn)
			if !errors.Is(err, tt.want) {
				t.Errorf("Running() = %v, want %v", err, tt.want)
			}
			if !fw.stopped {
				t.Error("framework not stopped")
			}
			if s.FrameworkID() != "fw-1" {
				t.Errorf("FrameworkID() = %q", s.FrameworkID())
			}
		})
	}

	t.Run("panic", func(t *testing.T) {
		fw := &fakeFramework{}
		defer func() {
			if recover() == nil {
				t.Error("panic was swallowed")
			}
			if !fw.stopped {
				t.Error("framework not stopped after panic")
			}
		}()
		Running(context.Background(), fw, New(DefaultConfig(), nil, testLogger()), func(context.Context) error {
			panic("boom")
		})
	})
}

func TestNewTask(t *testing.T) {
	if _, err := NewTask(TaskConfig{}); err == nil {
		t.Error("NewTask with no payload should fail")
	}
	if _, err := NewTask(TaskConfig{Command: "true", Closure: &closure.Call{Fn: "sum"}}); err == nil {
		t.Error("NewTask with both payloads should fail")
	}

	task, err := NewTask(TaskConfig{Name: "docker", Command: "echo hi", Shell: true, Image: "busybox"})
	if err != nil {
		t.Fatal(err)
	}
	if task.Resources().AmountOf(resources.CPUs) != 1 || task.Resources().AmountOf(resources.Mem) != 64 {
		t.Errorf("default resources = %v", task.Resources())
	}
	c, ok := task.Info().Container()
	if !ok || c.Image() != "busybox" {
		t.Error("container image not set")
	}
}
