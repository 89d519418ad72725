package closure

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/me/quiver/pkg/model"
	"github.com/me/quiver/pkg/proxy"
	"github.com/me/quiver/pkg/resources"
	"github.com/me/quiver/pkg/wire"
)

func testExecutor(funcs *Registry) *Executor {
	return NewExecutor(funcs, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testRegistry() *proxy.Registry {
	r := proxy.NewRegistry()
	proxy.RegisterBuiltins(r)
	RegisterProxies(r)
	return r
}

func mustTask(t *testing.T, call Call) *Task {
	t.Helper()
	task, err := NewTask("closure-task", call, resources.List{{Kind: resources.CPUs, Amount: 0.1}, {Kind: resources.Mem, Amount: 16}})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	task.SetTaskID("task-1")
	return task
}

func TestCall_Validate(t *testing.T) {
	tests := []struct {
		name    string
		call    Call
		wantErr bool
	}{
		{"fn", Call{Fn: "sum"}, false},
		{"script", Call{Script: "() => 1"}, false},
		{"neither", Call{}, true},
		{"both", Call{Fn: "sum", Script: "() => 1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCall_EncodeDecode(t *testing.T) {
	b, err := EncodeCall(Call{Fn: "sum", Args: []any{[]int{1, 10, 2}}, Kwargs: map[string]any{"start": 1.5}})
	if err != nil {
		t.Fatalf("EncodeCall: %v", err)
	}
	c, err := DecodeCall(b)
	if err != nil {
		t.Fatalf("DecodeCall: %v", err)
	}
	if c.Fn != "sum" {
		t.Errorf("Fn = %q", c.Fn)
	}
	list, ok := c.Args[0].([]any)
	if !ok || len(list) != 3 {
		t.Fatalf("Args[0] = %#v", c.Args[0])
	}
	if v, ok := list[1].(int64); !ok || v != 10 {
		t.Errorf("Args[0][1] = %#v, want int64(10)", list[1])
	}
	if v, ok := c.Kwargs["start"].(float64); !ok || v != 1.5 {
		t.Errorf("Kwargs[start] = %#v", c.Kwargs["start"])
	}

	if _, err := DecodeCall(nil); err == nil {
		t.Error("DecodeCall(nil) should fail")
	}
}

func TestBuiltins(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		fn      string
		args    []any
		kwargs  map[string]any
		want    any
		wantErr bool
	}{
		{"sum list", "sum", []any{[]any{int64(1), int64(10), int64(2)}}, nil, int64(13), false},
		{"sum args", "sum", []any{int64(1), int64(2)}, nil, int64(3), false},
		{"sum floats", "sum", []any{[]any{int64(1), 0.5}}, nil, 1.5, false},
		{"sum empty", "sum", nil, nil, int64(0), false},
		{"sum bad", "sum", []any{[]any{"x"}}, nil, nil, true},
		{"concat", "concat", []any{"a", "b", int64(3)}, map[string]any{"sep": "-"}, "a-b-3", false},
		{"fail", "fail", []any{"boom"}, nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, ok := Builtin().Lookup(tt.fn)
			if !ok {
				t.Fatalf("%s not registered", tt.fn)
			}
			got, err := fn(ctx, tt.args, tt.kwargs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExecutor_Run(t *testing.T) {
	funcs := NewRegistry()
	RegisterBuiltins(funcs)
	funcs.Register("explode", func(context.Context, []any, map[string]any) (any, error) {
		panic("kaboom")
	})
	exec := testExecutor(funcs)
	ctx := context.Background()

	tests := []struct {
		name      string
		call      Call
		state     model.TaskState
		want      any
		errSubstr string
	}{
		{"sum", Call{Fn: "sum", Args: []any{[]any{1, 10, 2}}}, model.TaskStateFinished, int64(13), ""},
		{"script", Call{Script: "(a, b) => a * b", Args: []any{6, 7}}, model.TaskStateFinished, int64(42), ""},
		{"script kwargs", Call{Script: "(a, kw) => a + kw.suffix", Args: []any{"x"}, Kwargs: map[string]any{"suffix": "y"}}, model.TaskStateFinished, "xy", ""},
		{"fail", Call{Fn: "fail", Args: []any{"bad input"}}, model.TaskStateFailed, nil, "bad input"},
		{"unregistered", Call{Fn: "nope"}, model.TaskStateFailed, nil, "not registered"},
		{"panic", Call{Fn: "explode"}, model.TaskStateFailed, nil, "kaboom"},
		{"script throws", Call{Script: "() => { throw new Error('boom') }"}, model.TaskStateFailed, nil, "boom"},
		{"not a function", Call{Script: "42"}, model.TaskStateFailed, nil, "not evaluate to a function"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := exec.Run(ctx, mustTask(t, tt.call))
			if st.State() != tt.state {
				t.Fatalf("state = %s, want %s (message %q)", st.State(), tt.state, st.Message())
			}
			if st.TaskID() != "task-1" {
				t.Errorf("TaskID() = %q", st.TaskID())
			}
			got, err := st.Result()
			if tt.errSubstr != "" {
				var re *RemoteError
				if !errors.As(err, &re) || !strings.Contains(re.Message, tt.errSubstr) {
					t.Errorf("Result() error = %v, want RemoteError containing %q", err, tt.errSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Result(): %v", err)
			}
			if got != tt.want {
				t.Errorf("Result() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExecutor_Cancelled(t *testing.T) {
	funcs := NewRegistry()
	funcs.Register("block", func(ctx context.Context, _ []any, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := testExecutor(funcs).Run(ctx, mustTask(t, Call{Fn: "block"}))
	if st.State() != model.TaskStateKilled {
		t.Errorf("state = %s, want TASK_KILLED", st.State())
	}
}

func TestTask_DecodesAsClosureTask(t *testing.T) {
	task := mustTask(t, Call{Fn: "sum", Args: []any{[]any{1, 2}}})
	b, err := proxy.Marshal(task)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	p, err := testRegistry().DecodeBytes(wire.TaskInfo, b)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	got, ok := p.(*Task)
	if !ok {
		t.Fatalf("decoded %T, want *closure.Task", p)
	}
	call, err := got.Call()
	if err != nil || call.Fn != "sum" {
		t.Errorf("Call() = %+v, %v", call, err)
	}
	if v, _ := got.GetString("executor.executor_id.value"); v != "task-1" {
		t.Errorf("executor id = %q, want task-1", v)
	}

	plain := proxy.NewTaskInfo("plain")
	b, _ = proxy.Marshal(plain)
	p, _ = testRegistry().DecodeBytes(wire.TaskInfo, b)
	if _, ok := p.(*Task); ok {
		t.Error("unlabelled TaskInfo decoded as closure task")
	}
}

func TestTaskStatus_RoutedThroughClosureType(t *testing.T) {
	st := NewTaskStatus("task-1", model.TaskStateFinished)
	if err := st.SetResult(int64(11)); err != nil {
		t.Fatal(err)
	}
	b, err := proxy.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	p, err := testRegistry().DecodeBytes(wire.TaskStatus, b)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	status, ok := p.(*TaskStatus)
	if !ok {
		t.Fatalf("decoded %T, want *closure.TaskStatus", p)
	}

	task := mustTask(t, Call{Fn: "sum"})
	v, err := task.Result(status)
	if err != nil || v != int64(11) {
		t.Errorf("Result() = %#v, %v", v, err)
	}
}

func TestTask_Failure(t *testing.T) {
	task := mustTask(t, Call{Fn: "fail"})

	st := NewTaskStatus("task-1", model.TaskStateFailed)
	st.SetError(errors.New("division by zero"))
	var re *RemoteError
	if err := task.Failure(st); !errors.As(err, &re) || re.Message != "division by zero" {
		t.Errorf("Failure() = %v", err)
	}

	lost := proxy.NewTaskStatus("task-1", model.TaskStateLost)
	if err := task.Failure(lost); err != nil {
		t.Errorf("Failure() without payload = %v, want nil", err)
	}
}

func TestTask_NotifySuccess(t *testing.T) {
	task := mustTask(t, Call{Fn: "sum"})
	var order []string
	task.OnSuccess = func(*Task) { order = append(order, "closure") }
	task.TaskInfo.OnSuccess = func(*proxy.TaskInfo) { order = append(order, "info") }
	task.NotifySuccess()
	if strings.Join(order, ",") != "closure,info" {
		t.Errorf("callback order = %v", order)
	}
}
