// Package closure implements tasks whose payload is a function call: a
// registered function name or a JavaScript function, with positional and
// keyword arguments. The executing side runs the call and returns the
// value in the status update's data field.
//
// Payloads are CBOR. Go functions cannot be serialized, so a call names a
// function that must be registered under the same name where it runs.
// Script calls carry their source and need no registration.
package closure

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/me/quiver/pkg/model"
	"github.com/me/quiver/pkg/proxy"
	"github.com/me/quiver/pkg/resources"
	"github.com/me/quiver/pkg/wire"
)

// Label tags TaskInfo and TaskStatus messages that carry closure payloads.
const Label = "closure"

// Call is the serialized payload of a closure task. Exactly one of Fn and
// Script is set.
type Call struct {
	Fn     string         `cbor:"fn,omitempty"`
	Script string         `cbor:"script,omitempty"`
	Args   []any          `cbor:"args,omitempty"`
	Kwargs map[string]any `cbor:"kwargs,omitempty"`
}

// Validate checks that c names exactly one target.
func (c Call) Validate() error {
	switch {
	case c.Fn == "" && c.Script == "":
		return errors.New("closure: call has neither fn nor script")
	case c.Fn != "" && c.Script != "":
		return errors.New("closure: call has both fn and script")
	}
	return nil
}

func (c Call) String() string {
	if c.Fn != "" {
		return c.Fn
	}
	return "script"
}

// outcome is the serialized result of a call.
type outcome struct {
	Value any    `cbor:"value"`
	Error string `cbor:"error,omitempty"`
}

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("closure: cbor enc mode: %v", err))
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		IntDec:         cbor.IntDecConvertSigned,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("closure: cbor dec mode: %v", err))
	}
	return dm
}

// EncodeCall serializes c.
func EncodeCall(c Call) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	b, err := encMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("closure: encode call: %w", err)
	}
	return b, nil
}

// DecodeCall deserializes a payload produced by EncodeCall.
func DecodeCall(b []byte) (Call, error) {
	var c Call
	if len(b) == 0 {
		return c, errors.New("closure: empty payload")
	}
	if err := decMode.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("closure: decode call: %w", err)
	}
	return c, c.Validate()
}

func encodeOutcome(o outcome) ([]byte, error) {
	b, err := encMode.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("closure: encode result: %w", err)
	}
	return b, nil
}

func decodeOutcome(b []byte) (outcome, error) {
	var o outcome
	if err := decMode.Unmarshal(b, &o); err != nil {
		return o, fmt.Errorf("closure: decode result: %w", err)
	}
	return o, nil
}

// RemoteError is a failure raised by the called function on the executing side.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "closure: remote call failed: " + e.Message
}

// Task is a TaskInfo whose data holds a Call.
type Task struct {
	*proxy.TaskInfo

	// OnSuccess, if set, is called with the task when it finishes
	// successfully, before its future resolves.
	OnSuccess func(*Task)
}

// NewTask builds a closure task requiring res.
func NewTask(name string, call Call, res resources.List) (*Task, error) {
	data, err := EncodeCall(call)
	if err != nil {
		return nil, err
	}
	t := &Task{TaskInfo: proxy.NewTaskInfo(name)}
	t.SetResources(res)
	t.SetData(data)
	t.Set("executor.name", "quiver-closure")
	t.Set("executor.command", proxy.NewCommandInfo("quiver executor", true))
	if err := proxy.AddLabel(t.Record, "labels", Label, ""); err != nil {
		return nil, err
	}
	return t, nil
}

// Call decodes the task's payload.
func (t *Task) Call() (Call, error) {
	return DecodeCall(t.Data())
}

// SetTaskID assigns the task id to both the task and its executor.
func (t *Task) SetTaskID(id string) {
	t.TaskInfo.SetTaskID(id)
	t.Set("executor.executor_id", proxy.NewID(wire.ExecutorID, id))
}

// NotifySuccess runs the task's success callbacks.
func (t *Task) NotifySuccess() {
	if t.OnSuccess != nil {
		t.OnSuccess(t)
	}
	t.TaskInfo.NotifySuccess()
}

// Result extracts the call's return value from a FINISHED status.
func (t *Task) Result(st proxy.Status) (any, error) {
	if cs, ok := st.(*TaskStatus); ok {
		return cs.Result()
	}
	if len(st.Data()) == 0 {
		return nil, fmt.Errorf("closure: status for task %s carries no result", t.TaskID())
	}
	return (&TaskStatus{TaskStatus: asStatus(st)}).Result()
}

// Failure returns the remote error carried by a failed status, or nil if
// the status carries none.
func (t *Task) Failure(st proxy.Status) error {
	if len(st.Data()) == 0 {
		return nil
	}
	o, err := decodeOutcome(st.Data())
	if err != nil || o.Error == "" {
		return nil
	}
	return &RemoteError{Message: o.Error}
}

func asStatus(st proxy.Status) *proxy.TaskStatus {
	if ts, ok := st.(*proxy.TaskStatus); ok {
		return ts
	}
	return &proxy.TaskStatus{MessageProxy: proxy.Wrap(st.Descriptor(), st.Unwrap())}
}

// TaskStatus is a status update carrying a closure outcome.
type TaskStatus struct {
	*proxy.TaskStatus
}

// NewTaskStatus returns a labelled status update for taskID.
func NewTaskStatus(taskID string, state model.TaskState) *TaskStatus {
	s := &TaskStatus{proxy.NewTaskStatus(taskID, state)}
	proxy.AddLabel(s.Record, "labels", Label, "")
	return s
}

// SetResult stores v as the call's return value.
func (s *TaskStatus) SetResult(v any) error {
	b, err := encodeOutcome(outcome{Value: v})
	if err != nil {
		return err
	}
	s.SetData(b)
	return nil
}

// SetError stores err as the call's failure.
func (s *TaskStatus) SetError(err error) {
	b, encErr := encodeOutcome(outcome{Error: err.Error()})
	if encErr != nil {
		// A string always encodes.
		panic(encErr)
	}
	s.SetData(b)
	s.SetMessage(err.Error())
}

// Result decodes the carried outcome. A remote failure is a *RemoteError.
func (s *TaskStatus) Result() (any, error) {
	data := s.Data()
	if len(data) == 0 {
		return nil, fmt.Errorf("closure: status for task %s carries no result", s.TaskID())
	}
	o, err := decodeOutcome(data)
	if err != nil {
		return nil, err
	}
	if o.Error != "" {
		return nil, &RemoteError{Message: o.Error}
	}
	return o.Value, nil
}

// RegisterProxies registers the closure Task and TaskStatus proxy types, so
// labelled messages decode to them rather than to the generic types.
func RegisterProxies(r *proxy.Registry) {
	r.Register(&proxy.Type{
		Name:     "closure.Task",
		Message:  wire.FullName(wire.TaskInfo),
		Template: proxy.LabelTemplate("labels", Label),
		New: func(m *proxy.MessageProxy) proxy.Proxy {
			return &Task{TaskInfo: &proxy.TaskInfo{MessageProxy: m}}
		},
	})
	r.Register(&proxy.Type{
		Name:     "closure.TaskStatus",
		Message:  wire.FullName(wire.TaskStatus),
		Template: proxy.LabelTemplate("labels", Label),
		New: func(m *proxy.MessageProxy) proxy.Proxy {
			return &TaskStatus{&proxy.TaskStatus{MessageProxy: m}}
		},
	})
}
