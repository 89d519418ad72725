package proxy

import (
	"github.com/me/quiver/pkg/model"
	"github.com/me/quiver/pkg/record"
	"github.com/me/quiver/pkg/resources"
	"github.com/me/quiver/pkg/wire"
)

// ID is the proxy of the single-value identifier messages (TaskID, OfferID,
// SlaveID, FrameworkID, ExecutorID).
type ID struct {
	*MessageProxy
}

// NewID returns an identifier proxy of the named wire type.
func NewID(name, value string) *ID {
	id := &ID{NewMessageProxy(name)}
	id.Set("value", value)
	return id
}

// Value returns the identifier string, or "" if unset.
func (id *ID) Value() string {
	s, _ := id.GetString("value")
	return s
}

// FrameworkInfo describes the framework to the resource manager.
type FrameworkInfo struct {
	*MessageProxy
}

// NewFrameworkInfo returns a FrameworkInfo with the given name and user.
func NewFrameworkInfo(name, user string) *FrameworkInfo {
	fi := &FrameworkInfo{NewMessageProxy(wire.FrameworkInfo)}
	fi.Set("name", name)
	fi.Set("user", user)
	return fi
}

func (fi *FrameworkInfo) Name() string { return str(fi.Record, "name") }
func (fi *FrameworkInfo) ID() string   { return str(fi.Record, "id.value") }

// SetID assigns the framework id.
func (fi *FrameworkInfo) SetID(id string) {
	fi.Set("id", NewID(wire.FrameworkID, id))
}

// Resource is a named scalar resource entry.
type Resource struct {
	*MessageProxy
}

// NewResource returns the most specific resource proxy for kind.
func NewResource(kind resources.Kind, amount float64) Proxy {
	r := scalarResource(kind, amount)
	switch kind {
	case resources.CPUs:
		return &Cpus{r}
	case resources.Mem:
		return &Mem{r}
	case resources.Disk:
		return &Disk{r}
	case resources.GPUs:
		return &Gpus{r}
	}
	return r
}

func scalarResource(kind resources.Kind, amount float64) *Resource {
	r := &Resource{NewMessageProxy(wire.Resource)}
	r.Set("name", string(kind))
	r.Set("type", "SCALAR")
	r.Set("scalar.value", amount)
	return r
}

// Kind returns the resource name.
func (r *Resource) Kind() resources.Kind { return resources.Kind(str(r.Record, "name")) }

// Amount returns the scalar amount, or 0 for non-scalar entries.
func (r *Resource) Amount() float64 {
	f, _ := r.GetFloat("scalar.value")
	return f
}

// Resources returns the entry as a single-element list.
func (r *Resource) Resources() resources.List {
	return resources.List{{Kind: r.Kind(), Amount: r.Amount()}}
}

// Cpus, Mem, Disk and Gpus are resource entries matched by name.
type (
	Cpus struct{ *Resource }
	Mem  struct{ *Resource }
	Disk struct{ *Resource }
	Gpus struct{ *Resource }
)

func NewCpus(amount float64) *Cpus { return &Cpus{scalarResource(resources.CPUs, amount)} }
func NewMem(amount float64) *Mem   { return &Mem{scalarResource(resources.Mem, amount)} }
func NewDisk(amount float64) *Disk { return &Disk{scalarResource(resources.Disk, amount)} }
func NewGpus(amount float64) *Gpus { return &Gpus{scalarResource(resources.GPUs, amount)} }

// CommandInfo describes a command to run.
type CommandInfo struct {
	*MessageProxy
}

// NewCommandInfo returns a command. With shell set the value is run by
// the shell; otherwise value is the executable and args its arguments.
func NewCommandInfo(value string, shell bool, args ...string) *CommandInfo {
	c := &CommandInfo{NewMessageProxy(wire.CommandInfo)}
	c.Set("value", value)
	c.Set("shell", shell)
	if len(args) > 0 {
		c.Set("arguments", args)
	}
	return c
}

func (c *CommandInfo) Value() string { return str(c.Record, "value") }

// Shell reports whether the command runs through the shell. Unset means true.
func (c *CommandInfo) Shell() bool {
	b, err := c.GetBool("shell")
	return err != nil || b
}

// Arguments returns the argument list.
func (c *CommandInfo) Arguments() []string {
	list, err := c.GetList("arguments")
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ContainerInfo describes the container a task runs in.
type ContainerInfo struct {
	*MessageProxy
}

// NewDockerContainer returns a DOCKER container with host networking.
func NewDockerContainer(image string) *ContainerInfo {
	c := &ContainerInfo{NewMessageProxy(wire.ContainerInfo)}
	c.Set("type", "DOCKER")
	c.Set("docker.image", image)
	c.Set("docker.network", "HOST")
	return c
}

func (c *ContainerInfo) Type() string  { return str(c.Record, "type") }
func (c *ContainerInfo) Image() string { return str(c.Record, "docker.image") }

// ExecutorInfo describes a custom executor.
type ExecutorInfo struct {
	*MessageProxy
}

func (e *ExecutorInfo) ID() string { return str(e.Record, "executor_id.value") }

// Resources returns the executor's resource list.
func (e *ExecutorInfo) Resources() resources.List { return resourceList(e.Record, "resources") }

// Command returns the executor command, if set.
func (e *ExecutorInfo) Command() (*CommandInfo, bool) {
	return nested(e.Record, "command", wire.CommandInfo, func(m *MessageProxy) *CommandInfo { return &CommandInfo{m} })
}

// Filters qualifies a decline.
type Filters struct {
	*MessageProxy
}

// NewFilters returns filters asking not to be re-offered the declined
// resources for refuseSeconds.
func NewFilters(refuseSeconds float64) *Filters {
	f := &Filters{NewMessageProxy(wire.Filters)}
	f.Set("refuse_seconds", refuseSeconds)
	return f
}

// RefuseSeconds returns the refusal period, 5 seconds when unset.
func (f *Filters) RefuseSeconds() float64 {
	v, err := f.GetFloat("refuse_seconds")
	if err != nil {
		return 5
	}
	return v
}

// TaskInfo describes a task to launch.
type TaskInfo struct {
	*MessageProxy

	// OnSuccess, if set, is called with the task when it finishes
	// successfully. It is not part of the wire message.
	OnSuccess func(*TaskInfo)
}

// NewTaskInfo returns a TaskInfo with the given name and no id.
func NewTaskInfo(name string) *TaskInfo {
	t := &TaskInfo{MessageProxy: NewMessageProxy(wire.TaskInfo)}
	if name != "" {
		t.Set("name", name)
	}
	return t
}

// Info returns t itself; types embedding *TaskInfo inherit it.
func (t *TaskInfo) Info() *TaskInfo { return t }

func (t *TaskInfo) Name() string    { return str(t.Record, "name") }
func (t *TaskInfo) TaskID() string  { return str(t.Record, "task_id.value") }
func (t *TaskInfo) SlaveID() string { return str(t.Record, "slave_id.value") }

func (t *TaskInfo) SetName(name string)  { t.Set("name", name) }
func (t *TaskInfo) SetTaskID(id string)  { t.Set("task_id", NewID(wire.TaskID, id)) }
func (t *TaskInfo) SetSlaveID(id string) { t.Set("slave_id", NewID(wire.SlaveID, id)) }

// Resources returns the task's resource requirements.
func (t *TaskInfo) Resources() resources.List { return resourceList(t.Record, "resources") }

// SetResources replaces the resource list.
func (t *TaskInfo) SetResources(list resources.List) { setResources(t.Record, "resources", list) }

// Data returns the opaque payload, or nil.
func (t *TaskInfo) Data() []byte {
	b, _ := t.GetBytes("data")
	return b
}

func (t *TaskInfo) SetData(b []byte) { t.Set("data", b) }

// Command returns the task command, if set.
func (t *TaskInfo) Command() (*CommandInfo, bool) {
	return nested(t.Record, "command", wire.CommandInfo, func(m *MessageProxy) *CommandInfo { return &CommandInfo{m} })
}

func (t *TaskInfo) SetCommand(c *CommandInfo) { t.Set("command", c) }

// Container returns the task container, if set.
func (t *TaskInfo) Container() (*ContainerInfo, bool) {
	return nested(t.Record, "container", wire.ContainerInfo, func(m *MessageProxy) *ContainerInfo { return &ContainerInfo{m} })
}

func (t *TaskInfo) SetContainer(c *ContainerInfo) { t.Set("container", c) }

// NotifySuccess runs OnSuccess, if set.
func (t *TaskInfo) NotifySuccess() {
	if t.OnSuccess != nil {
		t.OnSuccess(t)
	}
}

// NewStatus returns a status update for t.
func (t *TaskInfo) NewStatus(state model.TaskState) *TaskStatus {
	return NewTaskStatus(t.TaskID(), state)
}

// Status is the view of a status update the scheduler works with.
type Status interface {
	Proxy
	TaskID() string
	State() model.TaskState
	Message() string
	Data() []byte
}

// TaskStatus reports a task state change.
type TaskStatus struct {
	*MessageProxy
}

// NewTaskStatus returns a status update for taskID.
func NewTaskStatus(taskID string, state model.TaskState) *TaskStatus {
	s := &TaskStatus{NewMessageProxy(wire.TaskStatus)}
	s.Set("task_id", NewID(wire.TaskID, taskID))
	s.Set("state", string(state))
	return s
}

func (s *TaskStatus) TaskID() string  { return str(s.Record, "task_id.value") }
func (s *TaskStatus) SlaveID() string { return str(s.Record, "slave_id.value") }
func (s *TaskStatus) Message() string { return str(s.Record, "message") }

// State returns the reported state.
func (s *TaskStatus) State() model.TaskState {
	return model.TaskState(str(s.Record, "state"))
}

// Data returns the opaque payload, or nil.
func (s *TaskStatus) Data() []byte {
	b, _ := s.GetBytes("data")
	return b
}

func (s *TaskStatus) SetMessage(msg string) { s.Set("message", msg) }
func (s *TaskStatus) SetData(b []byte)      { s.Set("data", b) }
func (s *TaskStatus) SetSlaveID(id string)  { s.Set("slave_id", NewID(wire.SlaveID, id)) }

// Offer advertises resources available on one node.
type Offer struct {
	*MessageProxy
}

// NewOffer returns an offer of list from the node slaveID.
func NewOffer(id, slaveID, hostname string, list resources.List) *Offer {
	o := &Offer{NewMessageProxy(wire.Offer)}
	o.Set("id", NewID(wire.OfferID, id))
	o.Set("slave_id", NewID(wire.SlaveID, slaveID))
	o.Set("hostname", hostname)
	setResources(o.Record, "resources", list)
	return o
}

func (o *Offer) ID() string       { return str(o.Record, "id.value") }
func (o *Offer) SlaveID() string  { return str(o.Record, "slave_id.value") }
func (o *Offer) Hostname() string { return str(o.Record, "hostname") }

// Resources returns the offered resources.
func (o *Offer) Resources() resources.List { return resourceList(o.Record, "resources") }

// AddLabel appends a key/value label to the Labels message at path.
func AddLabel(r *record.Record, path, key, value string) error {
	label := NewMessageProxy(wire.Label)
	label.Set("key", key)
	if value != "" {
		label.Set("value", value)
	}
	labels, err := r.Ensure(path)
	if err != nil {
		return err
	}
	list, _ := labels.GetList("labels")
	return labels.Set("labels", append(list, label))
}

// HasLabel reports whether the Labels message at path carries key.
func HasLabel(r *record.Record, path, key string) bool {
	list, err := r.GetList(path + ".labels")
	if err != nil {
		return false
	}
	for _, v := range list {
		if w, ok := v.(record.Wrapper); ok && str(w.Unwrap(), "key") == key {
			return true
		}
	}
	return false
}

// LabelTemplate returns a registry template matching messages whose Labels
// at path carry key.
func LabelTemplate(path, key string) *record.Record {
	tmpl := record.New()
	tmpl.Set(path+".labels", []any{map[string]any{"key": key}})
	return tmpl
}

func str(r *record.Record, path string) string {
	s, _ := r.GetString(path)
	return s
}

func resourceList(r *record.Record, path string) resources.List {
	items, err := r.GetList(path)
	if err != nil {
		return nil
	}
	out := make(resources.List, 0, len(items))
	for _, v := range items {
		w, ok := v.(record.Wrapper)
		if !ok {
			continue
		}
		rec := w.Unwrap()
		amount, _ := rec.GetFloat("scalar.value")
		out = append(out, resources.Quantity{Kind: resources.Kind(str(rec, "name")), Amount: amount})
	}
	return out
}

func setResources(r *record.Record, path string, list resources.List) {
	items := make([]any, 0, len(list))
	for _, q := range list {
		items = append(items, NewResource(q.Kind, q.Amount))
	}
	r.Set(path, items)
}

// nested returns the message at path as a typed proxy, wrapping plain
// records and generic proxies as needed.
func nested[T Proxy](r *record.Record, path, name string, mk func(*MessageProxy) T) (T, bool) {
	var zero T
	v, err := r.Get(path)
	if err != nil {
		return zero, false
	}
	switch x := v.(type) {
	case T:
		return x, true
	case *MessageProxy:
		return mk(x), true
	case record.Wrapper:
		desc, err := wire.Descriptor(name)
		if err != nil {
			return zero, false
		}
		return mk(Wrap(desc, x.Unwrap())), true
	}
	return zero, false
}
