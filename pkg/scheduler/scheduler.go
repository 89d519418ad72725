// Package scheduler matches submitted tasks against resource offers,
// launches them through a Driver, and tracks each task to a terminal state.
//
// Admission is FIFO: for each offer the pending queue is scanned in
// submission order and the first tasks the offer can host are launched.
// All queue, state and future bookkeeping happens under one mutex; driver
// calls and task callbacks run outside it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"

	"github.com/me/quiver/pkg/model"
	"github.com/me/quiver/pkg/proxy"
	"github.com/me/quiver/pkg/resources"
	"github.com/me/quiver/pkg/wire"
)

// Config holds scheduler configuration.
type Config struct {
	Name string // framework name
	User string
	Role string

	// MaxTasksPerOffer caps launches per offer. 1 launches the first
	// feasible task only; 0 keeps launching while the offer's remaining
	// capacity covers the next feasible task.
	MaxTasksPerOffer int

	// RefuseSeconds is sent with declines.
	RefuseSeconds float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:             "quiver",
		MaxTasksPerOffer: 1,
		RefuseSeconds:    5,
	}
}

type entry struct {
	seq     int64
	task    Task
	future  *Future
	state   model.TaskState
	offerID string
	slaveID string
	message string

	launched    bool
	submittedAt time.Time
	launchedAt  *time.Time
	completedAt *time.Time
}

// Scheduler is a single-framework FIFO task scheduler. It implements
// EventHandler.
type Scheduler struct {
	cfg      Config
	registry *proxy.Registry
	logger   *slog.Logger

	mu          sync.Mutex
	driver      Driver
	observer    Observer
	frameworkID string
	seq         int64
	pending     []*entry // ordered by seq
	tasks       map[string]*entry
	active      int           // tasks not yet settled
	idle        chan struct{} // closed while active == 0
}

// New creates a Scheduler. A nil registry means DefaultRegistry().
func New(cfg Config, registry *proxy.Registry, logger *slog.Logger) *Scheduler {
	if registry == nil {
		registry = DefaultRegistry()
	}
	idle := make(chan struct{})
	close(idle)
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With("component", "scheduler"),
		observer: nopObserver{},
		tasks:    make(map[string]*entry),
		idle:     idle,
	}
}

// SetDriver sets the driver commands are sent to. Running calls it.
func (s *Scheduler) SetDriver(d Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.driver = d
}

// SetObserver installs o to receive scheduling events.
func (s *Scheduler) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
	o.PendingTasks(len(s.pending))
}

// FrameworkID returns the id assigned at registration, or "".
func (s *Scheduler) FrameworkID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameworkID
}

func (s *Scheduler) frameworkInfo() (proto.Message, error) {
	info := proxy.NewFrameworkInfo(s.cfg.Name, s.cfg.User)
	if s.cfg.Role != "" {
		info.Set("role", s.cfg.Role)
	}
	m, err := proxy.Encode(info)
	if err != nil {
		return nil, fmt.Errorf("encode framework info: %w", err)
	}
	return m, nil
}

// Submit queues task and returns its future. Tasks without an id get a
// fresh one. Submit does not block on scheduling.
func (s *Scheduler) Submit(task Task) (*Future, error) {
	if err := task.Resources().Validate(); err != nil {
		return nil, fmt.Errorf("submit task %q: %w", task.Name(), err)
	}
	if task.TaskID() == "" {
		task.SetTaskID(uuid.NewString())
	}
	id := task.TaskID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; ok {
		return nil, fmt.Errorf("submit task: id %s already tracked", id)
	}
	s.seq++
	e := &entry{
		seq:         s.seq,
		task:        task,
		future:      newFuture(id),
		state:       model.TaskStateStaging,
		submittedAt: time.Now().UTC(),
	}
	s.tasks[id] = e
	s.pending = append(s.pending, e)
	if s.active == 0 {
		s.idle = make(chan struct{})
	}
	s.active++

	s.observer.TaskSubmitted()
	s.observer.PendingTasks(len(s.pending))
	s.logger.Debug("task submitted", "task_id", id, "name", task.Name(), "resources", task.Resources().String())
	return e.future, nil
}

// Wait blocks until every submitted task has settled, or ctx is done.
// Task failures are not reported here; inspect the futures.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnRegistered records the framework id.
func (s *Scheduler) OnRegistered(_ context.Context, frameworkID string) {
	s.mu.Lock()
	s.frameworkID = frameworkID
	s.mu.Unlock()
	s.logger.Info("framework registered", "framework_id", frameworkID)
}

type launchPlan struct {
	offerID string
	slaveID string
	entries []*entry
	msgs    []proto.Message
}

// OnOffers matches pending tasks against offers, launching what fits and
// declining the rest.
func (s *Scheduler) OnOffers(ctx context.Context, msgs []proto.Message) {
	offers := make([]*proxy.Offer, 0, len(msgs))
	for _, m := range msgs {
		p, err := s.registry.Decode(m)
		if err != nil {
			s.logger.Error("decode offer", "error", err)
			continue
		}
		offer, ok := p.(*proxy.Offer)
		if !ok {
			s.logger.Error("unexpected message in offers", "type", wire.Name(m))
			continue
		}
		offers = append(offers, offer)
	}

	s.mu.Lock()
	driver := s.driver
	if driver == nil {
		// Nothing can be launched or declined; leave the queue untouched.
		s.mu.Unlock()
		s.logger.Error("offers received without a driver", "offers", len(offers))
		return
	}
	plans := make([]launchPlan, 0, len(offers))
	var failed []*entry
	for _, offer := range offers {
		plan, bad := s.match(offer)
		plans = append(plans, plan)
		failed = append(failed, bad...)
	}
	s.observer.PendingTasks(len(s.pending))
	s.mu.Unlock()

	for _, e := range failed {
		s.finish(e)
	}

	var filters proto.Message
	if f, err := proxy.Encode(proxy.NewFilters(s.cfg.RefuseSeconds)); err == nil {
		filters = f
	}
	for _, plan := range plans {
		if len(plan.msgs) == 0 {
			s.logger.Debug("declining offer", "offer_id", plan.offerID)
			s.mu.Lock()
			s.observer.OfferDeclined()
			s.mu.Unlock()
			if err := driver.Decline(ctx, plan.offerID, filters); err != nil {
				s.logger.Warn("decline offer", "offer_id", plan.offerID, "error", err)
			}
			continue
		}
		if err := driver.Launch(ctx, plan.offerID, plan.msgs); err != nil {
			s.logger.Error("launch tasks", "offer_id", plan.offerID, "tasks", len(plan.entries), "error", err)
			s.requeue(plan.entries)
			continue
		}
		for _, e := range plan.entries {
			s.logger.Info("task launched", "task_id", e.task.TaskID(), "offer_id", plan.offerID, "slave_id", plan.slaveID)
		}
	}
}

// match selects the pending tasks offer can host. It returns the launch
// plan and any tasks that could not be encoded, already moved to
// TASK_ERROR. Must be called with s.mu held.
func (s *Scheduler) match(offer *proxy.Offer) (launchPlan, []*entry) {
	plan := launchPlan{offerID: offer.ID(), slaveID: offer.SlaveID()}
	remaining := offer.Resources()
	var failed []*entry

	kept := s.pending[:0]
	for _, e := range s.pending {
		full := s.cfg.MaxTasksPerOffer > 0 && len(plan.entries) >= s.cfg.MaxTasksPerOffer
		if full || e.state != model.TaskStateStaging || !resources.Ge(remaining, e.task) {
			kept = append(kept, e)
			continue
		}

		e.task.Info().SetSlaveID(offer.SlaveID())
		msg, err := proxy.Encode(e.task)
		if err != nil {
			s.logger.Error("encode task", "task_id", e.task.TaskID(), "error", err)
			e.state = model.TaskStateError
			e.message = err.Error()
			e.future.reject(&model.TaskFailure{
				TaskID:  e.task.TaskID(),
				State:   model.TaskStateError,
				Message: "task cannot be encoded",
				Cause:   err,
			})
			s.observer.TaskTerminated(model.TaskStateError)
			failed = append(failed, e)
			continue
		}

		now := time.Now().UTC()
		e.launched = true
		e.launchedAt = &now
		e.offerID = plan.offerID
		e.slaveID = offer.SlaveID()
		remaining = remaining.Sub(e.task.Resources())
		plan.entries = append(plan.entries, e)
		plan.msgs = append(plan.msgs, msg)
	}
	// Clear the tail so dropped entries can be collected.
	for i := len(kept); i < len(s.pending); i++ {
		s.pending[i] = nil
	}
	s.pending = kept

	if len(plan.entries) > 0 {
		s.observer.TasksLaunched(len(plan.entries))
	}
	return plan, failed
}

// requeue returns tasks whose launch failed to their FIFO positions.
func (s *Scheduler) requeue(entries []*entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.state != model.TaskStateStaging {
			continue
		}
		e.launched = false
		e.launchedAt = nil
		e.offerID, e.slaveID = "", ""
		s.pending = append(s.pending, e)
		s.observer.LaunchFailed()
	}
	sort.Slice(s.pending, func(i, j int) bool { return s.pending[i].seq < s.pending[j].seq })
	s.observer.PendingTasks(len(s.pending))
}

// OnStatusUpdate applies a status update. Updates for unknown or settled
// tasks, and updates that would move a task backwards, are logged and
// dropped.
func (s *Scheduler) OnStatusUpdate(_ context.Context, msg proto.Message) {
	p, err := s.registry.Decode(msg)
	if err != nil {
		s.logger.Error("decode status update", "error", err)
		return
	}
	st, ok := p.(proxy.Status)
	if !ok {
		s.logger.Error("unexpected message as status update", "type", wire.Name(msg))
		return
	}
	id, next := st.TaskID(), st.State()

	s.mu.Lock()
	e, ok := s.tasks[id]
	switch {
	case !ok:
		s.drop(&model.UnknownTaskIDError{TaskID: id}, "unknown", st)
		s.mu.Unlock()
		return
	case e.state.IsTerminal():
		s.drop(&model.UnknownTaskIDError{TaskID: id, State: e.state}, "terminal", st)
		s.mu.Unlock()
		return
	case !next.Valid() || !e.state.CanTransitionTo(next):
		s.drop(&model.InvalidTransitionError{Entity: "Task", ID: id, From: string(e.state), To: string(next)}, "transition", st)
		s.mu.Unlock()
		return
	}

	prev := e.state
	e.state = next
	if m := st.Message(); m != "" {
		e.message = m
	}
	s.removePending(e)
	if next.IsTerminal() {
		now := time.Now().UTC()
		e.completedAt = &now
		s.observer.TaskTerminated(next)
	}
	s.mu.Unlock()

	s.logger.Debug("task state changed", "task_id", id, "from", prev, "to", next)
	if !next.IsTerminal() {
		return
	}

	if next.IsSuccessful() {
		s.logger.Info("task finished", "task_id", id)
		e.task.NotifySuccess()
		s.resolve(e, st)
	} else {
		s.logger.Info("task failed", "task_id", id, "state", next, "message", st.Message())
		var cause error
		if f, ok := e.task.(failurer); ok {
			cause = f.Failure(st)
		}
		e.future.reject(&model.TaskFailure{
			TaskID:  id,
			State:   next,
			Message: st.Message(),
			Data:    st.Data(),
			Cause:   cause,
		})
	}
	s.finish(e)
}

func (s *Scheduler) resolve(e *entry, st proxy.Status) {
	r, ok := e.task.(resulter)
	if !ok {
		e.future.resolve(st)
		return
	}
	v, err := r.Result(st)
	if err != nil {
		e.future.reject(&model.TaskFailure{
			TaskID:  e.task.TaskID(),
			State:   st.State(),
			Message: "result unavailable",
			Data:    st.Data(),
			Cause:   err,
		})
		return
	}
	e.future.resolve(v)
}

// finish marks a settled task as no longer active.
func (s *Scheduler) finish(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	if s.active == 0 {
		close(s.idle)
	}
}

// drop logs an update that does not apply. Must be called with s.mu held.
func (s *Scheduler) drop(err error, reason string, st proxy.Status) {
	s.logger.Warn("dropping status update", "task_id", st.TaskID(), "state", st.State(), "reason", reason, "error", err)
	s.observer.UpdateDropped(reason)
}

func (s *Scheduler) removePending(e *entry) {
	for i, p := range s.pending {
		if p == e {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			s.observer.PendingTasks(len(s.pending))
			return
		}
	}
}

// Kill relays a kill request for a tracked, unsettled task. The task's
// final state arrives later as a status update.
func (s *Scheduler) Kill(ctx context.Context, taskID string) error {
	s.mu.Lock()
	e, ok := s.tasks[taskID]
	driver := s.driver
	var state model.TaskState
	if ok {
		state = e.state
	}
	s.mu.Unlock()

	switch {
	case !ok:
		return &model.UnknownTaskIDError{TaskID: taskID}
	case state.IsTerminal():
		return &model.UnknownTaskIDError{TaskID: taskID, State: state}
	case driver == nil:
		return errors.New("kill: no driver")
	}
	s.logger.Info("killing task", "task_id", taskID)
	return driver.Kill(ctx, taskID)
}

// Pending returns the number of tasks waiting for an offer.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Get returns a summary of the task with the given id.
func (s *Scheduler) Get(taskID string) (model.TaskSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[taskID]
	if !ok {
		return model.TaskSummary{}, false
	}
	return e.summary(), true
}

// Snapshot returns summaries of all tracked tasks in submission order.
func (s *Scheduler) Snapshot() []model.TaskSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*entry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]model.TaskSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.summary())
	}
	return out
}

func (e *entry) summary() model.TaskSummary {
	res := make(map[string]float64)
	for _, q := range e.task.Resources().Merge() {
		res[string(q.Kind)] = q.Amount
	}
	return model.TaskSummary{
		ID:          e.task.TaskID(),
		Name:        e.task.Name(),
		State:       e.state,
		Launched:    e.launched,
		Resources:   res,
		OfferID:     e.offerID,
		SlaveID:     e.slaveID,
		Message:     e.message,
		SubmittedAt: e.submittedAt,
		LaunchedAt:  e.launchedAt,
		CompletedAt: e.completedAt,
	}
}
