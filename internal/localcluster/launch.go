package localcluster

import (
	"context"
	"errors"

	"google.golang.org/protobuf/proto"

	"github.com/me/quiver/pkg/model"
	"github.com/me/quiver/pkg/proxy"
	"github.com/me/quiver/pkg/resources"
	"github.com/me/quiver/pkg/wire"
)

// Launch starts tasks on the resources of an offer. The offer is consumed
// even when some tasks are rejected; capacity not claimed by an accepted
// task returns to the node. Tasks that do not fit the offer end in
// TASK_ERROR.
func (c *Cluster) Launch(_ context.Context, offerID string, tasks []proto.Message) error {
	decoded := make([]proxy.Proxy, 0, len(tasks))
	for _, m := range tasks {
		p, err := c.receive(wire.TaskInfo, m)
		if err != nil {
			return err
		}
		decoded = append(decoded, p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	o, err := c.take(offerID)
	if err != nil {
		return err
	}

	left := o.resources
	for _, p := range decoded {
		id, _ := p.Unwrap().GetString("task_id.value")
		need := taskResources(p)
		switch {
		case id == "":
			c.reject(p, "", "task has no id")
			continue
		case c.tasks[id] != nil:
			c.reject(p, id, "task id already running")
			continue
		case !resources.Ge(left, need):
			c.reject(p, id, "insufficient resources in offer: need "+need.String()+", offer has "+left.String())
			continue
		}
		left = left.Sub(need)
		c.start(o.node, id, p, need)
	}
	return nil
}

func taskResources(p proxy.Proxy) resources.List {
	if h, ok := p.(resources.Holder); ok {
		return h.Resources()
	}
	return nil
}

// reject reports an invalid task. The caller holds c.mu.
func (c *Cluster) reject(p proxy.Proxy, id, reason string) {
	c.logger.Warn("task rejected", "task_id", id, "reason", reason)
	st := proxy.NewTaskStatus(id, model.TaskStateError)
	st.SetMessage(reason)
	c.sendStatus(st)
}

// start claims resources on n and runs the task. The caller holds c.mu.
func (c *Cluster) start(n *node, id string, p proxy.Proxy, need resources.List) {
	ctx, cancel := context.WithCancel(c.runCtx)
	r := &running{node: n, resources: need, cancel: cancel}
	c.tasks[id] = r
	n.used = n.used.Sum(need)

	c.logger.Info("task launched", "task_id", id, "hostname", n.hostname, "resources", need.String())

	runningSt := proxy.NewTaskStatus(id, model.TaskStateRunning)
	runningSt.SetSlaveID(n.slaveID)
	c.sendStatus(runningSt)

	c.group.Go(func() error {
		defer cancel()
		st := c.executors.Run(ctx, p)
		if err := st.Unwrap().Set("slave_id", proxy.NewID(wire.SlaveID, n.slaveID)); err != nil {
			c.logger.Error("set slave id", "task_id", id, "error", err)
		}

		c.mu.Lock()
		delete(c.tasks, id)
		n.used = n.used.Sub(r.resources)
		c.mu.Unlock()

		c.logger.Info("task ended", "task_id", id, "state", st.State())
		c.sendStatus(st)
		return nil
	})
}

// Kill cancels a running task; its executor reports TASK_KILLED. A task
// the cluster does not run is reported TASK_LOST.
func (c *Cluster) Kill(_ context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if taskID == "" {
		return errors.New("localcluster: kill: empty task id")
	}
	if r, ok := c.tasks[taskID]; ok {
		c.logger.Info("killing task", "task_id", taskID)
		r.cancel()
		return nil
	}
	st := proxy.NewTaskStatus(taskID, model.TaskStateLost)
	st.SetMessage("task unknown to the cluster")
	c.sendStatus(st)
	return nil
}
