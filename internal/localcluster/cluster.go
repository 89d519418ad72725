// Package localcluster emulates a resource manager in-process. It offers
// the free capacity of a set of nodes to one registered framework, runs
// launched tasks through an executor registry and reports their status
// updates back.
package localcluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/proto"

	"github.com/me/quiver/internal/executor"
	"github.com/me/quiver/pkg/proxy"
	"github.com/me/quiver/pkg/resources"
	"github.com/me/quiver/pkg/scheduler"
	"github.com/me/quiver/pkg/wire"
)

// ErrStopped is returned by driver calls made after Stop.
var ErrStopped = errors.New("localcluster: stopped")

// Node describes one agent of the cluster.
type Node struct {
	Hostname  string
	Resources resources.List
}

// Config configures a Cluster.
type Config struct {
	Nodes []Node
	// OfferInterval is the period between offer rounds.
	OfferInterval time.Duration
	// DefaultRefuse applies when a decline carries no filters.
	DefaultRefuse time.Duration
}

// DefaultConfig returns a single-node cluster configuration.
func DefaultConfig() Config {
	return Config{
		Nodes: []Node{{
			Hostname:  "localhost",
			Resources: resources.List{{Kind: resources.CPUs, Amount: 4}, {Kind: resources.Mem, Amount: 4096}},
		}},
		OfferInterval: 100 * time.Millisecond,
		DefaultRefuse: 5 * time.Second,
	}
}

type node struct {
	slaveID     string
	hostname    string
	total       resources.List
	used        resources.List
	offerID     string
	refuseUntil time.Time
}

func (n *node) free() resources.List {
	return n.total.Sub(n.used)
}

type outstanding struct {
	node      *node
	resources resources.List
}

type running struct {
	node      *node
	resources resources.List
	cancel    context.CancelFunc
}

// Cluster is an in-process resource manager. It implements
// scheduler.Framework.
type Cluster struct {
	cfg       Config
	executors *executor.Registry
	registry  *proxy.Registry
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	nodes       []*node
	offers      map[string]outstanding
	tasks       map[string]*running
	handler     scheduler.EventHandler
	frameworkID string
	stopped     bool
	cancel      context.CancelFunc
	group       *errgroup.Group
	runCtx      context.Context

	queue *eventQueue
}

var _ scheduler.Framework = (*Cluster)(nil)

// New creates a Cluster that runs tasks through executors. Launched task
// messages are decoded with registry.
func New(cfg Config, executors *executor.Registry, registry *proxy.Registry, logger *slog.Logger) (*Cluster, error) {
	if len(cfg.Nodes) == 0 {
		return nil, errors.New("localcluster: no nodes configured")
	}
	if cfg.OfferInterval <= 0 {
		cfg.OfferInterval = DefaultConfig().OfferInterval
	}
	if cfg.DefaultRefuse <= 0 {
		cfg.DefaultRefuse = DefaultConfig().DefaultRefuse
	}
	c := &Cluster{
		cfg:       cfg,
		executors: executors,
		registry:  registry,
		logger:    logger.With("component", "localcluster"),
		now:       time.Now,
		offers:    make(map[string]outstanding),
		tasks:     make(map[string]*running),
		queue:     newEventQueue(),
	}
	for i, n := range cfg.Nodes {
		if err := n.Resources.Validate(); err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Hostname, err)
		}
		hostname := n.Hostname
		if hostname == "" {
			hostname = fmt.Sprintf("node-%d", i)
		}
		c.nodes = append(c.nodes, &node{
			slaveID:  fmt.Sprintf("S%d-%s", i, uuid.NewString()[:8]),
			hostname: hostname,
			total:    n.Resources.Merge(),
		})
	}
	return c, nil
}

// FrameworkID returns the id assigned at registration.
func (c *Cluster) FrameworkID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameworkID
}

// Register accepts the framework and starts the offer and dispatch loops.
func (c *Cluster) Register(ctx context.Context, info proto.Message, h scheduler.EventHandler) error {
	p, err := c.receive(wire.FrameworkInfo, info)
	if err != nil {
		return err
	}
	fi, ok := p.(*proxy.FrameworkInfo)
	if !ok {
		return fmt.Errorf("localcluster: register: %s is not a framework info", p.Descriptor().FullName())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.handler != nil {
		return errors.New("localcluster: a framework is already registered")
	}
	c.handler = h
	c.frameworkID = uuid.NewString()

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	c.cancel = cancel
	c.group = g
	c.runCtx = gctx

	c.logger.Info("framework registered", "framework", fi.Name(), "framework_id", c.frameworkID, "nodes", len(c.nodes))
	c.queue.push(event{kind: eventRegistered, frameworkID: c.frameworkID})

	g.Go(func() error { return c.dispatch(gctx) })
	g.Go(func() error { return c.offerLoop(gctx) })
	return nil
}

// Stop kills running tasks and waits for every goroutine to exit. No
// events are delivered once it returns.
func (c *Cluster) Stop(_ context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	cancel, g := c.cancel, c.group
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	c.logger.Info("cluster stopped")
	return err
}

// Free returns the unused capacity of every node keyed by hostname.
func (c *Cluster) Free() map[string]resources.List {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]resources.List, len(c.nodes))
	for _, n := range c.nodes {
		out[n.hostname] = n.free()
	}
	return out
}

// receive passes m through the wire codec and decodes it, the way a message
// arriving over the network would be.
func (c *Cluster) receive(name string, m proto.Message) (proxy.Proxy, error) {
	if m == nil {
		return nil, fmt.Errorf("localcluster: nil %s", name)
	}
	b, err := wire.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("localcluster: marshal %s: %w", name, err)
	}
	return c.registry.DecodeBytes(name, b)
}
