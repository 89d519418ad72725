package localcluster

import (
	"context"
	"sync"

	"google.golang.org/protobuf/proto"

	"github.com/me/quiver/pkg/proxy"
	"github.com/me/quiver/pkg/wire"
)

type eventKind int

const (
	eventRegistered eventKind = iota
	eventOffers
	eventStatus
)

// event is a message waiting for delivery. Payloads are kept as wire
// bytes and decoded on the dispatcher goroutine.
type event struct {
	kind        eventKind
	frameworkID string
	payloads    [][]byte
}

// eventQueue is an unbounded FIFO so that driver calls made from inside a
// handler never block on the dispatcher.
type eventQueue struct {
	mu     sync.Mutex
	items  []event
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return event{}, false
	}
	e := q.items[0]
	q.items[0] = event{}
	q.items = q.items[1:]
	return e, true
}

// dispatch delivers queued events to the handler one at a time.
func (c *Cluster) dispatch(ctx context.Context) error {
	for {
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e, ok := c.queue.pop()
			if !ok {
				break
			}
			c.deliver(ctx, e)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.queue.signal:
		}
	}
}

func (c *Cluster) deliver(ctx context.Context, e event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	switch e.kind {
	case eventRegistered:
		h.OnRegistered(ctx, e.frameworkID)
	case eventOffers:
		msgs := make([]proto.Message, 0, len(e.payloads))
		for _, b := range e.payloads {
			m, err := wire.Unmarshal(wire.Offer, b)
			if err != nil {
				c.logger.Error("decode offer", "error", err)
				continue
			}
			msgs = append(msgs, m)
		}
		if len(msgs) > 0 {
			h.OnOffers(ctx, msgs)
		}
	case eventStatus:
		for _, b := range e.payloads {
			m, err := wire.Unmarshal(wire.TaskStatus, b)
			if err != nil {
				c.logger.Error("decode status update", "error", err)
				continue
			}
			h.OnStatusUpdate(ctx, m)
		}
	}
}

// sendStatus queues st for delivery.
func (c *Cluster) sendStatus(st proxy.Status) {
	b, err := proxy.Marshal(st)
	if err != nil {
		c.logger.Error("encode status update", "task_id", st.TaskID(), "state", st.State(), "error", err)
		return
	}
	c.queue.push(event{kind: eventStatus, payloads: [][]byte{b}})
}
