package localcluster

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"

	"github.com/me/quiver/pkg/proxy"
	"github.com/me/quiver/pkg/wire"
)

func (c *Cluster) offerLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.OfferInterval)
	defer ticker.Stop()

	c.makeOffers()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.makeOffers()
		}
	}
}

// makeOffers offers the free capacity of every node that has no
// outstanding offer and is not filtered by a recent decline.
func (c *Cluster) makeOffers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	now := c.now()
	var payloads [][]byte
	for _, n := range c.nodes {
		if n.offerID != "" || now.Before(n.refuseUntil) {
			continue
		}
		free := n.free()
		if free.IsZero() {
			continue
		}
		id := uuid.NewString()
		b, err := proxy.Marshal(proxy.NewOffer(id, n.slaveID, n.hostname, free))
		if err != nil {
			c.logger.Error("encode offer", "hostname", n.hostname, "error", err)
			continue
		}
		n.offerID = id
		c.offers[id] = outstanding{node: n, resources: free}
		payloads = append(payloads, b)
		c.logger.Debug("offer made", "offer_id", id, "hostname", n.hostname, "resources", free.String())
	}
	if len(payloads) > 0 {
		c.queue.push(event{kind: eventOffers, payloads: payloads})
	}
}

// take removes an outstanding offer. The caller holds c.mu.
func (c *Cluster) take(offerID string) (outstanding, error) {
	if c.stopped {
		return outstanding{}, ErrStopped
	}
	o, ok := c.offers[offerID]
	if !ok {
		return outstanding{}, fmt.Errorf("localcluster: unknown offer %q", offerID)
	}
	delete(c.offers, offerID)
	o.node.offerID = ""
	return o, nil
}

// Decline returns an offer. The node is not offered again for the
// refuse_seconds of filters.
func (c *Cluster) Decline(_ context.Context, offerID string, filters proto.Message) error {
	refuse := c.cfg.DefaultRefuse
	if filters != nil {
		p, err := c.receive(wire.Filters, filters)
		if err != nil {
			return err
		}
		if f, ok := p.(*proxy.Filters); ok {
			refuse = time.Duration(f.RefuseSeconds() * float64(time.Second))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	o, err := c.take(offerID)
	if err != nil {
		return err
	}
	o.node.refuseUntil = c.now().Add(refuse)
	c.logger.Debug("offer declined", "offer_id", offerID, "hostname", o.node.hostname, "refuse", refuse)
	return nil
}
