package mqtt

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Subscribe subscribes to the given topics at the given QoS.
//
// Topics already active are a no-op; topics with a subscribe request already
// in flight are folded into that wait. Every topic is added to the desired
// set before any broker round-trip, so a reconnect mid-call still converges
// to the right state.
//
// When the broker acknowledges, topics move pending -> active unless they
// were removed from desired while the request was in flight (unsubscribe
// raced the subscribe); those are immediately unsubscribed rather than left
// live on the broker.
//
// While not connected, Subscribe only records intent: the desired set is
// replayed on the next connected transition.
func (c *Client) Subscribe(ctx context.Context, topics []string, qos byte) error {
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	for _, t := range topics {
		if t == "" {
			return ErrInvalidTopic
		}
	}

	c.mu.Lock()
	filters := make(map[string]byte)
	for _, t := range topics {
		c.desired[t] = qos
		if _, ok := c.active[t]; ok {
			continue
		}
		if _, ok := c.pending[t]; ok {
			continue
		}
		filters[t] = qos
	}
	if len(filters) == 0 || c.status != StatusConnected {
		c.mu.Unlock()
		return nil
	}
	for t := range filters {
		c.pending[t] = struct{}{}
	}
	paho := c.paho
	c.mu.Unlock()

	token := paho.SubscribeMultiple(filters, c.route)
	err := waitToken(ctx, token, defaultOpTimeout)

	c.mu.Lock()
	var stale []string
	for t := range filters {
		// A connection loss clears pending; an ack from the dead session
		// must not resurrect the topic, the reconnect replay owns it now.
		if _, inflight := c.pending[t]; !inflight {
			continue
		}
		delete(c.pending, t)
		if err != nil {
			continue
		}
		if _, want := c.desired[t]; want {
			c.active[t] = struct{}{}
		} else {
			stale = append(stale, t)
		}
	}
	c.mu.Unlock()

	if len(stale) > 0 {
		tok := paho.Unsubscribe(stale...)
		if uerr := waitToken(ctx, tok, defaultOpTimeout); uerr != nil {
			c.logger.Warn("dropping stale subscription failed",
				zap.Strings("topics", stale), zap.Error(uerr))
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe removes the topics from the desired and pending sets
// unconditionally and issues a broker unsubscribe only for the subset that
// is currently active. It is a no-op when none are active.
func (c *Client) Unsubscribe(ctx context.Context, topics []string) error {
	c.mu.Lock()
	var live []string
	for _, t := range topics {
		delete(c.desired, t)
		delete(c.pending, t)
		if _, ok := c.active[t]; ok {
			delete(c.active, t)
			live = append(live, t)
		}
	}
	paho := c.paho
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if len(live) == 0 || !connected {
		return nil
	}
	token := paho.Unsubscribe(live...)
	if err := waitToken(ctx, token, defaultOpTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// ActiveTopics returns the broker-acknowledged subscriptions.
func (c *Client) ActiveTopics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.active))
	for t := range c.active {
		out = append(out, t)
	}
	return out
}

// DesiredTopics returns the topics the application intends to be subscribed.
func (c *Client) DesiredTopics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.desired))
	for t := range c.desired {
		out = append(out, t)
	}
	return out
}
