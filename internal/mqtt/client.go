// Package mqtt implements the broker transport: one physical connection per
// Client, publish/subscribe with desired/pending/active bookkeeping, and
// deterministic re-subscription across reconnect cycles.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Client owns one physical broker connection.
//
// Subscription bookkeeping is split into three disjoint sets:
//   - desired: topics the application wants subscribed. Survives disconnects
//     and is replayed on every connected transition.
//   - pending: subscribe request in flight to the broker.
//   - active: broker-acknowledged subscriptions.
//
// All methods are safe for concurrent use; the bookkeeping mutex is the
// serialization point that keeps interleaved subscribe/unsubscribe calls on
// the same topic from racing.
type Client struct {
	cfg    Config
	logger *zap.Logger

	// newPaho builds the underlying paho client; swapped out in tests.
	newPaho func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu      sync.Mutex
	paho    pahomqtt.Client
	status  Status
	desired map[string]byte // topic -> qos
	pending map[string]struct{}
	active  map[string]struct{}

	msgHandlers    handlerRegistry[MessageHandler]
	statusHandlers handlerRegistry[StatusHandler]
}

// NewClient creates a disconnected client for the given broker config.
// It fails only on malformed configuration; no network I/O happens here.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		newPaho: pahomqtt.NewClient,
		status:  StatusDisconnected,
		desired: make(map[string]byte),
		pending: make(map[string]struct{}),
		active:  make(map[string]struct{}),
	}, nil
}

// Connect establishes the broker connection. It is idempotent: if the client
// is already connected or an attempt is outstanding it returns immediately
// without opening a second physical connection.
//
// Transient network failures never fail Connect; the paho auto-reconnect
// loop keeps retrying and the outcome is surfaced through status events.
// The returned error is non-nil only for caller cancellation via ctx or a
// fatal handshake fault.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusConnected, StatusConnecting, StatusReconnecting:
		c.mu.Unlock()
		return nil
	}
	if c.paho == nil {
		opts := buildClientOptions(c.cfg)
		opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.handleConnect() })
		opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })
		opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) { c.handleReconnecting() })
		opts.SetDefaultPublishHandler(c.route)
		c.paho = c.newPaho(opts)
	}
	changed := c.transitionLocked(StatusConnecting)
	paho := c.paho
	c.mu.Unlock()
	if changed {
		c.notifyStatus(StatusConnecting, nil)
	}

	token := paho.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		c.mu.Lock()
		changed := c.transitionLocked(StatusError)
		c.mu.Unlock()
		if changed {
			c.notifyStatus(StatusError, err)
		}
		return fmt.Errorf("mqtt: connect: %w", err)
	}

	// The OnConnect callback runs asynchronously and may not have executed
	// yet; set connected here so callers can publish right away.
	c.mu.Lock()
	changed = c.transitionLocked(StatusConnected)
	c.mu.Unlock()
	if changed {
		c.notifyStatus(StatusConnected, nil)
	}
	return nil
}

// Disconnect tears the connection down and clears all subscription
// bookkeeping, including the desired set. It always succeeds and is safe to
// call on a client that never connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	paho := c.paho
	c.desired = make(map[string]byte)
	c.pending = make(map[string]struct{})
	c.active = make(map[string]struct{})
	changed := c.transitionLocked(StatusDisconnected)
	c.mu.Unlock()

	if paho != nil {
		paho.Disconnect(defaultDisconnectQuiesce)
	}
	if changed {
		c.notifyStatus(StatusDisconnected, nil)
	}
}

// OnMessage registers a handler for every inbound message regardless of
// topic. Returns an unsubscribe handle.
func (c *Client) OnMessage(h MessageHandler) func() {
	return c.msgHandlers.add(h)
}

// OnStatus registers a handler fired on every status transition.
// Returns an unsubscribe handle.
func (c *Client) OnStatus(h StatusHandler) func() {
	return c.statusHandlers.add(h)
}

// handleConnect runs on every connected transition, initial and reconnect.
// The broker has a clean session, so the whole desired set is replayed
// through the normal Subscribe path; the ack-vs-unsubscribe race handling
// there applies to reconnects too.
func (c *Client) handleConnect() {
	c.mu.Lock()
	changed := c.transitionLocked(StatusConnected)
	replay := make(map[byte][]string)
	for t, q := range c.desired {
		replay[q] = append(replay[q], t)
	}
	c.mu.Unlock()

	if changed {
		c.notifyStatus(StatusConnected, nil)
	}
	if len(replay) == 0 {
		return
	}
	// Paho invokes this callback on its network goroutine; the replay waits
	// on broker acks, so it runs on its own goroutine.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
		defer cancel()
		for qos, topics := range replay {
			if err := c.Subscribe(ctx, topics, qos); err != nil {
				c.logger.Warn("resubscribe after reconnect failed",
					zap.Strings("topics", topics), zap.Error(err))
			}
		}
	}()
}

// handleConnectionLost runs when the broker connection drops. The broker has
// forgotten the session, so active and pending are cleared; desired is
// preserved for the replay on the next connected transition.
func (c *Client) handleConnectionLost(err error) {
	c.mu.Lock()
	c.pending = make(map[string]struct{})
	c.active = make(map[string]struct{})
	changed := c.transitionLocked(StatusReconnecting)
	c.mu.Unlock()

	if changed {
		c.notifyStatus(StatusReconnecting, err)
	}
}

func (c *Client) handleReconnecting() {
	c.mu.Lock()
	changed := c.transitionLocked(StatusReconnecting)
	c.mu.Unlock()
	if changed {
		c.notifyStatus(StatusReconnecting, nil)
	}
}

// route fans an inbound message out to all registered handlers in
// registration order, isolating panics per handler.
func (c *Client) route(_ pahomqtt.Client, msg pahomqtt.Message) {
	topic, payload := msg.Topic(), msg.Payload()
	for _, h := range c.msgHandlers.snapshot() {
		c.invokeMessage(h, topic, payload)
	}
}

func (c *Client) invokeMessage(h MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panic recovered",
				zap.String("topic", topic), zap.Any("panic", r))
		}
	}()
	h(topic, payload)
}

func (c *Client) notifyStatus(status Status, err error) {
	for _, h := range c.statusHandlers.snapshot() {
		c.invokeStatus(h, status, err)
	}
}

func (c *Client) invokeStatus(h StatusHandler, status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("status handler panic recovered",
				zap.String("status", string(status)), zap.Any("panic", r))
		}
	}()
	h(status, err)
}

// waitToken waits for a broker acknowledgment, bounded by ctx and timeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
