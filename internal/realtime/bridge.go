// Package realtime bridges the broker transport and the conversation state:
// it parses wire events into typed domain events on the bus, owns the
// per-conversation typing-expiry timers, and exposes the outbound publish
// operations used when the local user acts.
package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lfelipe/chirp/internal/bus"
	"github.com/lfelipe/chirp/internal/chat"
	"github.com/lfelipe/chirp/internal/mqtt"
	"github.com/lfelipe/chirp/internal/topic"
)

// QoS levels per event channel: messages and seen receipts need
// at-least-once delivery; typing is ephemeral and loss-tolerant.
const (
	qosAtMostOnce  byte = 0
	qosAtLeastOnce byte = 1
)

// Transport is the broker client surface the bridge drives. *mqtt.Client
// implements it.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Subscribe(ctx context.Context, topics []string, qos byte) error
	Unsubscribe(ctx context.Context, topics []string) error
	Publish(ctx context.Context, topic string, payload any, qos byte, retain bool) error
	OnMessage(h mqtt.MessageHandler) func()
	OnStatus(h mqtt.StatusHandler) func()
}

// Bridge wraps one shared Transport. Inbound broker messages are parsed via
// the topic codec and fanned out as bus events (chat.message, chat.typing,
// chat.seen, chat.presence); unparseable topics and malformed payloads are
// dropped.
type Bridge struct {
	transport Transport
	bus       *bus.Bus
	logger    *zap.Logger
	timers    *typingTimers

	mu          sync.Mutex
	started     bool
	tracked     map[string]struct{}
	unsubMsg    func()
	unsubStatus func()
}

// New creates a bridge over the given transport.
func New(transport Transport, b *bus.Bus, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	br := &Bridge{
		transport: transport,
		bus:       b,
		logger:    logger,
		tracked:   make(map[string]struct{}),
	}
	// Timer expiry has the same effect as an explicit typing-stop.
	br.timers = newTypingTimers(func(conversationID, userID string) {
		br.publishTypingEvent(conversationID, userID, false)
	})
	return br
}

// Start connects the transport and subscribes to the fixed presence topic.
// Idempotent.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.unsubMsg = b.transport.OnMessage(b.dispatch)
	b.unsubStatus = b.transport.OnStatus(b.handleStatus)
	b.started = true
	b.mu.Unlock()

	if err := b.transport.Connect(ctx); err != nil {
		b.Stop()
		return err
	}
	if err := b.transport.Subscribe(ctx, []string{topic.PresenceOnline}, qosAtLeastOnce); err != nil {
		b.logger.Warn("presence subscribe failed", zap.Error(err))
	}
	return nil
}

// Stop cancels all pending typing-expiry timers, unbinds the transport
// listeners, and disconnects. Idempotent.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	unsubMsg, unsubStatus := b.unsubMsg, b.unsubStatus
	b.unsubMsg, b.unsubStatus = nil, nil
	b.tracked = make(map[string]struct{})
	b.mu.Unlock()

	b.timers.cancelAll()
	if unsubMsg != nil {
		unsubMsg()
	}
	if unsubStatus != nil {
		unsubStatus()
	}
	b.transport.Disconnect()
}

// SubscribeConversation subscribes the three per-conversation topics as a
// unit. Repeated calls for a tracked conversation are no-ops.
func (b *Bridge) SubscribeConversation(ctx context.Context, conversationID string) error {
	b.mu.Lock()
	if _, ok := b.tracked[conversationID]; ok {
		b.mu.Unlock()
		return nil
	}
	b.tracked[conversationID] = struct{}{}
	b.mu.Unlock()

	return b.transport.Subscribe(ctx, topic.Conversation(conversationID), qosAtLeastOnce)
}

// UnsubscribeConversation drops the conversation's topics and tracking.
func (b *Bridge) UnsubscribeConversation(ctx context.Context, conversationID string) error {
	b.mu.Lock()
	if _, ok := b.tracked[conversationID]; !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.tracked, conversationID)
	b.mu.Unlock()

	return b.transport.Unsubscribe(ctx, topic.Conversation(conversationID))
}

// TrackedConversations returns the conversation ids currently subscribed.
func (b *Bridge) TrackedConversations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.tracked))
	for id := range b.tracked {
		out = append(out, id)
	}
	return out
}

// PublishMessage publishes a message to its conversation's message topic.
func (b *Bridge) PublishMessage(ctx context.Context, m chat.Message) error {
	return b.transport.Publish(ctx,
		topic.For(topic.KindMessageNew, m.ConversationID),
		FromChatMessage(m), qosAtLeastOnce, false)
}

// PublishTyping publishes a typing event. QoS 0, no retain: typing state is
// inherently ephemeral and loss-tolerant.
func (b *Bridge) PublishTyping(ctx context.Context, conversationID, userID string, active bool) error {
	return b.transport.Publish(ctx,
		topic.For(topic.KindTyping, conversationID),
		wireTyping{ConversationID: conversationID, UserID: userID, Active: active},
		qosAtMostOnce, false)
}

// PublishSeen publishes a seen receipt for the conversation.
func (b *Bridge) PublishSeen(ctx context.Context, conversationID, userID string) error {
	return b.transport.Publish(ctx,
		topic.For(topic.KindSeen, conversationID),
		wireSeen{ConversationID: conversationID, UserID: userID},
		qosAtLeastOnce, false)
}

// handleStatus re-issues the conversation subscriptions plus the presence
// topic on every connected transition. This runs in addition to the
// transport's own desired-set replay so the bridge's "which conversations
// are open" invariant survives any transport-level hiccup.
func (b *Bridge) handleStatus(status mqtt.Status, err error) {
	b.bus.Publish(bus.Event{
		Kind:      bus.KindTransportStatus,
		Timestamp: time.Now(),
		Payload:   status,
	})
	if status != mqtt.StatusConnected {
		return
	}

	b.mu.Lock()
	tracked := make([]string, 0, len(b.tracked))
	for id := range b.tracked {
		tracked = append(tracked, id)
	}
	b.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.transport.Subscribe(ctx, []string{topic.PresenceOnline}, qosAtLeastOnce); err != nil {
			b.logger.Warn("presence resubscribe failed", zap.Error(err))
		}
		for _, id := range tracked {
			if err := b.transport.Subscribe(ctx, topic.Conversation(id), qosAtLeastOnce); err != nil {
				b.logger.Warn("conversation resubscribe failed",
					zap.String("conversation_id", id), zap.Error(err))
			}
		}
	}()
}

// dispatch routes one inbound broker message. The topic string is
// authoritative for routing; unparseable topics and malformed JSON are
// dropped without failing the dispatch loop.
func (b *Bridge) dispatch(rawTopic string, payload []byte) {
	kind, conversationID, ok := topic.Parse(rawTopic)
	if !ok {
		return
	}

	switch kind {
	case topic.KindMessageNew:
		wire, ok := decode[WireMessage](payload)
		if !ok {
			b.logger.Debug("dropping malformed message payload", zap.String("topic", rawTopic))
			return
		}
		b.bus.Publish(bus.Event{
			Kind:      bus.KindChatMessage,
			Timestamp: time.Now(),
			Payload:   wire.ToChatMessage(),
		})

	case topic.KindTyping:
		wire, ok := decode[wireTyping](payload)
		if !ok {
			b.logger.Debug("dropping malformed typing payload", zap.String("topic", rawTopic))
			return
		}
		if wire.Active {
			b.timers.arm(conversationID, wire.UserID)
		} else {
			b.timers.cancel(conversationID, wire.UserID)
		}
		b.publishTypingEvent(conversationID, wire.UserID, wire.Active)

	case topic.KindSeen:
		wire, ok := decode[wireSeen](payload)
		if !ok {
			b.logger.Debug("dropping malformed seen payload", zap.String("topic", rawTopic))
			return
		}
		b.bus.Publish(bus.Event{
			Kind:      bus.KindChatSeen,
			Timestamp: time.Now(),
			Payload:   bus.SeenReceipt{ConversationID: conversationID, UserID: wire.UserID},
		})

	case topic.KindPresence:
		wire, ok := decode[wirePresence](payload)
		if !ok {
			b.logger.Debug("dropping malformed presence payload", zap.String("topic", rawTopic))
			return
		}
		b.bus.Publish(bus.Event{
			Kind:      bus.KindChatPresence,
			Timestamp: time.Now(),
			Payload:   wire.UserIDs,
		})
	}
}

func (b *Bridge) publishTypingEvent(conversationID, userID string, active bool) {
	b.bus.Publish(bus.Event{
		Kind:      bus.KindChatTyping,
		Timestamp: time.Now(),
		Payload:   bus.TypingChange{ConversationID: conversationID, UserID: userID, Active: active},
	})
}
