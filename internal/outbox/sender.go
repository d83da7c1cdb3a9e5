// Package outbox drains queued outgoing messages: optimistic local insert,
// broker publish, then HTTP confirmation that swaps in the server ID.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lfelipe/chirp/internal/api"
	"github.com/lfelipe/chirp/internal/bus"
	"github.com/lfelipe/chirp/internal/chat"
	"github.com/lfelipe/chirp/internal/store"
)

// Confirmer submits a message to the backend and returns the canonical
// server-side record.
type Confirmer interface {
	SendMessage(ctx context.Context, conversationID, clientMsgID, text string) (api.Message, error)
}

// Announcer pushes the message to the realtime broker for other
// participants.
type Announcer interface {
	PublishMessage(ctx context.Context, m chat.Message) error
}

// Sender drains the outbox and delivers messages through the broker and
// the HTTP API.
type Sender struct {
	db        *store.DB
	chats     *chat.Store
	confirmer Confirmer
	announcer Announcer
	bus       *bus.Bus
	logger    *zap.Logger
	selfID    string
	cancel    context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, chats *chat.Store, confirmer Confirmer, announcer Announcer, b *bus.Bus, logger *zap.Logger, selfID string) *Sender {
	return &Sender{
		db:        db,
		chats:     chats,
		confirmer: confirmer,
		announcer: announcer,
		bus:       b,
		logger:    logger,
		selfID:    selfID,
	}
}

// Enqueue queues a message for sending and returns its client-side ID.
func (s *Sender) Enqueue(conversationID, text string) (string, error) {
	clientMsgID := uuid.NewString()
	if err := s.db.QueueOutbox(clientMsgID, conversationID, text); err != nil {
		return "", err
	}
	return clientMsgID, nil
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		s.sendOne(ctx, entry)
	}
}

func (s *Sender) sendOne(ctx context.Context, entry store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		return
	}

	// Optimistic insert: the message shows up locally before any network
	// round trip, keyed by its client ID.
	optimistic := chat.Message{
		ID:             entry.ClientMsgID,
		ConversationID: entry.ConversationID,
		SenderID:       s.selfID,
		Text:           entry.Body,
		Status:         chat.StatusSending,
	}
	s.chats.AppendMessage(optimistic)
	_ = s.db.UpsertMessage(&store.Message{
		ConversationID: entry.ConversationID,
		MsgID:          entry.ClientMsgID,
		SenderID:       s.selfID,
		Body:           entry.Body,
		Status:         string(chat.StatusSending),
	})
	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Payload:   map[string]string{"conversation_id": entry.ConversationID, "msg_id": entry.ClientMsgID},
	})

	confirmed, err := s.confirmer.SendMessage(ctx, entry.ConversationID, entry.ClientMsgID, entry.Body)
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		s.chats.FailMessage(entry.ConversationID, entry.ClientMsgID)
		_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
		_ = s.db.MarkMessageStatus(entry.ConversationID, entry.ClientMsgID, string(chat.StatusFailed))
		s.bus.Publish(bus.Event{
			Kind:      bus.KindMessageFailed,
			Timestamp: time.Now(),
			Payload: map[string]string{
				"client_msg_id": entry.ClientMsgID,
				"error":         err.Error(),
			},
		})
		return
	}

	// The server record replaces the optimistic one in place.
	final := chat.Message{
		ID:             confirmed.ID,
		ConversationID: entry.ConversationID,
		SenderID:       s.selfID,
		Text:           confirmed.Text,
		Timestamp:      confirmed.Timestamp,
		Status:         chat.StatusSent,
	}
	s.chats.ConfirmMessage(entry.ConversationID, entry.ClientMsgID, final)
	if err := s.db.ConfirmMessage(entry.ConversationID, entry.ClientMsgID, confirmed.ID, string(chat.StatusSent)); err != nil {
		s.logger.Error("failed to confirm message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	if err := s.db.MarkOutboxSent(entry.ClientMsgID, confirmed.ID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}

	// Fan out to the broker so other participants see it without polling.
	if s.announcer != nil {
		if err := s.announcer.PublishMessage(ctx, final); err != nil {
			s.logger.Warn("broker publish failed, relying on server fanout", zap.Error(err), zap.String("msg_id", confirmed.ID))
		}
	}

	s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("server_msg_id", confirmed.ID))
	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessageAcked,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"client_msg_id": entry.ClientMsgID,
			"server_msg_id": confirmed.ID,
		},
	})
}
