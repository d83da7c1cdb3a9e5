// Package engine applies realtime and backend state to the local stores.
// It is the single writer for the in-memory chat store and the SQLite
// mirror, so every other component observes a consistent view.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lfelipe/chirp/internal/api"
	"github.com/lfelipe/chirp/internal/bus"
	"github.com/lfelipe/chirp/internal/chat"
	"github.com/lfelipe/chirp/internal/store"
)

const previewLen = 100

// Backend is the slice of the HTTP API the engine needs for reconciliation.
type Backend interface {
	ListConversations(ctx context.Context) ([]api.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]api.Message, error)
}

// Engine handles idempotent ingestion of chat events into the stores.
// It subscribes to "chat." events on the bus and processes them.
type Engine struct {
	db     *store.DB
	chats  *chat.Store
	bus    *bus.Bus
	logger *zap.Logger
	selfID string
	cancel context.CancelFunc
}

// NewEngine creates an engine writing through to both stores.
func NewEngine(db *store.DB, chats *chat.Store, b *bus.Bus, logger *zap.Logger, selfID string) *Engine {
	return &Engine{
		db:     db,
		chats:  chats,
		bus:    b,
		logger: logger,
		selfID: selfID,
	}
}

// Start subscribes to inbound chat events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("chat.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindChatMessage:
		msg, ok := evt.Payload.(chat.Message)
		if !ok {
			return
		}
		if err := e.ApplyMessage(msg); err != nil {
			e.logger.Error("failed to apply message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case bus.KindChatSeen:
		receipt, ok := evt.Payload.(bus.SeenReceipt)
		if !ok {
			return
		}
		if err := e.ApplySeen(receipt); err != nil {
			e.logger.Error("failed to apply seen receipt", zap.Error(err), zap.String("conversation_id", receipt.ConversationID))
		}
	case bus.KindChatTyping:
		change, ok := evt.Payload.(bus.TypingChange)
		if !ok {
			return
		}
		e.applyTyping(change)
	case bus.KindChatPresence:
		userIDs, ok := evt.Payload.([]string)
		if !ok {
			return
		}
		e.chats.ReplaceOnline(userIDs)
	}
}

// ApplyMessage ingests a single message into both stores (idempotent).
func (e *Engine) ApplyMessage(msg chat.Message) error {
	added := e.chats.AppendMessage(msg)

	if err := e.db.UpsertMessage(toStoreMessage(msg)); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	if err := e.db.TouchConversation(msg.ConversationID, msg.ID, truncate(msg.Text, previewLen), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if added {
		e.bus.Publish(bus.Event{
			Kind:      bus.KindMessageUpserted,
			Timestamp: time.Now(),
			Payload: map[string]string{
				"conversation_id": msg.ConversationID,
				"msg_id":          msg.ID,
			},
		})
	}
	return nil
}

// ApplySeen propagates a read receipt into both stores (idempotent).
func (e *Engine) ApplySeen(r bus.SeenReceipt) error {
	e.chats.MarkConversationSeenBy(r.ConversationID, r.UserID)
	if err := e.db.MarkConversationRead(r.ConversationID, r.UserID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// applyTyping updates the in-memory typing set. Typing state is ephemeral
// and never persisted.
func (e *Engine) applyTyping(c bus.TypingChange) {
	if c.Active {
		e.chats.SetTyping(c.ConversationID, c.UserID)
	} else {
		e.chats.ClearTyping(c.ConversationID, c.UserID)
	}
}

// Reconcile pulls the backend's conversation list plus the newest page of
// messages per conversation and merges them into the local stores. Safe to
// run repeatedly; every write is an idempotent upsert.
func (e *Engine) Reconcile(ctx context.Context, backend Backend) error {
	convs, err := backend.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	for _, conv := range convs {
		if err := e.reconcileConversation(ctx, backend, conv); err != nil {
			return fmt.Errorf("conversation %s: %w", conv.ID, err)
		}
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindSyncCompleted,
		Timestamp: time.Now(),
		Payload:   map[string]int{"conversations": len(convs)},
	})
	return nil
}

func (e *Engine) reconcileConversation(ctx context.Context, backend Backend, conv api.Conversation) error {
	e.chats.UpsertConversation(chat.Conversation{
		ID:           conv.ID,
		Participants: conv.Participants,
		Pinned:       conv.Pinned,
		Muted:        conv.Muted,
		UnreadCount:  conv.UnreadCount,
	})

	var lastID, lastPreview string
	var lastAt int64
	if conv.LastMessage != nil {
		lastID = conv.LastMessage.ID
		lastPreview = truncate(conv.LastMessage.Text, previewLen)
		lastAt = time.Now().UnixMilli()
	}
	if err := e.db.UpsertConversation(&store.Conversation{
		ID:                 conv.ID,
		Participants:       conv.Participants,
		Pinned:             conv.Pinned,
		Muted:              conv.Muted,
		UnreadCount:        conv.UnreadCount,
		LastMessageID:      lastID,
		LastMessagePreview: lastPreview,
		LastMessageAt:      lastAt,
	}); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	msgs, err := backend.ListMessages(ctx, conv.ID, 50, "")
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	// The API returns newest first; import oldest first so append order
	// matches send order.
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := len(msgs) - 1; i >= 0; i-- {
		m := e.fromAPIMessage(msgs[i])
		e.chats.AppendMessage(m)
		sm := toStoreMessage(m)
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, sender_id, body, sent_at, seen_by, is_read, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
				body = excluded.body,
				seen_by = excluded.seen_by,
				is_read = excluded.is_read,
				status = excluded.status`,
			sm.ConversationID, sm.MsgID, sm.SenderID, sm.Body, sm.SentAt, seenByJSON(sm.SeenBy), sm.Read, sm.Status, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	// Backfilled appends inflate the unread counter; the server's count
	// is authoritative during reconcile.
	e.chats.SetUnread(conv.ID, conv.UnreadCount)
	if err := e.db.SetUnreadCount(conv.ID, conv.UnreadCount); err != nil {
		return fmt.Errorf("set unread: %w", err)
	}
	return nil
}

func (e *Engine) fromAPIMessage(m api.Message) chat.Message {
	msg := chat.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		Timestamp:      m.Timestamp,
		Read:           m.Read || len(m.SeenBy) > 0,
		Status:         chat.StatusReceived,
	}
	if m.SenderID == e.selfID {
		msg.Status = chat.StatusSent
	}
	if len(m.SeenBy) > 0 {
		msg.SeenBy = make(map[string]struct{}, len(m.SeenBy))
		for _, id := range m.SeenBy {
			msg.SeenBy[id] = struct{}{}
		}
	}
	return msg
}

func toStoreMessage(m chat.Message) *store.Message {
	var seenBy []string
	for id := range m.SeenBy {
		seenBy = append(seenBy, id)
	}
	return &store.Message{
		ConversationID: m.ConversationID,
		MsgID:          m.ID,
		SenderID:       m.SenderID,
		Body:           m.Text,
		SentAt:         m.Timestamp,
		SeenBy:         seenBy,
		Read:           m.Read,
		Status:         string(m.Status),
	}
}

func seenByJSON(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
