package store

import (
	"encoding/json"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on conversation_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	seenBy, err := json.Marshal(m.SeenBy)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, body, sent_at, seen_by, is_read, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			body = excluded.body,
			seen_by = excluded.seen_by,
			is_read = excluded.is_read,
			status = excluded.status`,
		m.ConversationID, m.MsgID, m.SenderID, m.Body, m.SentAt, string(seenBy), m.Read, m.Status, now)
	return err
}

// ConfirmMessage swaps a locally assigned message ID for the server ID and
// updates the status. Used when an optimistic send is acknowledged.
func (db *DB) ConfirmMessage(conversationID, clientMsgID, serverMsgID, status string) error {
	_, err := db.Exec(`
		UPDATE messages SET msg_id = ?, status = ?
		WHERE conversation_id = ? AND msg_id = ?`,
		serverMsgID, status, conversationID, clientMsgID)
	return err
}

// MarkMessageStatus updates the delivery status of a single message.
func (db *DB) MarkMessageStatus(conversationID, msgID, status string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE conversation_id = ? AND msg_id = ?`,
		status, conversationID, msgID)
	return err
}

// MarkConversationRead flags every message in the conversation not authored
// by readerID as read. Seen-set details stay in the in-memory store; the
// database only tracks the boolean.
func (db *DB) MarkConversationRead(conversationID, readerID string) error {
	_, err := db.Exec(`
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND sender_id <> ?`,
		conversationID, readerID)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by rowid. Pass beforeID <= 0 for the newest page.
func (db *DB) ListMessages(conversationID string, beforeID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT id, conversation_id, msg_id, sender_id, body, sent_at, seen_by, is_read, status
		FROM messages
		WHERE conversation_id = ?`
	args := []any{conversationID}
	if beforeID > 0 {
		q += " AND id < ?"
		args = append(args, beforeID)
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	var seenBy string
	if err := r.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.Body, &m.SentAt, &seenBy, &m.Read, &m.Status); err != nil {
		return nil, err
	}
	if seenBy != "" {
		if err := json.Unmarshal([]byte(seenBy), &m.SeenBy); err != nil {
			return nil, err
		}
	}
	return &m, nil
}
