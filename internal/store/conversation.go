package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO conversations (id, participants, pinned, muted, unread_count, last_message_id, last_message_preview, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			participants = excluded.participants,
			pinned = excluded.pinned,
			muted = excluded.muted,
			unread_count = excluded.unread_count,
			last_message_id = excluded.last_message_id,
			last_message_preview = excluded.last_message_preview,
			last_message_at = excluded.last_message_at,
			updated_at = excluded.updated_at`,
		c.ID, string(participants), c.Pinned, c.Muted, c.UnreadCount, c.LastMessageID, c.LastMessagePreview, c.LastMessageAt, now)
	return err
}

// TouchConversation bumps the last-message columns without clobbering
// participants or flags. Creates the row if it does not exist yet.
func (db *DB) TouchConversation(id, lastMsgID, preview string, at int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, last_message_id, last_message_preview, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_id = excluded.last_message_id,
			last_message_preview = excluded.last_message_preview,
			last_message_at = excluded.last_message_at,
			updated_at = excluded.updated_at`,
		id, lastMsgID, preview, at, now)
	return err
}

// ListConversations returns conversations sorted by last message time descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, participants, pinned, muted, unread_count, last_message_id, last_message_preview, last_message_at
		FROM conversations
		ORDER BY pinned DESC, last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by ID.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	row := db.QueryRow(`
		SELECT id, participants, pinned, muted, unread_count, last_message_id, last_message_preview, last_message_at
		FROM conversations
		WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SetUnreadCount overwrites the unread counter for a conversation.
func (db *DB) SetUnreadCount(id string, count int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET unread_count = ?, updated_at = ? WHERE id = ?`, count, now, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (*Conversation, error) {
	var c Conversation
	var participants string
	if err := r.Scan(&c.ID, &participants, &c.Pinned, &c.Muted, &c.UnreadCount, &c.LastMessageID, &c.LastMessagePreview, &c.LastMessageAt); err != nil {
		return nil, err
	}
	if participants != "" {
		if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
