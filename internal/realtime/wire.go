package realtime

import (
	"encoding/json"

	"github.com/lfelipe/chirp/internal/chat"
)

// WireMessage is the message.new payload as the broker carries it.
type WireMessage struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversationId"`
	SenderID       string   `json:"senderId"`
	Text           string   `json:"text"`
	Timestamp      string   `json:"timestamp"`
	SeenBy         []string `json:"seenBy,omitempty"`
	Read           bool     `json:"read,omitempty"`
}

type wireTyping struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Active         bool   `json:"active"`
}

type wireSeen struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type wirePresence struct {
	UserIDs []string `json:"userIds"`
}

// ToChatMessage normalizes a wire message for the conversation store.
// Read defaults to false unless the sender already carried receipts.
func (w *WireMessage) ToChatMessage() chat.Message {
	seenBy := make(map[string]struct{}, len(w.SeenBy))
	for _, u := range w.SeenBy {
		seenBy[u] = struct{}{}
	}
	return chat.Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		Text:           w.Text,
		Timestamp:      w.Timestamp,
		SeenBy:         seenBy,
		Read:           w.Read || len(seenBy) > 0,
		Status:         chat.StatusReceived,
	}
}

// FromChatMessage extracts the wire-relevant fields of a store message.
func FromChatMessage(m chat.Message) WireMessage {
	seenBy := make([]string, 0, len(m.SeenBy))
	for u := range m.SeenBy {
		seenBy = append(seenBy, u)
	}
	return WireMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		Timestamp:      m.Timestamp,
		SeenBy:         seenBy,
		Read:           m.Read,
	}
}

// decode unmarshals a broker payload. Malformed JSON cannot be recovered,
// so callers drop the message when ok is false.
func decode[T any](payload []byte) (T, bool) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, false
	}
	return v, true
}
