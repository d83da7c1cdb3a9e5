package chat

// MessageStatus tracks a message through the optimistic send pipeline.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
	StatusFailed    MessageStatus = "failed"
	StatusReceived  MessageStatus = "received"
)

// Message is one conversation message. Content is immutable once created;
// only the delivery/read annotations (SeenBy, Read, Status) and the id swap
// on server confirmation mutate afterwards.
type Message struct {
	// ID is client-generated for optimistic sends and replaced by the
	// server id once the send is confirmed.
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	// Timestamp is carried as the server formats it on the wire.
	Timestamp string
	SeenBy    map[string]struct{}
	Read      bool
	Status    MessageStatus
}

// Conversation is the denormalized read model for one conversation.
type Conversation struct {
	ID           string
	Participants []string
	LastMessage  *Message
	UnreadCount  int
	Pinned       bool
	Muted        bool
}

func (m *Message) clone() Message {
	out := *m
	out.SeenBy = make(map[string]struct{}, len(m.SeenBy))
	for u := range m.SeenBy {
		out.SeenBy[u] = struct{}{}
	}
	return out
}
