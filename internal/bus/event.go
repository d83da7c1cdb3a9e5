package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the realtime bridge and consumed by the engine.
const (
	KindChatMessage  = "chat.message"  // payload: chat.Message
	KindChatTyping   = "chat.typing"   // payload: TypingChange
	KindChatSeen     = "chat.seen"     // payload: SeenReceipt
	KindChatPresence = "chat.presence" // payload: []string of online user ids
)

// Event kinds published by the engine and outbox for read-model consumers.
const (
	KindMessageUpserted = "message.upserted"
	KindMessageFailed   = "message.send_failed"
	KindMessageAcked    = "message.send_ack"
	KindSyncCompleted   = "sync.completed"
)

// Event kinds published by the transport.
const (
	KindTransportStatus = "transport.status_changed"
)

// TypingChange is the payload for chat.typing events.
type TypingChange struct {
	ConversationID string
	UserID         string
	Active         bool
}

// SeenReceipt is the payload for chat.seen events.
type SeenReceipt struct {
	ConversationID string
	UserID         string
}
