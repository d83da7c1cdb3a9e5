package store

// Conversation represents a synced conversation.
type Conversation struct {
	ID                 string
	Participants       []string
	Pinned             bool
	Muted              bool
	UnreadCount        int
	LastMessageID      string
	LastMessagePreview string
	LastMessageAt      int64
}

// Message represents a synced message.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	SenderID       string
	Body           string
	SentAt         string
	SeenBy         []string
	Read           bool
	Status         string
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Body           string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerMsgID    string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
