// Package chat holds the canonical in-memory conversation state: messages,
// typing indicators, presence, and read receipts. All mutations are
// idempotent so out-of-order or duplicated broker events never regress
// state.
package chat

import "sync"

// Store is the in-memory conversation state consumed by the rest of the
// application. It is fed by the realtime bridge (via the engine) and by
// local user actions; every method is safe for concurrent use.
type Store struct {
	selfID string

	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]*Message
	typing        map[string]map[string]struct{}
	online        map[string]struct{}
}

// NewStore creates an empty store. selfID is the local user; messages they
// author do not count as unread and are skipped by seen propagation for
// other users' receipts.
func NewStore(selfID string) *Store {
	return &Store{
		selfID:        selfID,
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		typing:        make(map[string]map[string]struct{}),
		online:        make(map[string]struct{}),
	}
}

// UpsertConversation merges a conversation record (typically from the HTTP
// list endpoint) into the store, preserving any message list already held.
func (s *Store) UpsertConversation(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.conversations[c.ID]
	if !ok {
		copied := c
		s.conversations[c.ID] = &copied
		return
	}
	existing.Participants = c.Participants
	existing.Pinned = c.Pinned
	existing.Muted = c.Muted
}

// AppendMessage appends a message to its conversation. Idempotent on the
// message id: re-delivery of an already-held message is a no-op. The
// conversation's LastMessage pointer always tracks the latest append, and
// UnreadCount grows for messages authored by someone else. Returns whether
// the store changed.
func (s *Store) AppendMessage(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, held := range s.messages[m.ConversationID] {
		if held.ID == m.ID {
			return false
		}
	}

	if m.SeenBy == nil {
		m.SeenBy = make(map[string]struct{})
	}
	stored := m
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], &stored)

	conv := s.conversationLocked(m.ConversationID)
	conv.LastMessage = &stored
	if m.SenderID != s.selfID {
		conv.UnreadCount++
	}
	return true
}

// ConfirmMessage replaces the optimistic entry identified by clientID with
// the server-confirmed message, in place, so the conversation holds exactly
// one message for that send. A broker fanout of the confirmed copy may have
// been appended before the confirm landed; that duplicate is dropped. If
// neither entry exists (e.g. the store was rebuilt meanwhile) the confirmed
// message is appended instead.
func (s *Store) ConfirmMessage(conversationID, clientID string, confirmed Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if confirmed.SeenBy == nil {
		confirmed.SeenBy = make(map[string]struct{})
	}
	if confirmed.Status == "" {
		confirmed.Status = StatusSent
	}

	msgs := s.messages[conversationID]
	optimistic, fanned := -1, -1
	for i, held := range msgs {
		if held.ID == clientID {
			optimistic = i
		} else if held.ID == confirmed.ID {
			fanned = i
		}
	}

	conv, haveConv := s.conversations[conversationID]
	pointsAt := func(id string) bool {
		return haveConv && conv.LastMessage != nil && conv.LastMessage.ID == id
	}

	stored := confirmed
	switch {
	case optimistic >= 0:
		repoint := pointsAt(clientID) || pointsAt(confirmed.ID)
		msgs[optimistic] = &stored
		if fanned >= 0 {
			s.messages[conversationID] = append(msgs[:fanned], msgs[fanned+1:]...)
		}
		if repoint {
			conv.LastMessage = &stored
		}
	case fanned >= 0:
		msgs[fanned] = &stored
		if pointsAt(confirmed.ID) {
			conv.LastMessage = &stored
		}
	default:
		s.messages[conversationID] = append(msgs, &stored)
		s.conversationLocked(conversationID).LastMessage = &stored
	}
}

// FailMessage flips an optimistic entry to failed instead of removing it,
// so the user can see the failure and retry. Unknown ids are ignored.
func (s *Store) FailMessage(conversationID, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, held := range s.messages[conversationID] {
		if held.ID == clientID {
			held.Status = StatusFailed
			return
		}
	}
}

// MarkConversationSeenBy records that userID has seen the conversation:
// every message not authored by userID gains the user in its SeenBy set and
// flips Read once SeenBy is nonempty. Each message is evaluated
// independently and the whole operation is idempotent, so partial or
// out-of-order seen events never regress earlier marks.
func (s *Store) MarkConversationSeenBy(conversationID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[conversationID] {
		if m.SenderID == userID {
			continue
		}
		if _, already := m.SeenBy[userID]; already {
			continue
		}
		m.SeenBy[userID] = struct{}{}
		if len(m.SeenBy) > 0 {
			m.Read = true
		}
	}
}

// ClearUnread resets the unread counter, e.g. when the local user opens the
// conversation.
func (s *Store) ClearUnread(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[conversationID]; ok {
		conv.UnreadCount = 0
	}
}

// SetUnread overwrites the unread counter with a server-reported value,
// used when reconciling against the backend's conversation list.
func (s *Store) SetUnread(conversationID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[conversationID]; ok {
		conv.UnreadCount = n
	}
}

// SetTyping marks a user as typing in a conversation. Returns false when the
// user was already marked, so consumers comparing state can skip
// notifications for the no-op.
func (s *Store) SetTyping(conversationID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.typing[conversationID]
	if !ok {
		set = make(map[string]struct{})
		s.typing[conversationID] = set
	}
	if _, already := set[userID]; already {
		return false
	}
	set[userID] = struct{}{}
	return true
}

// ClearTyping removes a user's typing mark. Removing the last typing user
// deletes the conversation's entry entirely rather than leaving an empty
// set. Returns false when the user was not marked.
func (s *Store) ClearTyping(conversationID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.typing[conversationID]
	if !ok {
		return false
	}
	if _, present := set[userID]; !present {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(s.typing, conversationID)
	}
	return true
}

// TypingUsers returns the users currently marked typing in a conversation.
func (s *Store) TypingUsers(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.typing[conversationID]
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	return out
}

// ReplaceOnline replaces the online-user set wholesale with the latest
// presence snapshot. There is no merge with previous state.
func (s *Store) ReplaceOnline(userIDs []string) {
	next := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		next[id] = struct{}{}
	}
	s.mu.Lock()
	s.online = next
	s.mu.Unlock()
}

// IsOnline reports whether a user is in the current presence snapshot.
func (s *Store) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[userID]
	return ok
}

// Online returns the current presence snapshot.
func (s *Store) Online() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.online))
	for u := range s.online {
		out = append(out, u)
	}
	return out
}

// Messages returns copies of a conversation's messages in append order.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	held := s.messages[conversationID]
	out := make([]Message, len(held))
	for i, m := range held {
		out[i] = m.clone()
	}
	return out
}

// Conversation returns a copy of one conversation's read model, or false if
// unknown.
func (s *Store) Conversation(conversationID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, false
	}
	out := *conv
	if conv.LastMessage != nil {
		last := conv.LastMessage.clone()
		out.LastMessage = &last
	}
	return out, true
}

// ConversationIDs returns the ids of every known conversation.
func (s *Store) ConversationIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		out = append(out, id)
	}
	return out
}

// conversationLocked returns the conversation entry, creating it on first
// reference. Caller must hold s.mu.
func (s *Store) conversationLocked(id string) *Conversation {
	conv, ok := s.conversations[id]
	if !ok {
		conv = &Conversation{ID: id}
		s.conversations[id] = conv
	}
	return conv
}
