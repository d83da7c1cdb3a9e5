// Package topic maps conversation events to broker topic strings and back.
//
// The topic scheme is fixed by the backend:
//
//	conversation/{id}/message/new
//	conversation/{id}/typing
//	conversation/{id}/seen
//	presence/online
//
// For and Parse are exact inverses for every Kind; Parse never panics and
// reports ok=false for anything outside the scheme.
package topic

import (
	"fmt"
	"strings"
)

// Kind identifies one of the four event channels carried over the broker.
type Kind string

const (
	KindMessageNew Kind = "message.new"
	KindTyping     Kind = "typing"
	KindSeen       Kind = "seen"
	KindPresence   Kind = "presence.online"
)

// PresenceOnline is the fixed presence topic. It carries no conversation id.
const PresenceOnline = "presence/online"

const conversationPrefix = "conversation/"

// For builds the topic string for a kind and conversation id.
// KindPresence ignores conversationID and returns the fixed presence topic.
func For(kind Kind, conversationID string) string {
	switch kind {
	case KindMessageNew:
		return fmt.Sprintf("%s%s/message/new", conversationPrefix, conversationID)
	case KindTyping:
		return fmt.Sprintf("%s%s/typing", conversationPrefix, conversationID)
	case KindSeen:
		return fmt.Sprintf("%s%s/seen", conversationPrefix, conversationID)
	case KindPresence:
		return PresenceOnline
	}
	return ""
}

// Conversation returns the three per-conversation topics subscribed as a
// unit when a conversation is opened.
func Conversation(conversationID string) []string {
	return []string{
		For(KindMessageNew, conversationID),
		For(KindTyping, conversationID),
		For(KindSeen, conversationID),
	}
}

// Parse inverts For. It returns the event kind and conversation id encoded
// in the topic, or ok=false for any string outside the scheme.
func Parse(topic string) (kind Kind, conversationID string, ok bool) {
	if topic == PresenceOnline {
		return KindPresence, "", true
	}

	rest, found := strings.CutPrefix(topic, conversationPrefix)
	if !found {
		return "", "", false
	}

	// Conversation ids contain no slashes, so the id is everything up to
	// the next separator.
	id, suffix, found := strings.Cut(rest, "/")
	if !found || id == "" {
		return "", "", false
	}

	switch suffix {
	case "message/new":
		return KindMessageNew, id, true
	case "typing":
		return KindTyping, id, true
	case "seen":
		return KindSeen, id, true
	}
	return "", "", false
}
