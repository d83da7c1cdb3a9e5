package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// Message is a chat message as the backend serializes it.
type Message struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversationId"`
	SenderID       string   `json:"senderId"`
	Text           string   `json:"text"`
	Timestamp      string   `json:"timestamp"`
	SeenBy         []string `json:"seenBy,omitempty"`
	Read           bool     `json:"read,omitempty"`
}

// Conversation is a conversation summary as the backend serializes it.
type Conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount"`
	Pinned       bool     `json:"pinned"`
	Muted        bool     `json:"muted"`
}

// ListConversations fetches the caller's conversation list.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages fetches a page of messages, newest first. before is the
// message ID to page back from; empty fetches the newest page.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []Message
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type sendMessageRequest struct {
	ClientMsgID string `json:"clientMsgId"`
	Text        string `json:"text"`
}

// SendMessage submits a message for delivery. The response carries the
// server-assigned message ID that replaces clientMsgID locally.
func (c *Client) SendMessage(ctx context.Context, conversationID, clientMsgID, text string) (Message, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	var out Message
	if err := c.doJSON(ctx, http.MethodPost, path, sendMessageRequest{ClientMsgID: clientMsgID, Text: text}, &out); err != nil {
		return Message{}, err
	}
	return out, nil
}
