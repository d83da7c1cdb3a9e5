package outbox

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lfelipe/chirp/internal/api"
	"github.com/lfelipe/chirp/internal/bus"
	"github.com/lfelipe/chirp/internal/chat"
	"github.com/lfelipe/chirp/internal/store"
)

// mockConfirmer records calls and returns configurable results.
type mockConfirmer struct {
	mu    sync.Mutex
	calls []confirmCall
	err   error
	delay time.Duration // artificial delay to observe intermediate states
}

type confirmCall struct {
	ConversationID string
	ClientMsgID    string
	Text           string
}

func (m *mockConfirmer) SendMessage(_ context.Context, conversationID, clientMsgID, text string) (api.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, confirmCall{ConversationID: conversationID, ClientMsgID: clientMsgID, Text: text})
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return api.Message{}, m.err
	}
	return api.Message{ID: "server-" + clientMsgID, ConversationID: conversationID, SenderID: "me", Text: text, Timestamp: "10:00"}, nil
}

func (m *mockConfirmer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockAnnouncer struct {
	mu        sync.Mutex
	published []chat.Message
}

func (m *mockAnnouncer) PublishMessage(_ context.Context, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, msg)
	return nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testSender(t *testing.T, confirmer *mockConfirmer) (*Sender, *chat.Store, *store.DB, *bus.Bus, *mockAnnouncer) {
	t.Helper()
	db := testDB(t)
	chats := chat.NewStore("me")
	b := bus.New()
	announcer := &mockAnnouncer{}
	s := NewSender(db, chats, confirmer, announcer, b, zap.NewNop(), "me")
	return s, chats, db, b, announcer
}

func TestSenderProcessesPendingMessages(t *testing.T) {
	mock := &mockConfirmer{}
	s, chats, db, b, announcer := testSender(t, mock)

	ch, unsub := b.Subscribe("message.send_ack", 10)
	defer unsub()

	clientID, err := s.Enqueue("conv-1", "hello")
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		ack := evt.Payload.(map[string]string)
		if ack["client_msg_id"] != clientID || ack["server_msg_id"] != "server-"+clientID {
			t.Errorf("ack payload = %v", ack)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for send_ack event")
	}

	if got := mock.callCount(); got != 1 {
		t.Fatalf("got %d confirm calls, want 1", got)
	}

	// Exactly one message locally, under the server ID with status sent.
	msgs := chats.Messages("conv-1")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].ID != "server-"+clientID || msgs[0].Status != chat.StatusSent {
		t.Errorf("message = %+v", msgs[0])
	}

	// SQLite mirror agrees.
	rows, err := db.ListMessages("conv-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].MsgID != "server-"+clientID || rows[0].Status != "sent" {
		t.Errorf("db rows = %+v", rows)
	}

	// Outbox drained.
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 after send", len(pending))
	}

	// The confirmed message went to the broker.
	announcer.mu.Lock()
	defer announcer.mu.Unlock()
	if len(announcer.published) != 1 || announcer.published[0].ID != "server-"+clientID {
		t.Errorf("published = %+v", announcer.published)
	}
}

func TestSenderHandlesFailure(t *testing.T) {
	mock := &mockConfirmer{err: fmt.Errorf("network error")}
	s, chats, db, b, _ := testSender(t, mock)

	ch, unsub := b.Subscribe("message.send_failed", 10)
	defer unsub()

	clientID, err := s.Enqueue("conv-1", "hello")
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindMessageFailed {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindMessageFailed)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}

	// The entry stays visible locally, flagged failed under its client ID.
	msgs := chats.Messages("conv-1")
	if len(msgs) != 1 || msgs[0].ID != clientID || msgs[0].Status != chat.StatusFailed {
		t.Errorf("messages = %+v", msgs)
	}

	// No longer pending (marked failed, not retried forever).
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 (should be marked failed)", len(pending))
	}
}

// TestSenderOptimisticInsert verifies the message appears locally with
// status "sending" before the confirmation round trip completes.
func TestSenderOptimisticInsert(t *testing.T) {
	mock := &mockConfirmer{delay: 500 * time.Millisecond}
	s, chats, _, b, _ := testSender(t, mock)

	clientID, err := s.Enqueue("conv-1", "optimistic")
	if err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe("message.upserted", 10)
	defer unsub()

	s.Start(context.Background())
	defer s.Stop()

	// Wait for the optimistic insert, before the confirmer's delay elapses.
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for optimistic message.upserted event")
	}

	msgs := chats.Messages("conv-1")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (optimistic insert)", len(msgs))
	}
	if msgs[0].ID != clientID || msgs[0].Status != chat.StatusSending {
		t.Errorf("optimistic message = %+v", msgs[0])
	}

	// After the confirm completes, the same entry carries the server ID.
	deadline := time.After(3 * time.Second)
	for {
		msgs = chats.Messages("conv-1")
		if len(msgs) == 1 && msgs[0].Status == chat.StatusSent {
			if msgs[0].ID != "server-"+clientID {
				t.Errorf("confirmed id = %q, want server-%s", msgs[0].ID, clientID)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("message never confirmed: %+v", msgs)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEnqueueAssignsDistinctIDs(t *testing.T) {
	mock := &mockConfirmer{}
	s, _, db, _, _ := testSender(t, mock)

	id1, err := s.Enqueue("conv-1", "one")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.Enqueue("conv-1", "two")
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 || id1 == "" {
		t.Errorf("ids = %q, %q", id1, id2)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}
}
