package store

import (
	"path/filepath"
	"reflect"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + fts)", result.Version)
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"upsert conversation", "INSERT INTO conversations (id, participants, pinned, muted, unread_count, last_message_preview) VALUES (?, ?, ?, ?, ?, ?)", []any{"conv-1", `["alice","bob"]`, false, false, 0, "hi"}},
		{"upsert message", "INSERT INTO messages (conversation_id, msg_id, sender_id, body, sent_at, seen_by, is_read, status) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", []any{"conv-1", "m1", "alice", "hello", "10:00", "[]", false, "received"}},
		{"queue outbox", "INSERT INTO outbox (client_msg_id, conversation_id, body, status) VALUES (?, ?, ?, ?)", []any{"cid", "conv-1", "text", "queued"}},
		{"set sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}

	// Verify FTS5 works.
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM messages_fts WHERE messages_fts MATCH 'hello'").Scan(&count)
	if err != nil {
		t.Fatalf("FTS5 query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("FTS5 count = %d, want 1", count)
	}
}

func TestConversationUpsertAndList(t *testing.T) {
	db := testDB(t)

	conv := &Conversation{ID: "conv-1", Participants: []string{"alice", "bob"}, LastMessageAt: 1000, LastMessagePreview: "hello"}
	if err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	// Update the participant set.
	conv.Participants = []string{"alice", "bob", "carol"}
	if err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if !reflect.DeepEqual(convs[0].Participants, []string{"alice", "bob", "carol"}) {
		t.Errorf("participants = %v", convs[0].Participants)
	}
}

func TestListConversationsOrdering(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: "old", LastMessageAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertConversation(&Conversation{ID: "new", LastMessageAt: 2000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertConversation(&Conversation{ID: "pinned", Pinned: true, LastMessageAt: 500}); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	want := []string{"pinned", "new", "old"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

func TestGetConversation(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: "conv-a", Participants: []string{"alice"}}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetConversation("conv-a")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || len(c.Participants) != 1 {
		t.Errorf("got %v, want one participant", c)
	}

	// Non-existent.
	c, err = db.GetConversation("missing")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil for missing conversation")
	}
}

func TestTouchConversationPreservesFlags(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: "conv-1", Pinned: true, Muted: true}); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchConversation("conv-1", "m9", "latest", 9000); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Pinned || !c.Muted {
		t.Error("touch clobbered pinned/muted flags")
	}
	if c.LastMessageID != "m9" || c.LastMessageAt != 9000 {
		t.Errorf("last message not updated: %+v", c)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{ConversationID: "conv-1", MsgID: "msg1", SenderID: "alice", Body: "hello", SentAt: "10:00"}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	// Upsert again should not create a duplicate.
	msg.Body = "hello updated"
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("conv-1", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Body != "hello updated" {
		t.Errorf("body = %q, want hello updated", msgs[0].Body)
	}
}

func TestListMessagesKeysetPagination(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := db.UpsertMessage(&Message{ConversationID: "conv-1", MsgID: id, SenderID: "alice", Body: id}); err != nil {
			t.Fatal(err)
		}
	}

	page, err := db.ListMessages("conv-1", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].MsgID != "m3" || page[1].MsgID != "m2" {
		t.Fatalf("first page = %+v", page)
	}

	older, err := db.ListMessages("conv-1", page[1].ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 1 || older[0].MsgID != "m1" {
		t.Fatalf("second page = %+v", older)
	}
}

func TestConfirmMessageSwapsID(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ConversationID: "conv-1", MsgID: "local-1", SenderID: "me", Body: "hi", Status: "sending"}); err != nil {
		t.Fatal(err)
	}
	if err := db.ConfirmMessage("conv-1", "local-1", "srv-42", "sent"); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("conv-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].MsgID != "srv-42" || msgs[0].Status != "sent" {
		t.Errorf("got %+v, want srv-42/sent", msgs[0])
	}
}

func TestMarkConversationRead(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ConversationID: "conv-1", MsgID: "m1", SenderID: "alice", Body: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ConversationID: "conv-1", MsgID: "m2", SenderID: "me", Body: "yo"}); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkConversationRead("conv-1", "alice"); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("conv-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range msgs {
		want := m.SenderID != "alice"
		if m.Read != want {
			t.Errorf("msg %s read = %v, want %v", m.MsgID, m.Read, want)
		}
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ConversationID: "conv-1", MsgID: "m1", SenderID: "alice", Body: "hello world"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ConversationID: "conv-1", MsgID: "m2", SenderID: "bob", Body: "goodbye world"}); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("hello", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Message.MsgID != "m1" {
		t.Errorf("msg_id = %q, want m1", results[0].Message.MsgID)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("client1", "conv-1", "test msg"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}
	if pending[0].ClientMsgID != "client1" {
		t.Errorf("client_msg_id = %q, want client1", pending[0].ClientMsgID)
	}

	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("client1", "server1"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
}

func TestSyncState(t *testing.T) {
	db := testDB(t)

	v, err := db.GetState("cursor")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("unset key = %q, want empty", v)
	}

	if err := db.SetState("cursor", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetState("cursor", "def"); err != nil {
		t.Fatal(err)
	}

	v, err = db.GetState("cursor")
	if err != nil {
		t.Fatal(err)
	}
	if v != "def" {
		t.Errorf("got %q, want def", v)
	}
}
