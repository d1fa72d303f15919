package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testCache(t *testing.T) (*Cache, *DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewCache(db, zap.NewNop()), db
}

func TestMigrateIdempotent(t *testing.T) {
	_, db := testCache(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestWriteReadMessagesNewestFirst(t *testing.T) {
	c, _ := testCache(t)

	c.WriteMessages("c1", []Message{
		{ID: "1", ChatID: "c1", Content: "first", CreatedAt: 1000},
		{ID: "2", ChatID: "c1", Content: "second", CreatedAt: 2000},
	})

	msgs, ok := c.ReadMessages("c1")
	if !ok {
		t.Fatal("ReadMessages() miss, want hit")
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "2" || msgs[1].ID != "1" {
		t.Errorf("order = [%s %s], want [2 1] (newest first)", msgs[0].ID, msgs[1].ID)
	}
}

func TestWriteMessagesTruncatesToWindow(t *testing.T) {
	c, _ := testCache(t)

	var msgs []Message
	for i := 0; i < 41; i++ {
		msgs = append(msgs, Message{
			ID:        fmt.Sprintf("m%02d", i),
			ChatID:    "c1",
			CreatedAt: int64(1000 + i),
		})
	}
	c.WriteMessages("c1", msgs)

	got, ok := c.ReadMessages("c1")
	if !ok {
		t.Fatal("ReadMessages() miss")
	}
	if len(got) != 40 {
		t.Fatalf("got %d messages, want 40", len(got))
	}
	// The oldest message (m00) must have been dropped.
	for _, m := range got {
		if m.ID == "m00" {
			t.Error("oldest message survived truncation")
		}
	}
	if got[0].ID != "m40" {
		t.Errorf("newest = %s, want m40", got[0].ID)
	}
}

func TestAppendMessageDedupes(t *testing.T) {
	c, _ := testCache(t)

	msg := Message{ID: "m1", ChatID: "c1", Content: "hello", CreatedAt: 1000}
	c.AppendMessage("c1", msg)
	c.AppendMessage("c1", msg)

	msgs, ok := c.ReadMessages("c1")
	if !ok {
		t.Fatal("ReadMessages() miss")
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages after duplicate append, want 1", len(msgs))
	}
}

func TestSameTimestampTieBreak(t *testing.T) {
	c, _ := testCache(t)

	c.WriteMessages("c1", []Message{
		{ID: "a", CreatedAt: 1000},
		{ID: "b", CreatedAt: 1000},
	})
	msgs, _ := c.ReadMessages("c1")
	if msgs[0].ID != "b" || msgs[1].ID != "a" {
		t.Errorf("tie-break order = [%s %s], want [b a] (descending ID)", msgs[0].ID, msgs[1].ID)
	}
}

func TestExpiredEntryIsMissAndDeleted(t *testing.T) {
	c, db := testCache(t)

	c.WriteMessages("c1", []Message{{ID: "m1", CreatedAt: 1000}})

	// Backdate the entry past the 24h TTL.
	backdated := time.Now().Add(-25 * time.Hour).UnixMilli()
	if _, err := db.Exec(`UPDATE cache_entries SET created_at = ?`, backdated); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.ReadMessages("c1"); ok {
		t.Fatal("ReadMessages() hit on expired entry, want miss")
	}

	// The stale row must have been removed as a side effect.
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("stale rows remaining = %d, want 0", count)
	}
}

func TestCorruptPayloadIsMiss(t *testing.T) {
	c, db := testCache(t)

	if _, err := db.Exec(`INSERT INTO cache_entries (key, payload, created_at) VALUES (?, ?, ?)`,
		"chat_messages:c1", []byte("{not json"), time.Now().UnixMilli()); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.ReadMessages("c1"); ok {
		t.Error("ReadMessages() hit on corrupt payload, want miss")
	}
}

func TestChatListRoundTrip(t *testing.T) {
	c, _ := testCache(t)

	c.WriteChatList([]ChatSummary{
		{ChatID: "c1", ParticipantName: "Alice", LastMessage: "hi", UnreadCount: 2},
	})

	list, ok := c.ReadChatList()
	if !ok {
		t.Fatal("ReadChatList() miss")
	}
	if len(list) != 1 || list[0].ParticipantName != "Alice" {
		t.Errorf("list = %+v, want Alice entry", list)
	}
}

func TestPatchChatListEntry(t *testing.T) {
	c, _ := testCache(t)

	c.WriteChatList([]ChatSummary{
		{ChatID: "c1", LastMessage: "old", LastMessageTime: 1000, UnreadCount: 1},
		{ChatID: "c2", LastMessage: "other", LastMessageTime: 500},
	})

	c.PatchChatListEntry("c1", "new message", 2000, 1)

	list, _ := c.ReadChatList()
	if list[0].LastMessage != "new message" || list[0].LastMessageTime != 2000 {
		t.Errorf("patched entry = %+v, want updated preview", list[0])
	}
	if list[0].UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", list[0].UnreadCount)
	}
	if list[1].LastMessage != "other" {
		t.Errorf("unrelated entry was modified: %+v", list[1])
	}
}

func TestPatchWithoutCachedListIsNoop(t *testing.T) {
	c, _ := testCache(t)

	// Must not panic or create an entry.
	c.PatchChatListEntry("c9", "hello", 1000, 1)

	if _, ok := c.ReadChatList(); ok {
		t.Error("patch created a chat list entry from nothing")
	}
}

func TestClearChatAndClearAll(t *testing.T) {
	c, _ := testCache(t)

	c.WriteMessages("c1", []Message{{ID: "m1", CreatedAt: 1}})
	c.WriteMessages("c2", []Message{{ID: "m2", CreatedAt: 1}})
	c.WriteChatList([]ChatSummary{{ChatID: "c1"}})

	c.ClearChat("c1")
	if _, ok := c.ReadMessages("c1"); ok {
		t.Error("c1 still cached after ClearChat")
	}
	if _, ok := c.ReadMessages("c2"); !ok {
		t.Error("ClearChat(c1) removed c2")
	}

	c.ClearAll()
	if _, ok := c.ReadMessages("c2"); ok {
		t.Error("c2 still cached after ClearAll")
	}
	if _, ok := c.ReadChatList(); ok {
		t.Error("chat list still cached after ClearAll")
	}
}
