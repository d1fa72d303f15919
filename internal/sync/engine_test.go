package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/coachlink/coachlink/internal/api"
	"github.com/coachlink/coachlink/internal/auth"
	"github.com/coachlink/coachlink/internal/bus"
	"github.com/coachlink/coachlink/internal/store"
	"go.uber.org/zap"
)

func testCache(t *testing.T) *store.Cache {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return store.NewCache(db, zap.NewNop())
}

func testEngine(t *testing.T, handler http.Handler) (*Engine, *Reconciler, *bus.Bus) {
	t.Helper()
	b := bus.New()
	rec := NewReconciler(testCache(t))

	var client *api.Client
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		session := auth.NewManager(filepath.Join(t.TempDir(), "tokens.json"), b, zap.NewNop())
		if err := session.SetSession(auth.TokenPair{AccessToken: "at"}, auth.User{ID: "me"}); err != nil {
			t.Fatal(err)
		}
		client = api.New(srv.URL, 5*time.Second, session, zap.NewNop())
	}

	return NewEngine(rec, client, b, func() string { return "me" }, zap.NewNop()), rec, b
}

func TestCachedSnapshotPaintedOnStart(t *testing.T) {
	e, rec, _ := testEngine(t, nil)
	rec.cache.WriteChatList([]store.ChatSummary{{ChatID: "c1", ParticipantName: "Alice"}})

	e.Start(context.Background())
	defer e.Stop()

	chats, fromCache := rec.Chats()
	if len(chats) != 1 || chats[0].ChatID != "c1" {
		t.Fatalf("chats = %+v, want cached c1", chats)
	}
	if !fromCache {
		t.Error("fromCache = false, want cached snapshot flagged")
	}
}

func TestFetchSupersedesCache(t *testing.T) {
	_, rec, _ := testEngine(t, nil)
	rec.cache.WriteChatList([]store.ChatSummary{{ChatID: "old"}})
	rec.LoadSnapshot()

	rec.ApplyChatFetch([]store.ChatSummary{{ChatID: "c1", LastMessageTime: 10}, {ChatID: "c2", LastMessageTime: 20}})

	chats, fromCache := rec.Chats()
	if fromCache {
		t.Error("fromCache = true after fetch, want cleared")
	}
	if len(chats) != 2 || chats[0].ChatID != "c2" {
		t.Errorf("chats = %+v, want fetched list, most recent first", chats)
	}

	// The fetch must be persisted for the next cold start.
	cached, ok := rec.cache.ReadChatList()
	if !ok || len(cached) != 2 {
		t.Errorf("cached list = %+v, want fetched list written back", cached)
	}
}

func TestEmptyFetchKeepsCachedView(t *testing.T) {
	_, rec, _ := testEngine(t, nil)
	rec.cache.WriteChatList([]store.ChatSummary{{ChatID: "c1"}})
	rec.LoadSnapshot()

	rec.ApplyChatFetch(nil)

	chats, fromCache := rec.Chats()
	if len(chats) != 1 || !fromCache {
		t.Errorf("chats = %+v fromCache=%v, want cached view untouched", chats, fromCache)
	}
}

func TestLiveMessagePatchesSummaryAndWindow(t *testing.T) {
	e, rec, b := testEngine(t, nil)
	rec.ApplyChatFetch([]store.ChatSummary{{ChatID: "c1", LastMessage: "old", UnreadCount: 0}})

	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	e.IngestMessage(&store.Message{ID: "m1", ChatID: "c1", SenderID: "u2", Content: "new msg", CreatedAt: 5000})

	chats, _ := rec.Chats()
	if chats[0].LastMessage != "new msg" || chats[0].LastMessageTime != 5000 {
		t.Errorf("summary = %+v, want patched preview", chats[0])
	}
	if chats[0].UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", chats[0].UnreadCount)
	}

	msgs, _ := rec.LoadMessages("c1")
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("window = %+v, want live message appended", msgs)
	}

	// Cache must agree with the view for the next cold start.
	cached, ok := rec.cache.ReadMessages("c1")
	if !ok || len(cached) != 1 {
		t.Errorf("cached window = %+v, want persisted", cached)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindChatUpdated {
			t.Errorf("event = %q, want chat.updated", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for chat.updated")
	}
}

func TestOwnMessageDoesNotBumpUnread(t *testing.T) {
	e, rec, _ := testEngine(t, nil)
	rec.ApplyChatFetch([]store.ChatSummary{{ChatID: "c1"}})

	e.IngestMessage(&store.Message{ID: "m1", ChatID: "c1", SenderID: "me", Content: "mine", CreatedAt: 1000})

	chats, _ := rec.Chats()
	if chats[0].UnreadCount != 0 {
		t.Errorf("unread = %d for own message, want 0", chats[0].UnreadCount)
	}
	if chats[0].LastMessage != "mine" {
		t.Errorf("preview = %q, want patched even for own message", chats[0].LastMessage)
	}
}

func TestBusDeliveryIngests(t *testing.T) {
	e, rec, b := testEngine(t, nil)
	rec.ApplyChatFetch([]store.ChatSummary{{ChatID: "c1"}})

	e.Start(context.Background())
	defer e.Stop()

	b.Publish(bus.Now(bus.KindRTNewMessage, &store.Message{
		ID: "m9", ChatID: "c1", SenderID: "u2", Content: "via bus", CreatedAt: 900,
	}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, _ := rec.LoadMessages("c1")
		if len(msgs) == 1 && msgs[0].ID == "m9" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("bus-delivered message never ingested")
}

func TestRefreshChatListFetchesAndReconciles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chats", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": []map[string]any{
				{"chatId": "c1", "participantName": "Alice", "lastMessageTime": 100},
			},
		})
	})

	e, rec, _ := testEngine(t, mux)

	if err := e.RefreshChatList(context.Background()); err != nil {
		t.Fatalf("RefreshChatList() error = %v", err)
	}
	chats, fromCache := rec.Chats()
	if len(chats) != 1 || chats[0].ParticipantName != "Alice" || fromCache {
		t.Errorf("chats = %+v fromCache=%v, want fetched Alice", chats, fromCache)
	}
}

func TestMarkReadZeroesUnread(t *testing.T) {
	e, rec, _ := testEngine(t, nil)
	rec.ApplyChatFetch([]store.ChatSummary{{ChatID: "c1"}})
	e.IngestMessage(&store.Message{ID: "m1", ChatID: "c1", SenderID: "u2", Content: "x", CreatedAt: 1})
	e.IngestMessage(&store.Message{ID: "m2", ChatID: "c1", SenderID: "u2", Content: "y", CreatedAt: 2})

	rec.MarkRead("c1")

	chats, _ := rec.Chats()
	if chats[0].UnreadCount != 0 {
		t.Errorf("unread = %d after MarkRead, want 0", chats[0].UnreadCount)
	}
	cached, _ := rec.cache.ReadChatList()
	if cached[0].UnreadCount != 0 {
		t.Errorf("cached unread = %d after MarkRead, want 0", cached[0].UnreadCount)
	}
}
