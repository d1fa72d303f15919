package sync

import (
	"sort"
	"sync"

	"github.com/coachlink/coachlink/internal/store"
)

// Reconciler merges three data sources into one consistent view: the durable
// cache (painted instantly on cold start), REST fetch snapshots, and the live
// event stream. For a single chat the most recently received event wins; there
// are no sequence numbers, so a reordered delivery shows stale data until the
// next fetch.
type Reconciler struct {
	mu    sync.RWMutex
	cache *store.Cache

	chats          []store.ChatSummary
	chatsFromCache bool

	messages      map[string][]store.Message
	msgsFromCache map[string]bool
}

// NewReconciler creates a reconciler over the given cache.
func NewReconciler(cache *store.Cache) *Reconciler {
	return &Reconciler{
		cache:         cache,
		messages:      make(map[string][]store.Message),
		msgsFromCache: make(map[string]bool),
	}
}

// LoadSnapshot paints the cached chat list into view state, if present and
// unexpired. Called once on start, before any fetch completes.
func (r *Reconciler) LoadSnapshot() {
	list, ok := r.cache.ReadChatList()
	if !ok {
		return
	}
	r.mu.Lock()
	r.chats = list
	r.chatsFromCache = true
	r.mu.Unlock()
}

// ApplyChatFetch reconciles a fetched chat list. A non-empty fetch supersedes
// the cached view entirely and is written back for the next cold start; an
// empty fetch leaves whatever is displayed alone.
func (r *Reconciler) ApplyChatFetch(list []store.ChatSummary) {
	if len(list) == 0 {
		return
	}
	r.mu.Lock()
	r.chats = list
	r.chatsFromCache = false
	r.mu.Unlock()
	r.cache.WriteChatList(list)
}

// Chats returns the current chat list ordered by most recent activity, and
// whether it still comes from the cache.
func (r *Reconciler) Chats() ([]store.ChatSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.ChatSummary, len(r.chats))
	copy(out, r.chats)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageTime > out[j].LastMessageTime
	})
	return out, r.chatsFromCache
}

// LoadMessages returns the message window for a chat: view state when live
// data has arrived, otherwise the cached window.
func (r *Reconciler) LoadMessages(chatID string) ([]store.Message, bool) {
	r.mu.RLock()
	msgs, ok := r.messages[chatID]
	fromCache := r.msgsFromCache[chatID]
	r.mu.RUnlock()
	if ok {
		out := make([]store.Message, len(msgs))
		copy(out, msgs)
		return out, fromCache
	}

	cached, hit := r.cache.ReadMessages(chatID)
	if !hit {
		return nil, false
	}
	r.mu.Lock()
	r.messages[chatID] = cached
	r.msgsFromCache[chatID] = true
	r.mu.Unlock()
	return cached, true
}

// ApplyHistoryFetch reconciles fetched message history for a chat. Non-empty
// fetches supersede the cached window and are persisted.
func (r *Reconciler) ApplyHistoryFetch(chatID string, msgs []store.Message) {
	if len(msgs) == 0 {
		return
	}
	r.cache.WriteMessages(chatID, msgs)
	// Read back so the view window matches the cache normalization.
	window, _ := r.cache.ReadMessages(chatID)
	r.mu.Lock()
	r.messages[chatID] = window
	r.msgsFromCache[chatID] = false
	r.mu.Unlock()
}

// ApplyLive folds one live message into view state and the durable cache so a
// later cold start sees the same values. countUnread controls the summary's
// unread bump; messages authored by the current user do not count.
func (r *Reconciler) ApplyLive(msg *store.Message, countUnread bool) {
	r.cache.AppendMessage(msg.ChatID, *msg)
	window, _ := r.cache.ReadMessages(msg.ChatID)

	delta := 0
	if countUnread {
		delta = 1
	}
	r.cache.PatchChatListEntry(msg.ChatID, msg.Content, msg.CreatedAt, delta)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[msg.ChatID] = window
	r.msgsFromCache[msg.ChatID] = false
	for i := range r.chats {
		if r.chats[i].ChatID == msg.ChatID {
			r.chats[i].LastMessage = msg.Content
			r.chats[i].LastMessageTime = msg.CreatedAt
			r.chats[i].UnreadCount += delta
		}
	}
}

// MarkRead zeroes the unread count for a chat in both view state and cache.
func (r *Reconciler) MarkRead(chatID string) {
	r.mu.Lock()
	for i := range r.chats {
		if r.chats[i].ChatID == chatID {
			r.cache.PatchChatListEntry(chatID, r.chats[i].LastMessage,
				r.chats[i].LastMessageTime, -r.chats[i].UnreadCount)
			r.chats[i].UnreadCount = 0
		}
	}
	r.mu.Unlock()
}

// Forget drops all view and cached state, used on logout.
func (r *Reconciler) Forget() {
	r.mu.Lock()
	r.chats = nil
	r.chatsFromCache = false
	r.messages = make(map[string][]store.Message)
	r.msgsFromCache = make(map[string]bool)
	r.mu.Unlock()
	r.cache.ClearAll()
}
