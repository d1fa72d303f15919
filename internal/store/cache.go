package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
)

const (
	// messageWindow is the per-chat cap on cached messages.
	messageWindow = 40
	// entryTTL is the age after which an entry is treated as absent.
	entryTTL = 24 * time.Hour

	keyChatList       = "chat_list"
	keyMessagesPrefix = "chat_messages:"
)

// Cache is the durable chat cache. It exists so the UI has something to paint
// before network responses arrive, and it survives restarts.
//
// Failures never propagate: reads return ok=false on any storage or decode
// error, writes log and drop. Callers treat the cache as advisory.
type Cache struct {
	db     *DB
	logger *zap.Logger
}

// NewCache creates a cache backed by the given database.
func NewCache(db *DB, logger *zap.Logger) *Cache {
	return &Cache{db: db, logger: logger}
}

// WriteMessages persists the message window for a chat: deduplicated by ID,
// sorted newest-first, truncated to the 40 most recent. Overwrites any
// previous entry.
func (c *Cache) WriteMessages(chatID string, msgs []Message) {
	if chatID == "" {
		return
	}
	window := normalizeWindow(msgs)
	payload, err := json.Marshal(window)
	if err != nil {
		c.logger.Warn("cache: marshal messages", zap.Error(err), zap.String("chat_id", chatID))
		return
	}
	c.put(keyMessagesPrefix+chatID, payload)
}

// ReadMessages returns the cached window for a chat, or ok=false if absent or
// older than 24 hours. Stale entries are deleted as a side effect of the read;
// there is no background sweep.
func (c *Cache) ReadMessages(chatID string) ([]Message, bool) {
	payload, ok := c.get(keyMessagesPrefix + chatID)
	if !ok {
		return nil, false
	}
	var msgs []Message
	if err := json.Unmarshal(payload, &msgs); err != nil {
		c.logger.Warn("cache: decode messages", zap.Error(err), zap.String("chat_id", chatID))
		c.delete(keyMessagesPrefix + chatID)
		return nil, false
	}
	return msgs, true
}

// AppendMessage inserts a message into a chat's cached window. A message whose
// ID is already present is a no-op, so duplicate realtime deliveries are safe.
func (c *Cache) AppendMessage(chatID string, msg Message) {
	existing, _ := c.ReadMessages(chatID)
	for _, m := range existing {
		if m.ID == msg.ID {
			return
		}
	}
	c.WriteMessages(chatID, append(existing, msg))
}

// WriteChatList persists the global chat-summary list.
func (c *Cache) WriteChatList(list []ChatSummary) {
	payload, err := json.Marshal(list)
	if err != nil {
		c.logger.Warn("cache: marshal chat list", zap.Error(err))
		return
	}
	c.put(keyChatList, payload)
}

// ReadChatList returns the cached chat-summary list under the same expiry
// rules as ReadMessages.
func (c *Cache) ReadChatList() ([]ChatSummary, bool) {
	payload, ok := c.get(keyChatList)
	if !ok {
		return nil, false
	}
	var list []ChatSummary
	if err := json.Unmarshal(payload, &list); err != nil {
		c.logger.Warn("cache: decode chat list", zap.Error(err))
		c.delete(keyChatList)
		return nil, false
	}
	return list, true
}

// PatchChatListEntry updates the preview fields of one cached summary and
// bumps its unread count by unreadDelta. Silent no-op when no list is cached
// or the chat is not in it.
func (c *Cache) PatchChatListEntry(chatID, lastMessage string, lastMessageTime int64, unreadDelta int) {
	list, ok := c.ReadChatList()
	if !ok {
		return
	}
	for i := range list {
		if list[i].ChatID == chatID {
			list[i].LastMessage = lastMessage
			list[i].LastMessageTime = lastMessageTime
			list[i].UnreadCount += unreadDelta
			if list[i].UnreadCount < 0 {
				list[i].UnreadCount = 0
			}
		}
	}
	c.WriteChatList(list)
}

// ClearChat drops the cached window for one chat.
func (c *Cache) ClearChat(chatID string) {
	c.delete(keyMessagesPrefix + chatID)
}

// ClearAll drops every cache entry in one batch.
func (c *Cache) ClearAll() {
	if _, err := c.db.Exec(`DELETE FROM cache_entries`); err != nil {
		c.logger.Warn("cache: clear all", zap.Error(err))
	}
}

func (c *Cache) put(key string, payload []byte) {
	now := time.Now().UnixMilli()
	_, err := c.db.Exec(`
		INSERT INTO cache_entries (key, payload, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at`,
		key, payload, now)
	if err != nil {
		c.logger.Warn("cache: write", zap.Error(err), zap.String("key", key))
	}
}

func (c *Cache) get(key string) ([]byte, bool) {
	var payload []byte
	var createdAt int64
	err := c.db.QueryRow(`SELECT payload, created_at FROM cache_entries WHERE key = ?`, key).
		Scan(&payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache: read", zap.Error(err), zap.String("key", key))
		return nil, false
	}
	if time.Since(time.UnixMilli(createdAt)) > entryTTL {
		c.delete(key)
		return nil, false
	}
	return payload, true
}

func (c *Cache) delete(key string) {
	if _, err := c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		c.logger.Warn("cache: delete", zap.Error(err), zap.String("key", key))
	}
}

// normalizeWindow dedupes by ID, sorts newest-first and truncates to the
// window size. Same-timestamp messages tie-break on descending ID so the
// order is deterministic across processes.
func normalizeWindow(msgs []Message) []Message {
	seen := make(map[string]bool, len(msgs))
	window := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != "" && seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		window = append(window, m)
	}
	sort.Slice(window, func(i, j int) bool {
		if window[i].CreatedAt != window[j].CreatedAt {
			return window[i].CreatedAt > window[j].CreatedAt
		}
		return window[i].ID > window[j].ID
	})
	if len(window) > messageWindow {
		window = window[:messageWindow]
	}
	return window
}
