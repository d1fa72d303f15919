package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coachlink/coachlink/internal/store"
)

// chatRow tolerates the two historical list-endpoint shapes: newer responses
// carry "chatId", older ones "id". Normalization happens here; nothing past
// this file sees the raw shape.
type chatRow struct {
	ChatID          string `json:"chatId"`
	ID              string `json:"id"`
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
	ParticipantRole string `json:"participantRole"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime int64  `json:"lastMessageTime"`
	LastActivity    int64  `json:"lastActivity"`
	UnreadCount     int    `json:"unreadCount"`
	PlanTitle       string `json:"planTitle"`
}

func (r chatRow) normalize() store.ChatSummary {
	id := r.ChatID
	if id == "" {
		id = r.ID
	}
	t := r.LastMessageTime
	if t == 0 {
		t = r.LastActivity
	}
	return store.ChatSummary{
		ChatID:          id,
		ParticipantID:   r.ParticipantID,
		ParticipantName: r.ParticipantName,
		ParticipantRole: r.ParticipantRole,
		LastMessage:     r.LastMessage,
		LastMessageTime: t,
		UnreadCount:     r.UnreadCount,
		PlanTitle:       r.PlanTitle,
	}
}

// ListChats fetches the chat-summary list.
func (c *Client) ListChats(ctx context.Context) ([]store.ChatSummary, error) {
	var rows []chatRow
	if err := c.do(ctx, http.MethodGet, "/v1/chats", nil, &rows, true); err != nil {
		return nil, err
	}
	summaries := make([]store.ChatSummary, 0, len(rows))
	for _, r := range rows {
		summaries = append(summaries, r.normalize())
	}
	return summaries, nil
}

// ChatHistory fetches up to limit recent messages for a chat.
func (c *Client) ChatHistory(ctx context.Context, chatID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 40
	}
	var msgs []store.Message
	path := fmt.Sprintf("/v1/chats/%s/messages?limit=%d", chatID, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs, true); err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ChatID == "" {
			msgs[i].ChatID = chatID
		}
	}
	return msgs, nil
}

// MarkRead marks every message in a chat as read.
func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/chats/%s/read", chatID), nil, nil, true)
}
