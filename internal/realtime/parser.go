package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/coachlink/coachlink/internal/store"
)

// flexString decodes a JSON string or number into a string. Older backend
// deployments emitted numeric IDs; everything internal is a string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// messageRow tolerates every message shape the backend has ever emitted:
// chat id under "chatId" or "id" of the enclosing chat, string or numeric ids,
// and the event payload either as the message itself or wrapped in
// {"message": ...}.
type messageRow struct {
	ID         flexString `json:"id"`
	ChatID     flexString `json:"chatId"`
	LegacyChat flexString `json:"chat_id"`
	SenderID   flexString `json:"senderId"`
	SenderName string     `json:"senderName"`
	SenderRole string     `json:"senderRole"`
	Content    string     `json:"content"`
	Type       string     `json:"type"`
	FileID     string     `json:"fileId"`
	Read       bool       `json:"read"`
	CreatedAt  int64      `json:"createdAt"`
}

type messageEnvelope struct {
	Message *messageRow `json:"message"`
}

// ParseMessage normalizes a new_message payload into the canonical type.
// This is the only place inbound message shapes are interpreted.
func ParseMessage(data []byte) (*store.Message, error) {
	var wrapped messageEnvelope
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Message != nil {
		return wrapped.Message.normalize()
	}
	var row messageRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("parse message payload: %w", err)
	}
	return row.normalize()
}

func (r *messageRow) normalize() (*store.Message, error) {
	chatID := string(r.ChatID)
	if chatID == "" {
		chatID = string(r.LegacyChat)
	}
	if r.ID == "" || chatID == "" {
		return nil, fmt.Errorf("message payload missing id or chat id")
	}
	msgType := r.Type
	if msgType == "" {
		msgType = "text"
	}
	return &store.Message{
		ID:         string(r.ID),
		ChatID:     chatID,
		SenderID:   string(r.SenderID),
		SenderName: r.SenderName,
		SenderRole: r.SenderRole,
		Content:    r.Content,
		Type:       msgType,
		FileID:     r.FileID,
		Read:       r.Read,
		CreatedAt:  r.CreatedAt,
	}, nil
}

// ParseJoinedChats normalizes a joined_chats payload.
func ParseJoinedChats(data []byte) (*JoinedChats, error) {
	var j JoinedChats
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse joined_chats payload: %w", err)
	}
	return &j, nil
}

// ParseError extracts the message from an error payload, which arrives as
// either {"message": "..."} or a bare string.
func ParseError(data []byte) string {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}
