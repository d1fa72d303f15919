package realtime

import "encoding/json"

// Outbound event names.
const (
	EventJoinChats   = "join_chats"
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
	EventMarkRead    = "mark_messages_read"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventCreateChat  = "create_chat"
)

// Inbound event names.
const (
	EventNewMessage   = "new_message"
	EventJoinedChats  = "joined_chats"
	EventError        = "error"
	EventConnectError = "connect_error"
)

// Envelope is the wire frame for named events in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outEnvelope carries an unencoded payload for WriteJSON.
type outEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// JoinedChats is the payload of a joined_chats event.
type JoinedChats struct {
	ChatCount int `json:"chatCount"`
}

type sendMessagePayload struct {
	ClientID string `json:"clientId"`
	ChatID   string `json:"chatId"`
	Content  string `json:"content"`
	Type     string `json:"type"`
	FileID   string `json:"fileData,omitempty"`
}

type chatRefPayload struct {
	ChatID string `json:"chatId"`
}

type createChatPayload struct {
	ParticipantID string `json:"participantId"`
}
