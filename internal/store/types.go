package store

// Message is the canonical chat message shape. Everything past the realtime
// parser and the REST client speaks this type; legacy wire shapes never leak
// further in.
type Message struct {
	ID         string `json:"id"`
	ChatID     string `json:"chatId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	SenderRole string `json:"senderRole"`
	Content    string `json:"content"`
	Type       string `json:"type"` // text, image, file
	FileID     string `json:"fileId,omitempty"`
	Read       bool   `json:"read"`
	CreatedAt  int64  `json:"createdAt"` // unix ms
}

// ChatSummary is a list-row representation of a chat thread.
type ChatSummary struct {
	ChatID          string `json:"chatId"`
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
	ParticipantRole string `json:"participantRole"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime int64  `json:"lastMessageTime"` // unix ms
	UnreadCount     int    `json:"unreadCount"`
	PlanTitle       string `json:"planTitle,omitempty"`
}
