package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core. Kinds are grouped by dotted namespace so
// subscribers can filter by prefix ("rt." catches every realtime event).
const (
	KindSessionAuthenticated = "session.authenticated"
	KindSessionLoggedOut     = "session.logged_out"

	KindConnStatusChanged = "conn.status_changed"

	KindRTNewMessage  = "rt.new_message"
	KindRTJoinedChats = "rt.joined_chats"
	KindRTError       = "rt.error"

	KindChatUpdated = "chat.updated"

	KindNotifyRaised = "notify.raised"
)

// Now builds an event stamped with the current time.
func Now(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
