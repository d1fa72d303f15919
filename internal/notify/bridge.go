package notify

import (
	"context"
	"sync"

	"github.com/coachlink/coachlink/internal/bus"
	"github.com/coachlink/coachlink/internal/store"
	"go.uber.org/zap"
)

// Lifecycle is the app foreground/background state reported by the frontend.
type Lifecycle string

const (
	LifecycleActive     Lifecycle = "active"
	LifecycleBackground Lifecycle = "background"
	LifecycleInactive   Lifecycle = "inactive"
)

// Payload is the opaque routing payload attached to a notification. The
// navigation layer pattern-matches on Type, so the shape must stay stable.
type Payload struct {
	Type       string `json:"type"` // always "chat_message"
	ChatID     string `json:"chatId"`
	SenderID   string `json:"senderId"`
	SenderRole string `json:"senderRole"`
	SenderName string `json:"senderName"`
}

// Notifier is the platform notification surface.
type Notifier interface {
	// RequestPermission asks the platform once; false means degraded mode.
	RequestPermission() (bool, error)
	Notify(title, body string, payload Payload) error
	SetBadge(count int) error
}

// bodyLimit caps the displayed notification body, in runes.
const bodyLimit = 100

// Bridge decides whether incoming realtime messages become user-visible
// notifications and tracks the unread counter. When permission is denied it
// keeps counting but shows nothing.
type Bridge struct {
	notifier Notifier
	bus      *bus.Bus
	logger   *zap.Logger
	userID   func() string
	cancel   context.CancelFunc

	mu        sync.Mutex
	lifecycle Lifecycle
	unread    int
	permitted bool
	pending   *Payload
}

// NewBridge creates a notification bridge. userID resolves the current user
// at event time, so login/logout does not require rewiring.
func NewBridge(notifier Notifier, b *bus.Bus, userID func() string, logger *zap.Logger) *Bridge {
	return &Bridge{
		notifier:  notifier,
		bus:       b,
		logger:    logger,
		userID:    userID,
		lifecycle: LifecycleActive,
	}
}

// Start requests notification permission once and begins consuming incoming
// message events from the bus.
func (br *Bridge) Start(ctx context.Context) {
	permitted, err := br.notifier.RequestPermission()
	if err != nil {
		br.logger.Warn("notification permission request failed", zap.Error(err))
	}
	br.mu.Lock()
	br.permitted = permitted
	br.mu.Unlock()
	if !permitted {
		br.logger.Info("notifications unavailable, running degraded")
	}

	ctx, br.cancel = context.WithCancel(ctx)
	ch, unsub := br.bus.Subscribe(bus.KindRTNewMessage, 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if msg, ok := evt.Payload.(*store.Message); ok {
					br.HandleMessage(msg)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops consuming events.
func (br *Bridge) Stop() {
	if br.cancel != nil {
		br.cancel()
	}
}

// HandleMessage applies the decision rule: notify iff the sender is not the
// current user and the app is not in the foreground.
func (br *Bridge) HandleMessage(msg *store.Message) {
	if msg.SenderID == "" || msg.SenderID == br.userID() {
		return
	}

	br.mu.Lock()
	if br.lifecycle == LifecycleActive {
		br.mu.Unlock()
		return
	}
	br.unread++
	unread := br.unread
	permitted := br.permitted
	br.mu.Unlock()

	payload := Payload{
		Type:       "chat_message",
		ChatID:     msg.ChatID,
		SenderID:   msg.SenderID,
		SenderRole: msg.SenderRole,
		SenderName: msg.SenderName,
	}

	if permitted {
		if err := br.notifier.Notify(msg.SenderName, truncateBody(msg.Content), payload); err != nil {
			br.logger.Warn("notification failed", zap.Error(err), zap.String("chat_id", msg.ChatID))
		}
		if err := br.notifier.SetBadge(unread); err != nil {
			br.logger.Warn("badge update failed", zap.Error(err))
		}
	}

	br.bus.Publish(bus.Now(bus.KindNotifyRaised, payload))
}

// SetLifecycle records an app lifecycle transition. Entering the foreground
// clears the badge and resets the unread counter, in that order.
func (br *Bridge) SetLifecycle(l Lifecycle) {
	br.mu.Lock()
	prev := br.lifecycle
	br.lifecycle = l
	br.mu.Unlock()

	if l == LifecycleActive && prev != LifecycleActive {
		br.foreground()
	}
}

func (br *Bridge) foreground() {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.permitted {
		if err := br.notifier.SetBadge(0); err != nil {
			br.logger.Warn("badge clear failed", zap.Error(err))
		}
	}
	br.unread = 0
}

// Unread returns the in-memory unread counter.
func (br *Bridge) Unread() int {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.unread
}

// NotificationTapped stores the payload of a tapped notification as the
// single outstanding pending notification.
func (br *Bridge) NotificationTapped(p Payload) {
	br.mu.Lock()
	br.pending = &p
	br.mu.Unlock()
}

// ConsumePending returns and clears the pending notification. The navigation
// layer must call this exactly once per tap; the second call returns nil so a
// duplicate route trigger is impossible.
func (br *Bridge) ConsumePending() *Payload {
	br.mu.Lock()
	defer br.mu.Unlock()
	p := br.pending
	br.pending = nil
	return p
}

func truncateBody(s string) string {
	runes := []rune(s)
	if len(runes) <= bodyLimit {
		return s
	}
	return string(runes[:bodyLimit]) + "…"
}
