package sync

import (
	"context"

	"github.com/coachlink/coachlink/internal/api"
	"github.com/coachlink/coachlink/internal/bus"
	"github.com/coachlink/coachlink/internal/store"
	"go.uber.org/zap"
)

// Engine folds realtime events into the reconciler. It subscribes to "rt."
// events on the bus and processes them in receipt order; it never talks to
// the connection manager directly.
type Engine struct {
	rec    *Reconciler
	client *api.Client
	bus    *bus.Bus
	logger *zap.Logger
	userID func() string
	cancel context.CancelFunc
}

// NewEngine creates a sync engine.
func NewEngine(rec *Reconciler, client *api.Client, b *bus.Bus, userID func() string, logger *zap.Logger) *Engine {
	return &Engine{
		rec:    rec,
		client: client,
		bus:    b,
		logger: logger,
		userID: userID,
	}
}

// Start paints the cached snapshot and subscribes to inbound realtime events.
func (e *Engine) Start(ctx context.Context) {
	e.rec.LoadSnapshot()

	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("rt.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindRTNewMessage:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		e.IngestMessage(msg)
	case bus.KindRTJoinedChats:
		// Rooms are joined right after (re)connect; the REST snapshot
		// reconciles anything missed while offline.
		if err := e.RefreshChatList(ctx); err != nil {
			e.logger.Warn("chat list refresh failed", zap.Error(err))
		}
	}
}

// IngestMessage folds one live message into view and cache state, then
// announces the change for attached frontends.
func (e *Engine) IngestMessage(msg *store.Message) {
	countUnread := msg.SenderID != e.userID()
	e.rec.ApplyLive(msg, countUnread)

	e.bus.Publish(bus.Now(bus.KindChatUpdated, map[string]string{
		"chat_id": msg.ChatID,
		"msg_id":  msg.ID,
	}))
}

// RefreshChatList fetches the chat list and reconciles it.
func (e *Engine) RefreshChatList(ctx context.Context) error {
	list, err := e.client.ListChats(ctx)
	if err != nil {
		return err
	}
	e.rec.ApplyChatFetch(list)
	e.bus.Publish(bus.Now(bus.KindChatUpdated, map[string]string{"chat_id": ""}))
	return nil
}

// RefreshMessages fetches message history for one chat and reconciles it.
func (e *Engine) RefreshMessages(ctx context.Context, chatID string) error {
	msgs, err := e.client.ChatHistory(ctx, chatID, 40)
	if err != nil {
		return err
	}
	e.rec.ApplyHistoryFetch(chatID, msgs)
	e.bus.Publish(bus.Now(bus.KindChatUpdated, map[string]string{"chat_id": chatID}))
	return nil
}
