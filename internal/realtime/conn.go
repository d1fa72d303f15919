package realtime

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/coachlink/coachlink/internal/bus"
	"github.com/coachlink/coachlink/internal/status"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxReconnectAttempts bounds automatic redials. After the 5th consecutive
// failure the connection settles Disconnected permanently; only a new
// Establish (re-auth or restart) recovers.
const maxReconnectAttempts = 5

// Socket is the minimal surface the manager needs from a websocket
// connection. *websocket.Conn satisfies it.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// DialFunc opens a socket to the realtime endpoint.
type DialFunc func(ctx context.Context, url string, header http.Header) (Socket, error)

func gorillaDial(ctx context.Context, url string, header http.Header) (Socket, error) {
	sock, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return sock, nil
}

// Conn maintains at most one live realtime connection per authenticated
// session. Incoming envelopes are normalized and re-published as rt.* bus
// events in receipt order; outbound Emit is fire-and-forget and silently
// dropped while not connected.
type Conn struct {
	url       string
	dial      DialFunc
	bus       *bus.Bus
	machine   *status.Machine
	logger    *zap.Logger
	typing    *rate.Limiter
	baseDelay time.Duration

	mu       sync.Mutex
	sock     Socket
	cancel   context.CancelFunc
	attempts int
	gen      uint64

	// writeMu serializes outbound frames; gorilla/websocket allows at most
	// one concurrent writer.
	writeMu sync.Mutex
}

// NewConn creates a connection manager for the given realtime URL.
func NewConn(url string, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Conn {
	return &Conn{
		url:       url,
		dial:      gorillaDial,
		bus:       b,
		machine:   machine,
		logger:    logger,
		typing:    rate.NewLimiter(rate.Every(time.Second), 1),
		baseDelay: time.Second,
	}
}

// Establish opens the realtime connection authenticated with token. Any
// previous connection is torn down first, so a token change can never leave
// two live sockets. Returns immediately; dialing and reconnecting run in the
// background.
func (c *Conn) Establish(ctx context.Context, token string) {
	if token == "" {
		c.logger.Warn("establish called without token, ignoring")
		return
	}
	c.Teardown()

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.attempts = 0
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.run(ctx, token, gen)
}

// Teardown closes the active connection, if any, and settles Disconnected.
// Runs as cleanup on logout and on token change.
func (c *Conn) Teardown() {
	c.mu.Lock()
	cancel := c.cancel
	sock := c.sock
	c.cancel = nil
	c.sock = nil
	c.attempts = 0
	c.gen++
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sock != nil {
		_ = sock.Close()
	}
	if c.machine.Current() != status.Disconnected {
		_ = c.machine.Transition(status.Disconnected)
	}
}

// IsConnected reports whether the socket is live.
func (c *Conn) IsConnected() bool {
	return c.machine.Current() == status.Connected
}

// IsReconnecting reports whether an automatic redial is in progress.
func (c *Conn) IsReconnecting() bool {
	return c.machine.Current() == status.Reconnecting
}

// ReconnectAttempts returns the consecutive failed-dial count, 0..5.
func (c *Conn) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Emit sends a named event iff currently connected; otherwise the call is
// dropped. No queuing, no error surfaced.
func (c *Conn) Emit(event string, payload any) {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()

	if sock == nil || c.machine.Current() != status.Connected {
		c.logger.Debug("emit dropped while disconnected", zap.String("event", event))
		return
	}
	c.writeMu.Lock()
	err := sock.WriteJSON(outEnvelope{Event: event, Data: payload})
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("emit failed", zap.String("event", event), zap.Error(err))
	}
}

// SendMessage emits a chat message and returns the client-generated id, which
// the backend echoes back so local echoes can be matched to the stored row.
func (c *Conn) SendMessage(chatID, content, msgType, fileID string) string {
	clientID := uuid.NewString()
	c.Emit(EventSendMessage, sendMessagePayload{
		ClientID: clientID,
		ChatID:   chatID,
		Content:  content,
		Type:     msgType,
		FileID:   fileID,
	})
	return clientID
}

// MarkRead emits a read receipt for a whole chat.
func (c *Conn) MarkRead(chatID string) {
	c.Emit(EventMarkRead, chatRefPayload{ChatID: chatID})
}

// JoinChat subscribes to one chat room.
func (c *Conn) JoinChat(chatID string) {
	c.Emit(EventJoinChat, chatRefPayload{ChatID: chatID})
}

// LeaveChat unsubscribes from one chat room.
func (c *Conn) LeaveChat(chatID string) {
	c.Emit(EventLeaveChat, chatRefPayload{ChatID: chatID})
}

// CreateChat asks the backend to open a chat with a participant.
func (c *Conn) CreateChat(participantID string) {
	c.Emit(EventCreateChat, createChatPayload{ParticipantID: participantID})
}

// Typing emits a typing indicator, rate-limited to one event per second so a
// keystroke storm does not flood the socket.
func (c *Conn) Typing(chatID string, active bool) {
	if !c.typing.Allow() {
		return
	}
	event := EventTypingStop
	if active {
		event = EventTypingStart
	}
	c.Emit(event, chatRefPayload{ChatID: chatID})
}

// run owns the dial/read/redial cycle until ctx is cancelled or attempts are
// exhausted. gen identifies the Establish that spawned this run: a superseded
// run must never install its socket, even when its dial completes after a
// Teardown already swept state.
func (c *Conn) run(ctx context.Context, token string, gen uint64) {
	header := http.Header{"Authorization": {"Bearer " + token}}

	for {
		_ = c.machine.Transition(status.Connecting)
		sock, err := c.dial(ctx, c.url, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("realtime dial failed", zap.Error(err))
			if !c.backoff(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil || gen != c.gen {
			c.mu.Unlock()
			_ = sock.Close()
			return
		}
		c.sock = sock
		c.attempts = 0
		c.mu.Unlock()
		_ = c.machine.Transition(status.Connected)
		c.logger.Info("realtime connected")

		// Join all chat rooms the user belongs to.
		c.Emit(EventJoinChats, nil)

		err = c.readLoop(sock)
		c.mu.Lock()
		if c.sock == sock {
			c.sock = nil
		}
		c.mu.Unlock()

		if ctx.Err() != nil {
			// Deliberate teardown; Teardown() handles the state.
			return
		}
		c.logger.Warn("realtime connection lost", zap.Error(err))
		if !c.backoff(ctx) {
			return
		}
	}
}

// backoff marks Reconnecting and sleeps the next delay. Returns false when
// attempts are exhausted or ctx was cancelled, settling Disconnected.
func (c *Conn) backoff(ctx context.Context) bool {
	c.mu.Lock()
	if c.attempts >= maxReconnectAttempts {
		c.mu.Unlock()
		c.logger.Error("reconnect attempts exhausted, giving up",
			zap.Int("attempts", maxReconnectAttempts))
		_ = c.machine.Transition(status.Disconnected)
		return false
	}
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	_ = c.machine.Transition(status.Reconnecting)
	delay := c.backoffDelay(attempt)
	c.logger.Info("reconnecting",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffDelay is exponential from the base delay (1s in production), capped
// at 30x base, with ±20% jitter.
func (c *Conn) backoffDelay(attempt int) time.Duration {
	base := c.baseDelay << (attempt - 1)
	if base > 30*c.baseDelay {
		base = 30 * c.baseDelay
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 5))
	if rand.Intn(2) == 0 {
		return base - jitter
	}
	return base + jitter
}

// readLoop pumps inbound envelopes until the socket fails. Events are
// normalized and published in receipt order; the bus fan-out preserves that
// order per subscriber.
func (c *Conn) readLoop(sock Socket) error {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("malformed realtime frame", zap.Error(err))
		return
	}

	switch env.Event {
	case EventNewMessage:
		msg, err := ParseMessage(env.Data)
		if err != nil {
			c.logger.Warn("malformed message event", zap.Error(err))
			return
		}
		c.bus.Publish(bus.Now(bus.KindRTNewMessage, msg))
	case EventJoinedChats:
		joined, err := ParseJoinedChats(env.Data)
		if err != nil {
			c.logger.Warn("malformed joined_chats event", zap.Error(err))
			return
		}
		c.logger.Info("joined chat rooms", zap.Int("count", joined.ChatCount))
		c.bus.Publish(bus.Now(bus.KindRTJoinedChats, joined))
	case EventError, EventConnectError:
		msg := ParseError(env.Data)
		c.logger.Warn("realtime error event", zap.String("message", msg))
		c.bus.Publish(bus.Now(bus.KindRTError, msg))
	default:
		c.logger.Debug("ignoring unknown realtime event", zap.String("event", env.Event))
	}
}
