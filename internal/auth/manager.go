package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coachlink/coachlink/internal/bus"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// TokenPair is the backend-issued access/refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// User identifies the authenticated account.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"` // trainer or client
}

// Session is the app-wide authentication state. A live realtime connection
// exists iff Authenticated() and the access token is non-empty.
type Session struct {
	Tokens TokenPair `json:"tokens"`
	User   User      `json:"user"`
}

// Manager owns the session, persists it as 0600 JSON under the profile dir,
// and announces transitions on the bus.
type Manager struct {
	mu      sync.RWMutex
	path    string
	session Session
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewManager creates a session manager persisting to path.
func NewManager(path string, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{path: path, bus: b, logger: logger}
}

// Load reads a previously persisted session. A missing file means logged out
// and is not an error.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		// A corrupt session file is recoverable by logging in again.
		m.logger.Warn("corrupt session file, treating as logged out", zap.Error(err))
		return nil
	}
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	return nil
}

// SetSession stores and persists a freshly authenticated session.
func (m *Manager) SetSession(tokens TokenPair, user User) error {
	m.mu.Lock()
	m.session = Session{Tokens: tokens, User: user}
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		return err
	}
	m.bus.Publish(bus.Now(bus.KindSessionAuthenticated, user))
	return nil
}

// UpdateTokens replaces the token pair after a refresh, keeping the user.
func (m *Manager) UpdateTokens(tokens TokenPair) error {
	m.mu.Lock()
	m.session.Tokens = tokens
	m.mu.Unlock()
	return m.persist()
}

// Clear destroys the session on logout.
func (m *Manager) Clear() error {
	m.mu.Lock()
	m.session = Session{}
	m.mu.Unlock()

	err := os.Remove(m.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session: %w", err)
	}
	m.bus.Publish(bus.Now(bus.KindSessionLoggedOut, nil))
	return nil
}

// Current returns a copy of the session.
func (m *Manager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Authenticated reports whether a usable token pair is present.
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Tokens.AccessToken != ""
}

// AccessToken returns the current access token, empty when logged out.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Tokens.AccessToken
}

// RefreshToken returns the current refresh token.
func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Tokens.RefreshToken
}

// UserID returns the authenticated user's ID, empty when logged out.
func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.User.ID
}

// ExpiresWithin reports whether the access token expires within d. Claims are
// read without signature verification; the backend remains the authority, this
// only schedules proactive refreshes. Tokens without an exp claim or that fail
// to parse are treated as expiring.
func (m *Manager) ExpiresWithin(d time.Duration) bool {
	token := m.AccessToken()
	if token == "" {
		return true
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Until(exp.Time) < d
}

func (m *Manager) persist() error {
	m.mu.RLock()
	data, err := json.Marshal(m.session)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(m.path, data, 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}
