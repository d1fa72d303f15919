package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coachlink/coachlink/internal/bus"
	"go.uber.org/zap"
)

func testManager(t *testing.T) (*Manager, *bus.Bus) {
	t.Helper()
	b := bus.New()
	path := filepath.Join(t.TempDir(), "tokens.json")
	return NewManager(path, b, zap.NewNop()), b
}

// unsignedJWT builds a syntactically valid token with the given exp, no
// signature. ExpiresWithin never verifies, so this is enough.
func unsignedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(map[string]any{"exp": exp.Unix(), "sub": "u1"})
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("%s.%s.", header, base64.RawURLEncoding.EncodeToString(payload))
}

func TestSetSessionPersistsAndPublishes(t *testing.T) {
	m, b := testManager(t)
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	user := User{ID: "u1", Name: "Alice", Role: "client"}
	if err := m.SetSession(TokenPair{AccessToken: "at", RefreshToken: "rt"}, user); err != nil {
		t.Fatal(err)
	}

	if !m.Authenticated() {
		t.Error("Authenticated() = false after SetSession")
	}
	if m.UserID() != "u1" {
		t.Errorf("UserID() = %q, want u1", m.UserID())
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindSessionAuthenticated {
			t.Errorf("event = %q, want session.authenticated", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for session event")
	}

	// Reload into a fresh manager to prove persistence.
	m2 := NewManager(m.path, bus.New(), zap.NewNop())
	if err := m2.Load(); err != nil {
		t.Fatal(err)
	}
	if m2.AccessToken() != "at" || m2.Current().User.Name != "Alice" {
		t.Errorf("reloaded session = %+v, want persisted values", m2.Current())
	}
}

func TestSessionFilePermissions(t *testing.T) {
	m, _ := testManager(t)
	if err := m.SetSession(TokenPair{AccessToken: "at"}, User{}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(m.path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("tokens file permission = %o, want 0600", perm)
	}
}

func TestLoadMissingFileIsLoggedOut(t *testing.T) {
	m, _ := testManager(t)
	if err := m.Load(); err != nil {
		t.Fatalf("Load() error = %v for missing file", err)
	}
	if m.Authenticated() {
		t.Error("Authenticated() = true with no session file")
	}
}

func TestLoadCorruptFileIsLoggedOut(t *testing.T) {
	m, _ := testManager(t)
	if err := os.WriteFile(m.path, []byte("{oops"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := m.Load(); err != nil {
		t.Fatalf("Load() error = %v, corrupt file should be recoverable", err)
	}
	if m.Authenticated() {
		t.Error("Authenticated() = true after corrupt session file")
	}
}

func TestClearPublishesLogout(t *testing.T) {
	m, b := testManager(t)
	if err := m.SetSession(TokenPair{AccessToken: "at"}, User{ID: "u1"}); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe("session.logged_out", 10)
	defer unsub()

	if err := m.Clear(); err != nil {
		t.Fatal(err)
	}
	if m.Authenticated() {
		t.Error("still authenticated after Clear")
	}
	if _, err := os.Stat(m.path); !os.IsNotExist(err) {
		t.Error("session file still exists after Clear")
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for logged_out event")
	}
}

func TestExpiresWithin(t *testing.T) {
	m, _ := testManager(t)

	// No token at all: must report expiring.
	if !m.ExpiresWithin(time.Minute) {
		t.Error("ExpiresWithin() = false with no token")
	}

	far := unsignedJWT(t, time.Now().Add(2*time.Hour))
	if err := m.SetSession(TokenPair{AccessToken: far}, User{}); err != nil {
		t.Fatal(err)
	}
	if m.ExpiresWithin(time.Minute) {
		t.Error("ExpiresWithin(1m) = true for token valid 2h")
	}
	if !m.ExpiresWithin(3 * time.Hour) {
		t.Error("ExpiresWithin(3h) = false for token valid 2h")
	}

	// Opaque (non-JWT) token: treated as expiring.
	if err := m.UpdateTokens(TokenPair{AccessToken: "not-a-jwt"}); err != nil {
		t.Fatal(err)
	}
	if !m.ExpiresWithin(time.Minute) {
		t.Error("ExpiresWithin() = false for unparseable token")
	}
}
