package profile

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPathsShareProfileDir(t *testing.T) {
	dir := Dir("alpha")
	paths := []string{
		SocketPath("alpha"),
		LockPath("alpha"),
		CacheDBPath("alpha"),
		TokensPath("alpha"),
		LogPath("alpha"),
	}
	for _, p := range paths {
		if !strings.HasPrefix(p, dir) {
			t.Errorf("path %q not under profile dir %q", p, dir)
		}
	}
}

func TestConfigPathIsGlobal(t *testing.T) {
	if got := ConfigPath(); filepath.Base(got) != "config.toml" {
		t.Errorf("ConfigPath() = %q, want .../config.toml", got)
	}
	if strings.Contains(ConfigPath(), "profiles") {
		t.Error("config path must not be profile-scoped")
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"default", "work-1", "a", "my_profile"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "UPPER", "has space", "dots.not.ok", strings.Repeat("x", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	if got := Resolve("flagged"); got != "flagged" {
		t.Errorf("Resolve(flag) = %q, want flagged", got)
	}

	t.Setenv("COACHLINK_PROFILE", "from-env")
	if got := Resolve(""); got != "from-env" {
		t.Errorf("Resolve() = %q, want env-provided profile", got)
	}
}
