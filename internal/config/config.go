package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// Config represents the global ~/.coachlink/config.toml, with COACHLINK_*
// environment variables taking precedence over file values.
type Config struct {
	DefaultProfile string `toml:"default_profile" envconfig:"PROFILE"`
	APIBaseURL     string `toml:"api_base_url" envconfig:"API_BASE_URL"`
	RealtimeURL    string `toml:"realtime_url" envconfig:"REALTIME_URL"`
	RequestTimeout int    `toml:"request_timeout_seconds" envconfig:"REQUEST_TIMEOUT_SECONDS"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		APIBaseURL:     "https://api.coachlink.app",
		RealtimeURL:    "wss://api.coachlink.app/realtime",
		RequestTimeout: 15,
	}
}

// Load reads config from the given path and applies environment overrides.
// A missing file is not an error: defaults plus environment are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := envconfig.Process("coachlink", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
