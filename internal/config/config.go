package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.gigline/config.toml.
type Config struct {
	DefaultProfile string  `toml:"default_profile"`
	Backend        Backend `toml:"backend"`
	Channel        Channel `toml:"channel"`
	Chat           Chat    `toml:"chat"`
	Log            Log     `toml:"log"`
}

// Backend locates the marketplace backend and bounds every round-trip to it.
type Backend struct {
	BaseURL        string   `toml:"base_url"`
	SocketURL      string   `toml:"socket_url"`
	RequestTimeout Duration `toml:"request_timeout"`
	RefreshTimeout Duration `toml:"refresh_timeout"`
}

// Channel tunes the persistent messaging connection.
type Channel struct {
	HandshakeTimeout  Duration `toml:"handshake_timeout"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
}

// Chat tunes conversation state.
type Chat struct {
	// TypingTTL is how long a peer's typing flag survives without a refresh.
	TypingTTL Duration `toml:"typing_ttl"`
}

// Log controls the daemon log.
type Log struct {
	// Level is a zap level name: debug, info, warn or error.
	Level string `toml:"level"`
	// Console tees the log to stderr in console format.
	Console bool `toml:"console"`
}

// Duration is a time.Duration that round-trips through TOML as a string ("15s").
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend: Backend{
			BaseURL:        "http://localhost:8000",
			SocketURL:      "ws://localhost:8000/ws",
			RequestTimeout: Duration{15 * time.Second},
			RefreshTimeout: Duration{10 * time.Second},
		},
		Channel: Channel{
			HandshakeTimeout:  Duration{10 * time.Second},
			HeartbeatInterval: Duration{30 * time.Second},
		},
		Chat: Chat{
			TypingTTL: Duration{5 * time.Second},
		},
		Log: Log{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads config from the given path on top of Default. Returns nil and
// error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
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
