package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.feira/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	APIBaseURL     string `toml:"api_base_url"`
	RealtimeURL    string `toml:"realtime_url"`
	PageSize       int    `toml:"page_size"`

	Reconnect ReconnectConfig `toml:"reconnect"`
}

// ReconnectConfig controls the realtime reconnection policy.
type ReconnectConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   duration `toml:"base_delay"`
	MaxDelay    duration `toml:"max_delay"`
}

// duration wraps time.Duration so it round-trips through TOML as "5s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		APIBaseURL:     "https://api.feira.app",
		RealtimeURL:    "wss://rt.feira.app/ws",
		PageSize:       20,
		Reconnect: ReconnectConfig{
			MaxAttempts: 10,
			BaseDelay:   duration{time.Second},
			MaxDelay:    duration{30 * time.Second},
		},
	}
}

// Load reads config from the given path and fills in defaults for any
// field left unset. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

// LoadOrDefault is Load, falling back to defaults when the file is absent.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		cfg = Default()
		cfg.applyEnv()
	}
	return cfg
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

// applyEnv overlays FEIRA_* environment variables. The binaries load a
// .env file first, so local overrides work without editing config.toml.
func (c *Config) applyEnv() {
	if v := os.Getenv("FEIRA_API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("FEIRA_REALTIME_URL"); v != "" {
		c.RealtimeURL = v
	}
	if v := os.Getenv("FEIRA_SESSION"); v != "" {
		c.DefaultSession = v
	}
}

func (c *Config) normalize() {
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = 10
	}
	if c.Reconnect.BaseDelay.Duration <= 0 {
		c.Reconnect.BaseDelay = duration{time.Second}
	}
	if c.Reconnect.MaxDelay.Duration <= 0 {
		c.Reconnect.MaxDelay = duration{30 * time.Second}
	}
}

// ReconnectBaseDelay returns the configured backoff base delay.
func (c *Config) ReconnectBaseDelay() time.Duration { return c.Reconnect.BaseDelay.Duration }

// ReconnectMaxDelay returns the configured backoff delay ceiling.
func (c *Config) ReconnectMaxDelay() time.Duration { return c.Reconnect.MaxDelay.Duration }
