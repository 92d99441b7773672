package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.cadenza/config.toml.
type Config struct {
	DefaultSession string  `toml:"default_session"`
	Backend        Backend `toml:"backend"`
	UI             UI      `toml:"ui"`
	Upload         Upload  `toml:"upload"`
}

// Backend holds the hosted backend connection settings.
type Backend struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
	UserID  string `toml:"user_id"`
}

// UI holds presentation settings.
type UI struct {
	// BreakpointCols is the terminal width below which the layout
	// collapses to a single pane.
	BreakpointCols int `toml:"breakpoint_cols"`
}

// Upload holds attachment upload limits.
type Upload struct {
	MaxBytes     int64    `toml:"max_bytes"`
	AllowedTypes []string `toml:"allowed_types"`
}

// Defaults returns a config with sensible defaults applied.
func Defaults() *Config {
	return &Config{
		DefaultSession: "main",
		UI:             UI{BreakpointCols: 100},
		Upload: Upload{
			MaxBytes: 25 << 20,
			AllowedTypes: []string{
				"image/png", "image/jpeg", "image/gif",
				"application/pdf", "audio/mpeg", "audio/midi",
			},
		},
	}
}

// Load reads config from the given path and fills unset limits from
// Defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.UI.BreakpointCols <= 0 {
		cfg.UI.BreakpointCols = 100
	}
	if cfg.Upload.MaxBytes <= 0 {
		cfg.Upload.MaxBytes = 25 << 20
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
