// Package config handles chatsync configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure for chatsync.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Session identifies the local user.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Backend selects and tunes the backend client.
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`

	// Timeline settings
	Timeline TimelineConfig `yaml:"timeline" mapstructure:"timeline"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// UI settings
	UI UIConfig `yaml:"ui" mapstructure:"ui"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where chatsync stores its data (default: ~/.local/share/chatsync).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/chatsync).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// SessionConfig contains connection credentials.
type SessionConfig struct {
	// AppID scopes the session on multi-tenant backends.
	AppID string `yaml:"app_id" mapstructure:"app_id"`

	// UserID is the local user.
	UserID string `yaml:"user_id" mapstructure:"user_id"`

	// Nickname is shown to other members.
	Nickname string `yaml:"nickname" mapstructure:"nickname"`

	// AccessToken authenticates the user, when the backend requires one.
	AccessToken string `yaml:"access_token" mapstructure:"access_token"`
}

// BackendConfig contains backend client settings.
type BackendConfig struct {
	// Kind selects the backend implementation (sqlite).
	Kind string `yaml:"kind" mapstructure:"kind"`

	// Path is the SQLite database file for the sqlite backend.
	Path string `yaml:"path" mapstructure:"path"`

	// PushURL is an optional websocket endpoint streaming real-time events.
	PushURL string `yaml:"push_url" mapstructure:"push_url"`

	// DialTimeout bounds the websocket handshake.
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`

	// ReconnectInterval is the delay between push reconnect attempts.
	ReconnectInterval time.Duration `yaml:"reconnect_interval" mapstructure:"reconnect_interval"`

	// PageSize is the number of messages per history page.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`
}

// TimelineConfig contains timeline rendering settings.
type TimelineConfig struct {
	// Timezone is the IANA zone used for day separators (default: local).
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// UIConfig contains terminal UI settings.
type UIConfig struct {
	// Theme is the color theme (default, high-contrast).
	Theme string `yaml:"theme" mapstructure:"theme"`

	// KeepChatOpen minimizes the widget instead of closing a chat board.
	KeepChatOpen bool `yaml:"keep_chat_open" mapstructure:"keep_chat_open"`

	// DesktopNotifications raises an OS notification for messages on
	// channels without an open board.
	DesktopNotifications bool `yaml:"desktop_notifications" mapstructure:"desktop_notifications"`

	// MaxBoards caps the number of chat boards open at once.
	MaxBoards int `yaml:"max_boards" mapstructure:"max_boards"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "chatsync"),
			ConfigDir: filepath.Join(homeDir, ".config", "chatsync"),
		},
		Backend: BackendConfig{
			Kind:              "sqlite",
			Path:              "", // Will be set to DataDir/chatsync.db
			DialTimeout:       10 * time.Second,
			ReconnectInterval: 2 * time.Second,
			PageSize:          30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		UI: UIConfig{
			Theme:     "default",
			MaxBoards: 3,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case "sqlite":
	default:
		return fmt.Errorf("backend.kind must be sqlite, got %q", c.Backend.Kind)
	}

	if c.Backend.PageSize < 1 || c.Backend.PageSize > 200 {
		return fmt.Errorf("backend.page_size must be between 1 and 200")
	}

	if c.Backend.DialTimeout < 100*time.Millisecond {
		return fmt.Errorf("backend.dial_timeout must be at least 100ms")
	}

	if push := strings.TrimSpace(c.Backend.PushURL); push != "" &&
		!strings.HasPrefix(push, "ws://") && !strings.HasPrefix(push, "wss://") {
		return fmt.Errorf("backend.push_url must be a ws:// or wss:// URL")
	}

	if c.Timeline.Timezone != "" {
		if _, err := time.LoadLocation(c.Timeline.Timezone); err != nil {
			return fmt.Errorf("timeline.timezone: %w", err)
		}
	}

	switch c.UI.Theme {
	case "default", "high-contrast":
	default:
		return fmt.Errorf("ui.theme must be one of default, high-contrast")
	}

	if c.UI.MaxBoards < 1 {
		return fmt.Errorf("ui.max_boards must be at least 1")
	}

	return nil
}

// Location returns the configured timeline zone, or local time.
func (c *Config) Location() *time.Location {
	if c.Timeline.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timeline.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Backend.Path != "" {
		return c.Backend.Path
	}
	return filepath.Join(c.Global.DataDir, "chatsync.db")
}
