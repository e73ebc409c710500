package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Backend.Path = expandTilde(cfg.Backend.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "chatsync"))
	}
	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "chatsync"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("CHATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	// Explicitly bind environment variables (Viper's Unmarshal has issues without this)
	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}

	v.AutomaticEnv()
}

// configKeys lists every key that can be overridden from the environment.
var configKeys = []string{
	"global.data_dir",
	"global.config_dir",
	"session.app_id",
	"session.user_id",
	"session.nickname",
	"session.access_token",
	"backend.kind",
	"backend.path",
	"backend.push_url",
	"backend.dial_timeout",
	"backend.reconnect_interval",
	"backend.page_size",
	"timeline.timezone",
	"logging.level",
	"logging.format",
	"logging.file",
	"logging.enable_caller",
	"ui.theme",
	"ui.keep_chat_open",
	"ui.desktop_notifications",
	"ui.max_boards",
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	v.SetDefault("session.app_id", cfg.Session.AppID)
	v.SetDefault("session.user_id", cfg.Session.UserID)
	v.SetDefault("session.nickname", cfg.Session.Nickname)
	v.SetDefault("session.access_token", cfg.Session.AccessToken)

	v.SetDefault("backend.kind", cfg.Backend.Kind)
	v.SetDefault("backend.path", cfg.Backend.Path)
	v.SetDefault("backend.push_url", cfg.Backend.PushURL)
	v.SetDefault("backend.dial_timeout", cfg.Backend.DialTimeout)
	v.SetDefault("backend.reconnect_interval", cfg.Backend.ReconnectInterval)
	v.SetDefault("backend.page_size", cfg.Backend.PageSize)

	v.SetDefault("timeline.timezone", cfg.Timeline.Timezone)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	v.SetDefault("ui.theme", cfg.UI.Theme)
	v.SetDefault("ui.keep_chat_open", cfg.UI.KeepChatOpen)
	v.SetDefault("ui.desktop_notifications", cfg.UI.DesktopNotifications)
	v.SetDefault("ui.max_boards", cfg.UI.MaxBoards)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Settings returns every resolved setting as a nested map.
func (l *Loader) Settings() map[string]any {
	return l.v.AllSettings()
}

// Viper returns the underlying Viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}
