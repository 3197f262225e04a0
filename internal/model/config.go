package model

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig describes the backend the client talks to.
type ServerConfig struct {
	// BaseURL is the root URL of the REST API (without the /api suffix).
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// SocketURL is the real-time endpoint. Derived from BaseURL when empty.
	SocketURL string `mapstructure:"socket_url" yaml:"socket_url"`

	// TimeoutSec bounds every HTTP request and the socket handshake.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// RatePerSec and Burst configure the client-side request limiter.
	RatePerSec float64 `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
	Burst      int     `mapstructure:"burst" yaml:"burst"`
}

// TasksConfig holds task list preferences.
type TasksConfig struct {
	PageSize int    `mapstructure:"page_size" yaml:"page_size"`
	Sort     string `mapstructure:"sort" yaml:"sort"`
}

// NotificationsConfig holds notification panel preferences.
type NotificationsConfig struct {
	Limit int `mapstructure:"limit" yaml:"limit"`
}

// ShareConfig lists the users a task can be shared with.
type ShareConfig struct {
	Users []User `mapstructure:"users" yaml:"users"`
}

// LogConfig controls the file logger.
type LogConfig struct {
	File  string `mapstructure:"file" yaml:"file"`
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Tasks         TasksConfig         `mapstructure:"tasks" yaml:"tasks"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Share         ShareConfig         `mapstructure:"share" yaml:"share"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
}

// ConfigDir returns ~/.config/taskdesk, or the working directory when the
// home directory cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "taskdesk")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/taskdesk/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultAppConfig returns the configuration used when no file exists.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			BaseURL:    "http://localhost:5000",
			TimeoutSec: 30,
			RatePerSec: 10,
			Burst:      20,
		},
		Tasks: TasksConfig{
			PageSize: 10,
			Sort:     "created-desc",
		},
		Notifications: NotificationsConfig{
			Limit: 50,
		},
		Share: ShareConfig{Users: []User{}},
		Log: LogConfig{
			File:  filepath.Join(ConfigDir(), "taskdesk.log"),
			Level: "info",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("server.base_url", d.Server.BaseURL)
	v.SetDefault("server.socket_url", "")
	v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	v.SetDefault("server.rate_per_sec", d.Server.RatePerSec)
	v.SetDefault("server.burst", d.Server.Burst)
	v.SetDefault("tasks.page_size", d.Tasks.PageSize)
	v.SetDefault("tasks.sort", d.Tasks.Sort)
	v.SetDefault("notifications.limit", d.Notifications.Limit)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.level", d.Log.Level)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// TASKDESK_* environment variables override file values. If the file does
// not exist, defaults (plus environment overrides) are returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TASKDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Normalize fills derived and default values after loading or editing.
func (c *AppConfig) Normalize() {
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.SocketURL == "" {
		c.Server.SocketURL = DeriveSocketURL(c.Server.BaseURL)
	}
	if c.Server.TimeoutSec <= 0 {
		c.Server.TimeoutSec = 30
	}
	if c.Tasks.PageSize <= 0 {
		c.Tasks.PageSize = 10
	}
	if c.Notifications.Limit <= 0 {
		c.Notifications.Limit = 50
	}
}

// DeriveSocketURL maps http(s)://host to ws(s)://host/socket.
func DeriveSocketURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket"
	u.RawQuery = ""
	return u.String()
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("tasks", cfg.Tasks)
	v.Set("notifications", cfg.Notifications)
	v.Set("share", cfg.Share)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
