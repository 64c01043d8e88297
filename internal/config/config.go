package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseURL            string        `yaml:"base_url"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	SessionPath        string        `yaml:"session_path"`
	NotificationTTL    time.Duration `yaml:"notification_ttl"`
	NotificationBuffer int           `yaml:"notification_buffer"`
	DefaultPageLimit   int           `yaml:"default_page_limit"`
	LogLevel           string        `yaml:"log_level"`
	LogJSON            bool          `yaml:"log_json"`
	MetricsAddr        string        `yaml:"metrics_addr"`
	WatchInterval      time.Duration `yaml:"watch_interval"`

	// Token overrides the persisted session token. Environment only.
	Token string `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:            "http://127.0.0.1:8080/api",
		RequestTimeout:     10 * time.Second,
		SessionPath:        defaultSessionPath(),
		NotificationTTL:    4 * time.Second,
		NotificationBuffer: 32,
		DefaultPageLimit:   10,
		LogLevel:           "warn",
		WatchInterval:      5 * time.Second,
	}
}

// Load reads a YAML config file on top of the defaults and applies
// environment overrides. An empty path falls back to DefaultPath; a missing
// default file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("OPSDASH_BASE_URL")); v != "" {
		c.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OPSDASH_TOKEN")); v != "" {
		c.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("OPSDASH_SESSION_PATH")); v != "" {
		c.SessionPath = v
	}
	if v := strings.TrimSpace(os.Getenv("OPSDASH_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("OPSDASH_REQUEST_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RequestTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("OPSDASH_PAGE_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DefaultPageLimit = n
		}
	}
}

func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL, got %q", c.BaseURL)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	if c.DefaultPageLimit <= 0 {
		return fmt.Errorf("default_page_limit must be positive")
	}
	if c.NotificationTTL <= 0 {
		return fmt.Errorf("notification_ttl must be positive")
	}
	if strings.TrimSpace(c.SessionPath) == "" {
		return fmt.Errorf("session_path is required")
	}
	return nil
}

func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "opsdash", "config.yaml")
	}
	return "opsdash.yaml"
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "opsdash-session.db"
	}
	return filepath.Join(home, ".local", "state", "opsdash", "session.db")
}
