// Package config loads panel settings from a TOML file, then applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// InsecureSessionSecret is used when no secret is configured. It is refused
// when the panel is served over https.
const InsecureSessionSecret = "insecure-dev-only-session-secret-do-not-use"

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Auth       AuthConfig       `toml:"auth"`
	Discord    DiscordConfig    `toml:"discord"`
	Log        LogConfig        `toml:"log"`
	Pagination PaginationConfig `toml:"pagination"`
}

type ServerConfig struct {
	Addr    string `toml:"addr"`
	BaseURL string `toml:"base_url"`
}

type DatabaseConfig struct {
	Path         string        `toml:"path"`
	QueryTimeout time.Duration `toml:"query_timeout"`
}

// AuthConfig describes the single shared panel credential. PasswordHash, a
// bcrypt hash, takes precedence over Password.
type AuthConfig struct {
	Enabled       bool          `toml:"enabled"`
	Username      string        `toml:"username"`
	Password      string        `toml:"password"`
	PasswordHash  string        `toml:"password_hash"`
	SessionSecret string        `toml:"session_secret"`
	SessionExpiry time.Duration `toml:"session_expiry"`
}

type DiscordConfig struct {
	BotToken string        `toml:"bot_token"`
	APIBase  string        `toml:"api_base"`
	CacheTTL time.Duration `toml:"cache_ttl"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type PaginationConfig struct {
	DefaultPageSize int `toml:"default_page_size"`
	MaxPageSize     int `toml:"max_page_size"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":8080",
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Path:         "data/bot.db",
			QueryTimeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			Enabled:       true,
			Username:      "admin",
			Password:      "admin",
			SessionExpiry: 24 * time.Hour,
		},
		Discord: DiscordConfig{
			APIBase:  "https://discord.com/api/v10",
			CacheTTL: time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Pagination: PaginationConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides settings from PANEL_* variables. DISCORD_TOKEN is the
// name the bot itself reads.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PANEL_LISTEN", &c.Server.Addr)
	str("PANEL_BASE_URL", &c.Server.BaseURL)
	str("PANEL_DB_PATH", &c.Database.Path)
	str("PANEL_USERNAME", &c.Auth.Username)
	str("PANEL_PASSWORD", &c.Auth.Password)
	str("PANEL_PASSWORD_HASH", &c.Auth.PasswordHash)
	str("PANEL_SESSION_SECRET", &c.Auth.SessionSecret)
	str("DISCORD_TOKEN", &c.Discord.BotToken)
	str("PANEL_LOG_LEVEL", &c.Log.Level)
	str("PANEL_LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("PANEL_AUTH_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PANEL_AUTH_ENABLED: %w", err)
		}
		c.Auth.Enabled = b
	}
	if v, ok := lookup("PANEL_QUERY_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PANEL_QUERY_TIMEOUT: %w", err)
		}
		c.Database.QueryTimeout = d
	}
	return nil
}

// Secure reports whether the panel is served over https.
func (c *Config) Secure() bool {
	return strings.HasPrefix(c.Server.BaseURL, "https://")
}

// Validate checks settings that would otherwise fail at first use. An unset
// session secret is replaced with InsecureSessionSecret outside https.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Database.QueryTimeout <= 0 {
		return errors.New("database.query_timeout must be positive")
	}
	if c.Auth.Enabled {
		if c.Auth.Username == "" {
			return errors.New("auth.username is required when auth is enabled")
		}
		if c.Auth.Password == "" && c.Auth.PasswordHash == "" {
			return errors.New("auth.password or auth.password_hash is required when auth is enabled")
		}
		if c.Auth.SessionExpiry <= 0 {
			return errors.New("auth.session_expiry must be positive")
		}
	}
	if c.Auth.SessionSecret == "" || c.Auth.SessionSecret == "change-me-in-production" {
		if c.Secure() {
			return errors.New("auth.session_secret must be set to a strong random value in production (try: openssl rand -hex 32)")
		}
		c.Auth.SessionSecret = InsecureSessionSecret
	}
	p := c.Pagination
	if p.DefaultPageSize <= 0 || p.MaxPageSize < p.DefaultPageSize {
		return fmt.Errorf("pagination: default %d and max %d are inconsistent", p.DefaultPageSize, p.MaxPageSize)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	return nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}
