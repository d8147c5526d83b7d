package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.QueryTimeout != 5*time.Second || cfg.Auth.SessionExpiry != 24*time.Hour {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.toml")
	doc := `
[server]
addr = ":9000"

[database]
path = "/srv/bot.db"
query_timeout = "2s"

[auth]
enabled = false
session_expiry = "12h"

[pagination]
default_page_size = 50
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Database.Path != "/srv/bot.db" {
		t.Errorf("server/database = %+v %+v", cfg.Server, cfg.Database)
	}
	if cfg.Database.QueryTimeout != 2*time.Second || cfg.Auth.SessionExpiry != 12*time.Hour {
		t.Errorf("durations = %v %v", cfg.Database.QueryTimeout, cfg.Auth.SessionExpiry)
	}
	if cfg.Auth.Enabled {
		t.Error("auth should be disabled")
	}
	// Keys absent from the file keep their defaults.
	if cfg.Pagination.MaxPageSize != 100 || cfg.Discord.APIBase == "" {
		t.Errorf("defaults lost: %+v %+v", cfg.Pagination, cfg.Discord)
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.toml")
	if err := os.WriteFile(path, []byte("[server\naddr ="), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parsing config") {
		t.Errorf("err = %v, want parse error", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PANEL_USERNAME":      "mod",
		"PANEL_PASSWORD":      "hunter2",
		"PANEL_AUTH_ENABLED":  "false",
		"DISCORD_TOKEN":       "bot-token",
		"PANEL_QUERY_TIMEOUT": "750ms",
		"PANEL_LOG_FORMAT":    "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := DefaultConfig()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Auth.Username != "mod" || cfg.Auth.Password != "hunter2" || cfg.Auth.Enabled {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Discord.BotToken != "bot-token" {
		t.Errorf("bot token = %q", cfg.Discord.BotToken)
	}
	if cfg.Database.QueryTimeout != 750*time.Millisecond {
		t.Errorf("query timeout = %v", cfg.Database.QueryTimeout)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("empty variable overrode format: %q", cfg.Log.Format)
	}

	env["PANEL_AUTH_ENABLED"] = "maybe"
	if err := cfg.applyEnv(lookup); err == nil {
		t.Error("expected error for non-boolean PANEL_AUTH_ENABLED")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"no db path", func(c *Config) { c.Database.Path = "" }, true},
		{"zero timeout", func(c *Config) { c.Database.QueryTimeout = 0 }, true},
		{"no password", func(c *Config) { c.Auth.Password = "" }, true},
		{"hash only", func(c *Config) { c.Auth.Password, c.Auth.PasswordHash = "", "$2a$10$x" }, false},
		{"auth off without password", func(c *Config) { c.Auth.Enabled, c.Auth.Password = false, "" }, false},
		{"https without secret", func(c *Config) { c.Server.BaseURL = "https://panel.example" }, true},
		{"https with secret", func(c *Config) {
			c.Server.BaseURL = "https://panel.example"
			c.Auth.SessionSecret = "0123456789abcdef"
		}, false},
		{"page sizes", func(c *Config) { c.Pagination.MaxPageSize = 10 }, true},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_DevSecret(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.SessionSecret != InsecureSessionSecret {
		t.Errorf("secret = %q", cfg.Auth.SessionSecret)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("dropped")
	logger.Warn("kept", "guild_id", "42")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["guild_id"] != "42" {
		t.Errorf("record = %v", rec)
	}
}
