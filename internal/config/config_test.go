package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("port %q, want 8080", cfg.Server.Port)
	}
	if cfg.Yahoo.Endpoint != "https://query1.finance.yahoo.com" {
		t.Fatalf("endpoint %q", cfg.Yahoo.Endpoint)
	}
	if cfg.Yahoo.MaxAttempts != 4 || cfg.Yahoo.BackoffBaseMs != 500 {
		t.Fatalf("retry defaults wrong: %+v", cfg.Yahoo)
	}
	if cfg.Yahoo.ActionWindowPadDays != 30 {
		t.Fatalf("pad days %d, want 30", cfg.Yahoo.ActionWindowPadDays)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"server": {"port": "9090", "request_timeout_sec": 30},
		"yahoo": {
			"max_attempts": 2,
			"action_window_pad_days": 45,
			"field_map": {"adjclose_v2": "adjusted_close"}
		}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Server.RequestTimeoutSec != 30 {
		t.Fatalf("server not overridden: %+v", cfg.Server)
	}
	if cfg.Yahoo.MaxAttempts != 2 || cfg.Yahoo.ActionWindowPadDays != 45 {
		t.Fatalf("yahoo not overridden: %+v", cfg.Yahoo)
	}
	if cfg.Yahoo.FieldMap["adjclose_v2"] != "adjusted_close" {
		t.Fatalf("field map not loaded: %+v", cfg.Yahoo.FieldMap)
	}
	// untouched fields keep defaults
	if cfg.Yahoo.Endpoint != "https://query1.finance.yahoo.com" {
		t.Fatalf("endpoint lost: %q", cfg.Yahoo.Endpoint)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config accepted")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server": {"port": "9090"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PORT", "7070")
	t.Setenv("YAHOO_MAX_ATTEMPTS", "6")
	t.Setenv("YAHOO_BACKOFF_JITTER", "false")
	t.Setenv("YAHOO_FIELD_MAP", "last=close, adj=adjusted_close")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("port %q, want env override 7070", cfg.Server.Port)
	}
	if cfg.Yahoo.MaxAttempts != 6 {
		t.Fatalf("max attempts %d, want 6", cfg.Yahoo.MaxAttempts)
	}
	if cfg.Yahoo.BackoffJitter {
		t.Fatal("jitter should be disabled by env")
	}
	if cfg.Yahoo.FieldMap["last"] != "close" || cfg.Yahoo.FieldMap["adj"] != "adjusted_close" {
		t.Fatalf("field map env not parsed: %+v", cfg.Yahoo.FieldMap)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"timeout below one", func(c *Config) { c.Server.RequestTimeoutSec = 0 }},
		{"empty endpoint", func(c *Config) { c.Yahoo.Endpoint = "" }},
		{"zero attempts", func(c *Config) { c.Yahoo.MaxAttempts = 0 }},
		{"negative backoff", func(c *Config) { c.Yahoo.BackoffBaseMs = -1 }},
		{"multiplier below one", func(c *Config) { c.Yahoo.BackoffMultiplier = 0.5 }},
		{"negative pad days", func(c *Config) { c.Yahoo.ActionWindowPadDays = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestParseFieldMap(t *testing.T) {
	m := parseFieldMap("a=b, c=d ,bad,=x,y=")
	if len(m) != 2 || m["a"] != "b" || m["c"] != "d" {
		t.Fatalf("got %+v", m)
	}
}
