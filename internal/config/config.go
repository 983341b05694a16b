package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Yahoo struct {
	Endpoint string `json:"endpoint"`

	// Retry policy for transient upstream failures.
	MaxAttempts       int     `json:"max_attempts"`
	BackoffBaseMs     int     `json:"backoff_base_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	BackoffJitter     bool    `json:"backoff_jitter"`

	// Rate budget shared by all concurrent calls against the upstream.
	MaxRequestsPerMinute  int `json:"max_requests_per_minute"`
	Burst                 int `json:"burst"`
	MinRequestIntervalSec int `json:"min_request_interval_sec"`

	// ActionWindowPadDays extends the corporate-action fetch window past
	// the requested end date so later actions still adjust in-range bars.
	ActionWindowPadDays int `json:"action_window_pad_days"`

	// FieldMap overrides upstream-to-canonical field names, for patching
	// upstream schema drift without a code change.
	FieldMap map[string]string `json:"field_map"`

	CacheTTLSeconds int `json:"cache_ttl_sec"`
	CacheMaxEntries int `json:"cache_max_entries"`
}

type Config struct {
	Server Server `json:"server"`
	Yahoo  Yahoo  `json:"yahoo"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 15},
		Yahoo: Yahoo{
			Endpoint:             "https://query1.finance.yahoo.com",
			MaxAttempts:          4,
			BackoffBaseMs:        500,
			BackoffMultiplier:    2.0,
			BackoffJitter:        true,
			MaxRequestsPerMinute: 60,
			Burst:                5,
			ActionWindowPadDays:  30,
			CacheTTLSeconds:      300,
			CacheMaxEntries:      10000,
		},
	}
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. Environment variables override select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that values are usable before anything dials out.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Server.RequestTimeoutSec < 1 {
		return errors.New("server.request_timeout_sec must be >= 1")
	}
	if c.Yahoo.Endpoint == "" {
		return errors.New("yahoo.endpoint is required")
	}
	if c.Yahoo.MaxAttempts < 1 {
		return errors.New("yahoo.max_attempts must be >= 1")
	}
	if c.Yahoo.BackoffBaseMs < 0 {
		return errors.New("yahoo.backoff_base_ms must be >= 0")
	}
	if c.Yahoo.BackoffMultiplier < 1 {
		return errors.New("yahoo.backoff_multiplier must be >= 1")
	}
	if c.Yahoo.ActionWindowPadDays < 0 {
		return errors.New("yahoo.action_window_pad_days must be >= 0")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v, ok := envInt("REQUEST_TIMEOUT_SEC"); ok {
		cfg.Server.RequestTimeoutSec = v
	}
	if v := os.Getenv("YAHOO_ENDPOINT"); v != "" {
		cfg.Yahoo.Endpoint = v
	}
	if v, ok := envInt("YAHOO_MAX_ATTEMPTS"); ok {
		cfg.Yahoo.MaxAttempts = v
	}
	if v, ok := envInt("YAHOO_BACKOFF_BASE_MS"); ok {
		cfg.Yahoo.BackoffBaseMs = v
	}
	if v := os.Getenv("YAHOO_BACKOFF_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Yahoo.BackoffMultiplier = f
		}
	}
	if v, ok := envBool("YAHOO_BACKOFF_JITTER"); ok {
		cfg.Yahoo.BackoffJitter = v
	}
	if v, ok := envInt("YAHOO_MAX_RPM"); ok {
		cfg.Yahoo.MaxRequestsPerMinute = v
	}
	if v, ok := envInt("YAHOO_BURST"); ok {
		cfg.Yahoo.Burst = v
	}
	if v, ok := envInt("YAHOO_MIN_INTERVAL_SEC"); ok {
		cfg.Yahoo.MinRequestIntervalSec = v
	}
	if v, ok := envInt("YAHOO_ACTION_PAD_DAYS"); ok {
		cfg.Yahoo.ActionWindowPadDays = v
	}
	if v, ok := envInt("YAHOO_CACHE_TTL_SEC"); ok {
		cfg.Yahoo.CacheTTLSeconds = v
	}
	if v, ok := envInt("YAHOO_CACHE_MAX_ENTRIES"); ok {
		cfg.Yahoo.CacheMaxEntries = v
	}
	if v := os.Getenv("YAHOO_FIELD_MAP"); v != "" {
		if m := parseFieldMap(v); len(m) > 0 {
			cfg.Yahoo.FieldMap = m
		}
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	x, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return x, true
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		return true, true
	case "0", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

// parseFieldMap reads "upstream=canonical,upstream2=canonical2".
func parseFieldMap(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}
