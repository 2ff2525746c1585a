// ABOUTME: Configuration loading and parsing for pennyworth.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pennyworth configuration.
type Config struct {
	Relay      RelayConfig      `yaml:"relay"`
	Database   DatabaseConfig   `yaml:"database"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Admin      AdminConfig      `yaml:"admin"`
	Limits     LimitsConfig     `yaml:"limits"`
	Flows      FlowsConfig      `yaml:"flows"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Logging    LoggingConfig    `yaml:"logging"`
	Users      []string         `yaml:"users"`
}

// RelayConfig holds the chat relay connection settings.
type RelayConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// DatabaseConfig holds ledger database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ExtractionConfig holds the receipt-extraction model settings.
type ExtractionConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// AdminConfig holds the admin HTTP API settings.
type AdminConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

// LimitsConfig holds per-user rate-limit budgets.
type LimitsConfig struct {
	TextLimit  int `yaml:"text_limit"`
	PhotoLimit int `yaml:"photo_limit"`

	TextWindow     time.Duration `yaml:"-"`
	PhotoWindow    time.Duration `yaml:"-"`
	TextWindowRaw  string        `yaml:"text_window"`
	PhotoWindowRaw string        `yaml:"photo_window"`
}

// FlowsConfig holds conversation flow settings.
type FlowsConfig struct {
	SessionTTL    time.Duration `yaml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl"`
}

// RecoveryConfig holds the session restart policy.
type RecoveryConfig struct {
	MaxFailures int `yaml:"max_failures"`

	InitialBackoff    time.Duration `yaml:"-"`
	MaxBackoff        time.Duration `yaml:"-"`
	FailureWindow     time.Duration `yaml:"-"`
	ShutdownGrace     time.Duration `yaml:"-"`
	InitialBackoffRaw string        `yaml:"initial_backoff"`
	MaxBackoffRaw     string        `yaml:"max_backoff"`
	FailureWindowRaw  string        `yaml:"failure_window"`
	ShutdownGraceRaw  string        `yaml:"shutdown_grace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded, and
// duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in unset optional fields.
func (c *Config) applyDefaults() {
	if c.Limits.TextLimit == 0 {
		c.Limits.TextLimit = 20
	}
	if c.Limits.TextWindow == 0 {
		c.Limits.TextWindow = time.Minute
	}
	if c.Limits.PhotoLimit == 0 {
		c.Limits.PhotoLimit = 3
	}
	if c.Limits.PhotoWindow == 0 {
		c.Limits.PhotoWindow = time.Minute
	}
	if c.Flows.SessionTTL == 0 {
		c.Flows.SessionTTL = 10 * time.Minute
	}
	if c.Extraction.Timeout == 0 {
		c.Extraction.Timeout = 30 * time.Second
	}
	if c.Recovery.InitialBackoff == 0 {
		c.Recovery.InitialBackoff = time.Second
	}
	if c.Recovery.MaxBackoff == 0 {
		c.Recovery.MaxBackoff = time.Minute
	}
	if c.Recovery.MaxFailures == 0 {
		c.Recovery.MaxFailures = 5
	}
	if c.Recovery.FailureWindow == 0 {
		c.Recovery.FailureWindow = 10 * time.Minute
	}
	if c.Recovery.ShutdownGrace == 0 {
		c.Recovery.ShutdownGrace = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Admin.Addr != "" && c.Admin.JWTSecret == "" {
		return fmt.Errorf("admin.jwt_secret is required when admin.addr is set")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Extraction.TimeoutRaw, &cfg.Extraction.Timeout, "extraction.timeout"},
		{cfg.Limits.TextWindowRaw, &cfg.Limits.TextWindow, "limits.text_window"},
		{cfg.Limits.PhotoWindowRaw, &cfg.Limits.PhotoWindow, "limits.photo_window"},
		{cfg.Flows.SessionTTLRaw, &cfg.Flows.SessionTTL, "flows.session_ttl"},
		{cfg.Recovery.InitialBackoffRaw, &cfg.Recovery.InitialBackoff, "recovery.initial_backoff"},
		{cfg.Recovery.MaxBackoffRaw, &cfg.Recovery.MaxBackoff, "recovery.max_backoff"},
		{cfg.Recovery.FailureWindowRaw, &cfg.Recovery.FailureWindow, "recovery.failure_window"},
		{cfg.Recovery.ShutdownGraceRaw, &cfg.Recovery.ShutdownGrace, "recovery.shutdown_grace"},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
