// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

// Package config loads and validates TokenLink configuration.
//
// Values are layered in this order, later layers winning: built-in defaults,
// the YAML config file, TOKENLINK_* environment variables, and explicitly set
// command-line flags.
package config

import (
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/tokenlink/tokenlink/internal/logging"
)

// CodeInvalid is the error code for configuration problems.
const CodeInvalid = "CONFIG_INVALID"

// maxSeconds is the largest second count that fits in a time.Duration.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// Default values.
const (
	DefaultRemoteTimeout   = 10 * time.Second
	DefaultCooldownSeconds = 60
	DefaultCleanupInterval = 5 * time.Minute
	DefaultMaxAge          = time.Hour
	DefaultValiditySeconds = 300
	DefaultLoginURL        = "https://mc.nordics.world/login"
	DefaultLogFormat       = "json"
	DefaultLogLevel        = "info"
	DefaultAddr            = "127.0.0.1:8085"
	DefaultMetricsAddr     = "127.0.0.1:9100"
	DefaultShutdownTimeout = 10 * time.Second
)

// Config is the full TokenLink configuration.
type Config struct {
	Remote   RemoteConfig   `koanf:"remote" json:"remote" yaml:"remote"`
	Cooldown CooldownConfig `koanf:"cooldown" json:"cooldown" yaml:"cooldown"`
	Token    TokenConfig    `koanf:"token" json:"token" yaml:"token"`
	Logging  LoggingConfig  `koanf:"logging" json:"logging" yaml:"logging"`
	Server   ServerConfig   `koanf:"server" json:"server" yaml:"server"`
}

// RemoteConfig points at the remote token store.
type RemoteConfig struct {
	BaseURL string        `koanf:"base_url" json:"base_url" yaml:"base_url"`
	APIKey  string        `koanf:"api_key" json:"api_key" yaml:"api_key"`
	Timeout time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout"`
}

// CooldownConfig configures the per-player cooldown gate.
type CooldownConfig struct {
	Seconds         int           `koanf:"seconds" json:"seconds" yaml:"seconds"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" json:"cleanup_interval" yaml:"cleanup_interval"`
	MaxAge          time.Duration `koanf:"max_age" json:"max_age" yaml:"max_age"`
}

// TokenConfig configures issued tokens.
type TokenConfig struct {
	ValiditySeconds int    `koanf:"validity_seconds" json:"validity_seconds" yaml:"validity_seconds"`
	LoginURL        string `koanf:"login_url" json:"login_url" yaml:"login_url"`
}

// LoggingConfig configures operator logging. Enabled gates per-request
// diagnostics; startup and failure-to-start logs are always written.
type LoggingConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Format  string `koanf:"format" json:"format" yaml:"format"`
	Level   string `koanf:"level" json:"level" yaml:"level"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Addr            string        `koanf:"addr" json:"addr" yaml:"addr"`
	MetricsAddr     string        `koanf:"metrics_addr" json:"metrics_addr" yaml:"metrics_addr"`
	AdminToken      string        `koanf:"admin_token" json:"admin_token" yaml:"admin_token"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns a Config with every default applied. Remote credentials
// have no default.
func Default() Config {
	return Config{
		Remote: RemoteConfig{
			Timeout: DefaultRemoteTimeout,
		},
		Cooldown: CooldownConfig{
			Seconds:         DefaultCooldownSeconds,
			CleanupInterval: DefaultCleanupInterval,
			MaxAge:          DefaultMaxAge,
		},
		Token: TokenConfig{
			ValiditySeconds: DefaultValiditySeconds,
			LoginURL:        DefaultLoginURL,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Format:  DefaultLogFormat,
			Level:   DefaultLogLevel,
		},
		Server: ServerConfig{
			Addr:            DefaultAddr,
			MetricsAddr:     DefaultMetricsAddr,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
	}
}

// Validate checks that the configuration is usable. Errors carry the
// offending key under "field".
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Remote.BaseURL) == "" {
		return invalid("remote.base_url", "remote base url is required")
	}
	if u, err := url.Parse(c.Remote.BaseURL); err != nil || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		return invalid("remote.base_url", "remote base url must be an absolute http(s) url")
	}
	if strings.TrimSpace(c.Remote.APIKey) == "" {
		return invalid("remote.api_key", "remote api key is required")
	}
	if c.Remote.Timeout <= 0 {
		return invalid("remote.timeout", "remote timeout must be positive")
	}
	if c.Cooldown.Seconds < 0 {
		return invalid("cooldown.seconds", "cooldown seconds cannot be negative")
	}
	if int64(c.Cooldown.Seconds) > maxSeconds {
		return invalid("cooldown.seconds", "cooldown seconds too large")
	}
	if c.Cooldown.CleanupInterval <= 0 {
		return invalid("cooldown.cleanup_interval", "cleanup interval must be positive")
	}
	if c.Cooldown.MaxAge <= 0 {
		return invalid("cooldown.max_age", "max age must be positive")
	}
	if c.Token.ValiditySeconds <= 0 {
		return invalid("token.validity_seconds", "token validity must be positive")
	}
	if int64(c.Token.ValiditySeconds) > maxSeconds {
		return invalid("token.validity_seconds", "token validity too large")
	}
	if u, err := url.Parse(c.Token.LoginURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("token.login_url", "login url must be an absolute url")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return oops.Code(CodeInvalid).
			With("field", "logging.format").
			Errorf("logging format must be 'json' or 'text', got %q", c.Logging.Format)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return oops.Code(CodeInvalid).
			With("field", "logging.level").
			Errorf("logging level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Server.Addr == "" {
		return invalid("server.addr", "server address is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return invalid("server.shutdown_timeout", "shutdown timeout must be positive")
	}
	return nil
}

// CooldownWindow returns the cooldown as a duration.
func (c *Config) CooldownWindow() time.Duration {
	return time.Duration(c.Cooldown.Seconds) * time.Second
}

// TokenValidity returns the token lifetime as a duration.
func (c *Config) TokenValidity() time.Duration {
	return time.Duration(c.Token.ValiditySeconds) * time.Second
}

// Redacted returns a copy safe to print, with secrets masked.
func (c Config) Redacted() Config {
	c.Remote.APIKey = mask(c.Remote.APIKey)
	c.Server.AdminToken = mask(c.Server.AdminToken)
	return c
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func invalid(field, msg string) error {
	return oops.Code(CodeInvalid).With("field", field).Errorf("%s", msg)
}
