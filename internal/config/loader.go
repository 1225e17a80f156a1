// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/tokenlink/tokenlink/internal/xdg"
)

// EnvPrefix is the prefix for environment overrides. A double underscore
// separates nesting levels: TOKENLINK_REMOTE__API_KEY sets remote.api_key.
const EnvPrefix = "TOKENLINK_"

// FlagKeys maps command-line flag names to config keys. Only flags listed
// here, and only when set explicitly, override lower layers.
var FlagKeys = map[string]string{
	"remote-url":       "remote.base_url",
	"remote-timeout":   "remote.timeout",
	"cooldown":         "cooldown.seconds",
	"token-validity":   "token.validity_seconds",
	"login-url":        "token.login_url",
	"log-format":       "logging.format",
	"log-level":        "logging.level",
	"addr":             "server.addr",
	"metrics-addr":     "server.metrics_addr",
	"shutdown-timeout": "server.shutdown_timeout",
}

// Loader reads configuration from its sources. A Loader can be reused to
// reload the same sources later.
type Loader struct {
	path     string
	explicit bool
	flags    *pflag.FlagSet
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithFlags overlays explicitly set flags from fs.
func WithFlags(fs *pflag.FlagSet) LoaderOption {
	return func(l *Loader) {
		l.flags = fs
	}
}

// NewLoader creates a Loader. An empty path means the XDG default, which may
// be absent; an explicit path must exist.
func NewLoader(path string, opts ...LoaderOption) *Loader {
	l := &Loader{
		path:     path,
		explicit: path != "",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the config file path the loader reads, resolving the XDG
// default when no path was given.
func (l *Loader) Path() string {
	if l.path != "" {
		return l.path
	}
	p, err := xdg.ConfigFile()
	if err != nil {
		return ""
	}
	return p
}

// Load reads every source, validates the result, and returns it.
func (l *Loader) Load() (*Config, error) {
	k := koanf.New(".")

	if err := setDefaults(k); err != nil {
		return nil, err
	}

	if err := l.loadFile(k); err != nil {
		return nil, err
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", l.envKey), nil); err != nil {
		return nil, oops.Code(CodeInvalid).With("source", "env").Wrapf(err, "load environment")
	}

	if l.flags != nil {
		p := posflag.ProviderWithFlag(l.flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(l.flags, f)
		})
		if err := k.Load(p, nil); err != nil {
			return nil, oops.Code(CodeInvalid).With("source", "flags").Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) loadFile(k *koanf.Koanf) error {
	path := l.Path()
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !l.explicit {
			return nil
		}
		return oops.Code(CodeInvalid).With("path", path).Wrapf(err, "config file")
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code(CodeInvalid).With("path", path).Wrapf(err, "parse config file")
	}
	return nil
}

// envKey turns TOKENLINK_REMOTE__BASE_URL into remote.base_url.
func (l *Loader) envKey(key, value string) (string, interface{}) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", "."), value
}

func setDefaults(k *koanf.Koanf) error {
	d := Default()
	defaults := map[string]any{
		"remote.base_url":           d.Remote.BaseURL,
		"remote.api_key":            d.Remote.APIKey,
		"remote.timeout":            d.Remote.Timeout,
		"cooldown.seconds":          d.Cooldown.Seconds,
		"cooldown.cleanup_interval": d.Cooldown.CleanupInterval,
		"cooldown.max_age":          d.Cooldown.MaxAge,
		"token.validity_seconds":    d.Token.ValiditySeconds,
		"token.login_url":           d.Token.LoginURL,
		"logging.enabled":           d.Logging.Enabled,
		"logging.format":            d.Logging.Format,
		"logging.level":             d.Logging.Level,
		"server.addr":               d.Server.Addr,
		"server.metrics_addr":       d.Server.MetricsAddr,
		"server.admin_token":        d.Server.AdminToken,
		"server.shutdown_timeout":   d.Server.ShutdownTimeout,
	}
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return oops.Code(CodeInvalid).With("field", key).Wrapf(err, "set default")
		}
	}
	return nil
}
