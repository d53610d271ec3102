// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

// Package config loads server configuration from an optional YAML file and
// command-line flags. Flags that were set win over the file; the file wins
// over flag defaults.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/sheetkeeper/sheetkeeper/internal/auth"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// Config is the full server configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Store    StoreConfig    `koanf:"store"`
	Session  SessionConfig  `koanf:"session"`
	Argon2   Argon2Config   `koanf:"argon2"`
}

// HTTPConfig configures the public listener and cookie behavior.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
	// LoginRedirect, when set, turns gate 401s into 303s to this path.
	LoginRedirect string `koanf:"login_redirect"`
	// SecureCookies forces the Secure attribute even behind plain HTTP.
	SecureCookies bool `koanf:"secure_cookies"`
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// DatabaseConfig configures PostgreSQL access.
type DatabaseConfig struct {
	URL             string `koanf:"url"`
	ConnectAttempts int    `koanf:"connect_attempts"`
}

// StoreConfig selects where users live.
type StoreConfig struct {
	Backend  string        `koanf:"backend"`
	BoltPath string        `koanf:"bolt_path"`
	Timeout  time.Duration `koanf:"timeout"`
}

// SessionConfig selects where sessions live and how long they last.
type SessionConfig struct {
	Backend  string        `koanf:"backend"`
	Validity time.Duration `koanf:"validity"`
	Rotate   bool          `koanf:"rotate"`
}

// Argon2Config holds the cost parameters for new password hashes.
type Argon2Config struct {
	Time      uint32 `koanf:"time"`
	MemoryKiB uint32 `koanf:"memory_kib"`
	Threads   uint8  `koanf:"threads"`
}

// Params converts the config to hasher parameters.
func (c Argon2Config) Params() auth.Argon2Params {
	return auth.Argon2Params{Time: c.Time, MemoryKiB: c.MemoryKiB, Threads: c.Threads}
}

// RegisterFlags adds every config key to flags, e.g. --http-addr or
// --http-login-redirect.
func RegisterFlags(flags *pflag.FlagSet) {
	def := auth.DefaultArgon2Params()

	flags.String("http-addr", ":8080", "public HTTP listen address")
	flags.String("http-login-redirect", "", "redirect unauthenticated requests to this path instead of 401")
	flags.Bool("http-secure-cookies", false, "always mark the session cookie Secure")
	flags.String("metrics-addr", ":9100", "metrics and health listen address (empty disables)")
	flags.String("log-format", "json", "log format: json or text")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("database-url", "", "PostgreSQL URL (default $DATABASE_URL)")
	flags.Int("database-connect-attempts", 5, "database connection attempts at startup")
	flags.String("store-backend", BackendMemory, "user store: memory, postgres or bolt")
	flags.String("store-bolt-path", "sheetkeeper.db", "bolt database file for the bolt user store")
	flags.Duration("store-timeout", auth.DefaultStoreTimeout, "timeout for each store call")
	flags.String("session-backend", BackendMemory, "session table: memory or postgres")
	flags.Duration("session-validity", auth.DefaultSessionValidity, "lifetime of issued and rotated sessions")
	flags.Bool("session-rotate", true, "rotate the session token on every gated request")
	flags.Uint32("argon2-time", def.Time, "argon2id iterations")
	flags.Uint32("argon2-memory-kib", def.MemoryKiB, "argon2id memory in KiB")
	flags.Uint8("argon2-threads", def.Threads, "argon2id parallelism")
}

// flagKey maps a flag name to its config key: the first dash separates the
// section and later dashes become underscores, so "http-login-redirect" is
// "http.login_redirect".
func flagKey(name string) string {
	section, rest, ok := strings.Cut(name, "-")
	if !ok {
		return name
	}
	return section + "." + strings.ReplaceAll(rest, "-", "_")
}

// Load reads path (if non-empty) and then flags. A missing file is an error
// only when required is true.
func Load(path string, required bool, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil && !required && errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
		return flagKey(f.Name), posflag.FlagVal(flags, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unusable combinations.
func (c *Config) Validate() error {
	invalid := func(key string, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	switch c.Store.Backend {
	case BackendMemory, BackendBolt:
	case BackendPostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "store.backend=postgres requires database.url or $DATABASE_URL")
		}
	default:
		return invalid("store.backend", "unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == BackendBolt && c.Store.BoltPath == "" {
		return invalid("store.bolt_path", "store.backend=bolt requires store.bolt_path")
	}

	switch c.Session.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "session.backend=postgres requires database.url or $DATABASE_URL")
		}
	default:
		return invalid("session.backend", "unknown session backend %q", c.Session.Backend)
	}

	if c.Session.Validity <= 0 {
		return invalid("session.validity", "session.validity must be positive, got %s", c.Session.Validity)
	}
	if c.Store.Timeout <= 0 {
		return invalid("store.timeout", "store.timeout must be positive, got %s", c.Store.Timeout)
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}
	if c.HTTP.LoginRedirect != "" && !strings.HasPrefix(c.HTTP.LoginRedirect, "/") {
		return invalid("http.login_redirect", "http.login_redirect must be an absolute path")
	}
	return nil
}

// NeedsDatabase reports whether any backend uses PostgreSQL.
func (c *Config) NeedsDatabase() bool {
	return c.Store.Backend == BackendPostgres || c.Session.Backend == BackendPostgres
}
