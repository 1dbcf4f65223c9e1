// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

// Package config loads subtrack configuration. Values come from built-in
// defaults, then an optional YAML file, then command-line flags the user
// set, then the environment for secrets.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Rate limiter backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the full service configuration.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Migration MigrationConfig `koanf:"migration"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL             string        `koanf:"url" env:"DATABASE_URL"`
	MaxConns        int32         `koanf:"max_conns"`
	ConnectAttempts uint64        `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// AuthConfig configures tokens, passwords and sessions.
type AuthConfig struct {
	JWTSecret         string        `koanf:"jwt_secret" env:"SUBTRACK_JWT_SECRET"`
	Issuer            string        `koanf:"issuer"`
	AccessTokenTTL    time.Duration `koanf:"access_token_ttl"`
	RefreshTokenTTL   time.Duration `koanf:"refresh_token_ttl"`
	PasswordMinLength int           `koanf:"password_min_length"`
	AutoVerify        bool          `koanf:"auto_verify"`
	OperationTimeout  time.Duration `koanf:"operation_timeout"`
	SessionPurge      time.Duration `koanf:"session_purge_interval"`
}

// RateLimitConfig configures the login attempt limiter.
type RateLimitConfig struct {
	Backend     string        `koanf:"backend"`
	RedisURL    string        `koanf:"redis_url" env:"SUBTRACK_REDIS_URL"`
	MaxAttempts int           `koanf:"max_attempts"`
	Window      time.Duration `koanf:"window"`
}

// MigrationConfig configures the legacy data migration engine.
type MigrationConfig struct {
	PersistTimeout time.Duration `koanf:"persist_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
		Database: DatabaseConfig{
			MaxConns:        10,
			ConnectAttempts: 5,
			ConnectBackoff:  500 * time.Millisecond,
			AutoMigrate:     true,
		},
		Auth: AuthConfig{
			Issuer:            "subtrack",
			AccessTokenTTL:    15 * time.Minute,
			RefreshTokenTTL:   7 * 24 * time.Hour,
			PasswordMinLength: 8,
			AutoVerify:        true,
			OperationTimeout:  10 * time.Second,
			SessionPurge:      time.Hour,
		},
		RateLimit: RateLimitConfig{
			Backend:     BackendMemory,
			MaxAttempts: 5,
			Window:      15 * time.Minute,
		},
		Migration: MigrationConfig{PersistTimeout: 30 * time.Second},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"config":             "",
	"http-addr":          "http.addr",
	"metrics-addr":       "metrics.addr",
	"log-format":         "log.format",
	"log-level":          "log.level",
	"database-url":       "database.url",
	"auto-migrate":       "database.auto_migrate",
	"rate-limit-backend": "rate_limit.backend",
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a YAML config file (default: $XDG_CONFIG_HOME/subtrack/config.yaml when present)")
	fs.String("http-addr", d.HTTP.Addr, "HTTP API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("database-url", "", "PostgreSQL connection URL (or DATABASE_URL)")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply schema migrations on startup")
	fs.String("rate-limit-backend", d.RateLimit.Backend, "login rate limiter backend (memory or redis)")
}

// Load builds the configuration. path may be empty; fs may be nil. Only
// flags the user changed override file values.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || key == "" || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("source", "koanf").Wrap(err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("source", "env").Wrap(err)
	}

	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	cfg.RateLimit.Backend = strings.ToLower(cfg.RateLimit.Backend)
	return &cfg, nil
}

// Validate checks the configuration. Secrets are checked by RequireSecrets
// since not every command needs them.
func (c *Config) Validate() error {
	switch {
	case c.Database.URL == "":
		return invalid("database.url", "database URL is required (set DATABASE_URL)")
	case c.Log.Format != "json" && c.Log.Format != "text":
		return invalid("log.format", "log format must be json or text")
	case c.RateLimit.Backend != BackendMemory && c.RateLimit.Backend != BackendRedis:
		return invalid("rate_limit.backend", "rate limit backend must be memory or redis")
	case c.RateLimit.Backend == BackendRedis && c.RateLimit.RedisURL == "":
		return invalid("rate_limit.redis_url", "redis URL is required for the redis backend (set SUBTRACK_REDIS_URL)")
	case c.RateLimit.MaxAttempts < 1:
		return invalid("rate_limit.max_attempts", "max attempts must be at least 1")
	case c.RateLimit.Window <= 0:
		return invalid("rate_limit.window", "window must be positive")
	case c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0:
		return invalid("auth", "token lifetimes must be positive")
	case c.Auth.PasswordMinLength < 1:
		return invalid("auth.password_min_length", "password minimum length must be at least 1")
	case c.Database.ConnectAttempts < 1:
		return invalid("database.connect_attempts", "connect attempts must be at least 1")
	}
	return nil
}

// RequireSecrets checks the secrets the API server needs.
func (c *Config) RequireSecrets() error {
	if c.Auth.JWTSecret == "" {
		return invalid("auth.jwt_secret", "JWT secret is required (set SUBTRACK_JWT_SECRET)")
	}
	return nil
}

func invalid(key, msg string) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf("%s", msg)
}
