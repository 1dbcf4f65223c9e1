// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/subtrack/subtrack/internal/auth"
	authpg "github.com/subtrack/subtrack/internal/auth/postgres"
	"github.com/subtrack/subtrack/internal/config"
	"github.com/subtrack/subtrack/internal/migration"
	"github.com/subtrack/subtrack/internal/ratelimit"
	"github.com/subtrack/subtrack/internal/store"
	subpg "github.com/subtrack/subtrack/internal/subscription/postgres"
)

// app holds the services built from one configuration.
type app struct {
	auth      *auth.Service
	migration *migration.Engine
	closers   []func() error
}

// limiter is the attempt limiter plus its lifecycle.
type limiter interface {
	auth.AttemptLimiter
	Close() error
}

// metrics is what the services record to.
type metrics interface {
	auth.Metrics
	migration.Metrics
}

// appOptions are the optional parts of buildApp.
type appOptions struct {
	Metrics  metrics
	Registry prometheus.Registerer
	// WithAuth builds the auth service and its limiter, which need the JWT
	// secret and the limiter backend.
	WithAuth bool
}

// buildApp wires repositories and services on db.
func buildApp(ctx context.Context, cfg *config.Config, db store.DB, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{}
	users := authpg.NewUserRepository(db)
	tx := store.NewTransactor(db)

	engine, err := migration.NewEngine(migration.EngineDeps{
		Users:         users,
		Subscriptions: subpg.NewSubscriptionRepository(db),
		Budgets:       subpg.NewBudgetRepository(db),
		Transactor:    tx,
		Logger:        logger,
		Metrics:       opts.Metrics,
	}, migration.Config{PersistTimeout: cfg.Migration.PersistTimeout})
	if err != nil {
		return nil, err
	}
	a.migration = engine

	if !opts.WithAuth {
		return a, nil
	}

	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		Secret:          []byte(cfg.Auth.JWTSecret),
		Issuer:          cfg.Auth.Issuer,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		return nil, err
	}

	lim, err := newLimiter(ctx, cfg.RateLimit, opts.Registry)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, lim.Close)

	svc, err := auth.NewService(auth.ServiceDeps{
		Users:      users,
		Sessions:   authpg.NewSessionRepository(db),
		Hasher:     auth.NewArgon2idHasher(),
		Tokens:     tokens,
		Limiter:    lim,
		Transactor: tx,
		Logger:     logger,
		Metrics:    opts.Metrics,
	}, auth.Config{
		PasswordPolicy:   auth.PasswordPolicy{MinLength: cfg.Auth.PasswordMinLength},
		AutoVerify:       cfg.Auth.AutoVerify,
		OperationTimeout: cfg.Auth.OperationTimeout,
	})
	if err != nil {
		a.close(logger)
		return nil, err
	}
	a.auth = svc
	return a, nil
}

// close releases what buildApp opened. Errors are logged.
func (a *app) close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("failed to release resource", "operation", "close", "error", err)
		}
	}
	a.closers = nil
}

func newLimiter(ctx context.Context, cfg config.RateLimitConfig, reg prometheus.Registerer) (limiter, error) {
	policy := ratelimit.Policy{MaxAttempts: cfg.MaxAttempts, Window: cfg.Window}

	if cfg.Backend != config.BackendRedis {
		mc := ratelimit.MemoryConfig{Policy: policy}
		if reg != nil {
			return ratelimit.NewMemoryLimiterWithRegistry(mc, reg), nil
		}
		return ratelimit.NewMemoryLimiter(mc), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("key", "rate_limit.redis_url").Wrap(err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("RATELIMIT_BACKEND_UNAVAILABLE").With("operation", "ping redis").Wrap(err)
	}
	return &redisLimiter{RedisLimiter: ratelimit.NewRedisLimiter(client, "", policy), client: client}, nil
}

// redisLimiter owns the client the limiter runs on.
type redisLimiter struct {
	*ratelimit.RedisLimiter
	client *redis.Client
}

func (l *redisLimiter) Close() error {
	return l.client.Close()
}
