// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

// Package web exposes the auth and migration services over a JSON HTTP API.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/subtrack/subtrack/internal/auth"
	"github.com/subtrack/subtrack/internal/migration"
)

// DefaultRequestTimeout bounds one request.
const DefaultRequestTimeout = 30 * time.Second

// AuthService is the part of auth.Service the API serves.
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string, client auth.ClientInfo) (*auth.TokenPair, error)
	Logout(ctx context.Context, userID ulid.ULID, refreshToken string) error
	LogoutAll(ctx context.Context, userID ulid.ULID) (int64, error)
	VerifyToken(ctx context.Context, accessToken string) (ulid.ULID, error)
	GetUserProfile(ctx context.Context, userID ulid.ULID) (*auth.Profile, error)
}

// MigrationService is the part of migration.Engine the API serves.
type MigrationService interface {
	MigrateUserData(ctx context.Context, userID ulid.ULID, payload migration.LegacyPayload) (*migration.Result, error)
	GetMigrationStatus(ctx context.Context, userID ulid.ULID) (*migration.Status, error)
	ClearMigrationFlag(ctx context.Context, userID ulid.ULID) error
}

// RequestRecorder counts served requests.
type RequestRecorder interface {
	RecordRequest(route string, status int)
}

// Deps are the collaborators of the API. Logger and Metrics are optional.
type Deps struct {
	Auth      AuthService
	Migration MigrationService
	Logger    *slog.Logger
	Metrics   RequestRecorder
	// RequestTimeout defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// API holds the handlers.
type API struct {
	auth      AuthService
	migration MigrationService
	logger    *slog.Logger
	metrics   RequestRecorder
}

// NewRouter builds the HTTP handler for the API.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = discardLogger()
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	a := &API{
		auth:      deps.Auth,
		migration: deps.Migration,
		logger:    logger.With("component", "http"),
		metrics:   deps.Metrics,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.observe)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", a.register)
		r.Post("/login", a.login)
		r.Post("/refresh", a.refresh)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Get("/profile", a.profile)
			r.Post("/logout", a.logout)
			r.Post("/logout-all", a.logoutAll)
		})
	})

	if a.migration != nil {
		r.Route("/migration", func(r chi.Router) {
			r.Use(a.authenticate)
			r.Post("/", a.migrate)
			r.Get("/status", a.migrationStatus)
			r.Delete("/flag", a.clearMigrationFlag)
		})
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Message: "Not found", Error: "NOT_FOUND"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Message: "Method not allowed", Error: "METHOD_NOT_ALLOWED"})
	})

	return r
}
