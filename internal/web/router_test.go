// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subtrack/subtrack/internal/auth"
	"github.com/subtrack/subtrack/internal/auth/authtest"
	"github.com/subtrack/subtrack/internal/migration"
	"github.com/subtrack/subtrack/internal/ratelimit"
	"github.com/subtrack/subtrack/internal/web"
	"github.com/subtrack/subtrack/pkg/errutil"
)

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

type fakeMigration struct {
	result *migration.Result
	status *migration.Status
	err    error
	userID ulid.ULID
}

func (f *fakeMigration) MigrateUserData(_ context.Context, userID ulid.ULID, _ migration.LegacyPayload) (*migration.Result, error) {
	f.userID = userID
	return f.result, f.err
}

func (f *fakeMigration) GetMigrationStatus(_ context.Context, userID ulid.ULID) (*migration.Status, error) {
	f.userID = userID
	return f.status, f.err
}

func (f *fakeMigration) ClearMigrationFlag(_ context.Context, userID ulid.ULID) error {
	f.userID = userID
	return f.err
}

type countingRecorder struct {
	routes map[string]int
}

func (c *countingRecorder) RecordRequest(route string, _ int) {
	if c.routes == nil {
		c.routes = make(map[string]int)
	}
	c.routes[route]++
}

type fixture struct {
	handler   http.Handler
	migration *fakeMigration
	metrics   *countingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	limiter := ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{})
	t.Cleanup(func() { _ = limiter.Close() })

	hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 64, Threads: 1, SaltLen: 16, KeyLen: 32})
	require.NoError(t, err)
	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := auth.NewService(auth.ServiceDeps{
		Users:      authtest.NewUserStore(),
		Sessions:   authtest.NewSessionStore(),
		Hasher:     hasher,
		Tokens:     tokens,
		Limiter:    limiter,
		Transactor: authtest.Transactor{},
		Logger:     logger,
	}, auth.DefaultConfig())
	require.NoError(t, err)

	f := &fixture{migration: &fakeMigration{}, metrics: &countingRecorder{}}
	f.handler = web.NewRouter(web.Deps{
		Auth:      svc,
		Migration: f.migration,
		Logger:    logger,
		Metrics:   f.metrics,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body, token string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	return rec, resp
}

type authData struct {
	User         map[string]any `json:"user"`
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
}

func (f *fixture) register(t *testing.T, email string) authData {
	t.Helper()
	rec, resp := f.do(t, http.MethodPost, "/auth/register",
		`{"email":"`+email+`","password":"password123","name":"Web User"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var data authData
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	return data
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	data := f.register(t, "web@example.com")
	assert.NotEmpty(t, data.AccessToken)
	assert.NotEmpty(t, data.RefreshToken)
	assert.Equal(t, "web@example.com", data.User["email"])
	assert.NotContains(t, data.User, "passwordHash")
	assert.NotContains(t, data.User, "PasswordHash")

	rec, resp := f.do(t, http.MethodPost, "/auth/register",
		`{"email":"WEB@example.com","password":"password123","name":"Again"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "CONFLICT", resp.Error)
	assert.Equal(t, "An account with this email already exists", resp.Message)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"short password", `{"email":"a@example.com","password":"abc","name":"A"}`},
		{"bad email", `{"email":"nope","password":"password123","name":"A"}`},
		{"malformed json", `{"email":`},
		{"empty body", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := f.do(t, http.MethodPost, "/auth/register", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", resp.Error)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	f.register(t, "login@example.com")

	rec, resp := f.do(t, http.MethodPost, "/auth/login", `{"email":"login@example.com","password":"password123"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = f.do(t, http.MethodPost, "/auth/login", `{"email":"login@example.com"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, wrong := f.do(t, http.MethodPost, "/auth/login", `{"email":"login@example.com","password":"wrong-password"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, unknown := f.do(t, http.MethodPost, "/auth/login", `{"email":"ghost@example.com","password":"wrong-password"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, wrong.Message, unknown.Message, "unknown email and wrong password look the same")
}

func TestLogin_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.register(t, "limited@example.com")

	for range ratelimit.DefaultMaxAttempts {
		rec, _ := f.do(t, http.MethodPost, "/auth/login", `{"email":"limited@example.com","password":"wrong-password"}`, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec, resp := f.do(t, http.MethodPost, "/auth/login", `{"email":"limited@example.com","password":"password123"}`, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", resp.Error)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestLogin_RateLimitIgnoresClientRotation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "victim@example.com")

	login := func(i int, password string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email":"victim@example.com","password":"`+password+`"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i))
		req.RemoteAddr = fmt.Sprintf("192.0.2.%d:4%03d", i+1, i)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := range ratelimit.DefaultMaxAttempts {
		require.Equal(t, http.StatusUnauthorized, login(i, "wrong-password"), "attempt %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, login(ratelimit.DefaultMaxAttempts, "password123"))
	assert.Equal(t, http.StatusTooManyRequests, login(ratelimit.DefaultMaxAttempts+1, "wrong-password"))
}

func TestRefreshAndLogout(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "rotate@example.com")

	rec, resp := f.do(t, http.MethodPost, "/auth/refresh", `{"refreshToken":"`+reg.RefreshToken+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pair authData
	require.NoError(t, json.Unmarshal(resp.Data, &pair))
	assert.NotEqual(t, reg.AccessToken, pair.AccessToken)

	rec, _ = f.do(t, http.MethodPost, "/auth/refresh", `{"refreshToken":"`+reg.RefreshToken+`"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "replayed token")

	rec, _ = f.do(t, http.MethodPost, "/auth/refresh", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/auth/logout", `{"refreshToken":"`+pair.RefreshToken+`"}`, pair.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/auth/refresh", `{"refreshToken":"`+pair.RefreshToken+`"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "logged out token")

	rec, _ = f.do(t, http.MethodPost, "/auth/logout", `{"refreshToken":"unknown"}`, pair.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code, "unknown token still succeeds")

	rec, _ = f.do(t, http.MethodPost, "/auth/logout", ``, pair.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code, "body is optional")

	rec, _ = f.do(t, http.MethodPost, "/auth/logout", `{"refreshToken":"x"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutAll(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "everywhere@example.com")

	rec, resp := f.do(t, http.MethodPost, "/auth/login", `{"email":"everywhere@example.com","password":"password123"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var second authData
	require.NoError(t, json.Unmarshal(resp.Data, &second))

	rec, _ = f.do(t, http.MethodPost, "/auth/logout-all", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp = f.do(t, http.MethodPost, "/auth/logout-all", "", reg.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		Revoked int64 `json:"revoked"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, int64(2), data.Revoked)

	for _, token := range []string{reg.RefreshToken, second.RefreshToken} {
		rec, _ = f.do(t, http.MethodPost, "/auth/refresh", `{"refreshToken":"`+token+`"}`, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "profile@example.com")

	rec, resp := f.do(t, http.MethodGet, "/auth/profile", "", reg.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		User map[string]any `json:"user"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "profile@example.com", data.User["email"])
	assert.NotContains(t, data.User, "passwordHash")

	rec, resp = f.do(t, http.MethodGet, "/auth/profile", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", resp.Error)

	rec, _ = f.do(t, http.MethodGet, "/auth/profile", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMigrationRoutes(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "migrate@example.com")
	userID := ulid.MustParse(reg.User["id"].(string))

	t.Run("partial success is 200", func(t *testing.T) {
		f.migration.err = nil
		f.migration.result = &migration.Result{
			Success: true,
			Details: migration.Details{Subscriptions: migration.SubscriptionDetails{
				Migrated: 1, Failed: 1, Errors: []string{"subscription[1] (x): amount must be greater than 0"},
			}},
		}
		rec, resp := f.do(t, http.MethodPost, "/migration", `{"subscriptions":[{"name":"a"},{"name":"x"}]}`, reg.AccessToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, resp.Success)
		assert.Equal(t, userID, f.migration.userID)
		var result migration.Result
		require.NoError(t, json.Unmarshal(resp.Data, &result))
		assert.Len(t, result.Details.Subscriptions.Errors, 1)
	})

	t.Run("rollback is 500 with the result", func(t *testing.T) {
		f.migration.result = &migration.Result{Success: false, Error: "migration failed"}
		f.migration.err = oops.Code("MIGRATION_FAILED").Wrap(errutil.Persistence(errors.New("pq: connection reset by peer")))
		rec, resp := f.do(t, http.MethodPost, "/migration", `{"budget":10}`, reg.AccessToken)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "PERSISTENCE_ERROR", resp.Error)
		assert.Equal(t, "Internal server error", resp.Message)
		assert.NotContains(t, rec.Body.String(), "connection reset")
		assert.Contains(t, string(resp.Data), "migration failed")
	})

	t.Run("concurrent run is 409", func(t *testing.T) {
		f.migration.result = nil
		f.migration.err = oops.Code("MIGRATION_IN_PROGRESS").Public("A migration is already running for this user").Wrap(errutil.ErrConflict)
		rec, resp := f.do(t, http.MethodPost, "/migration", `{}`, reg.AccessToken)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "A migration is already running for this user", resp.Message)
	})

	t.Run("status", func(t *testing.T) {
		f.migration.err = nil
		f.migration.status = &migration.Status{HasMigrated: true, SubscriptionCount: 4}
		rec, resp := f.do(t, http.MethodGet, "/migration/status", "", reg.AccessToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"hasMigrated":true,"subscriptionCount":4,"budgetCount":0}`, string(resp.Data))
	})

	t.Run("clear flag", func(t *testing.T) {
		f.migration.err = nil
		rec, _ := f.do(t, http.MethodDelete, "/migration/flag", "", reg.AccessToken)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("requires a token", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodGet, "/migration/status", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed payload", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodPost, "/migration", `{"subscriptions":"nope"}`, reg.AccessToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	rec, resp := f.do(t, http.MethodGet, "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
}

func TestRequestsAreCountedByRoute(t *testing.T) {
	f := newFixture(t)
	f.register(t, "count@example.com")
	f.do(t, http.MethodPost, "/auth/login", `{"email":"count@example.com","password":"password123"}`, "")

	assert.Equal(t, 1, f.metrics.routes["/auth/register"])
	assert.Equal(t, 1, f.metrics.routes["/auth/login"])
}

func TestRecoverer(t *testing.T) {
	handler := web.NewRouter(web.Deps{Auth: panickingAuth{}})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"a@b.co","password":"x"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panickingAuth struct{ web.AuthService }

func (panickingAuth) Login(context.Context, auth.LoginInput) (*auth.AuthResult, error) {
	panic("boom")
}
