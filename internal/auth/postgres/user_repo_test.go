// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subtrack/subtrack/internal/auth"
	"github.com/subtrack/subtrack/internal/auth/postgres"
	"github.com/subtrack/subtrack/internal/store"
	"github.com/subtrack/subtrack/pkg/errutil"
)

var userCols = []string{
	"id", "email", "password_hash", "name", "is_verified", "language", "currency",
	"settings", "created_at", "updated_at",
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		mock.Close()
	})
	return mock
}

func testUser(t *testing.T) *auth.User {
	t.Helper()
	u, err := auth.NewUser("alice@example.com", "Alice", "phc-hash", true)
	require.NoError(t, err)
	return u
}

func TestUserRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts the user", func(t *testing.T) {
		mock := newMockPool(t)
		u := testUser(t)
		mock.ExpectExec(`INSERT INTO users`).
			WithArgs(u.ID.String(), "alice@example.com", "phc-hash", "Alice", true, "en", "USD",
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, postgres.NewUserRepository(mock).Create(ctx, u))
	})

	t.Run("duplicate email", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO users`).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_key"})

		err := postgres.NewUserRepository(mock).Create(ctx, testUser(t))
		require.ErrorIs(t, err, auth.ErrEmailTaken)
		errutil.AssertKind(t, err, errutil.KindConflict)
	})

	t.Run("other failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO users`).WillReturnError(errors.New("connection reset"))

		err := postgres.NewUserRepository(mock).Create(ctx, testUser(t))
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrEmailTaken)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestUserRepository_GetByEmail(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()
	created := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	t.Run("found with settings", func(t *testing.T) {
		mock := newMockPool(t)
		rows := pgxmock.NewRows(userCols).AddRow(
			id.String(), "alice@example.com", "phc-hash", "Alice", true, "de", "EUR",
			[]byte(`{"preferences":{"darkMode":true},"migration":{"migrated":true,"migratedAt":"2026-02-01T00:00:00Z"}}`),
			created, created,
		)
		mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1`).
			WithArgs("alice@example.com").
			WillReturnRows(rows)

		u, err := postgres.NewUserRepository(mock).GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, id, u.ID)
		assert.Equal(t, "EUR", u.Currency)
		assert.Equal(t, true, u.Settings.Preferences["darkMode"])
		assert.True(t, u.Settings.HasMigrated())
	})

	t.Run("empty settings", func(t *testing.T) {
		mock := newMockPool(t)
		rows := pgxmock.NewRows(userCols).AddRow(
			id.String(), "alice@example.com", "phc-hash", "Alice", true, "en", "USD",
			[]byte(`{}`), created, created,
		)
		mock.ExpectQuery(`FROM users WHERE email`).WillReturnRows(rows)

		u, err := postgres.NewUserRepository(mock).GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.False(t, u.Settings.HasMigrated())
		assert.Empty(t, u.Settings.Preferences)
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`FROM users WHERE email`).WillReturnRows(pgxmock.NewRows(userCols))

		_, err := postgres.NewUserRepository(mock).GetByEmail(ctx, "nobody@example.com")
		require.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
	})

	t.Run("corrupt id", func(t *testing.T) {
		mock := newMockPool(t)
		rows := pgxmock.NewRows(userCols).AddRow(
			"not-a-ulid", "alice@example.com", "phc-hash", "Alice", true, "en", "USD",
			[]byte(`{}`), created, created,
		)
		mock.ExpectQuery(`FROM users WHERE email`).WillReturnRows(rows)

		_, err := postgres.NewUserRepository(mock).GetByEmail(ctx, "alice@example.com")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestUserRepository_LockByID_JoinsTransaction(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)
	id := ulid.Make()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs(id.String()).
		WillReturnRows(pgxmock.NewRows(userCols).AddRow(
			id.String(), "a@b.co", "h", "A", true, "en", "USD", []byte(`{}`), now, now,
		))
	mock.ExpectCommit()

	repo := postgres.NewUserRepository(mock)
	err := store.NewTransactor(mock).InTransaction(ctx, func(ctx context.Context) error {
		u, err := repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		assert.Equal(t, id, u.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestUserRepository_UpdateSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("updates", func(t *testing.T) {
		mock := newMockPool(t)
		u := testUser(t)
		u.Currency = "EUR"
		u.Settings.MarkMigrated(time.Now())
		mock.ExpectExec(`UPDATE users SET language`).
			WithArgs(u.ID.String(), "en", "EUR", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, postgres.NewUserRepository(mock).UpdateSettings(ctx, u))
	})

	t.Run("missing user", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`UPDATE users SET language`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := postgres.NewUserRepository(mock).UpdateSettings(ctx, testUser(t))
		require.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestUserRepository_UpdatePasswordHash(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()

	mock := newMockPool(t)
	mock.ExpectExec(`UPDATE users SET password_hash`).
		WithArgs(id.String(), "new-hash", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, postgres.NewUserRepository(mock).UpdatePasswordHash(ctx, id, "new-hash"))

	mock2 := newMockPool(t)
	mock2.ExpectExec(`UPDATE users SET password_hash`).WillReturnError(errors.New("timeout"))
	err := postgres.NewUserRepository(mock2).UpdatePasswordHash(ctx, id, "new-hash")
	errutil.AssertErrorCode(t, err, "USER_UPDATE_PASSWORD_FAILED")
}
