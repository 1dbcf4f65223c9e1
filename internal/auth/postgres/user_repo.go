// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

// Package postgres implements the auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/subtrack/subtrack/internal/auth"
	"github.com/subtrack/subtrack/internal/store"
)

const userColumns = `id, email, password_hash, name, is_verified, language, currency,
		COALESCE(settings, '{}'::jsonb), created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db store.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db store.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create stores a new user. A duplicate email returns auth.ErrEmailTaken.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	settings, err := json.Marshal(user.Settings)
	if err != nil {
		return oops.Code("USER_SETTINGS_ENCODE_FAILED").With("user_id", user.ID.String()).Wrap(err)
	}

	_, err = store.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO users (id, email, password_hash, name, is_verified, language, currency, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		user.Name,
		user.IsVerified,
		user.Language,
		user.Currency,
		settings,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if store.IsUniqueViolation(err, "users_email_key") {
		return oops.Code("USER_EMAIL_TAKEN").With("email", user.Email).Wrap(auth.ErrEmailTaken)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := store.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())
	return r.get(row, "get user by id", id.String())
}

// GetByEmail retrieves a user by normalized email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := store.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return r.get(row, "get user by email", "")
}

// LockByID retrieves a user with SELECT ... FOR UPDATE. Outside a
// transaction the lock is released immediately.
func (r *UserRepository) LockByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := store.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id.String())
	return r.get(row, "lock user", id.String())
}

// UpdatePasswordHash replaces the stored password hash.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string) error {
	result, err := store.Conn(ctx, r.db).Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, id.String(), hash, time.Now().UTC())
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password hash").
			With("user_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdateSettings persists language, currency and settings.
func (r *UserRepository) UpdateSettings(ctx context.Context, user *auth.User) error {
	settings, err := json.Marshal(user.Settings)
	if err != nil {
		return oops.Code("USER_SETTINGS_ENCODE_FAILED").With("user_id", user.ID.String()).Wrap(err)
	}

	now := time.Now().UTC()
	result, err := store.Conn(ctx, r.db).Exec(ctx, `
		UPDATE users SET language = $2, currency = $3, settings = $4, updated_at = $5 WHERE id = $1
	`, user.ID.String(), user.Language, user.Currency, settings, now)
	if err != nil {
		return oops.Code("USER_UPDATE_SETTINGS_FAILED").
			With("operation", "update settings").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", user.ID.String()).Wrap(auth.ErrNotFound)
	}
	user.UpdatedAt = now
	return nil
}

func (r *UserRepository) get(row pgx.Row, operation, id string) (*auth.User, error) {
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", operation).
			With("user_id", id).
			Wrap(err)
	}
	return user, nil
}

// scanUser scans one row. pgx.ErrNoRows is returned unchanged.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		u        auth.User
		idStr    string
		settings []byte
	)
	err := row.Scan(&idStr, &u.Email, &u.PasswordHash, &u.Name, &u.IsVerified, &u.Language, &u.Currency,
		&settings, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers add context
	}

	u.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_CORRUPT_ID").With("id", idStr).Wrap(err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &u.Settings); err != nil {
			return nil, oops.Code("USER_CORRUPT_SETTINGS").With("user_id", idStr).Wrap(err)
		}
	}
	return &u, nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
