// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/subtrack/subtrack/internal/auth"
	"github.com/subtrack/subtrack/internal/store"
)

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db store.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db store.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := store.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO sessions (id, user_id, family_id, token_hash, user_agent, ip_address, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		session.ID.String(),
		session.UserID.String(),
		session.FamilyID.String(),
		session.TokenHash,
		session.UserAgent,
		session.IPAddress,
		session.IssuedAt,
		session.ExpiresAt,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return nil
}

// Consume deletes the session with tokenHash and returns it. The DELETE
// takes the row lock, so concurrent consumers of one hash see at most one
// winner; the others find no row.
func (r *SessionRepository) Consume(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := store.Conn(ctx, r.db).QueryRow(ctx, `
		DELETE FROM sessions WHERE token_hash = $1
		RETURNING id, user_id, family_id, token_hash, user_agent, ip_address, issued_at, expires_at
	`, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_CONSUME_FAILED").
			With("operation", "consume session").
			Wrap(err)
	}
	return session, nil
}

// Delete removes the session owned by userID with tokenHash.
func (r *SessionRepository) Delete(ctx context.Context, userID ulid.ULID, tokenHash string) error {
	result, err := store.Conn(ctx, r.db).Exec(ctx, `
		DELETE FROM sessions WHERE user_id = $1 AND token_hash = $2
	`, userID.String(), tokenHash)
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("user_id", userID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes all sessions of a user. Deleting none is not an error.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) (int64, error) {
	result, err := store.Conn(ctx, r.db).Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID.String())
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "delete sessions by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes sessions expired at or before now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := store.Conn(ctx, r.db).Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans one row. pgx.ErrNoRows is returned unchanged.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		s                        auth.Session
		idStr, userStr, familyID string
	)
	err := row.Scan(&idStr, &userStr, &familyID, &s.TokenHash, &s.UserAgent, &s.IPAddress, &s.IssuedAt, &s.ExpiresAt)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers add context
	}

	for _, f := range []struct {
		raw string
		dst *ulid.ULID
	}{{idStr, &s.ID}, {userStr, &s.UserID}, {familyID, &s.FamilyID}} {
		id, err := ulid.Parse(f.raw)
		if err != nil {
			return nil, oops.Code("SESSION_CORRUPT_ID").With("id", f.raw).Wrap(err)
		}
		*f.dst = id
	}
	return &s, nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
