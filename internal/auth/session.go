// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RefreshTokenBytes is the entropy of a refresh token (64 hex chars).
const RefreshTokenBytes = 32

// Session is one live refresh-token lineage for a user. FamilyID is shared
// by every session produced from the same login through rotation.
type Session struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	FamilyID  ulid.ULID
	TokenHash string
	UserAgent string
	IPAddress string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewSession creates a validated Session. A zero familyID starts a new
// lineage. UserAgent and IPAddress are optional.
func NewSession(userID, familyID ulid.ULID, tokenHash, userAgent, ipAddress string, issuedAt, expiresAt time.Time) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() || !expiresAt.After(issuedAt) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").
			With("issued_at", issuedAt).
			With("expires_at", expiresAt).
			Errorf("expiry must be after issue time")
	}

	id := ulid.Make()
	if familyID.Compare(ulid.ULID{}) == 0 {
		familyID = id
	}

	return &Session{
		ID:        id,
		UserID:    userID,
		FamilyID:  familyID,
		TokenHash: tokenHash,
		UserAgent: userAgent,
		IPAddress: ipAddress,
		IssuedAt:  issuedAt.UTC(),
		ExpiresAt: expiresAt.UTC(),
	}, nil
}

// IsExpiredAt returns true if the session is expired at t.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// GenerateRefreshToken creates a secure random token and its hash.
// The plaintext token is sent to the client once; only the hash is stored.
func GenerateRefreshToken() (token, hash string, err error) {
	tokenBytes := make([]byte, RefreshTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("REFRESH_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", RefreshTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashRefreshToken(token), nil
}

// HashRefreshToken computes the SHA-256 hex digest used as the session key.
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionRepository manages session persistence. It is the single source of
// truth for whether a refresh token is live.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// Consume atomically deletes the session with the given token hash and
	// returns it. Of several concurrent callers with the same hash at most
	// one succeeds; the others get ErrNotFound.
	Consume(ctx context.Context, tokenHash string) (*Session, error)

	// Delete removes the session owned by userID with the given token hash.
	// Returns ErrNotFound if there is none.
	Delete(ctx context.Context, userID ulid.ULID, tokenHash string) error

	// DeleteByUser removes all sessions for a user and returns the count.
	DeleteByUser(ctx context.Context, userID ulid.ULID) (int64, error)

	// DeleteExpired removes sessions expired at or before now and returns
	// the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
