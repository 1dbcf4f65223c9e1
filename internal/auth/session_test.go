// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package auth_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subtrack/subtrack/internal/auth"
	"github.com/subtrack/subtrack/pkg/errutil"
)

func TestGenerateRefreshToken(t *testing.T) {
	t.Run("generates secure token", func(t *testing.T) {
		token, hash, err := auth.GenerateRefreshToken()
		require.NoError(t, err)
		assert.Len(t, token, 64) // 32 bytes hex-encoded
		assert.NotEqual(t, token, hash)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		token1, hash1, err := auth.GenerateRefreshToken()
		require.NoError(t, err)
		token2, hash2, err := auth.GenerateRefreshToken()
		require.NoError(t, err)

		assert.NotEqual(t, token1, token2)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("hash is SHA256 hex-encoded", func(t *testing.T) {
		token, hash, err := auth.GenerateRefreshToken()
		require.NoError(t, err)

		sum := sha256.Sum256([]byte(token))
		assert.Equal(t, hex.EncodeToString(sum[:]), hash)
		assert.Equal(t, hash, auth.HashRefreshToken(token))
	})
}

func TestNewSession(t *testing.T) {
	userID := ulid.Make()
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := issued.Add(7 * 24 * time.Hour)

	t.Run("starts a new family when none is given", func(t *testing.T) {
		s, err := auth.NewSession(userID, ulid.ULID{}, "hash", "Mozilla/5.0", "10.0.0.1", issued, expires)
		require.NoError(t, err)
		assert.Equal(t, s.ID, s.FamilyID)
		assert.Equal(t, userID, s.UserID)
		assert.Equal(t, "Mozilla/5.0", s.UserAgent)
		assert.Equal(t, issued, s.IssuedAt)
		assert.Equal(t, expires, s.ExpiresAt)
	})

	t.Run("keeps an existing family", func(t *testing.T) {
		family := ulid.Make()
		s, err := auth.NewSession(userID, family, "hash", "", "", issued, expires)
		require.NoError(t, err)
		assert.Equal(t, family, s.FamilyID)
		assert.NotEqual(t, family, s.ID)
	})

	tests := []struct {
		name    string
		userID  ulid.ULID
		hash    string
		expires time.Time
		code    string
	}{
		{"zero user", ulid.ULID{}, "hash", expires, "SESSION_INVALID_USER"},
		{"empty hash", userID, "", expires, "SESSION_INVALID_HASH"},
		{"zero expiry", userID, "hash", time.Time{}, "SESSION_INVALID_EXPIRY"},
		{"expiry before issue", userID, "hash", issued.Add(-time.Second), "SESSION_INVALID_EXPIRY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := auth.NewSession(tt.userID, ulid.ULID{}, tt.hash, "", "", issued, tt.expires)
			require.Error(t, err)
			assert.Nil(t, s)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestSession_IsExpiredAt(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := auth.NewSession(ulid.Make(), ulid.ULID{}, "hash", "", "", issued, issued.Add(time.Hour))
	require.NoError(t, err)

	assert.False(t, s.IsExpiredAt(issued))
	assert.False(t, s.IsExpiredAt(issued.Add(59*time.Minute)))
	assert.True(t, s.IsExpiredAt(issued.Add(time.Hour)))
	assert.True(t, s.IsExpiredAt(issued.Add(2*time.Hour)))
}
