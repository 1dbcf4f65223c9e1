// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/subtrack/subtrack/pkg/errutil"
)

// Token lifetimes used when TokenConfig leaves them unset.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultTokenIssuer     = "subtrack"
	MinSecretLength        = 32
)

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	Secret          []byte
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// AccessClaims are the JWT claims of an access token. Subject is the user
// ID and ID (jti) is unique per token.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// TokenIssuer issues and verifies access tokens and mints refresh tokens.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. The secret must be at least
// MinSecretLength bytes.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, oops.Code("AUTH_INVALID_CONFIG").
			With("min", MinSecretLength).
			Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultTokenIssuer
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &TokenIssuer{
		secret:     secret,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		now:        cfg.Now,
	}, nil
}

// RefreshTokenTTL returns the lifetime given to new sessions.
func (t *TokenIssuer) RefreshTokenTTL() time.Duration {
	return t.refreshTTL
}

// IssueAccessToken signs a new access token for userID.
func (t *TokenIssuer) IssueAccessToken(userID ulid.ULID) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.accessTTL)

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    t.issuer,
			ID:        ulid.Make().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("AUTH_TOKEN_SIGN_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return signed, expiresAt, nil
}

// IssueRefreshToken mints a refresh token and its storage hash.
func (t *TokenIssuer) IssueRefreshToken() (token, hash string, err error) {
	return GenerateRefreshToken()
}

// VerifyAccessToken validates signature, algorithm, issuer and expiry and
// returns the subject user ID.
func (t *TokenIssuer) VerifyAccessToken(token string) (ulid.ULID, error) {
	if token == "" {
		return ulid.ULID{}, oops.Code("AUTH_TOKEN_MISSING").
			Public("Authentication required").
			Wrapf(errutil.ErrUnauthorized, "access token is empty")
	}

	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ulid.ULID{}, oops.Code("AUTH_TOKEN_EXPIRED").
				Public("Invalid or expired token").
				Wrapf(errutil.ErrUnauthorized, "access token expired")
		}
		return ulid.ULID{}, oops.Code("AUTH_TOKEN_INVALID").
			With("reason", err.Error()).
			Public("Invalid or expired token").
			Wrapf(errutil.ErrUnauthorized, "access token invalid")
	}

	userID, err := ulid.ParseStrict(claims.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code("AUTH_TOKEN_INVALID").
			With("reason", "malformed subject").
			Public("Invalid or expired token").
			Wrapf(errutil.ErrUnauthorized, "access token subject is not a user id")
	}
	return userID, nil
}
