// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/subtrack/subtrack/pkg/errutil"
)

// DefaultOperationTimeout bounds the store work of one service call.
const DefaultOperationTimeout = 10 * time.Second

// Public messages shared by every credential failure.
const (
	msgInvalidCredentials = "Invalid credentials"
	msgInvalidRefresh     = "Invalid or expired refresh token"
)

// dummyPasswordHash is verified when a user doesn't exist so the response
// time matches a real verification. It never matches any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Transactor runs fn inside one database transaction. Repositories called
// with the ctx passed to fn participate in it.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Metrics records auth outcomes. outcome is one of success, failure,
// rate_limited or error.
type Metrics interface {
	RecordAuth(operation, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) RecordAuth(string, string) {}

// Config holds auth policy.
type Config struct {
	PasswordPolicy PasswordPolicy
	// AutoVerify marks newly registered users as verified.
	AutoVerify bool
	// OperationTimeout bounds each service call. Defaults to
	// DefaultOperationTimeout.
	OperationTimeout time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the policy used when none is configured.
func DefaultConfig() Config {
	return Config{
		PasswordPolicy:   DefaultPasswordPolicy(),
		AutoVerify:       true,
		OperationTimeout: DefaultOperationTimeout,
	}
}

// ServiceDeps are the collaborators of Service. Metrics is optional.
type ServiceDeps struct {
	Users      UserRepository
	Sessions   SessionRepository
	Hasher     PasswordHasher
	Tokens     *TokenIssuer
	Limiter    AttemptLimiter
	Transactor Transactor
	Logger     *slog.Logger
	Metrics    Metrics
}

// Service provides authentication operations.
type Service struct {
	users    UserRepository
	sessions SessionRepository
	hasher   PasswordHasher
	tokens   *TokenIssuer
	limiter  AttemptLimiter
	tx       Transactor
	logger   *slog.Logger
	metrics  Metrics
	cfg      Config
}

// NewService creates a Service, validating every required dependency.
func NewService(deps ServiceDeps, cfg Config) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("users repository is required")
	case deps.Sessions == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("sessions repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	case deps.Tokens == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("token issuer is required")
	case deps.Limiter == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("attempt limiter is required")
	case deps.Transactor == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("transactor is required")
	case deps.Logger == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("logger is required")
	}

	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		users:    deps.Users,
		sessions: deps.Sessions,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		limiter:  deps.Limiter,
		tx:       deps.Transactor,
		logger:   deps.Logger.With("component", "auth"),
		metrics:  deps.Metrics,
		cfg:      cfg,
	}, nil
}

// ClientInfo identifies the client making a request.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

// RegisterInput is the input of Register.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Client   ClientInfo
}

// LoginInput is the input of Login.
type LoginInput struct {
	Email    string
	Password string
	Client   ClientInfo
}

// TokenPair is a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
	RefreshToken         string    `json:"refreshToken"`
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User *Profile `json:"user"`
	TokenPair
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}

// Register creates an account and its first session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := NormalizeEmail(in.Email)
	if err := ValidateEmail(email); err != nil {
		s.metrics.RecordAuth("register", "failure")
		return nil, err
	}
	if err := s.cfg.PasswordPolicy.Validate(in.Password, email); err != nil {
		s.metrics.RecordAuth("register", "failure")
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if err := ValidateName(name); err != nil {
		s.metrics.RecordAuth("register", "failure")
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.metrics.RecordAuth("register", "error")
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	user, err := NewUser(email, name, hash, s.cfg.AutoVerify)
	if err != nil {
		s.metrics.RecordAuth("register", "failure")
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var pair *TokenPair
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		var err error
		pair, err = s.startSession(ctx, user.ID, ulid.ULID{}, in.Client)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			s.metrics.RecordAuth("register", "failure")
			return nil, oops.Code("AUTH_EMAIL_TAKEN").
				With("email", email).
				Public("An account with this email already exists").
				Wrapf(errutil.ErrConflict, "email already exists")
		}
		s.metrics.RecordAuth("register", "error")
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user and session").
			Wrap(errutil.Persistence(err))
	}

	s.metrics.RecordAuth("register", "success")
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String(), "verified", user.IsVerified)

	return &AuthResult{User: user.Profile(), TokenPair: *pair}, nil
}

// Login authenticates a user and creates a new session. Unknown emails and
// wrong passwords fail identically and take the same time. Other sessions
// of the user are left alone.
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		s.metrics.RecordAuth("login", "failure")
		return nil, oops.Code("AUTH_CREDENTIALS_REQUIRED").
			Public("Email and password are required").
			Wrapf(errutil.ErrValidation, "email and password are required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	decision, err := checkAttempts(ctx, s.limiter, LoginAttemptKeys(email, in.Client.IPAddress))
	if err != nil {
		s.metrics.RecordAuth("login", "error")
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "check rate limit").
			Wrap(errutil.Persistence(err))
	}
	if !decision.Allowed {
		s.metrics.RecordAuth("login", "rate_limited")
		s.logger.WarnContext(ctx, "login rate limited", "ip_address", in.Client.IPAddress)
		return nil, oops.Code("AUTH_RATE_LIMITED").
			With(errutil.RetryAfterKey, decision.RetryAfter).
			Public("Too many login attempts, please try again later").
			Wrapf(errutil.ErrRateLimited, "too many login attempts")
	}

	user, lookupErr := s.users.GetByEmail(ctx, email)

	var targetHash string
	userExists := false
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
		userExists = true
	case errors.Is(lookupErr, ErrNotFound):
		targetHash = dummyPasswordHash
	default:
		s.metrics.RecordAuth("login", "error")
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(errutil.Persistence(lookupErr))
	}

	// Always verify so unknown emails cost the same as known ones.
	valid, verifyErr := s.hasher.Verify(in.Password, targetHash)
	if verifyErr != nil && userExists {
		s.logger.WarnContext(ctx, "stored password hash is unreadable",
			"user_id", user.ID.String(), "error", verifyErr)
	}

	if !userExists || !valid || verifyErr != nil {
		s.metrics.RecordAuth("login", "failure")
		return nil, invalidCredentials()
	}

	if !user.IsVerified {
		s.metrics.RecordAuth("login", "failure")
		return nil, oops.Code("AUTH_ACCOUNT_UNVERIFIED").
			With("user_id", user.ID.String()).
			Public(msgInvalidCredentials).
			Wrapf(errutil.ErrUnauthorized, "account is not verified")
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, in.Password)
	}

	pair, err := s.startSession(ctx, user.ID, ulid.ULID{}, in.Client)
	if err != nil {
		s.metrics.RecordAuth("login", "error")
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "create session").
			Wrap(errutil.Persistence(err))
	}

	s.metrics.RecordAuth("login", "success")
	return &AuthResult{User: user.Profile(), TokenPair: *pair}, nil
}

// Refresh exchanges a refresh token for a new token pair. The old session is
// consumed and its successor created in one transaction; of concurrent
// callers presenting the same token at most one succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*TokenPair, error) {
	if refreshToken == "" {
		s.metrics.RecordAuth("refresh", "failure")
		return nil, oops.Code("AUTH_REFRESH_REQUIRED").
			Public("Refresh token is required").
			Wrapf(errutil.ErrValidation, "refresh token is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		pair    *TokenPair
		expired bool
	)
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		old, err := s.sessions.Consume(ctx, HashRefreshToken(refreshToken))
		if err != nil {
			return err
		}
		if old.IsExpiredAt(s.cfg.Now()) {
			// Commit the delete so the stale row is gone.
			expired = true
			return nil
		}
		pair, err = s.startSession(ctx, old.UserID, old.FamilyID, client)
		return err
	})
	switch {
	case err == nil && expired:
		s.metrics.RecordAuth("refresh", "failure")
		return nil, invalidRefresh("expired")
	case errors.Is(err, ErrNotFound):
		s.metrics.RecordAuth("refresh", "failure")
		return nil, invalidRefresh("unknown or rotated")
	case err != nil:
		s.metrics.RecordAuth("refresh", "error")
		return nil, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "rotate session").
			Wrap(errutil.Persistence(err))
	}

	s.metrics.RecordAuth("refresh", "success")
	return pair, nil
}

// Logout revokes the session for (userID, refreshToken). A missing session
// is not an error.
func (s *Service) Logout(ctx context.Context, userID ulid.ULID, refreshToken string) error {
	if refreshToken == "" {
		s.metrics.RecordAuth("logout", "success")
		return nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.sessions.Delete(ctx, userID, HashRefreshToken(refreshToken))
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.metrics.RecordAuth("logout", "error")
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete session").
			With("user_id", userID.String()).
			Wrap(errutil.Persistence(err))
	}

	s.metrics.RecordAuth("logout", "success")
	return nil
}

// LogoutAll revokes every session of the user and returns how many there
// were.
func (s *Service) LogoutAll(ctx context.Context, userID ulid.ULID) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete user sessions").
			With("user_id", userID.String()).
			Wrap(errutil.Persistence(err))
	}
	s.logger.InfoContext(ctx, "all sessions revoked", "user_id", userID.String(), "count", n)
	return n, nil
}

// VerifyToken validates an access token and returns its user ID. It does
// not touch the store.
func (s *Service) VerifyToken(_ context.Context, accessToken string) (ulid.ULID, error) {
	return s.tokens.VerifyAccessToken(accessToken)
}

// GetUserProfile returns the public profile of a user.
func (s *Service) GetUserProfile(ctx context.Context, userID ulid.ULID) (*Profile, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_USER_NOT_FOUND").
				With("user_id", userID.String()).
				Public("User not found").
				Wrap(ErrNotFound)
		}
		return nil, oops.Code("AUTH_PROFILE_FAILED").
			With("operation", "get user by id").
			With("user_id", userID.String()).
			Wrap(errutil.Persistence(err))
	}
	return user.Profile(), nil
}

// PurgeExpiredSessions deletes sessions past their expiry.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.sessions.DeleteExpired(ctx, s.cfg.Now())
	if err != nil {
		return 0, oops.Code("AUTH_PURGE_FAILED").
			With("operation", "delete expired sessions").
			Wrap(errutil.Persistence(err))
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired sessions purged", "count", n)
	}
	return n, nil
}

// startSession mints tokens and stores the session for them. A zero family
// starts a new lineage.
func (s *Service) startSession(ctx context.Context, userID, familyID ulid.ULID, client ClientInfo) (*TokenPair, error) {
	refresh, refreshHash, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return nil, err
	}

	now := s.cfg.Now()
	session, err := NewSession(userID, familyID, refreshHash, client.UserAgent, client.IPAddress,
		now, now.Add(s.tokens.RefreshTokenTTL()))
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	access, accessExp, err := s.tokens.IssueAccessToken(userID)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:          access,
		AccessTokenExpiresAt: accessExp,
		RefreshToken:         refresh,
	}, nil
}

// upgradeHash rehashes the password with current parameters. Failures are
// logged; login succeeds regardless.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "best-effort password rehash failed",
			"operation", "hash password", "user_id", user.ID.String(), "error", err)
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		s.logger.WarnContext(ctx, "best-effort password rehash failed",
			"operation", "update password hash", "user_id", user.ID.String(), "error", err)
		return
	}
	user.PasswordHash = newHash
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").
		Public(msgInvalidCredentials).
		Wrapf(errutil.ErrUnauthorized, "invalid email or password")
}

func invalidRefresh(reason string) error {
	return oops.Code("AUTH_REFRESH_INVALID").
		With("reason", reason).
		Public(msgInvalidRefresh).
		Wrapf(errutil.ErrUnauthorized, "refresh token is invalid")
}
