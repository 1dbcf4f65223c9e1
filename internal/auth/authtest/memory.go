// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

// Package authtest provides in-memory auth repositories for tests. They honor
// the same concurrency contracts as the postgres implementations: email
// uniqueness and single-winner session consumption.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/subtrack/subtrack/internal/auth"
)

// UserStore is an in-memory auth.UserRepository.
type UserStore struct {
	mu      sync.Mutex
	byID    map[ulid.ULID]*auth.User
	byEmail map[string]ulid.ULID
}

// NewUserStore creates an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[ulid.ULID]*auth.User),
		byEmail: make(map[string]ulid.ULID),
	}
}

func cloneUser(u *auth.User) *auth.User {
	c := *u
	c.Settings = u.Settings.Clone()
	return &c
}

// Create stores user, failing with auth.ErrEmailTaken on a duplicate email.
func (s *UserStore) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[user.Email]; taken {
		return auth.ErrEmailTaken
	}
	s.byID[user.ID] = cloneUser(user)
	s.byEmail[user.Email] = user.ID
	return nil
}

// GetByID returns a copy of the user.
func (s *UserStore) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneUser(u), nil
}

// GetByEmail returns a copy of the user with the normalized email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	id, ok := s.byEmail[email]
	s.mu.Unlock()
	if !ok {
		return nil, auth.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// LockByID is GetByID; there are no row locks in memory.
func (s *UserStore) LockByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return s.GetByID(ctx, id)
}

// UpdatePasswordHash replaces the stored hash.
func (s *UserStore) UpdatePasswordHash(_ context.Context, id ulid.ULID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateSettings persists language, currency and settings.
func (s *UserStore) UpdateSettings(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[user.ID]
	if !ok {
		return auth.ErrNotFound
	}
	u.Language = user.Language
	u.Currency = user.Currency
	u.Settings = user.Settings.Clone()
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// Count returns the number of stored users.
func (s *UserStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// SessionStore is an in-memory auth.SessionRepository.
type SessionStore struct {
	mu     sync.Mutex
	byHash map[string]*auth.Session
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{byHash: make(map[string]*auth.Session)}
}

// Create stores session.
func (s *SessionStore) Create(_ context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *session
	s.byHash[session.TokenHash] = &c
	return nil
}

// Consume removes and returns the session with tokenHash.
func (s *SessionStore) Consume(_ context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.byHash[tokenHash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	delete(s.byHash, tokenHash)
	return session, nil
}

// Delete removes the session owned by userID with tokenHash.
func (s *SessionStore) Delete(_ context.Context, userID ulid.ULID, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.byHash[tokenHash]
	if !ok || session.UserID != userID {
		return auth.ErrNotFound
	}
	delete(s.byHash, tokenHash)
	return nil
}

// DeleteByUser removes every session of userID.
func (s *SessionStore) DeleteByUser(_ context.Context, userID ulid.ULID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, session := range s.byHash {
		if session.UserID == userID {
			delete(s.byHash, hash)
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes sessions expired at now.
func (s *SessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, session := range s.byHash {
		if session.IsExpiredAt(now) {
			delete(s.byHash, hash)
			n++
		}
	}
	return n, nil
}

// CountByUser returns the number of live sessions of userID.
func (s *SessionStore) CountByUser(userID ulid.ULID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, session := range s.byHash {
		if session.UserID == userID {
			n++
		}
	}
	return n
}

// Transactor runs fn directly. The in-memory stores are individually atomic,
// which is all the auth service relies on.
type Transactor struct{}

// InTransaction calls fn with ctx.
func (Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var (
	_ auth.UserRepository    = (*UserStore)(nil)
	_ auth.SessionRepository = (*SessionStore)(nil)
	_ auth.Transactor        = Transactor{}
)
