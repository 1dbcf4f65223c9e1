// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package migration_test

import (
	"context"
	"maps"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/subtrack/subtrack/internal/auth"
	"github.com/subtrack/subtrack/internal/subscription"
)

// memDB backs the engine's stores with maps. memTx snapshots it before a
// transaction and restores the snapshot when the transaction fails.
type memDB struct {
	mu      sync.Mutex
	users   map[ulid.ULID]*auth.User
	subs    map[ulid.ULID][]*subscription.Subscription
	budgets map[ulid.ULID][]*subscription.Budget
	fail    map[string]error
	writes  int
	locks   int

	// beforeBatch, when set, runs at the start of CreateBatch.
	beforeBatch func(ctx context.Context) error
}

func newMemDB() *memDB {
	return &memDB{
		users:   make(map[ulid.ULID]*auth.User),
		subs:    make(map[ulid.ULID][]*subscription.Subscription),
		budgets: make(map[ulid.ULID][]*subscription.Budget),
		fail:    make(map[string]error),
	}
}

func cloneUser(u *auth.User) *auth.User {
	c := *u
	c.Settings = u.Settings.Clone()
	return &c
}

func (db *memDB) addUser(u *auth.User) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[u.ID] = cloneUser(u)
}

func (db *memDB) user(id ulid.ULID) *auth.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	return cloneUser(db.users[id])
}

func (db *memDB) subscriptionCount(id ulid.ULID) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.subs[id])
}

func (db *memDB) budgetList(id ulid.ULID) []*subscription.Budget {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*subscription.Budget(nil), db.budgets[id]...)
}

func (db *memDB) writeCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.writes
}

func (db *memDB) failWith(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.fail[op] = err
}

type memUsers struct{ db *memDB }

func (s memUsers) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s memUsers) LockByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	s.db.mu.Lock()
	s.db.locks++
	s.db.mu.Unlock()
	return s.GetByID(ctx, id)
}

func (s memUsers) UpdateSettings(_ context.Context, user *auth.User) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail["users.update"]; err != nil {
		return err
	}
	u, ok := s.db.users[user.ID]
	if !ok {
		return auth.ErrNotFound
	}
	u.Language = user.Language
	u.Currency = user.Currency
	u.Settings = user.Settings.Clone()
	s.db.writes++
	return nil
}

type memSubs struct{ db *memDB }

func (s memSubs) CreateBatch(ctx context.Context, subs []*subscription.Subscription) error {
	if s.db.beforeBatch != nil {
		if err := s.db.beforeBatch(ctx); err != nil {
			return err
		}
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail["subs.create"]; err != nil {
		return err
	}
	for _, sub := range subs {
		s.db.subs[sub.UserID] = append(s.db.subs[sub.UserID], sub)
		s.db.writes++
	}
	return nil
}

func (s memSubs) CountByUser(_ context.Context, userID ulid.ULID) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail["subs.count"]; err != nil {
		return 0, err
	}
	return len(s.db.subs[userID]), nil
}

func (s memSubs) ListByUser(_ context.Context, userID ulid.ULID) ([]*subscription.Subscription, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return append([]*subscription.Subscription(nil), s.db.subs[userID]...), nil
}

type memBudgets struct{ db *memDB }

func (s memBudgets) Create(_ context.Context, b *subscription.Budget) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.fail["budgets.create"]; err != nil {
		return err
	}
	s.db.budgets[b.UserID] = append(s.db.budgets[b.UserID], b)
	s.db.writes++
	return nil
}

func (s memBudgets) CountByUser(_ context.Context, userID ulid.ULID) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return len(s.db.budgets[userID]), nil
}

type memTx struct{ db *memDB }

func (t memTx) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.db.mu.Lock()
	users := make(map[ulid.ULID]*auth.User, len(t.db.users))
	for id, u := range t.db.users {
		users[id] = cloneUser(u)
	}
	subs := maps.Clone(t.db.subs)
	budgets := maps.Clone(t.db.budgets)
	t.db.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.db.mu.Lock()
		t.db.users, t.db.subs, t.db.budgets = users, subs, budgets
		t.db.mu.Unlock()
		return err
	}
	return nil
}
