// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

// Package postgres implements the subscription repositories on PostgreSQL.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/subtrack/subtrack/internal/store"
	"github.com/subtrack/subtrack/internal/subscription"
)

// SubscriptionRepository implements subscription.Repository.
type SubscriptionRepository struct {
	db store.DB
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db store.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const insertSubscription = `
	INSERT INTO subscriptions (id, user_id, name, amount, currency, billing_cycle, payment_day,
		category, color, is_active, notes, next_payment_date, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// CreateBatch inserts subs in one round trip. Callers that need all or
// nothing run it inside a transaction.
func (r *SubscriptionRepository) CreateBatch(ctx context.Context, subs []*subscription.Subscription) error {
	if len(subs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, s := range subs {
		batch.Queue(insertSubscription,
			s.ID.String(),
			s.UserID.String(),
			s.Name,
			s.Amount,
			s.Currency,
			string(s.BillingCycle),
			s.PaymentDay,
			s.Category,
			s.Color,
			s.IsActive,
			s.Notes,
			s.NextPaymentDate,
			s.CreatedAt,
		)
	}

	results := store.Conn(ctx, r.db).SendBatch(ctx, batch)
	for i := range subs {
		if _, err := results.Exec(); err != nil {
			_ = results.Close() //nolint:errcheck // exec error takes precedence
			return oops.Code("SUBSCRIPTION_CREATE_FAILED").
				With("operation", "insert subscription batch").
				With("index", i).
				With("user_id", subs[i].UserID.String()).
				Wrap(err)
		}
	}
	if err := results.Close(); err != nil {
		return oops.Code("SUBSCRIPTION_CREATE_FAILED").With("operation", "close batch").Wrap(err)
	}
	return nil
}

// CountByUser returns how many subscriptions the user has.
func (r *SubscriptionRepository) CountByUser(ctx context.Context, userID ulid.ULID) (int, error) {
	var n int
	err := store.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE user_id = $1`, userID.String()).Scan(&n)
	if err != nil {
		return 0, oops.Code("SUBSCRIPTION_COUNT_FAILED").
			With("operation", "count subscriptions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return n, nil
}

// ListByUser returns the user's subscriptions ordered by next payment date.
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID ulid.ULID) ([]*subscription.Subscription, error) {
	rows, err := store.Conn(ctx, r.db).Query(ctx, `
		SELECT id, user_id, name, amount::float8, currency, billing_cycle, payment_day, category,
			color, is_active, notes, next_payment_date, created_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY next_payment_date, name
	`, userID.String())
	if err != nil {
		return nil, oops.Code("SUBSCRIPTION_LIST_FAILED").
			With("operation", "list subscriptions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var subs []*subscription.Subscription
	for rows.Next() {
		var (
			s             subscription.Subscription
			idStr, uidStr string
			cycle         string
		)
		if err := rows.Scan(&idStr, &uidStr, &s.Name, &s.Amount, &s.Currency, &cycle, &s.PaymentDay,
			&s.Category, &s.Color, &s.IsActive, &s.Notes, &s.NextPaymentDate, &s.CreatedAt); err != nil {
			return nil, oops.Code("SUBSCRIPTION_SCAN_FAILED").With("operation", "scan subscription").Wrap(err)
		}
		if s.ID, err = ulid.Parse(idStr); err != nil {
			return nil, oops.Code("SUBSCRIPTION_CORRUPT_ID").With("id", idStr).Wrap(err)
		}
		if s.UserID, err = ulid.Parse(uidStr); err != nil {
			return nil, oops.Code("SUBSCRIPTION_CORRUPT_ID").With("id", uidStr).Wrap(err)
		}
		s.BillingCycle = subscription.BillingCycle(cycle)
		subs = append(subs, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SUBSCRIPTION_ROWS_ERROR").With("operation", "iterate subscriptions").Wrap(err)
	}
	return subs, nil
}

// BudgetRepository implements subscription.BudgetRepository.
type BudgetRepository struct {
	db store.DB
}

// NewBudgetRepository creates a new BudgetRepository.
func NewBudgetRepository(db store.DB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

// Create stores a budget.
func (r *BudgetRepository) Create(ctx context.Context, b *subscription.Budget) error {
	_, err := store.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO budgets (id, user_id, name, amount, currency, period, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID.String(), b.UserID.String(), b.Name, b.Amount, b.Currency, b.Period, b.CreatedAt)
	if err != nil {
		return oops.Code("BUDGET_CREATE_FAILED").
			With("operation", "insert budget").
			With("user_id", b.UserID.String()).
			Wrap(err)
	}
	return nil
}

// CountByUser returns how many budgets the user has.
func (r *BudgetRepository) CountByUser(ctx context.Context, userID ulid.ULID) (int, error) {
	var n int
	err := store.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT COUNT(*) FROM budgets WHERE user_id = $1`, userID.String()).Scan(&n)
	if err != nil {
		return 0, oops.Code("BUDGET_COUNT_FAILED").
			With("operation", "count budgets").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return n, nil
}

var (
	_ subscription.Repository       = (*SubscriptionRepository)(nil)
	_ subscription.BudgetRepository = (*BudgetRepository)(nil)
)
