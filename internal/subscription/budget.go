// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package subscription

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/subtrack/subtrack/pkg/errutil"
)

// PrimaryBudgetName is the name given to the budget created from a single
// legacy amount.
const PrimaryBudgetName = "Primary Budget"

// PeriodMonthly is the only budget period.
const PeriodMonthly = "monthly"

// Budget is a spending limit for a period.
type Budget struct {
	ID        ulid.ULID `json:"id"`
	UserID    ulid.ULID `json:"userId"`
	Name      string    `json:"name"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Period    string    `json:"period"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewPrimaryBudget creates the monthly primary budget. currency must
// already be validated.
func NewPrimaryBudget(userID ulid.ULID, amount float64, currency string, now time.Time) (*Budget, error) {
	rounded, reason := normalizeAmount(amount)
	if reason != "" {
		return nil, oops.Code("BUDGET_INVALID").
			With("amount", amount).
			Public("budget "+reason).
			Wrapf(errutil.ErrValidation, "budget %s", reason)
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Budget{
		ID:        ulid.Make(),
		UserID:    userID,
		Name:      PrimaryBudgetName,
		Amount:    rounded,
		Currency:  currency,
		Period:    PeriodMonthly,
		CreatedAt: now.UTC(),
	}, nil
}

// BudgetRepository persists budgets.
type BudgetRepository interface {
	Create(ctx context.Context, budget *Budget) error
	CountByUser(ctx context.Context, userID ulid.ULID) (int, error)
}
