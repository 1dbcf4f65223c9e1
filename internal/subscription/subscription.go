// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

// Package subscription holds recurring-payment records and budgets, their
// validation rules and payment scheduling.
package subscription

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"golang.org/x/text/currency"

	"github.com/subtrack/subtrack/pkg/errutil"
)

// BillingCycle is how often a subscription is charged.
type BillingCycle string

// Billing cycles.
const (
	Weekly    BillingCycle = "weekly"
	Monthly   BillingCycle = "monthly"
	Quarterly BillingCycle = "quarterly"
	Yearly    BillingCycle = "yearly"
)

// Defaults applied to missing optional fields.
const (
	DefaultCurrency = "USD"
	DefaultColor    = "#6366F1"
	MaxNameLength   = 100
)

var categories = map[string]struct{}{
	"entertainment": {}, "music": {}, "productivity": {}, "software": {}, "cloud": {},
	"gaming": {}, "news": {}, "education": {}, "fitness": {}, "health": {},
	"finance": {}, "utilities": {}, "shopping": {}, "food": {}, "other": {},
}

var colorRegex = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Subscription is a stored recurring payment.
type Subscription struct {
	ID              ulid.ULID    `json:"id"`
	UserID          ulid.ULID    `json:"userId"`
	Name            string       `json:"name"`
	Amount          float64      `json:"amount"`
	Currency        string       `json:"currency"`
	BillingCycle    BillingCycle `json:"billingCycle"`
	PaymentDay      int          `json:"paymentDay"`
	Category        string       `json:"category"`
	Color           string       `json:"color"`
	IsActive        bool         `json:"isActive"`
	Notes           string       `json:"notes,omitempty"`
	NextPaymentDate time.Time    `json:"nextPaymentDate"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// Input is an unvalidated subscription. Empty optional fields take their
// defaults in New.
type Input struct {
	Name         string
	Amount       float64
	Currency     string
	BillingCycle string
	PaymentDay   int
	Category     string
	Color        string
	IsActive     *bool
	Notes        string
}

// New validates in, applies defaults and schedules the next payment after
// now.
func New(userID ulid.ULID, in Input, now time.Time) (*Subscription, error) {
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return nil, invalid("name is required")
	case utf8.RuneCountInString(name) > MaxNameLength:
		return nil, invalid("name is too long")
	case in.PaymentDay < 1 || in.PaymentDay > 31:
		return nil, invalid("payment day must be between 1 and 31")
	}

	amount, reason := normalizeAmount(in.Amount)
	if reason != "" {
		return nil, invalid(reason)
	}

	category := strings.ToLower(strings.TrimSpace(in.Category))
	if _, ok := categories[category]; !ok {
		return nil, invalid("unknown category " + strconv.Quote(in.Category))
	}

	cycle, err := ParseBillingCycle(in.BillingCycle)
	if err != nil {
		return nil, err
	}

	code, err := ParseCurrency(in.Currency)
	if err != nil {
		return nil, err
	}

	color := strings.TrimSpace(in.Color)
	if !colorRegex.MatchString(color) {
		color = DefaultColor
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	return &Subscription{
		ID:              ulid.Make(),
		UserID:          userID,
		Name:            name,
		Amount:          amount,
		Currency:        code,
		BillingCycle:    cycle,
		PaymentDay:      in.PaymentDay,
		Category:        category,
		Color:           strings.ToUpper(color),
		IsActive:        active,
		Notes:           strings.TrimSpace(in.Notes),
		NextPaymentDate: NextPaymentDate(now, cycle, in.PaymentDay),
		CreatedAt:       now.UTC(),
	}, nil
}

// ParseBillingCycle parses a cycle name. Empty means Monthly.
func ParseBillingCycle(s string) (BillingCycle, error) {
	switch c := BillingCycle(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return Monthly, nil
	case Weekly, Monthly, Quarterly, Yearly:
		return c, nil
	default:
		return "", invalid("unknown billing cycle " + strconv.Quote(s))
	}
}

// ParseCurrency validates an ISO 4217 code and returns it upper-cased.
// Empty means DefaultCurrency.
func ParseCurrency(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultCurrency, nil
	}
	unit, err := currency.ParseISO(strings.ToUpper(s))
	if err != nil {
		return "", invalid("invalid currency " + strconv.Quote(s))
	}
	return unit.String(), nil
}

// IsCategory reports whether name is a known category, ignoring case.
func IsCategory(name string) bool {
	_, ok := categories[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Reason returns the human-readable reason of a validation error.
func Reason(err error) string {
	return oops.GetPublic(err, err.Error())
}

func invalid(reason string) error {
	return oops.Code("SUBSCRIPTION_INVALID").
		With("reason", reason).
		Public(reason).
		Wrapf(errutil.ErrValidation, "%s", reason)
}

// Repository persists subscriptions.
type Repository interface {
	// CreateBatch inserts all subscriptions or none.
	CreateBatch(ctx context.Context, subs []*Subscription) error

	// CountByUser returns how many subscriptions the user has.
	CountByUser(ctx context.Context, userID ulid.ULID) (int, error)

	// ListByUser returns the user's subscriptions by next payment date.
	ListByUser(ctx context.Context, userID ulid.ULID) ([]*Subscription, error)
}
