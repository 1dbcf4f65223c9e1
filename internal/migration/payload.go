// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package migration

import (
	"time"
)

// LegacyPayload is the data a legacy client kept locally. Every section is
// optional.
type LegacyPayload struct {
	Subscriptions []LegacySubscription `json:"subscriptions,omitempty" yaml:"subscriptions,omitempty"`
	Budget        *float64             `json:"budget,omitempty" yaml:"budget,omitempty"`
	Settings      *LegacySettings      `json:"settings,omitempty" yaml:"settings,omitempty"`
	Gamification  *LegacyGamification  `json:"gamification,omitempty" yaml:"gamification,omitempty"`
}

// LegacySubscription is one subscription record. ID is the client-side id;
// it is only used in log output and the stored record gets a new ULID.
type LegacySubscription struct {
	ID           string  `json:"id,omitempty" yaml:"id,omitempty"`
	Name         string  `json:"name" yaml:"name"`
	Amount       float64 `json:"amount" yaml:"amount"`
	Currency     string  `json:"currency,omitempty" yaml:"currency,omitempty"`
	BillingCycle string  `json:"billingCycle,omitempty" yaml:"billingCycle,omitempty"`
	PaymentDay   int     `json:"paymentDay" yaml:"paymentDay"`
	Category     string  `json:"category" yaml:"category"`
	Color        string  `json:"color,omitempty" yaml:"color,omitempty"`
	IsActive     *bool   `json:"isActive,omitempty" yaml:"isActive,omitempty"`
	Notes        string  `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// LegacySettings are the client preferences.
type LegacySettings struct {
	Language    string         `json:"language,omitempty" yaml:"language,omitempty"`
	Currency    string         `json:"currency,omitempty" yaml:"currency,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty" yaml:"preferences,omitempty"`
}

// LegacyGamification are the client's progress counters.
type LegacyGamification struct {
	Points       int      `json:"points" yaml:"points"`
	Level        int      `json:"level" yaml:"level"`
	Streak       int      `json:"streak" yaml:"streak"`
	Achievements []string `json:"achievements,omitempty" yaml:"achievements,omitempty"`
}

// IsEmpty reports whether the payload carries nothing to migrate.
func (p LegacyPayload) IsEmpty() bool {
	return len(p.Subscriptions) == 0 && p.Budget == nil && p.Settings == nil && p.Gamification == nil
}

// Result reports the outcome of MigrateUserData.
type Result struct {
	Success bool    `json:"success"`
	Details Details `json:"details"`
	Error   string  `json:"error,omitempty"`
}

// Details breaks a Result down per section.
type Details struct {
	Subscriptions SubscriptionDetails `json:"subscriptions"`
	Budget        BudgetDetails       `json:"budget"`
	Settings      SettingsDetails     `json:"settings"`
}

// SubscriptionDetails counts migrated and rejected subscriptions. Errors
// holds one entry per rejected record.
type SubscriptionDetails struct {
	Migrated int      `json:"migrated"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`
}

// BudgetDetails reports whether the primary budget was created.
type BudgetDetails struct {
	Migrated bool   `json:"migrated"`
	Error    string `json:"error,omitempty"`
}

// SettingsDetails reports whether settings were applied. Notes lists the
// fields that were dropped.
type SettingsDetails struct {
	Migrated bool     `json:"migrated"`
	Notes    []string `json:"notes,omitempty"`
}

// Status summarizes what a user has migrated.
type Status struct {
	HasMigrated       bool       `json:"hasMigrated"`
	SubscriptionCount int        `json:"subscriptionCount"`
	BudgetCount       int        `json:"budgetCount"`
	MigratedAt        *time.Time `json:"migratedAt,omitempty"`
}
