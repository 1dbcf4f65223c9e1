// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

//go:build integration

package integration_test

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/subtrack/subtrack/internal/auth"
	"github.com/subtrack/subtrack/internal/migration"
	"github.com/subtrack/subtrack/internal/subscription"
	"github.com/subtrack/subtrack/pkg/errutil"
)

// failingBudgets fails every Create after the subscriptions were written
// in the same transaction.
type failingBudgets struct {
	subscription.BudgetRepository
}

func (failingBudgets) Create(context.Context, *subscription.Budget) error {
	return errors.New("disk full")
}

func ptr[T any](v T) *T { return &v }

func samplePayload() migration.LegacyPayload {
	return migration.LegacyPayload{
		Subscriptions: []migration.LegacySubscription{
			{ID: "1", Name: "Netflix", Amount: 15.99, Currency: "USD", BillingCycle: "monthly", PaymentDay: 15, Category: "entertainment"},
			{ID: "2", Name: "Spotify", Amount: 9.99, PaymentDay: 3, Category: "music", IsActive: ptr(false)},
			{ID: "3", Name: "", Amount: 5, PaymentDay: 1, Category: "music"},
		},
		Budget: ptr(100.0),
		Settings: &migration.LegacySettings{
			Language:    "pt-BR",
			Currency:    "EUR",
			Preferences: map[string]any{"darkMode": true},
		},
		Gamification: &migration.LegacyGamification{Points: 120, Level: 3, Streak: 4},
	}
}

var _ = Describe("Legacy data migration", func() {
	var (
		svc    *auth.Service
		userID ulid.ULID
	)

	BeforeEach(func() {
		svc = env.newAuthService()
		userID = registerUser(svc, "migrant@example.com").User.ID
	})

	It("imports valid records and reports invalid ones", func() {
		engine := env.newEngine(nil)

		result, err := engine.MigrateUserData(env.ctx, userID, samplePayload())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(result.Details.Subscriptions.Migrated).To(Equal(2))
		Expect(result.Details.Subscriptions.Failed).To(Equal(1))
		Expect(result.Details.Budget.Migrated).To(BeTrue())
		Expect(result.Details.Settings.Migrated).To(BeTrue())

		subs, err := env.Subscriptions.ListByUser(env.ctx, userID)
		Expect(err).NotTo(HaveOccurred())
		Expect(subs).To(HaveLen(2))
		names := []string{subs[0].Name, subs[1].Name}
		Expect(names).To(ConsistOf("Netflix", "Spotify"))

		profile, err := svc.GetUserProfile(env.ctx, userID)
		Expect(err).NotTo(HaveOccurred())
		Expect(profile.Language).To(Equal("pt-BR"))
		Expect(profile.Currency).To(Equal("EUR"))
		Expect(profile.Settings.HasMigrated()).To(BeTrue())

		status, err := engine.GetMigrationStatus(env.ctx, userID)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.HasMigrated).To(BeTrue())
		Expect(status.SubscriptionCount).To(Equal(2))
		Expect(status.BudgetCount).To(Equal(1))
		Expect(status.MigratedAt).NotTo(BeNil())
	})

	It("rolls back every write when persistence fails", func() {
		engine := env.newEngine(failingBudgets{env.Budgets})

		result, err := engine.MigrateUserData(env.ctx, userID, samplePayload())
		Expect(err).To(HaveOccurred())
		Expect(errutil.KindOf(err)).To(Equal(errutil.KindPersistence))
		Expect(result).NotTo(BeNil())
		Expect(result.Success).To(BeFalse())
		Expect(result.Details.Subscriptions.Migrated).To(BeZero())

		count, err := env.Subscriptions.CountByUser(env.ctx, userID)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(BeZero())

		migrated, err := env.newEngine(nil).HasUserMigrated(env.ctx, userID)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrated).To(BeFalse())

		profile, err := svc.GetUserProfile(env.ctx, userID)
		Expect(err).NotTo(HaveOccurred())
		Expect(profile.Language).NotTo(Equal("pt-BR"))
	})

	It("clears the flag but keeps imported records and preferences", func() {
		engine := env.newEngine(nil)
		_, err := engine.MigrateUserData(env.ctx, userID, samplePayload())
		Expect(err).NotTo(HaveOccurred())

		Expect(engine.ClearMigrationFlag(env.ctx, userID)).To(Succeed())

		status, err := engine.GetMigrationStatus(env.ctx, userID)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.HasMigrated).To(BeFalse())
		Expect(status.MigratedAt).To(BeNil())
		Expect(status.SubscriptionCount).To(Equal(2))

		user, err := env.Users.GetByID(env.ctx, userID)
		Expect(err).NotTo(HaveOccurred())
		Expect(user.Settings.Preferences).To(HaveKeyWithValue("darkMode", true))
	})

	It("returns not found for an unknown user", func() {
		engine := env.newEngine(nil)

		result, err := engine.MigrateUserData(env.ctx, ulid.Make(), samplePayload())
		Expect(result).To(BeNil())
		Expect(errutil.KindOf(err)).To(Equal(errutil.KindNotFound))
	})
})
