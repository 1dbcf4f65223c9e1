// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

//go:build integration

package integration_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/subtrack/subtrack/internal/auth"
	"github.com/subtrack/subtrack/internal/store"
)

var _ = Describe("Schema migrations", Ordered, func() {
	var migrator *store.Migrator

	BeforeAll(func() {
		var err error
		migrator, err = store.NewMigrator(env.connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = migrator.Close() })
	})

	It("reports the latest version with nothing pending", func() {
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(dirty).To(BeFalse())
		Expect(version).To(Equal(uint(2)))

		pending, err := migrator.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	It("rolls down and back up cleanly", func() {
		Expect(migrator.Down()).To(Succeed())

		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())

		pending, err := migrator.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal([]uint{1, 2}))

		Expect(migrator.Up()).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))
	})
})

var _ = Describe("Transactor", func() {
	It("rolls back writes when the callback fails", func() {
		user, err := auth.NewUser("tx@example.com", "Tx", "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA", true)
		Expect(err).NotTo(HaveOccurred())

		boom := errors.New("boom")
		err = env.Transactor.InTransaction(env.ctx, func(ctx context.Context) error {
			Expect(env.Users.Create(ctx, user)).To(Succeed())
			return boom
		})
		Expect(errors.Is(err, boom)).To(BeTrue())

		_, err = env.Users.GetByID(env.ctx, user.ID)
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})

	It("joins an outer transaction", func() {
		user, err := auth.NewUser("nested@example.com", "Nested", "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA", true)
		Expect(err).NotTo(HaveOccurred())

		boom := errors.New("outer failed")
		err = env.Transactor.InTransaction(env.ctx, func(ctx context.Context) error {
			innerErr := env.Transactor.InTransaction(ctx, func(ctx context.Context) error {
				return env.Users.Create(ctx, user)
			})
			Expect(innerErr).NotTo(HaveOccurred())
			return boom
		})
		Expect(errors.Is(err, boom)).To(BeTrue())

		_, err = env.Users.GetByID(env.ctx, user.ID)
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})
})
