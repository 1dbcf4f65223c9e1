// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

//go:build integration

package integration_test

import (
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/subtrack/subtrack/internal/auth"
	"github.com/subtrack/subtrack/pkg/errutil"
)

var _ = Describe("Auth lifecycle", func() {
	var svc *auth.Service

	BeforeEach(func() {
		svc = env.newAuthService()
	})

	It("registers, logs in and reads the profile", func() {
		reg := registerUser(svc, "Alice@Example.com")
		Expect(reg.User.Email).To(Equal("alice@example.com"))

		login, err := svc.Login(env.ctx, auth.LoginInput{Email: "alice@example.com", Password: "correct-horse-battery"})
		Expect(err).NotTo(HaveOccurred())

		userID, err := svc.VerifyToken(env.ctx, login.AccessToken)
		Expect(err).NotTo(HaveOccurred())
		Expect(userID).To(Equal(reg.User.ID))

		profile, err := svc.GetUserProfile(env.ctx, userID)
		Expect(err).NotTo(HaveOccurred())
		Expect(profile.Name).To(Equal("Test User"))
	})

	It("rejects a duplicate email regardless of case", func() {
		registerUser(svc, "bob@example.com")

		_, err := svc.Register(env.ctx, auth.RegisterInput{
			Email: "BOB@example.com", Password: "another-long-secret", Name: "Bob",
		})
		Expect(err).To(HaveOccurred())
		Expect(errutil.KindOf(err)).To(Equal(errutil.KindConflict))
	})

	It("rotates refresh tokens and rejects reuse", func() {
		reg := registerUser(svc, "carol@example.com")

		rotated, err := svc.Refresh(env.ctx, reg.RefreshToken, auth.ClientInfo{})
		Expect(err).NotTo(HaveOccurred())
		Expect(rotated.RefreshToken).NotTo(Equal(reg.RefreshToken))

		_, err = svc.Refresh(env.ctx, reg.RefreshToken, auth.ClientInfo{})
		Expect(errutil.KindOf(err)).To(Equal(errutil.KindUnauthorized))
	})

	It("lets exactly one concurrent refresh win", func() {
		reg := registerUser(svc, "dave@example.com")

		const racers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			failures  []error
		)
		for range racers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := svc.Refresh(env.ctx, reg.RefreshToken, auth.ClientInfo{})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
					return
				}
				failures = append(failures, err)
			}()
		}
		wg.Wait()

		Expect(successes).To(Equal(1))
		for _, err := range failures {
			Expect(errutil.KindOf(err)).To(Equal(errutil.KindUnauthorized))
		}
	})

	It("revokes only the presented session on logout", func() {
		first := registerUser(svc, "erin@example.com")
		second, err := svc.Login(env.ctx, auth.LoginInput{Email: "erin@example.com", Password: "correct-horse-battery"})
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.Logout(env.ctx, first.User.ID, first.RefreshToken)).To(Succeed())

		_, err = svc.Refresh(env.ctx, first.RefreshToken, auth.ClientInfo{})
		Expect(err).To(HaveOccurred())
		_, err = svc.Refresh(env.ctx, second.RefreshToken, auth.ClientInfo{})
		Expect(err).NotTo(HaveOccurred())
	})

	It("removes every session on LogoutAll", func() {
		reg := registerUser(svc, "frank@example.com")
		_, err := svc.Login(env.ctx, auth.LoginInput{Email: "frank@example.com", Password: "correct-horse-battery"})
		Expect(err).NotTo(HaveOccurred())

		n, err := svc.LogoutAll(env.ctx, reg.User.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(2)))
	})

	It("purges only expired sessions", func() {
		reg := registerUser(svc, "gina@example.com")

		n, err := env.Sessions.DeleteExpired(env.ctx, time.Now().UTC())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		n, err = env.Sessions.DeleteExpired(env.ctx, time.Now().UTC().Add(48*time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		_, err = svc.Refresh(env.ctx, reg.RefreshToken, auth.ClientInfo{})
		Expect(err).To(HaveOccurred())
	})

	It("returns not found for an unknown user id", func() {
		_, err := env.Users.GetByID(env.ctx, ulid.Make())
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})
})
