// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package mocks

import (
	context "context"
	time "time"

	auth "github.com/subtrack/subtrack/internal/auth"

	mock "github.com/stretchr/testify/mock"

	ulid "github.com/oklog/ulid/v2"
)

// MockSessionRepository is a mock type for the SessionRepository type
type MockSessionRepository struct {
	mock.Mock
}

// Create provides a mock function with given fields: ctx, session
func (_m *MockSessionRepository) Create(ctx context.Context, session *auth.Session) error {
	ret := _m.Called(ctx, session)
	return ret.Error(0)
}

// Consume provides a mock function with given fields: ctx, tokenHash
func (_m *MockSessionRepository) Consume(ctx context.Context, tokenHash string) (*auth.Session, error) {
	ret := _m.Called(ctx, tokenHash)
	var r0 *auth.Session
	if rf, ok := ret.Get(0).(func(context.Context, string) *auth.Session); ok {
		r0 = rf(ctx, tokenHash)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*auth.Session)
	}
	return r0, ret.Error(1)
}

// Delete provides a mock function with given fields: ctx, userID, tokenHash
func (_m *MockSessionRepository) Delete(ctx context.Context, userID ulid.ULID, tokenHash string) error {
	ret := _m.Called(ctx, userID, tokenHash)
	return ret.Error(0)
}

// DeleteByUser provides a mock function with given fields: ctx, userID
func (_m *MockSessionRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) (int64, error) {
	ret := _m.Called(ctx, userID)
	return ret.Get(0).(int64), ret.Error(1)
}

// DeleteExpired provides a mock function with given fields: ctx, now
func (_m *MockSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ret := _m.Called(ctx, now)
	return ret.Get(0).(int64), ret.Error(1)
}

// NewMockSessionRepository creates a new instance of MockSessionRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockSessionRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSessionRepository {
	m := &MockSessionRepository{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
