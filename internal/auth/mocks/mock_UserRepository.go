// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

// Package mocks provides testify mocks for the auth interfaces.
package mocks

import (
	context "context"

	auth "github.com/subtrack/subtrack/internal/auth"

	mock "github.com/stretchr/testify/mock"

	ulid "github.com/oklog/ulid/v2"
)

// MockUserRepository is a mock type for the UserRepository type
type MockUserRepository struct {
	mock.Mock
}

// Create provides a mock function with given fields: ctx, user
func (_m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	ret := _m.Called(ctx, user)
	if rf, ok := ret.Get(0).(func(context.Context, *auth.User) error); ok {
		return rf(ctx, user)
	}
	return ret.Error(0)
}

// GetByID provides a mock function with given fields: ctx, id
func (_m *MockUserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	ret := _m.Called(ctx, id)
	var r0 *auth.User
	if rf, ok := ret.Get(0).(func(context.Context, ulid.ULID) *auth.User); ok {
		r0 = rf(ctx, id)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*auth.User)
	}
	return r0, ret.Error(1)
}

// GetByEmail provides a mock function with given fields: ctx, email
func (_m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	ret := _m.Called(ctx, email)
	var r0 *auth.User
	if rf, ok := ret.Get(0).(func(context.Context, string) *auth.User); ok {
		r0 = rf(ctx, email)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*auth.User)
	}
	return r0, ret.Error(1)
}

// LockByID provides a mock function with given fields: ctx, id
func (_m *MockUserRepository) LockByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	ret := _m.Called(ctx, id)
	var r0 *auth.User
	if rf, ok := ret.Get(0).(func(context.Context, ulid.ULID) *auth.User); ok {
		r0 = rf(ctx, id)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*auth.User)
	}
	return r0, ret.Error(1)
}

// UpdatePasswordHash provides a mock function with given fields: ctx, id, hash
func (_m *MockUserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string) error {
	ret := _m.Called(ctx, id, hash)
	return ret.Error(0)
}

// UpdateSettings provides a mock function with given fields: ctx, user
func (_m *MockUserRepository) UpdateSettings(ctx context.Context, user *auth.User) error {
	ret := _m.Called(ctx, user)
	return ret.Error(0)
}

// NewMockUserRepository creates a new instance of MockUserRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockUserRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockUserRepository {
	m := &MockUserRepository{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
