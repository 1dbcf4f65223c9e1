// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package mocks

import (
	context "context"

	ratelimit "github.com/subtrack/subtrack/internal/ratelimit"

	mock "github.com/stretchr/testify/mock"
)

// MockAttemptLimiter is a mock type for the AttemptLimiter type
type MockAttemptLimiter struct {
	mock.Mock
}

// CheckAndRecord provides a mock function with given fields: ctx, key
func (_m *MockAttemptLimiter) CheckAndRecord(ctx context.Context, key string) (ratelimit.Decision, error) {
	ret := _m.Called(ctx, key)
	return ret.Get(0).(ratelimit.Decision), ret.Error(1)
}

// NewMockAttemptLimiter creates a new instance of MockAttemptLimiter. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockAttemptLimiter(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAttemptLimiter {
	m := &MockAttemptLimiter{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
