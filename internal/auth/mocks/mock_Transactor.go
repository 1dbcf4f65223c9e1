// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package mocks

import (
	context "context"

	mock "github.com/stretchr/testify/mock"
)

// MockTransactor is a mock type for the Transactor type
type MockTransactor struct {
	mock.Mock
}

// InTransaction provides a mock function with given fields: ctx, fn
func (_m *MockTransactor) InTransaction(ctx context.Context, fn func(context.Context) error) error {
	ret := _m.Called(ctx, fn)
	if rf, ok := ret.Get(0).(func(context.Context, func(context.Context) error) error); ok {
		return rf(ctx, fn)
	}
	return ret.Error(0)
}

// NewMockTransactor creates a new instance of MockTransactor. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockTransactor(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTransactor {
	m := &MockTransactor{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

// PassThrough configures the mock to run fn directly, as if the
// transaction always commits.
func (_m *MockTransactor) PassThrough() *mock.Call {
	return _m.On("InTransaction", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) },
	)
}
