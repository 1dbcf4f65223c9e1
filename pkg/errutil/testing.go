// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errorWant struct {
	kind    *Kind
	code    string
	public  string
	context map[string]any
}

// ErrorWant is one expectation checked by AssertError.
type ErrorWant func(*errorWant)

// HasKind expects err to classify as kind.
func HasKind(kind Kind) ErrorWant {
	return func(w *errorWant) { w.kind = &kind }
}

// HasCode expects the oops code of err.
func HasCode(code string) ErrorWant {
	return func(w *errorWant) { w.code = code }
}

// HasPublic expects the client-facing message of err.
func HasPublic(message string) ErrorWant {
	return func(w *errorWant) { w.public = message }
}

// HasContext expects err to carry key with value in its oops context.
func HasContext(key string, value any) ErrorWant {
	return func(w *errorWant) {
		if w.context == nil {
			w.context = make(map[string]any)
		}
		w.context[key] = value
	}
}

// AssertError fails t unless err is non-nil and meets every expectation.
// Code, public message and context require an oops error; kind does not.
func AssertError(t *testing.T, err error, wants ...ErrorWant) {
	t.Helper()
	require.Error(t, err)

	var w errorWant
	for _, want := range wants {
		want(&w)
	}

	if w.kind != nil {
		assert.Equal(t, *w.kind, KindOf(err), "unexpected kind for %v", err)
	}
	if w.code == "" && w.public == "" && len(w.context) == 0 {
		return
	}

	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	if w.code != "" {
		assert.Equal(t, w.code, oopsErr.Code())
	}
	if w.public != "" {
		assert.Equal(t, w.public, oops.GetPublic(err, ""))
	}
	got := oopsErr.Context()
	for key, value := range w.context {
		if assert.Contains(t, got, key) {
			assert.Equal(t, value, got[key], key)
		}
	}
}

// AssertErrorCode is AssertError with HasCode.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	AssertError(t, err, HasCode(code))
}

// AssertErrorContext is AssertError with HasContext.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	AssertError(t, err, HasContext(key, value))
}

// AssertKind is AssertError with HasKind.
func AssertKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	AssertError(t, err, HasKind(kind))
}
