// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package errutil

import (
	"errors"
	"net/http"
	"time"

	"github.com/samber/oops"
)

// Sentinel kinds. Coded errors wrap exactly one of these so callers can
// classify failures with errors.Is without parsing codes.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrPersistence  = errors.New("persistence failure")
)

// RetryAfterKey is the oops context key carrying a time.Duration on
// rate-limit errors.
const RetryAfterKey = "retry_after"

// Kind classifies an error for transport mapping.
type Kind int

// Error kinds, ordered by classification priority.
const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindUnauthorized
	KindNotFound
	KindRateLimited
	KindPersistence
)

var kindNames = map[Kind]string{
	KindInternal:     "INTERNAL_ERROR",
	KindValidation:   "VALIDATION_ERROR",
	KindConflict:     "CONFLICT",
	KindUnauthorized: "UNAUTHORIZED",
	KindNotFound:     "NOT_FOUND",
	KindRateLimited:  "RATE_LIMITED",
	KindPersistence:  "PERSISTENCE_ERROR",
}

// String returns the stable machine code for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindInternal]
}

// HTTPStatus maps the kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// KindOf classifies err. A persistence mark wins over any kind it wraps,
// and anything unclassified is KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// markedError attaches a kind to an error without changing its message.
type markedError struct {
	err  error
	kind error
}

func (e *markedError) Error() string   { return e.err.Error() }
func (e *markedError) Unwrap() []error { return []error{e.err, e.kind} }

// Mark returns err additionally classified as kind. The message is unchanged
// and errors.Is/As still reach the original error.
func Mark(err, kind error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, kind: kind}
}

// Persistence marks err as a storage or transaction failure.
func Persistence(err error) error {
	return Mark(err, ErrPersistence)
}

// RetryAfter extracts the retry hint from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0, false
	}
	d, ok := oopsErr.Context()[RetryAfterKey].(time.Duration)
	return d, ok
}
