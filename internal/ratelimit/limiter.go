// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

// Package ratelimit provides fixed-window attempt limiters.
//
// Every call to CheckAndRecord counts as an attempt, whether or not the
// guarded operation later succeeds. Successes never reset a window, so one
// actor's valid login cannot hide another actor's brute force on the same
// key.
package ratelimit

import (
	"time"
)

// Default policy values.
const (
	// DefaultMaxAttempts is the number of attempts allowed per key per window.
	DefaultMaxAttempts = 5

	// DefaultWindow is the fixed window length.
	DefaultWindow = 15 * time.Minute

	// DefaultCleanupInterval is how often the in-memory limiter evicts
	// windows that have elapsed.
	DefaultCleanupInterval = time.Minute
)

// Policy is a fixed-window attempt budget.
type Policy struct {
	// MaxAttempts is the number of attempts allowed per window. The attempt
	// after that is blocked. Defaults to DefaultMaxAttempts.
	MaxAttempts int

	// Window is the window length. Defaults to DefaultWindow.
	Window time.Duration
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return p
}

// Decision is the outcome of recording one attempt.
type Decision struct {
	Allowed bool
	// Remaining is the number of attempts left in the current window.
	Remaining int
	// RetryAfter is the time until the window resets. Zero when allowed.
	RetryAfter time.Duration
}

func decide(p Policy, count int, untilReset time.Duration) Decision {
	if count > p.MaxAttempts {
		if untilReset <= 0 {
			untilReset = time.Millisecond
		}
		return Decision{Allowed: false, RetryAfter: untilReset}
	}
	return Decision{Allowed: true, Remaining: p.MaxAttempts - count}
}
