// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package auth

import (
	"context"
	"strings"

	"github.com/subtrack/subtrack/internal/ratelimit"
)

// AttemptLimiter gates login attempts. Implementations must count the check
// and the increment atomically per key.
type AttemptLimiter interface {
	CheckAndRecord(ctx context.Context, key string) (ratelimit.Decision, error)
}

// LoginAttemptKeys returns the limiter keys a login counts against: the
// account key "login:<email>" and, when the client address is known, the
// account+client key. The account key caps attempts however the client
// identifies itself.
func LoginAttemptKeys(email, clientIP string) []string {
	account := "login:" + NormalizeEmail(email)
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		return []string{account}
	}
	return []string{account, account + "|" + clientIP}
}

// checkAttempts records one attempt against every key. The attempt is
// denied when any key is over budget; RetryAfter is the longest wait.
func checkAttempts(ctx context.Context, limiter AttemptLimiter, keys []string) (ratelimit.Decision, error) {
	out := ratelimit.Decision{Allowed: true}
	for _, key := range keys {
		d, err := limiter.CheckAndRecord(ctx, key)
		if err != nil {
			return ratelimit.Decision{}, err
		}
		if !d.Allowed {
			out.Allowed = false
			out.RetryAfter = max(out.RetryAfter, d.RetryAfter)
		}
	}
	return out, nil
}
