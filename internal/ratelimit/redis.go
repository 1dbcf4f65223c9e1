// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// DefaultRedisPrefix namespaces limiter keys.
const DefaultRedisPrefix = "subtrack:rl"

// fixedWindowScript increments the counter and starts the window expiry on
// the first attempt, atomically. Returns {count, pttl_ms}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter is a fixed-window limiter shared by every process using the
// same Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	policy Policy
}

// NewRedisLimiter creates a RedisLimiter. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string, policy Policy) *RedisLimiter {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		policy: policy.normalize(),
	}
}

// CheckAndRecord records one attempt for key and reports whether it is
// within the policy.
func (l *RedisLimiter) CheckAndRecord(ctx context.Context, key string) (Decision, error) {
	if l.client == nil {
		return Decision{}, oops.Code("RATELIMIT_BACKEND_UNAVAILABLE").Errorf("redis client is nil")
	}

	storeKey := l.prefix + ":" + key
	raw, err := fixedWindowScript.Run(ctx, l.client, []string{storeKey}, l.policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, oops.Code("RATELIMIT_BACKEND_FAILED").
			With("operation", "run fixed window script").
			Wrap(err)
	}
	if len(raw) != 2 {
		return Decision{}, oops.Code("RATELIMIT_BACKEND_FAILED").
			With("values", len(raw)).
			Errorf("unexpected redis script response")
	}

	return decide(l.policy, int(raw[0]), time.Duration(raw[1])*time.Millisecond), nil
}

// Close is a no-op; the client is owned by the caller.
func (l *RedisLimiter) Close() error {
	return nil
}
