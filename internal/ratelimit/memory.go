// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MemoryConfig configures a MemoryLimiter.
type MemoryConfig struct {
	Policy Policy

	// CleanupInterval is the interval at which elapsed windows are evicted.
	// Defaults to DefaultCleanupInterval.
	CleanupInterval time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// window tracks attempts for one key.
type window struct {
	start time.Time
	count int
}

// MemoryLimiter is a process-local fixed-window limiter. It is safe for
// concurrent use: the check and the increment happen under one lock, so
// concurrent attempts on the same key are never lost or double counted.
//
// MemoryLimiter runs a background goroutine that evicts elapsed windows.
// Call Close to stop it.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	policy  Policy
	now     func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// keyGauge is nil if no registry was provided.
	keyGauge prometheus.Gauge
}

// NewMemoryLimiter creates a MemoryLimiter and starts its cleanup goroutine.
func NewMemoryLimiter(cfg MemoryConfig) *MemoryLimiter {
	return newMemoryLimiter(cfg, nil)
}

// NewMemoryLimiterWithRegistry creates a MemoryLimiter and registers a
// tracked-keys gauge with reg.
func NewMemoryLimiterWithRegistry(cfg MemoryConfig, reg prometheus.Registerer) *MemoryLimiter {
	return newMemoryLimiter(cfg, reg)
}

func newMemoryLimiter(cfg MemoryConfig, reg prometheus.Registerer) *MemoryLimiter {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	l := &MemoryLimiter{
		windows:  make(map[string]*window),
		policy:   cfg.Policy.normalize(),
		now:      now,
		stopChan: make(chan struct{}),
	}

	if reg != nil {
		l.keyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "subtrack_ratelimiter_keys",
			Help: "Current number of keys tracked by the in-memory attempt limiter",
		})
		reg.MustRegister(l.keyGauge)
	}

	l.wg.Add(1)
	go l.cleanupLoop(interval)

	return l
}

// CheckAndRecord records one attempt for key and reports whether it is
// within the policy.
func (l *MemoryLimiter) CheckAndRecord(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.start.Add(l.policy.Window)) {
		w = &window{start: now}
		l.windows[key] = w
		if !ok {
			l.updateKeyGauge()
		}
	}
	w.count++

	return decide(l.policy, w.count, w.start.Add(l.policy.Window).Sub(now)), nil
}

// Cleanup evicts windows that have elapsed. It runs periodically in the
// background and may also be called directly.
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		if !now.Before(w.start.Add(l.policy.Window)) {
			delete(l.windows, key)
		}
	}

	l.updateKeyGauge()
}

// updateKeyGauge must be called with l.mu held.
func (l *MemoryLimiter) updateKeyGauge() {
	if l.keyGauge != nil {
		l.keyGauge.Set(float64(len(l.windows)))
	}
}

func (l *MemoryLimiter) cleanupLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// Close stops the cleanup goroutine and blocks until it exits. It is safe
// to call more than once.
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
	return nil
}
