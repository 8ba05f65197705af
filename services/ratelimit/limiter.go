// Package ratelimit throttles failed login attempts per key.
//
// A key accumulates failures inside a fixed window opened by its first failure. Reaching the
// configured threshold locks the key for the lockout duration, during which every attempt is
// refused whatever the credentials.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/gradebook/core"
)

var NowFunc = time.Now // mockable

type Limiter interface {
	// Allow reports whether an attempt for key may proceed, and if not, how long until it may.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	// Fail records a failed attempt for key.
	Fail(ctx context.Context, key string) error
	// Reset forgets every failure recorded for key.
	Reset(ctx context.Context, key string) error
}

// LoginKey builds the limiter key of a login attempt: client address and normalized email.
func LoginKey(addr, email string) string {
	return addr + "|" + core.CleanString(email, true)
}

type counter struct {
	failures    int
	windowEnd   time.Time
	lockedUntil time.Time
}

type memoryLimiter struct {
	mu       sync.Mutex
	counters map[string]*counter
	max      int
	window   time.Duration
	lockout  time.Duration
}

var _ Limiter = (*memoryLimiter)(nil) // interface compliance check

// NewMemoryLimiter returns a process-local Limiter.
func NewMemoryLimiter(conf core.LoginConfig) Limiter {
	return &memoryLimiter{
		counters: make(map[string]*counter),
		max:      conf.MaxAttempts,
		window:   conf.Window,
		lockout:  conf.Lockout,
	}
}

func (l *memoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok {
		return true, 0, nil
	}
	now := NowFunc()
	if now.Before(c.lockedUntil) {
		return false, c.lockedUntil.Sub(now), nil
	}
	if !now.Before(c.windowEnd) {
		delete(l.counters, key)
	}
	return true, 0, nil
}

func (l *memoryLimiter) Fail(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := NowFunc()
	c, ok := l.counters[key]
	if !ok || (!now.Before(c.windowEnd) && !now.Before(c.lockedUntil)) {
		c = &counter{windowEnd: now.Add(l.window)}
		l.counters[key] = c
	}
	c.failures++
	if c.failures >= l.max && c.lockedUntil.IsZero() {
		c.lockedUntil = now.Add(l.lockout)
		if c.windowEnd.Before(c.lockedUntil) {
			c.windowEnd = c.lockedUntil
		}
	}
	return nil
}

func (l *memoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.counters, key)
	return nil
}

// hygiene: drop counters whose window and lockout are both over
func (l *memoryLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := NowFunc()
	for key, c := range l.counters {
		if !now.Before(c.windowEnd) && !now.Before(c.lockedUntil) {
			delete(l.counters, key)
		}
	}
}

// Prune periodically drops stale counters of a memory Limiter until ctx is done.
// It is a no-op for other implementations.
func Prune(ctx context.Context, l Limiter, every time.Duration) {
	ml, ok := l.(*memoryLimiter)
	if !ok || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ml.prune()
		}
	}
}
