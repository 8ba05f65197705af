package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/gradebook/core"
)

type redisLimiter struct {
	client  *redis.Client
	max     int64
	window  time.Duration
	lockout time.Duration
}

var _ Limiter = (*redisLimiter)(nil) // interface compliance check

// NewRedisLimiter returns a Limiter whose counters are shared through redis.
// Failures live under an INCR key expiring with the window; a lock key carries the lockout TTL.
func NewRedisLimiter(client *redis.Client, conf core.LoginConfig) Limiter {
	return &redisLimiter{
		client:  client,
		max:     int64(conf.MaxAttempts),
		window:  conf.Window,
		lockout: conf.Lockout,
	}
}

func redisKeys(key string) (fails, lock string) {
	return "gradebook:login:fails:" + key, "gradebook:login:lock:" + key
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	_, lock := redisKeys(key)
	ttl, err := l.client.PTTL(ctx, lock).Result()
	if err != nil {
		return false, 0, errors.Wrap(err, "redis.PTTL")
	}
	switch {
	case ttl == -1: // lock without expiry, never written by Fail
		return false, l.lockout, nil
	case ttl <= 0: // -2: no lock
		return true, 0, nil
	}
	return false, ttl, nil
}

func (l *redisLimiter) Fail(ctx context.Context, key string) error {
	fails, lock := redisKeys(key)

	n, err := l.client.Incr(ctx, fails).Result()
	if err != nil {
		return errors.Wrap(err, "redis.Incr")
	}
	if n == 1 {
		if err := l.client.Expire(ctx, fails, l.window).Err(); err != nil {
			return errors.Wrap(err, "redis.Expire")
		}
	}
	if n >= l.max {
		if err := l.client.SetNX(ctx, lock, n, l.lockout).Err(); err != nil {
			return errors.Wrap(err, "redis.SetNX")
		}
	}
	return nil
}

func (l *redisLimiter) Reset(ctx context.Context, key string) error {
	fails, lock := redisKeys(key)
	return errors.Wrap(l.client.Del(ctx, fails, lock).Err(), "redis.Del")
}
