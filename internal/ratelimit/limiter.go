// Package ratelimit implements per-user and global admission control on Redis counters.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	userKeyPrefix = "ratelimit:user:"
	globalKey     = "ratelimit:global"
)

// Scope names the window that denied a request.
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeGlobal Scope = "global"
)

// Limits configures both windows.
type Limits struct {
	UserRequests   int
	UserWindow     time.Duration
	GlobalRequests int
	GlobalWindow   time.Duration
}

// Decision is the outcome of CheckLimit.
type Decision struct {
	Allowed bool
	// RetryAfter is set only when the request was denied.
	RetryAfter int
	Scope      Scope
}

// Limiter counts requests per user and globally inside fixed windows.
// Check and consume are separate calls; concurrent callers may both pass a
// check before either consumes.
type Limiter struct {
	client redis.UniversalClient
	limits Limits
}

// New creates a Limiter.
func New(client redis.UniversalClient, limits Limits) *Limiter {
	return &Limiter{client: client, limits: limits}
}

func userKey(userID int64) string {
	return userKeyPrefix + strconv.FormatInt(userID, 10)
}

// CheckLimit reports whether userID may make a request. The user window is
// checked before the global one. Store errors are returned unchanged in
// meaning; the caller decides whether to fail open or closed.
func (l *Limiter) CheckLimit(ctx context.Context, userID int64) (Decision, error) {
	denied, retry, err := l.exceeded(ctx, userKey(userID), l.limits.UserRequests, l.limits.UserWindow)
	if err != nil {
		return Decision{}, fmt.Errorf("check user limit: %w", err)
	}
	if denied {
		return Decision{RetryAfter: retry, Scope: ScopeUser}, nil
	}

	denied, retry, err = l.exceeded(ctx, globalKey, l.limits.GlobalRequests, l.limits.GlobalWindow)
	if err != nil {
		return Decision{}, fmt.Errorf("check global limit: %w", err)
	}
	if denied {
		return Decision{RetryAfter: retry, Scope: ScopeGlobal}, nil
	}
	return Decision{Allowed: true}, nil
}

func (l *Limiter) exceeded(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if count < limit {
		return false, 0, nil
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl <= 0 {
		return true, int(window / time.Second), nil
	}
	return true, int(ttl / time.Second), nil
}

// ConsumeToken increments both counters and re-applies both expiries in a
// single MULTI/EXEC batch, so a counter is never left without an expiry.
func (l *Limiter) ConsumeToken(ctx context.Context, userID int64) error {
	uk := userKey(userID)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, uk)
		pipe.Expire(ctx, uk, l.limits.UserWindow)
		pipe.Incr(ctx, globalKey)
		pipe.Expire(ctx, globalKey, l.limits.GlobalWindow)
		return nil
	})
	if err != nil {
		return fmt.Errorf("consume token: %w", err)
	}
	return nil
}

// ResetUser drops the user's counter.
func (l *Limiter) ResetUser(ctx context.Context, userID int64) error {
	return l.client.Del(ctx, userKey(userID)).Err()
}

// Usage returns the current user and global counts.
func (l *Limiter) Usage(ctx context.Context, userID int64) (user, global int, err error) {
	vals, err := l.client.MGet(ctx, userKey(userID), globalKey).Result()
	if err != nil {
		return 0, 0, err
	}
	return toInt(vals[0]), toInt(vals[1]), nil
}

func toInt(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
