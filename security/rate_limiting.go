package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window request counter kept in Redis.
type RateLimiter struct {
	redis  redis.Cmdable
	prefix string
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient redis.Cmdable, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
	}
}

func (r *RateLimiter) key(id string) string {
	return fmt.Sprintf("ratelimit:%s:%s", r.prefix, id)
}

// Allow counts one request for id and reports whether it fits the window.
func (r *RateLimiter) Allow(ctx context.Context, id string) (bool, error) {
	key := r.key(id)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			return false, err
		}
	}
	return count <= r.limit, nil
}

// check rejects crawlers and callers over the limit. Redis failures let the
// request through.
func (r *RateLimiter) check(ctx context.Context, id, userAgent string) error {
	if isSuspiciousUserAgent(userAgent) {
		return apis.NewForbiddenError("Access denied", nil)
	}

	ok, err := r.Allow(ctx, id)
	if err != nil {
		slog.Warn("Rate limiter unavailable", "error", err, "key", r.key(id))
		return nil
	}
	if !ok {
		return apis.NewTooManyRequestsError("Rate limit exceeded. Please try again later.", nil)
	}
	return nil
}

// Middleware limits by authenticated user, falling back to the client IP.
func (r *RateLimiter) Middleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		id := "ip:" + e.RealIP()
		if e.Auth != nil {
			id = "user:" + e.Auth.Id
		}
		if err := r.check(e.Request.Context(), id, e.Request.Header.Get("User-Agent")); err != nil {
			return err
		}
		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
