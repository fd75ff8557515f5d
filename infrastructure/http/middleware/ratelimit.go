package middleware

import (
	"chat-relay/auth"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed window limiter keyed by verified caller.
// A nil client or a non-positive limit turns it into a pass-through.
type RateLimiter struct {
	client *redis.Client
	log    *slog.Logger
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client, log *slog.Logger, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, log: log, limit: limit, window: window, now: time.Now}
}

func (rl *RateLimiter) enabled() bool {
	return rl.client != nil && rl.limit > 0
}

// CheckAndIncrement counts one more hit for key in the current window.
// Returns (allowed, remaining, resetAt).
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, key string) (bool, int, time.Time, error) {
	now := rl.now()
	bucket := now.UnixNano() / int64(rl.window)
	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, bucket)
	resetAt := time.Unix(0, (bucket+1)*int64(rl.window))

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, rl.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, resetAt, err
	}

	count := int(incr.Val())
	remaining := max(rl.limit-count, 0)
	return count <= rl.limit, remaining, resetAt, nil
}

// Middleware must run after auth.RequireCaller.
// A redis outage lets requests through: the limiter protects the relay,
// it is not part of message acceptance.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if !rl.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.CallerFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetAt, err := rl.CheckAndIncrement(r.Context(), "caller:"+caller.UserID)
		if err != nil {
			rl.log.Warn("Rate limiter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			observability.RateLimitHits.WithLabelValues(routePattern(r)).Inc()
			rl.log.Warn("Rate limit exceeded", "user_id", caller.UserID, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())+1))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   string(errors.ReasonRateLimited),
				"message": errors.ErrRateLimited.Error(),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
