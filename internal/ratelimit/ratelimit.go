package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/prudhvinik1/nebula/internal/cache"
	"github.com/prudhvinik1/nebula/internal/httpx"
	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/metrics"
)

const keyPrefix = "ratelimit"

// KeyFunc picks the counter key for a request. Returning false skips the
// limit for that request.
type KeyFunc func(*http.Request) (string, bool)

// Limiter is a fixed-window counter on the shared broker. When the broker
// is unavailable every request is allowed.
type Limiter struct {
	cache  *cache.Cache
	logger zerolog.Logger
}

func New(conns *cache.ConnManager) *Limiter {
	return &Limiter{
		cache:  cache.New(conns, keyPrefix, -1),
		logger: log.WithComponent("ratelimit"),
	}
}

// Allow counts one request for op/key and reports whether it is within limit.
func (l *Limiter) Allow(ctx context.Context, op, key string, limit int, window time.Duration) bool {
	k := op + ":" + key
	count, err := l.cache.IncrWindow(ctx, k, window)
	if err != nil {
		l.logger.Warn().Err(err).Str("op", op).Msg("rate limit check failed, allowing request")
		metrics.RateLimitDecisions.WithLabelValues(op, "error").Inc()
		return true
	}

	if count > int64(limit) {
		metrics.RateLimitDecisions.WithLabelValues(op, "denied").Inc()
		return false
	}
	metrics.RateLimitDecisions.WithLabelValues(op, "allowed").Inc()
	return true
}

// Middleware limits requests per key to limit within window and answers
// 429 once the window is exhausted.
func (l *Limiter) Middleware(op string, limit int, window time.Duration, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := keyFn(r)
			if !ok || key == "" || l.Allow(r.Context(), op, key, limit, window) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			httpx.WriteError(w, http.StatusTooManyRequests,
				fmt.Errorf("rate limit exceeded: %d requests per %s", limit, per(window)),
				"rate_limited")
		})
	}
}

func per(window time.Duration) string {
	switch window {
	case time.Minute:
		return "minute"
	case time.Second:
		return "second"
	case time.Hour:
		return "hour"
	}
	return window.String()
}
