package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// KeyFunc picks the bucket a request draws from. Defaults to the client IP.
	KeyFunc func(c echo.Context) string
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
	}
}

// limiterStore holds one token bucket per key.
type limiterStore struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.BurstSize,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.RLock()
	l, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[key]; ok {
		return l
	}
	l = rate.NewLimiter(s.limit, s.burst)
	s.limiters[key] = l
	return l
}

// retryAfter is the whole number of seconds until l holds a token again.
func retryAfter(l *rate.Limiter) int {
	if l.Limit() <= 0 {
		return 1
	}
	wait := (1 - l.Tokens()) / float64(l.Limit())
	if wait < 1 {
		return 1
	}
	return int(math.Ceil(wait))
}

// RateLimit rejects requests with 429 once the caller's bucket is empty.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c echo.Context) string { return c.RealIP() }
	}
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			l := store.get(keyFunc(c))
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)
			if !l.Allow() {
				h.Set("Retry-After", strconv.Itoa(retryAfter(l)))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
