package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
)

func rateLimited(cfg RateLimitConfig) (*echo.Echo, echo.HandlerFunc) {
	e := echo.New()
	return e, RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func callFrom(e *echo.Echo, h echo.HandlerFunc, ip string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/diagnostic-packs/apply", nil)
	req.RemoteAddr = ip + ":41000"
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e, h := rateLimited(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec, err := callFrom(e, h, "10.0.0.1")
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit 10, got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e, h := rateLimited(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if _, err := callFrom(e, h, "10.0.0.1"); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i+1, err)
		}
	}

	_, err := callFrom(e, h, "10.0.0.1")
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if he.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", he.Code)
	}
}

func TestRateLimit_RetryAfterHeader(t *testing.T) {
	e, h := rateLimited(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := callFrom(e, h, "10.0.0.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, err := callFrom(e, h, "10.0.0.1")
	if err == nil {
		t.Fatal("expected the second request to be limited")
	}

	retry, perr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if perr != nil {
		t.Fatalf("Retry-After is not an integer: %q", rec.Header().Get("Retry-After"))
	}
	if retry < 1 {
		t.Errorf("expected Retry-After >= 1, got %d", retry)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	e, h := rateLimited(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := callFrom(e, h, "10.0.0.1"); err != nil {
		t.Fatalf("first client: unexpected error: %v", err)
	}
	if _, err := callFrom(e, h, "10.0.0.1"); err == nil {
		t.Fatal("first client: expected second request to be limited")
	}
	if _, err := callFrom(e, h, "10.0.0.2"); err != nil {
		t.Fatalf("second client: unexpected error: %v", err)
	}
}

func TestRateLimit_KeyFunc(t *testing.T) {
	e, h := rateLimited(RateLimitConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
		KeyFunc:           func(c echo.Context) string { return c.Request().Header.Get("X-Caller") },
	})
	call := func(caller, ip string) error {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Caller", caller)
		req.RemoteAddr = ip + ":41000"
		return h(e.NewContext(req, httptest.NewRecorder()))
	}

	if err := call("alice", "10.0.0.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := call("alice", "10.0.0.2"); err == nil {
		t.Error("expected the same caller to share a bucket across addresses")
	}
	if err := call("bob", "10.0.0.1"); err != nil {
		t.Errorf("expected a separate bucket for another caller, got %v", err)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 20 {
		t.Errorf("expected RequestsPerSecond 20, got %f", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 40 {
		t.Errorf("expected BurstSize 40, got %d", cfg.BurstSize)
	}
}

func TestRetryAfter_ZeroRate(t *testing.T) {
	s := newLimiterStore(RateLimitConfig{RequestsPerSecond: 0, BurstSize: 1})
	l := s.get("k")
	l.Allow()
	if got := retryAfter(l); got != 1 {
		t.Errorf("expected retryAfter 1 for zero rate, got %d", got)
	}
}

func TestLimiterStore_ReusesLimiter(t *testing.T) {
	s := newLimiterStore(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	a := s.get("key1")
	if a == nil {
		t.Fatal("expected non-nil limiter")
	}
	if s.get("key1") != a {
		t.Error("expected same limiter for same key")
	}
	if s.get("key2") == a {
		t.Error("expected different limiter for different key")
	}
}
