package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func serveHealth(t *testing.T, p Pinger) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler(p)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	rec, body := serveHealth(t, fakePinger{})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	if _, ok := body["pool"]; ok {
		t.Error("expected no pool stats for a non-pool pinger")
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	rec, body := serveHealth(t, fakePinger{err: errors.New("connection refused")})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected unhealthy, got %v", body["status"])
	}
	if body["error"] != "connection refused" {
		t.Errorf("expected error message, got %v", body["error"])
	}
}
