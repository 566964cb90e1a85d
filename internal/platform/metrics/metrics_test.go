package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveApply(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveApply("success", 120*time.Millisecond, map[string]int{"items": 3, "sections": 1})
	c.ObserveApply("UnknownReference", 10*time.Millisecond, map[string]int{"items": 99})

	if got := testutil.ToFloat64(c.applyTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(c.applyTotal.WithLabelValues("UnknownReference")); got != 1 {
		t.Errorf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(c.applyRows.WithLabelValues("items")); got != 3 {
		t.Errorf("expected failed apply rows to be ignored, got %v", got)
	}
}

func TestObserveReadiness(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.ObserveReadiness(false, map[string]int{"blocker": 2, "warn": 1})
	c.ObserveReadiness(true, nil)

	if got := testutil.ToFloat64(c.readinessChecks.WithLabelValues("false")); got != 1 {
		t.Errorf("expected 1 not-ready check, got %v", got)
	}
	if got := testutil.ToFloat64(c.readinessChecks.WithLabelValues("true")); got != 1 {
		t.Errorf("expected 1 ready check, got %v", got)
	}
	if got := testutil.ToFloat64(c.readinessIssues.WithLabelValues("blocker")); got != 2 {
		t.Errorf("expected 2 blockers, got %v", got)
	}
}

func TestNilCollectors(t *testing.T) {
	var c *Collectors
	c.ObserveApply("success", time.Second, map[string]int{"items": 1})
	c.ObserveReadiness(true, nil)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.ObserveApply("success", time.Second, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := Handler(reg)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "diagconfig_pack_apply_total") {
		t.Error("expected apply counter in exposition output")
	}
}
