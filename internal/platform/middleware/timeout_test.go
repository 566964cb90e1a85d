package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func timeoutContext(route string) echo.Context {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetPath(route)
	return c
}

func waitForCancel(c echo.Context) error {
	<-c.Request().Context().Done()
	return c.Request().Context().Err()
}

func TestRequestTimeout_FastHandler(t *testing.T) {
	c := timeoutContext("/api/v1/diagnostic-packs")
	err := RequestTimeout(time.Second, nil)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestTimeout_SlowHandler(t *testing.T) {
	c := timeoutContext("/api/v1/diagnostic-packs")
	err := RequestTimeout(20*time.Millisecond, nil)(waitForCancel)(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if he.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", he.Code)
	}
}

func TestRequestTimeout_PerRouteOverride(t *testing.T) {
	route := "/api/v1/diagnostic-pack-applications"
	mw := RequestTimeout(10*time.Millisecond, map[string]time.Duration{route: time.Second})

	c := timeoutContext(route)
	err := mw(func(c echo.Context) error {
		time.Sleep(50 * time.Millisecond)
		deadline, ok := c.Request().Context().Deadline()
		if !ok || time.Until(deadline) < 500*time.Millisecond {
			t.Errorf("expected the route deadline to apply")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestTimeout_ZeroDisables(t *testing.T) {
	c := timeoutContext("/health")
	err := RequestTimeout(0, nil)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("expected no deadline")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
