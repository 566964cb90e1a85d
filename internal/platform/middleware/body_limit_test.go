package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

const versionsRoute = "/api/v1/diagnostic-packs/:packId/versions"

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 1 << 20},
		{"1024", 1024},
		{"512K", 512 << 10},
		{"1M", 1 << 20},
		{"8MB", 8 << 20},
		{"2g", 2 << 30},
		{"  4kb ", 4 << 10},
		{"garbage", 1 << 20},
		{"-5", 1 << 20},
		{"B", 1 << 20},
	}
	for _, tt := range tests {
		if got := ParseSize(tt.in); got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func runBodyLimit(t *testing.T, mw echo.MiddlewareFunc, route, body string) (string, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath(route)

	var read string
	err := mw(func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		read = string(b)
		return nil
	})(c)
	return read, err
}

func assertTooLarge(t *testing.T, err error) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if he.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", he.Code)
	}
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	read, err := runBodyLimit(t, BodyLimit("16", "64"), "/api/v1/diagnostic-packs", `{"code":"X"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if read != `{"code":"X"}` {
		t.Errorf("unexpected body %q", read)
	}
}

func TestBodyLimit_RejectsDeclaredLength(t *testing.T) {
	_, err := runBodyLimit(t, BodyLimit("8", "64"), "/api/v1/diagnostic-packs", strings.Repeat("a", 32))
	assertTooLarge(t, err)
}

func TestBodyLimit_RejectsUndeclaredLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 32)))
	req.ContentLength = -1
	c := e.NewContext(req, httptest.NewRecorder())

	err := BodyLimit("8", "64")(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)
	assertTooLarge(t, err)
}

func TestBodyLimit_LargeRoute(t *testing.T) {
	mw := BodyLimit("8", "64", versionsRoute)
	body := strings.Repeat("a", 32)

	if read, err := runBodyLimit(t, mw, versionsRoute, body); err != nil || read != body {
		t.Fatalf("expected large route to accept 32 bytes, got err=%v", err)
	}
	_, err := runBodyLimit(t, mw, "/api/v1/diagnostic-packs", body)
	assertTooLarge(t, err)
	_, err = runBodyLimit(t, mw, versionsRoute, strings.Repeat("a", 100))
	assertTooLarge(t, err)
}

func TestBodyLimit_NoBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	err := BodyLimit("1", "1")(func(c echo.Context) error {
		called = true
		return nil
	})(c)
	if err != nil || !called {
		t.Errorf("expected pass-through, err=%v called=%v", err, called)
	}
}
