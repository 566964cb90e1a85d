package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runWithRoles(t *testing.T, roles []string, required ...string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u1", roles))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
	return rec, RequireRole(required...)(handler)(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := runWithRoles(t, []string{RoleViewer}, RoleViewer, RoleAdmin)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	_, err := runWithRoles(t, []string{RoleAdmin}, "auditor")
	if err != nil {
		t.Errorf("expected admin to pass any role check, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
	}{
		{"viewer on admin route", []string{RoleViewer}},
		{"no roles", nil},
		{"legacy admin name", []string{"admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runWithRoles(t, tt.roles, RoleAdmin)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T", err)
			}
			if httpErr.Code != http.StatusForbidden {
				t.Errorf("expected 403, got %d", httpErr.Code)
			}
		})
	}
}

func TestRequireRole_NoIdentity(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	err := RequireRole(RoleViewer)(func(c echo.Context) error { return nil })(c)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
	if RolesFromContext(context.Background()) != nil {
		t.Error("expected nil roles on a bare context")
	}
}

func TestIsPublicPath(t *testing.T) {
	for _, p := range []string{"/health", "/health/db", "/metrics"} {
		if !IsPublicPath(p) {
			t.Errorf("expected %s to be public", p)
		}
	}
	for _, p := range []string{"/api/v1/packs", "/api/v1/readiness", ""} {
		if IsPublicPath(p) {
			t.Errorf("expected %s to require auth", p)
		}
	}
}
