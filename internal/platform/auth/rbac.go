package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	// RoleAdmin may apply packs, manage the registry and change catalog status.
	RoleAdmin = "diagnostics_admin"
	// RoleViewer may read packs and run readiness checks.
	RoleViewer = "diagnostics_viewer"
)

// RequireRole returns middleware that checks the caller holds at least one of
// roles. RoleAdmin satisfies every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether userRoles grants any of required.
func HasRole(userRoles []string, required ...string) bool {
	for _, has := range userRoles {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}
