package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/diagconfig/internal/platform/apierror"
)

// RequestTimeout bounds each request's context by def, or by the entry of
// perRoute matching echo's route pattern. A handler still running at the
// deadline is answered with 504.
func RequestTimeout(def time.Duration, perRoute map[string]time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			timeout := def
			if d, ok := perRoute[c.Path()]; ok {
				timeout = d
			}
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return ctx.Err()
				}
				if c.Response().Committed {
					return nil
				}
				return echo.NewHTTPError(http.StatusGatewayTimeout, apierror.Body{Error: apierror.Detail{
					Kind:    "Timeout",
					Message: "request exceeded " + timeout.String(),
				}})
			}
		}
	}
}
