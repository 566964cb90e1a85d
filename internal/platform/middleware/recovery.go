package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/diagconfig/internal/platform/apierror"
)

const maxStackSize = 8 << 10

// Recovery turns a handler panic into a 500 and logs it with the stack.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				stack := make([]byte, maxStackSize)
				stack = stack[:runtime.Stack(stack, false)]

				logger.Error().
					Str("request_id", RequestIDFrom(c)).
					Str("path", c.Request().URL.Path).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, apierror.Body{
					Error: apierror.Detail{Kind: "Internal", Message: "internal error"},
				})
			}()
			return next(c)
		}
	}
}
