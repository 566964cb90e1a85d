package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	RequestIDHeader = echo.HeaderXRequestID
	requestIDKey    = "request_id"
)

// RequestID stores the caller's X-Request-ID, or a fresh one, under
// "request_id" and echoes it in the response.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" || len(rid) > 128 {
				rid = uuid.NewString()
			}
			c.Set(requestIDKey, rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}

// RequestIDFrom returns the id RequestID stored, or "".
func RequestIDFrom(c echo.Context) string {
	rid, _ := c.Get(requestIDKey).(string)
	return rid
}
