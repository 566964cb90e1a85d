package middleware

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger emits one "request" event per call. 5xx responses log at error,
// 4xx at warn, the rest at info.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = errorStatus(err)
			}

			var evt *zerolog.Event
			switch {
			case status >= 500:
				evt = logger.Error().Err(internalError(err))
			case status >= 400:
				evt = logger.Warn()
				if err != nil {
					evt = evt.Str("error", err.Error())
				}
			default:
				evt = logger.Info()
			}

			evt.
				Str("request_id", RequestIDFrom(c)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}

// errorStatus is the status echo's error handler will write for err.
func errorStatus(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 500
}

// internalError unwraps the cause apierror attaches to generic 500s.
func internalError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Internal != nil {
		return he.Internal
	}
	return err
}
