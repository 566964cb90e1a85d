package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/diagconfig/internal/platform/apierror"
)

// BodyLimit caps request bodies at defaultLimit. Routes listed in
// largeRoutes, matched on echo's route pattern, get largeLimit instead so
// pack version payloads can exceed the default.
//
// Limits are sizes like "512K", "1M" or "8MB". A bare number is bytes.
func BodyLimit(defaultLimit, largeLimit string, largeRoutes ...string) echo.MiddlewareFunc {
	defaultBytes := ParseSize(defaultLimit)
	largeBytes := ParseSize(largeLimit)
	large := make(map[string]bool, len(largeRoutes))
	for _, r := range largeRoutes {
		large[r] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if large[c.Path()] {
				limit = largeBytes
			}
			if req.ContentLength > limit {
				return tooLarge(limit)
			}
			req.Body = &limitedReadCloser{ReadCloser: req.Body, remaining: limit, limit: limit}
			return next(c)
		}
	}
}

// limitedReadCloser fails reads once more than limit bytes were consumed,
// covering requests without a truthful Content-Length.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	limit     int64
}

func (r *limitedReadCloser) Read(p []byte) (int, error) {
	if r.remaining < 0 {
		return 0, tooLarge(r.limit)
	}
	if int64(len(p)) > r.remaining+1 {
		p = p[:r.remaining+1]
	}
	n, err := r.ReadCloser.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		return 0, tooLarge(r.limit)
	}
	return n, err
}

func tooLarge(limit int64) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge, apierror.Body{Error: apierror.Detail{
		Kind:    "PayloadTooLarge",
		Message: fmt.Sprintf("request body exceeds %d bytes", limit),
	}})
}

// ParseSize converts "512K", "1M", "2GB" or a byte count to bytes. Empty or
// malformed input yields 1 MiB.
func ParseSize(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	const fallback = 1 << 20
	if s == "" {
		return fallback
	}
	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n * multiplier
}
