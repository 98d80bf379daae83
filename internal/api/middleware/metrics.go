package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/observability/metrics"
)

// NewHTTPMetrics records request counts and latency per route template. A nil
// collector makes the middleware a pass-through.
func NewHTTPMetrics(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m == nil {
			return next
		}
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.RecordHTTPRequest(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}
