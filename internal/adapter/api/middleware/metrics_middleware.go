package middleware

import (
	"reflect"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"marketchat/internal/infrastructure/metrics"
)

const notFoundPath = "/not-found"

func isNotFoundHandler(handler echo.HandlerFunc) bool {
	return reflect.ValueOf(handler).Pointer() == reflect.ValueOf(echo.NotFoundHandler).Pointer()
}

// Metrics records request duration by status, method and route pattern.
func Metrics(m *metrics.Metrics, skip ...string) echo.MiddlewareFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			path := c.Path()
			if _, ok := skipped[path]; ok {
				return next(c)
			}
			// keep 404 cardinality bounded
			if isNotFoundHandler(c.Handler()) {
				path = notFoundPath
			}

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := strconv.Itoa(c.Response().Status)
			m.HTTPDuration.WithLabelValues(status, c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
