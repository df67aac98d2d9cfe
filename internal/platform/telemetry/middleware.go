package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// Middleware records request latency by method, route pattern and status.
// Unmatched paths share the "unmatched" route so scanners cannot grow the
// series set.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.addActive(1)
			start := time.Now()
			err := next(c)
			m.addActive(-1)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" || status == http.StatusNotFound && strings.HasSuffix(route, "*") {
				route = "unmatched"
			}
			m.observe(requestKey{
				Method: c.Request().Method,
				Route:  route,
				Status: strconv.Itoa(status),
			}, time.Since(start).Seconds())
			return err
		}
	}
}
