package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/metrics"
	"github.com/labstack/echo/v4"
)

// Instrument 记录HTTP请求数量与耗时，按路由模板聚合
func Instrument(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			m.InFlight(1)
			defer m.InFlight(-1)

			err := next(c)

			status := c.Response().Status
			if err != nil {
				// 错误尚未写出，按echo错误处理器的规则推算状态码
				status = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.RecordHTTP(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}
