package middleware

import (
	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// RequestLogger 使用zap记录每个请求的方法、路径、状态码与耗时
func RequestLogger(logger config.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.String("route", v.RoutePath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
				zap.String("request_id", v.RequestID),
			}

			switch {
			case v.Error != nil:
				logger.Error("请求处理失败", append(fields, zap.Error(v.Error))...)
			case v.Status >= 500:
				logger.Warn("请求返回服务端错误", fields...)
			default:
				logger.Info("请求完成", fields...)
			}
			return nil
		},
	})
}
