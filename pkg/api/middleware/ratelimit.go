package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/hewenyu/discovery-gateway/pkg/metrics"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxLimiters 限流器数量超过该值时整体清空
const maxLimiters = 10000

// RateLimiter 按客户端IP进行令牌桶限流
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	logger   config.Logger
	metrics  *metrics.Metrics
}

// NewRateLimiter 创建限流器，rps为每秒平均请求数，burst为突发上限
func NewRateLimiter(rps float64, burst int, logger config.Logger, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		logger:   logger,
		metrics:  m,
	}
}

// getLimiter 返回key对应的限流器
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		if len(rl.limiters) >= maxLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Middleware 返回echo限流中间件，超限时返回429
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if rl.getLimiter(key).Allow() {
				return next(c)
			}

			rl.metrics.RecordRateLimited()
			rl.logger.Warn("请求被限流",
				zap.String("key", key),
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
			)

			c.Response().Header().Set("Retry-After", "1")
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"detail": "Too many requests",
				"code":   "RATE_LIMITED",
			})
		}
	}
}

// Cleanup 清空所有限流器
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiters = make(map[string]*rate.Limiter)
}

// StartCleanup 定期清空限流器，ctx取消后退出
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}
