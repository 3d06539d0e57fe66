package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// MetricsHandler 暴露Prometheus指标
type MetricsHandler struct {
	handler http.Handler
}

// NewMetricsHandler 创建指标处理器，h通常为metrics.Metrics.Handler()
func NewMetricsHandler(h http.Handler) *MetricsHandler {
	return &MetricsHandler{
		handler: h,
	}
}

// GetMetrics 以Prometheus文本格式输出指标
func (h *MetricsHandler) GetMetrics(c echo.Context) error {
	h.handler.ServeHTTP(c.Response(), c.Request())
	return nil
}
