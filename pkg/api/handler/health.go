package handler

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
)

// Version 网关版本
const Version = "0.1.1"

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status string `json:"status"`
}

// BannerResponse 根路径响应
type BannerResponse struct {
	Message   string         `json:"message"`
	Version   string         `json:"version"`
	Port      int            `json:"port"`
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Uptime    string         `json:"uptime"`
	Resources map[string]any `json:"resources"`
}

// HealthHandler 网关自身的健康检查处理器
type HealthHandler struct {
	port      int
	startTime time.Time
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(port int) *HealthHandler {
	return &HealthHandler{
		port:      port,
		startTime: time.Now(),
	}
}

// HealthCheck 存活检查，只要进程能响应即返回ok
func (h *HealthHandler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Root 返回网关基本信息
func (h *HealthHandler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, BannerResponse{
		Message:   "Discovery Gateway",
		Version:   Version,
		Port:      h.port,
		Status:    "running",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Resources: getResourceUsage(),
	})
}

// getResourceUsage 获取资源使用情况
func getResourceUsage() map[string]any {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]any{
		"memory_alloc":   formatBytes(memStats.Alloc),
		"memory_sys":     formatBytes(memStats.Sys),
		"memory_heap":    formatBytes(memStats.HeapAlloc),
		"num_gc":         memStats.NumGC,
		"num_goroutines": runtime.NumGoroutine(),
	}
}

// formatBytes 将字节数格式化为可读形式
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
