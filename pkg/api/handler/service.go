package handler

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/hewenyu/discovery-gateway/pkg/model"
	"github.com/hewenyu/discovery-gateway/pkg/registry"
	"github.com/hewenyu/discovery-gateway/pkg/storage"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// maxTimeoutSeconds 换算为time.Duration时不溢出的最大秒数
const maxTimeoutSeconds = math.MaxInt64 / int64(time.Second)

// ServiceRegistry 服务处理器依赖的注册中心操作，由registry.Registry实现
type ServiceRegistry interface {
	Register(ctx context.Context, req *model.RegisterRequest) (*model.ServiceRecord, error)
	Unregister(ctx context.Context, serviceID string) error
	Get(ctx context.Context, serviceID string) (*model.ServiceRecord, error)
	GetByName(ctx context.Context, serviceName string) ([]*model.ServiceRecord, error)
	ListAll(ctx context.Context) ([]*model.ServiceRecord, error)
	ListActive(ctx context.Context) ([]*model.ServiceRecord, error)
	Heartbeat(ctx context.Context, serviceID string) (time.Time, error)
	Sweep(ctx context.Context, timeout time.Duration) ([]string, error)
	Stats(ctx context.Context) (registry.Stats, error)
}

// ServiceHandler 处理服务发现相关API
type ServiceHandler struct {
	registry     ServiceRegistry
	sweepTimeout time.Duration
	logger       config.Logger
	now          func() time.Time
}

// NewServiceHandler 创建服务处理器，sweepTimeout为清理接口未指定超时时的默认值
func NewServiceHandler(reg ServiceRegistry, sweepTimeout time.Duration, logger config.Logger) *ServiceHandler {
	return &ServiceHandler{
		registry:     reg,
		sweepTimeout: sweepTimeout,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RegisterService 注册服务
func (h *ServiceHandler) RegisterService(c echo.Context) error {
	var req model.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "请求参数无效", nil)
	}

	// 参数验证
	if err := c.Validate(&req); err != nil {
		return badRequest(c, "参数验证失败", validationDetails(err))
	}

	record, err := h.registry.Register(c.Request().Context(), &req)
	if err != nil {
		return h.storageError(c, err, "服务注册失败")
	}

	return success(c, http.StatusCreated, "服务注册成功", model.RegisterResult{
		ServiceID:   record.ID,
		ServiceInfo: record,
	})
}

// UnregisterService 注销服务
func (h *ServiceHandler) UnregisterService(c echo.Context) error {
	serviceID := c.Param("service_id")
	if err := h.registry.Unregister(c.Request().Context(), serviceID); err != nil {
		return h.storageError(c, err, "服务注销失败")
	}

	return success(c, http.StatusOK, "服务注销成功", map[string]string{
		"service_id": serviceID,
	})
}

// ListServices 获取服务列表，active_only=true时只返回活跃实例
func (h *ServiceHandler) ListServices(c echo.Context) error {
	activeOnly := false
	if raw := c.QueryParam("active_only"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "active_only必须为布尔值", []FieldError{{Field: "active_only", Rule: "boolean", Value: raw}})
		}
		activeOnly = v
	}

	var (
		records []*model.ServiceRecord
		err     error
	)
	if activeOnly {
		records, err = h.registry.ListActive(c.Request().Context())
	} else {
		records, err = h.registry.ListAll(c.Request().Context())
	}
	if err != nil {
		return h.storageError(c, err, "获取服务列表失败")
	}

	return success(c, http.StatusOK, "success", model.NewServiceList(records))
}

// GetService 获取服务详情
func (h *ServiceHandler) GetService(c echo.Context) error {
	record, err := h.registry.Get(c.Request().Context(), c.Param("service_id"))
	if err != nil {
		return h.storageError(c, err, "获取服务详情失败")
	}
	return success(c, http.StatusOK, "success", record)
}

// GetServicesByName 按名称获取服务实例，没有匹配时返回空列表
func (h *ServiceHandler) GetServicesByName(c echo.Context) error {
	records, err := h.registry.GetByName(c.Request().Context(), c.Param("service_name"))
	if err != nil {
		return h.storageError(c, err, "按名称查询服务失败")
	}
	return success(c, http.StatusOK, "success", model.NewServiceList(records))
}

// Heartbeat 更新服务心跳
func (h *ServiceHandler) Heartbeat(c echo.Context) error {
	serviceID := c.Param("service_id")
	ts, err := h.registry.Heartbeat(c.Request().Context(), serviceID)
	if err != nil {
		return h.storageError(c, err, "心跳更新失败")
	}

	return success(c, http.StatusOK, "心跳更新成功", model.HeartbeatResult{
		ServiceID: serviceID,
		Timestamp: ts,
	})
}

// Cleanup 将超过timeout_seconds未心跳的实例标记为非活跃
func (h *ServiceHandler) Cleanup(c echo.Context) error {
	timeout := h.sweepTimeout
	if raw := c.QueryParam("timeout_seconds"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seconds < 0 {
			return badRequest(c, "timeout_seconds必须为非负整数", []FieldError{{Field: "timeout_seconds", Rule: "min=0", Value: raw}})
		}
		if seconds > maxTimeoutSeconds {
			return badRequest(c, "timeout_seconds超出允许范围", []FieldError{{Field: "timeout_seconds", Rule: fmt.Sprintf("max=%d", maxTimeoutSeconds), Value: raw}})
		}
		timeout = time.Duration(seconds) * time.Second
	}

	ids, err := h.registry.Sweep(c.Request().Context(), timeout)
	if err != nil {
		return h.storageError(c, err, "清理过期服务失败")
	}

	return success(c, http.StatusOK, "清理完成", model.CleanupResult{
		InactiveServices: ids,
		Count:            len(ids),
		TimeoutSeconds:   int(timeout / time.Second),
	})
}

// DiscoveryHealth 注册中心健康状态
func (h *ServiceHandler) DiscoveryHealth(c echo.Context) error {
	stats, err := h.registry.Stats(c.Request().Context())
	if err != nil {
		h.logger.Error("注册中心健康检查失败", zap.Error(err))
		return failure(c, http.StatusServiceUnavailable, ErrKindUnavailable, "注册中心存储不可用", nil)
	}

	return success(c, http.StatusOK, "success", model.DiscoveryHealth{
		Status:         "healthy",
		ActiveServices: stats.Active,
		TotalServices:  stats.Total,
		Timestamp:      h.now(),
	})
}

// storageError 将注册中心错误映射为HTTP响应，内部错误只记录日志不向调用方暴露细节
func (h *ServiceHandler) storageError(c echo.Context, err error, action string) error {
	switch storage.ErrorCode(err) {
	case storage.ErrAlreadyExists:
		return failure(c, http.StatusConflict, ErrKindConflict, err.Error(), nil)
	case storage.ErrNotFound:
		return failure(c, http.StatusNotFound, ErrKindNotFound, err.Error(), nil)
	case storage.ErrInvalidArgument:
		return badRequest(c, err.Error(), nil)
	default:
		h.logger.Error(action,
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.Error(err),
		)
		return failure(c, http.StatusInternalServerError, ErrKindInternal, action, nil)
	}
}
