package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/hewenyu/discovery-gateway/pkg/metrics"
	"github.com/hewenyu/discovery-gateway/pkg/model"
	"github.com/hewenyu/discovery-gateway/pkg/storage"
	"go.uber.org/zap"
)

// Stats 注册中心实例统计
type Stats struct {
	Active int
	Total  int
}

// Option 注册中心可选配置
type Option func(*Registry)

// WithClock 替换时间来源，主要用于测试
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger config.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// Registry 服务注册中心，负责实例的生命周期：注册、心跳、过期、注销
type Registry struct {
	store   storage.ServiceStorage
	now     func() time.Time
	logger  config.Logger
	metrics *metrics.Metrics
}

// New 基于存储创建注册中心
func New(store storage.ServiceStorage, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: config.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register 注册服务实例，未提供ID时生成UUID
func (r *Registry) Register(ctx context.Context, req *model.RegisterRequest) (*model.ServiceRecord, error) {
	if req == nil {
		return nil, storage.NewInvalidArgumentError("注册请求不能为空")
	}
	name := strings.TrimSpace(req.ServiceName)
	if name == "" {
		return nil, storage.NewInvalidArgumentError("服务名称不能为空")
	}
	baseURL := strings.TrimSpace(req.ServiceURL)
	if baseURL == "" {
		return nil, storage.NewInvalidArgumentError("服务地址不能为空")
	}

	id := strings.TrimSpace(req.ServiceID)
	if id == "" {
		id = uuid.New().String()
	}

	record := model.NewServiceRecord(id, name, baseURL, strings.TrimSpace(req.HealthCheckURL), req.Metadata, r.now())

	ok, err := r.store.Register(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("注册服务失败: %w", err)
	}
	if !ok {
		return nil, storage.NewAlreadyExistsError(fmt.Sprintf("服务ID已存在: %s", id))
	}

	r.logger.Info("服务注册成功",
		zap.String("service_id", id),
		zap.String("service_name", name),
		zap.String("service_url", baseURL),
	)
	r.refreshGauges(ctx)

	return record.Clone(), nil
}

// Unregister 注销服务实例
func (r *Registry) Unregister(ctx context.Context, serviceID string) error {
	ok, err := r.store.Unregister(ctx, serviceID)
	if err != nil {
		return fmt.Errorf("注销服务失败: %w", err)
	}
	if !ok {
		return storage.NewNotFoundError(fmt.Sprintf("服务不存在: %s", serviceID))
	}

	r.logger.Info("服务注销成功", zap.String("service_id", serviceID))
	r.refreshGauges(ctx)
	return nil
}

// Get 获取服务实例
func (r *Registry) Get(ctx context.Context, serviceID string) (*model.ServiceRecord, error) {
	record, ok, err := r.store.Get(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("获取服务失败: %w", err)
	}
	if !ok {
		return nil, storage.NewNotFoundError(fmt.Sprintf("服务不存在: %s", serviceID))
	}
	return record, nil
}

// GetByName 按名称获取服务实例，没有匹配时返回空列表
func (r *Registry) GetByName(ctx context.Context, serviceName string) ([]*model.ServiceRecord, error) {
	records, err := r.store.ListByName(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("按名称查询服务失败: %w", err)
	}
	return records, nil
}

// ListAll 获取所有服务实例
func (r *Registry) ListAll(ctx context.Context) ([]*model.ServiceRecord, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取服务列表失败: %w", err)
	}
	return records, nil
}

// ListActive 获取所有活跃服务实例
func (r *Registry) ListActive(ctx context.Context) ([]*model.ServiceRecord, error) {
	records, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取活跃服务列表失败: %w", err)
	}
	return records, nil
}

// Heartbeat 刷新心跳并重新激活实例，返回本次心跳时间
func (r *Registry) Heartbeat(ctx context.Context, serviceID string) (time.Time, error) {
	now := r.now()
	ok, err := r.store.Heartbeat(ctx, serviceID, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("更新心跳失败: %w", err)
	}
	if !ok {
		return time.Time{}, storage.NewNotFoundError(fmt.Sprintf("服务不存在: %s", serviceID))
	}

	r.logger.Debug("收到服务心跳", zap.String("service_id", serviceID))
	// 心跳可能使非活跃实例复活
	r.refreshGauges(ctx)
	return now, nil
}

// Deactivate 将实例标记为非活跃
func (r *Registry) Deactivate(ctx context.Context, serviceID string) error {
	ok, err := r.store.Deactivate(ctx, serviceID)
	if err != nil {
		return fmt.Errorf("停用服务失败: %w", err)
	}
	if !ok {
		return storage.NewNotFoundError(fmt.Sprintf("服务不存在: %s", serviceID))
	}
	r.refreshGauges(ctx)
	return nil
}

// Sweep 将超过timeout未发送心跳的实例标记为非活跃，返回所有过期实例ID
func (r *Registry) Sweep(ctx context.Context, timeout time.Duration) ([]string, error) {
	cutoff := r.now().Add(-timeout)
	ids, err := r.store.Sweep(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("清理过期服务失败: %w", err)
	}

	r.metrics.RecordSweep(len(ids))
	r.refreshGauges(ctx)
	return ids, nil
}

// Stats 统计活跃与全部实例数量
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("统计服务失败: %w", err)
	}

	stats := Stats{Total: len(all)}
	for _, record := range all {
		if record.Active {
			stats.Active++
		}
	}
	return stats, nil
}

// StartSweeper 启动定期清理任务，ctx取消后退出，返回的通道在任务结束后关闭
func (r *Registry) StartSweeper(ctx context.Context, interval, timeout time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ids, err := r.Sweep(ctx, timeout)
				if err != nil {
					r.logger.Error("定期清理过期服务失败", zap.Error(err))
					continue
				}
				if len(ids) > 0 {
					r.logger.Info("标记过期服务为非活跃",
						zap.Int("count", len(ids)),
						zap.Strings("service_ids", ids),
					)
				}
			}
		}
	}()

	return done
}

// refreshGauges 刷新实例数量指标，失败时只记录日志
func (r *Registry) refreshGauges(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	stats, err := r.Stats(ctx)
	if err != nil {
		r.logger.Warn("刷新服务数量指标失败", zap.Error(err))
		return
	}
	r.metrics.SetServiceCounts(stats.Active, stats.Total)
}
