package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/model"
	"github.com/hewenyu/discovery-gateway/pkg/storage"
)

// ServiceStorage 是基于内存的服务存储实现，整个存储由一把读写锁保护
type ServiceStorage struct {
	mu       sync.RWMutex
	services map[string]*model.ServiceRecord
	order    []string // 注册顺序

	wmu      sync.Mutex
	watchers []*watcher
}

type watcher struct {
	ctx context.Context
	fn  func(storage.ChangeEvent)
}

// NewServiceStorage 创建新的内存存储
func NewServiceStorage() *ServiceStorage {
	return &ServiceStorage{
		services: make(map[string]*model.ServiceRecord),
	}
}

// Register 注册服务实例
func (m *ServiceStorage) Register(ctx context.Context, record *model.ServiceRecord) (bool, error) {
	if record == nil || record.ID == "" {
		return false, storage.NewInvalidArgumentError("服务ID不能为空")
	}

	m.mu.Lock()
	if _, exists := m.services[record.ID]; exists {
		m.mu.Unlock()
		return false, nil
	}

	m.services[record.ID] = record.Clone()
	m.order = append(m.order, record.ID)
	m.mu.Unlock()

	m.notify(storage.ChangeEvent{Type: storage.EventCreate, ServiceID: record.ID, Record: record.Clone()})
	return true, nil
}

// Unregister 注销服务实例
func (m *ServiceStorage) Unregister(ctx context.Context, serviceID string) (bool, error) {
	m.mu.Lock()
	prev, exists := m.services[serviceID]
	if !exists {
		m.mu.Unlock()
		return false, nil
	}

	delete(m.services, serviceID)
	for i, id := range m.order {
		if id == serviceID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.notify(storage.ChangeEvent{Type: storage.EventDelete, ServiceID: serviceID, Prev: prev})
	return true, nil
}

// Get 获取服务实例详情
func (m *ServiceStorage) Get(ctx context.Context, serviceID string) (*model.ServiceRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.services[serviceID]
	if !exists {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

// List 获取所有服务实例列表
func (m *ServiceStorage) List(ctx context.Context) ([]*model.ServiceRecord, error) {
	return m.filter(func(*model.ServiceRecord) bool { return true }), nil
}

// ListActive 获取所有活跃服务实例
func (m *ServiceStorage) ListActive(ctx context.Context) ([]*model.ServiceRecord, error) {
	return m.filter(func(r *model.ServiceRecord) bool { return r.Active }), nil
}

// ListByName 获取指定名称的服务实例列表
func (m *ServiceStorage) ListByName(ctx context.Context, serviceName string) ([]*model.ServiceRecord, error) {
	return m.filter(func(r *model.ServiceRecord) bool { return r.Name == serviceName }), nil
}

// Heartbeat 更新服务心跳时间并重新激活
func (m *ServiceStorage) Heartbeat(ctx context.Context, serviceID string, now time.Time) (bool, error) {
	return m.update(serviceID, func(r *model.ServiceRecord) {
		r.LastHeartbeat = now
		r.Active = true
	}), nil
}

// Deactivate 将服务标记为非活跃
func (m *ServiceStorage) Deactivate(ctx context.Context, serviceID string) (bool, error) {
	return m.update(serviceID, func(r *model.ServiceRecord) {
		r.Active = false
	}), nil
}

// Sweep 标记过期的服务实例
func (m *ServiceStorage) Sweep(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	stale := make([]string, 0)
	var events []storage.ChangeEvent
	for _, id := range m.order {
		record := m.services[id]
		if !record.LastHeartbeat.Before(cutoff) {
			continue
		}
		stale = append(stale, id)
		if !record.Active {
			continue
		}
		prev := record.Clone()
		record.Active = false
		events = append(events, storage.ChangeEvent{Type: storage.EventUpdate, ServiceID: id, Record: record.Clone(), Prev: prev})
	}
	m.mu.Unlock()

	m.notify(events...)
	return stale, nil
}

// Watch 订阅本存储内的变更，回调在修改完成后同步执行
func (m *ServiceStorage) Watch(ctx context.Context, fn func(storage.ChangeEvent)) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	m.watchers = append(m.watchers, &watcher{ctx: ctx, fn: fn})
	return nil
}

// Close 内存存储无需释放资源
func (m *ServiceStorage) Close() error {
	return nil
}

// update 在锁内修改记录并通知订阅者
func (m *ServiceStorage) update(serviceID string, mutate func(*model.ServiceRecord)) bool {
	m.mu.Lock()
	record, exists := m.services[serviceID]
	if !exists {
		m.mu.Unlock()
		return false
	}

	prev := record.Clone()
	mutate(record)
	event := storage.ChangeEvent{Type: storage.EventUpdate, ServiceID: serviceID, Record: record.Clone(), Prev: prev}
	m.mu.Unlock()

	m.notify(event)
	return true
}

// notify 将事件分发给仍然有效的订阅者，ctx已取消的订阅被移除
func (m *ServiceStorage) notify(events ...storage.ChangeEvent) {
	if len(events) == 0 {
		return
	}

	m.wmu.Lock()
	live := m.watchers[:0]
	for _, w := range m.watchers {
		if w.ctx.Err() == nil {
			live = append(live, w)
		}
	}
	m.watchers = live
	watchers := append([]*watcher(nil), live...)
	m.wmu.Unlock()

	for _, w := range watchers {
		for _, event := range events {
			w.fn(event)
		}
	}
}

// filter 按注册顺序返回满足条件的记录副本
func (m *ServiceStorage) filter(match func(*model.ServiceRecord) bool) []*model.ServiceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*model.ServiceRecord, 0, len(m.order))
	for _, id := range m.order {
		record := m.services[id]
		if match(record) {
			result = append(result, record.Clone())
		}
	}
	return result
}
