package storage

import (
	"context"

	"github.com/hewenyu/discovery-gateway/pkg/model"
)

// 变更事件类型
const (
	EventCreate = "create"
	EventUpdate = "update"
	EventDelete = "delete"
)

// ChangeEvent 服务记录变更事件
type ChangeEvent struct {
	Type      string
	ServiceID string
	Record    *model.ServiceRecord // 变更后的记录，delete事件为nil
	Prev      *model.ServiceRecord // 变更前的记录，create事件为nil
}

// MembershipChanged 判断事件是否改变了服务的可达实例集合，仅刷新心跳时间的更新返回false
func (e ChangeEvent) MembershipChanged() bool {
	if e.Type != EventUpdate || e.Record == nil || e.Prev == nil {
		return true
	}
	return e.Record.Active != e.Prev.Active ||
		e.Record.BaseURL != e.Prev.BaseURL ||
		e.Record.Name != e.Prev.Name
}

// Watcher 支持订阅服务记录变更的存储
type Watcher interface {
	// Watch 在后台订阅变更，ctx取消后停止
	Watch(ctx context.Context, fn func(ChangeEvent)) error
}
