package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/model"
	"github.com/hewenyu/discovery-gateway/pkg/storage"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// maxCASRetries 乐观并发更新的最大重试次数
const maxCASRetries = 16

// ServiceStorage 实现基于etcd的服务存储
//
// 记录以JSON形式保存在 <prefix><service_id> 下，注册顺序由key的CreateRevision决定。
type ServiceStorage struct {
	client *Client
}

// NewServiceStorage 创建etcd服务存储
func NewServiceStorage(client *Client) *ServiceStorage {
	return &ServiceStorage{
		client: client,
	}
}

// Register 注册服务实例，仅当key不存在时写入
func (s *ServiceStorage) Register(ctx context.Context, record *model.ServiceRecord) (bool, error) {
	if record == nil || record.ID == "" {
		return false, storage.NewInvalidArgumentError("服务ID不能为空")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return false, storage.NewInternalError("序列化服务数据失败", err)
	}

	key := s.client.GetServiceKey(record.ID)
	resp, err := s.client.GetClient().Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return false, storage.NewInternalError("写入etcd失败", err)
	}

	return resp.Succeeded, nil
}

// Unregister 注销服务实例
func (s *ServiceStorage) Unregister(ctx context.Context, serviceID string) (bool, error) {
	resp, err := s.client.GetClient().Delete(ctx, s.client.GetServiceKey(serviceID))
	if err != nil {
		return false, storage.NewInternalError("从etcd删除失败", err)
	}
	return resp.Deleted > 0, nil
}

// Get 获取服务实例详情
func (s *ServiceStorage) Get(ctx context.Context, serviceID string) (*model.ServiceRecord, bool, error) {
	resp, err := s.client.GetClient().Get(ctx, s.client.GetServiceKey(serviceID))
	if err != nil {
		return nil, false, storage.NewInternalError("从etcd读取失败", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}

	var record model.ServiceRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		return nil, false, storage.NewInternalError(fmt.Sprintf("解析服务数据失败: %s", serviceID), err)
	}
	return &record, true, nil
}

// List 获取所有服务实例列表
func (s *ServiceStorage) List(ctx context.Context) ([]*model.ServiceRecord, error) {
	return s.list(ctx, func(*model.ServiceRecord) bool { return true })
}

// ListActive 获取所有活跃服务实例
func (s *ServiceStorage) ListActive(ctx context.Context) ([]*model.ServiceRecord, error) {
	return s.list(ctx, func(r *model.ServiceRecord) bool { return r.Active })
}

// ListByName 获取指定名称的服务实例列表
func (s *ServiceStorage) ListByName(ctx context.Context, serviceName string) ([]*model.ServiceRecord, error) {
	return s.list(ctx, func(r *model.ServiceRecord) bool { return r.Name == serviceName })
}

// Heartbeat 更新服务心跳时间并重新激活
func (s *ServiceStorage) Heartbeat(ctx context.Context, serviceID string, now time.Time) (bool, error) {
	found, _, err := s.update(ctx, serviceID, func(r *model.ServiceRecord) bool {
		r.LastHeartbeat = now
		r.Active = true
		return true
	})
	return found, err
}

// Deactivate 将服务标记为非活跃
func (s *ServiceStorage) Deactivate(ctx context.Context, serviceID string) (bool, error) {
	found, _, err := s.update(ctx, serviceID, func(r *model.ServiceRecord) bool {
		r.Active = false
		return true
	})
	return found, err
}

// Sweep 标记过期的服务实例
func (s *ServiceStorage) Sweep(ctx context.Context, cutoff time.Time) ([]string, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	stale := make([]string, 0)
	for _, record := range records {
		if !record.LastHeartbeat.Before(cutoff) {
			continue
		}

		// 写入前重新判断，避免覆盖并发到达的心跳；已是非活跃的记录只报告不重写
		expired := false
		_, _, err := s.update(ctx, record.ID, func(r *model.ServiceRecord) bool {
			expired = r.LastHeartbeat.Before(cutoff)
			if !expired || !r.Active {
				return false
			}
			r.Active = false
			return true
		})
		if err != nil {
			return stale, err
		}
		if expired {
			stale = append(stale, record.ID)
		}
	}

	return stale, nil
}

// Close 关闭etcd连接
func (s *ServiceStorage) Close() error {
	return s.client.Close()
}

// list 按CreateRevision升序读取并过滤服务记录
func (s *ServiceStorage) list(ctx context.Context, match func(*model.ServiceRecord) bool) ([]*model.ServiceRecord, error) {
	resp, err := s.client.GetClient().Get(ctx, s.client.GetServicesPrefix(),
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend),
	)
	if err != nil {
		return nil, storage.NewInternalError("从etcd读取失败", err)
	}

	records := make([]*model.ServiceRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var record model.ServiceRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			// 忽略无法解析的数据，继续处理其他数据
			continue
		}
		if match(&record) {
			records = append(records, &record)
		}
	}

	return records, nil
}

// update 以ModRevision做比较的读-改-写，mutate返回false时不写入
func (s *ServiceStorage) update(ctx context.Context, serviceID string, mutate func(*model.ServiceRecord) bool) (found bool, applied bool, err error) {
	key := s.client.GetServiceKey(serviceID)

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		resp, err := s.client.GetClient().Get(ctx, key)
		if err != nil {
			return false, false, storage.NewInternalError("从etcd读取失败", err)
		}
		if len(resp.Kvs) == 0 {
			return false, false, nil
		}

		kv := resp.Kvs[0]
		var record model.ServiceRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			return true, false, storage.NewInternalError(fmt.Sprintf("解析服务数据失败: %s", serviceID), err)
		}

		if !mutate(&record) {
			return true, false, nil
		}

		data, err := json.Marshal(&record)
		if err != nil {
			return true, false, storage.NewInternalError("序列化服务数据失败", err)
		}

		txn, err := s.client.GetClient().Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
			Then(clientv3.OpPut(key, string(data))).
			Commit()
		if err != nil {
			return true, false, storage.NewInternalError("写入etcd失败", err)
		}
		if txn.Succeeded {
			return true, true, nil
		}
	}

	return true, false, storage.NewInternalError(fmt.Sprintf("更新服务 %s 冲突次数过多", serviceID), nil)
}
