package etcd

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/model"
	"github.com/hewenyu/discovery-gateway/pkg/storage"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// 监听被取消后重新建立的间隔
const rewatchDelay = time.Second

// Watch 监听服务前缀下的变化，从当前revision之后开始，断开后自动重连
func (s *ServiceStorage) Watch(ctx context.Context, fn func(storage.ChangeEvent)) error {
	prefix := s.client.GetServicesPrefix()

	resp, err := s.client.GetClient().Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return storage.NewInternalError("获取etcd当前revision失败", err)
	}

	go s.watchLoop(ctx, prefix, resp.Header.Revision+1, fn)
	return nil
}

func (s *ServiceStorage) watchLoop(ctx context.Context, prefix string, rev int64, fn func(storage.ChangeEvent)) {
	for {
		wch := s.client.GetClient().Watch(clientv3.WithRequireLeader(ctx), prefix,
			clientv3.WithPrefix(), clientv3.WithRev(rev), clientv3.WithPrevKV())

		for resp := range wch {
			if resp.CompactRevision > 0 {
				// 请求的revision已被压缩，从压缩点继续
				rev = resp.CompactRevision
			}
			if resp.Canceled {
				break
			}

			for _, ev := range resp.Events {
				if event, ok := toChangeEvent(prefix, ev); ok {
					fn(event)
				}
			}
			rev = resp.Header.Revision + 1
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(rewatchDelay):
		}
	}
}

// toChangeEvent 将etcd事件转换为服务变更事件，无法解析的数据被忽略
func toChangeEvent(prefix string, ev *clientv3.Event) (storage.ChangeEvent, bool) {
	key := string(ev.Kv.Key)
	if !strings.HasPrefix(key, prefix) {
		return storage.ChangeEvent{}, false
	}

	event := storage.ChangeEvent{ServiceID: strings.TrimPrefix(key, prefix)}

	switch ev.Type {
	case clientv3.EventTypePut:
		event.Type = storage.EventUpdate
		if ev.IsCreate() {
			event.Type = storage.EventCreate
		}
		event.Record = decodeRecord(ev.Kv.Value)
		if event.Record == nil {
			return storage.ChangeEvent{}, false
		}
	case clientv3.EventTypeDelete:
		event.Type = storage.EventDelete
	default:
		return storage.ChangeEvent{}, false
	}

	if ev.PrevKv != nil {
		event.Prev = decodeRecord(ev.PrevKv.Value)
	}
	return event, true
}

func decodeRecord(data []byte) *model.ServiceRecord {
	if len(data) == 0 {
		return nil
	}
	var record model.ServiceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil
	}
	return &record
}
