package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hewenyu/discovery-gateway/pkg/model"
)

// Register 注册服务，成功后记录服务ID
func (c *Client) Register(ctx context.Context) (*model.ServiceRecord, error) {
	if id := c.ServiceID(); id != "" {
		return nil, fmt.Errorf("服务已注册，服务ID: %s", id)
	}

	req := model.RegisterRequest{
		ServiceID:      c.cfg.ServiceID,
		ServiceName:    c.cfg.ServiceName,
		ServiceURL:     c.cfg.ServiceURL,
		HealthCheckURL: c.cfg.HealthCheckURL,
		Metadata:       c.cfg.Metadata,
	}

	var result model.RegisterResult
	if err := c.do(ctx, http.MethodPost, "/register", req, &result); err != nil {
		return nil, fmt.Errorf("服务注册失败: %w", err)
	}

	c.mu.Lock()
	c.serviceID = result.ServiceID
	c.mu.Unlock()

	return result.ServiceInfo, nil
}

// Unregister 注销服务
func (c *Client) Unregister(ctx context.Context) error {
	id := c.ServiceID()
	if id == "" {
		return fmt.Errorf("服务尚未注册")
	}

	if err := c.do(ctx, http.MethodDelete, "/unregister/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("服务注销失败: %w", err)
	}

	c.mu.Lock()
	c.serviceID = ""
	c.mu.Unlock()

	return nil
}

// Discover 按名称查询服务实例，activeOnly为true时过滤掉非活跃实例
func (c *Client) Discover(ctx context.Context, name string, activeOnly bool) ([]*model.ServiceRecord, error) {
	var list model.ServiceList
	if err := c.do(ctx, http.MethodGet, "/services/name/"+url.PathEscape(name), nil, &list); err != nil {
		return nil, fmt.Errorf("查询服务失败: %w", err)
	}

	if !activeOnly {
		return list.Services, nil
	}
	active := make([]*model.ServiceRecord, 0, len(list.Services))
	for _, record := range list.Services {
		if record.Active {
			active = append(active, record)
		}
	}
	return active, nil
}
