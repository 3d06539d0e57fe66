package model

import (
	"strings"
	"time"
)

// DefaultHealthPath 未指定健康检查地址时追加到服务地址后的路径
const DefaultHealthPath = "/health"

// ServiceRecord 表示一个已注册的服务实例
type ServiceRecord struct {
	ID             string         `json:"service_id"`       // 服务实例唯一ID
	Name           string         `json:"service_name"`     // 服务名称，可重复
	BaseURL        string         `json:"service_url"`      // 服务基础地址
	HealthCheckURL string         `json:"health_check_url"` // 健康检查地址
	Metadata       map[string]any `json:"metadata"`         // 服务元数据，注册中心不解析
	RegisteredAt   time.Time      `json:"registered_at"`    // 注册时间
	LastHeartbeat  time.Time      `json:"last_heartbeat"`   // 最后心跳时间
	Active         bool           `json:"is_active"`        // 是否活跃
}

// NewServiceRecord 创建一个新的服务实例记录，注册时间与心跳时间均为now
func NewServiceRecord(id, name, baseURL, healthCheckURL string, metadata map[string]any, now time.Time) *ServiceRecord {
	if healthCheckURL == "" {
		healthCheckURL = DefaultHealthCheckURL(baseURL)
	}

	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}

	return &ServiceRecord{
		ID:             id,
		Name:           name,
		BaseURL:        baseURL,
		HealthCheckURL: healthCheckURL,
		Metadata:       md,
		RegisteredAt:   now,
		LastHeartbeat:  now,
		Active:         true,
	}
}

// DefaultHealthCheckURL 返回服务默认的健康检查地址
func DefaultHealthCheckURL(baseURL string) string {
	return baseURL + DefaultHealthPath
}

// Clone 返回记录的副本，元数据为浅拷贝
func (r *ServiceRecord) Clone() *ServiceRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// IsStale 判断记录在now时刻是否已超过timeout未收到心跳
func (r *ServiceRecord) IsStale(now time.Time, timeout time.Duration) bool {
	return now.Sub(r.LastHeartbeat) > timeout
}

// MetadataString 读取字符串类型的元数据，不存在或类型不符时返回空串
func (r *ServiceRecord) MetadataString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	v, ok := r.Metadata[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
