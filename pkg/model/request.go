package model

import "time"

// RegisterRequest 服务注册请求
type RegisterRequest struct {
	ServiceID      string         `json:"service_id"`
	ServiceName    string         `json:"service_name" validate:"required"`
	ServiceURL     string         `json:"service_url" validate:"required,url"`
	HealthCheckURL string         `json:"health_check_url" validate:"omitempty,url"`
	Metadata       map[string]any `json:"metadata"`
}

// RegisterResult 服务注册成功后返回的数据
type RegisterResult struct {
	ServiceID   string         `json:"service_id"`
	ServiceInfo *ServiceRecord `json:"service_info"`
}

// ServiceList 服务列表响应数据
type ServiceList struct {
	Services []*ServiceRecord `json:"services"`
	Count    int              `json:"count"`
}

// HeartbeatResult 心跳响应数据
type HeartbeatResult struct {
	ServiceID string    `json:"service_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CleanupResult 过期服务清理响应数据
type CleanupResult struct {
	InactiveServices []string `json:"inactive_services"`
	Count            int      `json:"count"`
	TimeoutSeconds   int      `json:"timeout_seconds"`
}

// DiscoveryHealth 注册中心健康状态
type DiscoveryHealth struct {
	Status         string    `json:"status"`
	ActiveServices int       `json:"active_services"`
	TotalServices  int       `json:"total_services"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewServiceList 由记录列表构造响应数据，nil列表转为空列表
func NewServiceList(records []*ServiceRecord) *ServiceList {
	if records == nil {
		records = []*ServiceRecord{}
	}
	return &ServiceList{
		Services: records,
		Count:    len(records),
	}
}
