// Package client 提供服务实例向网关注册、维持心跳与注销的Go SDK
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/config"
)

// 默认参数
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultTimeout           = 5 * time.Second
)

// Config SDK客户端配置
type Config struct {
	// 网关地址，例如 http://gateway:8080
	GatewayURL string
	// 服务ID，为空时由注册中心生成
	ServiceID string
	// 服务名称
	ServiceName string
	// 服务基础地址
	ServiceURL string
	// 健康检查地址，为空时使用 <ServiceURL>/health
	HealthCheckURL string
	// 元数据，path_prefix 会被网关用于转发路径映射
	Metadata map[string]any
	// 心跳间隔，应小于注册中心的过期时间
	HeartbeatInterval time.Duration
	// 单次请求超时
	Timeout time.Duration
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 使用自定义HTTP客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger config.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client SDK客户端
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	logger     config.Logger

	mu        sync.RWMutex
	serviceID string
	stop      context.CancelFunc
	done      <-chan struct{}
}

// response 网关统一响应结构
type response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// APIError 网关返回的错误响应
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API请求失败: %s (状态码: %d, 类型: %s)", e.Message, e.StatusCode, e.Kind)
}

// IsNotFound 判断错误是否为服务不存在
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// New 创建SDK客户端
func New(cfg Config, opts ...Option) (*Client, error) {
	// 验证必填配置
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("网关地址不能为空")
	}
	if _, err := url.ParseRequestURI(cfg.GatewayURL); err != nil {
		return nil, fmt.Errorf("无效的网关地址: %w", err)
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return nil, fmt.Errorf("服务名称不能为空")
	}
	if strings.TrimSpace(cfg.ServiceURL) == "" {
		return nil, fmt.Errorf("服务地址不能为空")
	}

	// 设置默认值
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.GatewayURL, "/") + "/discovery",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     config.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ServiceID 返回注册后得到的服务ID，未注册时为空
func (c *Client) ServiceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serviceID
}

// IsRegistered 检查服务是否已注册
func (c *Client) IsRegistered() bool {
	return c.ServiceID() != ""
}

// do 发送请求并将data字段解析到out
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	var apiResp response
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return fmt.Errorf("解析响应失败: %w, 响应内容: %s", err, string(raw))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode, Kind: apiResp.Error, Message: apiResp.Message}
	}

	if out != nil && len(apiResp.Data) > 0 {
		if err := json.Unmarshal(apiResp.Data, out); err != nil {
			return fmt.Errorf("解析响应数据失败: %w", err)
		}
	}
	return nil
}
