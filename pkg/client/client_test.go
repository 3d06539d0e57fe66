package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/api"
	"github.com/hewenyu/discovery-gateway/pkg/api/handler"
	"github.com/hewenyu/discovery-gateway/pkg/api/router"
	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/hewenyu/discovery-gateway/pkg/metrics"
	"github.com/hewenyu/discovery-gateway/pkg/proxy"
	"github.com/hewenyu/discovery-gateway/pkg/registry"
	"github.com/hewenyu/discovery-gateway/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startGateway 启动一个只使用内存存储的网关
func startGateway(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()

	logger := config.NewNopLogger()
	m := metrics.New()
	reg := registry.New(memory.NewServiceStorage())

	resolver, err := proxy.NewResolver(config.StrategyRegistry, nil, reg)
	require.NoError(t, err)

	routes := router.Routes(router.Handlers{
		Service: handler.NewServiceHandler(reg, 30*time.Second, logger),
		Health:  handler.NewHealthHandler(0),
		Proxy:   handler.NewProxyHandler(proxy.NewRelay(resolver)),
	})
	srv := api.NewServer(config.ServerConfig{}, logger, m, routes)

	ts := httptest.NewServer(srv.Echo())
	t.Cleanup(ts.Close)
	return ts, reg
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{ServiceName: "a", ServiceURL: "http://a"})
	assert.Error(t, err)

	_, err = New(Config{GatewayURL: "http://gw", ServiceURL: "http://a"})
	assert.Error(t, err)

	_, err = New(Config{GatewayURL: "http://gw", ServiceName: "a"})
	assert.Error(t, err)

	c, err := New(Config{GatewayURL: "http://gw/", ServiceName: "a", ServiceURL: "http://a"})
	require.NoError(t, err)
	assert.Equal(t, "http://gw/discovery", c.baseURL)
	assert.Equal(t, DefaultHeartbeatInterval, c.cfg.HeartbeatInterval)
	assert.False(t, c.IsRegistered())
}

func TestClient_Lifecycle(t *testing.T) {
	ts, reg := startGateway(t)
	ctx := context.Background()

	c, err := New(Config{
		GatewayURL:  ts.URL,
		ServiceName: "inventory",
		ServiceURL:  "http://svc:9000",
		Metadata:    map[string]any{"path_prefix": "/api/v1"},
	})
	require.NoError(t, err)

	// 未注册时不能发送心跳
	_, err = c.Heartbeat(ctx)
	assert.Error(t, err)

	record, err := c.Register(ctx)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.NotEmpty(t, c.ServiceID())
	assert.Equal(t, "http://svc:9000/health", record.HealthCheckURL)
	assert.Equal(t, "/api/v1", record.Metadata["path_prefix"])

	// 重复注册
	_, err = c.Register(ctx)
	assert.Error(t, err)

	// 标记为非活跃后心跳可以恢复
	require.NoError(t, reg.Deactivate(ctx, c.ServiceID()))
	ts1, err := c.Heartbeat(ctx)
	require.NoError(t, err)
	assert.False(t, ts1.IsZero())

	found, err := c.Discover(ctx, "inventory", true)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, c.ServiceID(), found[0].ID)

	require.NoError(t, c.Close(ctx))
	assert.False(t, c.IsRegistered())

	all, err := c.Discover(ctx, "inventory", false)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestClient_DuplicateServiceID(t *testing.T) {
	ts, _ := startGateway(t)
	ctx := context.Background()

	cfg := Config{GatewayURL: ts.URL, ServiceID: "fixed-id", ServiceName: "orders", ServiceURL: "http://orders:9100"}
	first, err := New(cfg)
	require.NoError(t, err)
	_, err = first.Register(ctx)
	require.NoError(t, err)

	second, err := New(cfg)
	require.NoError(t, err)
	_, err = second.Register(ctx)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, handler.ErrKindConflict, apiErr.Kind)
}

func TestClient_HeartbeatLoopReregisters(t *testing.T) {
	ts, reg := startGateway(t)
	ctx := context.Background()

	c, err := New(Config{
		GatewayURL:        ts.URL,
		ServiceID:         "report-1",
		ServiceName:       "report",
		ServiceURL:        "http://report:8006",
		HeartbeatInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	_, err = c.Register(ctx)
	require.NoError(t, err)

	done := c.StartHeartbeat(ctx)

	// 在服务端删除记录后，心跳任务会重新注册
	require.NoError(t, reg.Unregister(ctx, "report-1"))
	assert.Eventually(t, func() bool {
		record, err := reg.Get(ctx, "report-1")
		return err == nil && record.Active
	}, 2*time.Second, 10*time.Millisecond)

	c.StopHeartbeat()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("心跳任务未退出")
	}

	assert.Equal(t, "report-1", c.ServiceID())
	require.NoError(t, c.Close(ctx))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&APIError{StatusCode: http.StatusNotFound}))
	assert.False(t, IsNotFound(&APIError{StatusCode: http.StatusConflict}))
	assert.False(t, IsNotFound(assert.AnError))
}
