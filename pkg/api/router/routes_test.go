package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/api/handler"
	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/hewenyu/discovery-gateway/pkg/metrics"
	"github.com/hewenyu/discovery-gateway/pkg/model"
	"github.com/hewenyu/discovery-gateway/pkg/proxy"
	"github.com/hewenyu/discovery-gateway/pkg/registry"
	"github.com/hewenyu/discovery-gateway/pkg/storage/memory"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGateway(t *testing.T, services map[string]config.ProxyServiceConfig) (*echo.Echo, *registry.Registry) {
	t.Helper()

	reg := registry.New(memory.NewServiceStorage())
	resolver, err := proxy.NewResolver(config.StrategyChain, services, reg)
	require.NoError(t, err)

	m := metrics.New()
	e := echo.New()
	e.Validator = handler.NewValidator()
	Apply(e, Routes(Handlers{
		Service: handler.NewServiceHandler(reg, 30*time.Second, config.NewNopLogger()),
		Health:  handler.NewHealthHandler(8080),
		Metrics: handler.NewMetricsHandler(m.Handler()),
		Proxy:   handler.NewProxyHandler(proxy.NewRelay(resolver, proxy.WithMetrics(m))),
	}))
	return e, reg
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_ProxyRoutesLast(t *testing.T) {
	routes := Routes(Handlers{
		Service: &handler.ServiceHandler{},
		Health:  &handler.HealthHandler{},
		Metrics: &handler.MetricsHandler{},
		Proxy:   &handler.ProxyHandler{},
	})

	require.Len(t, routes, 12+len(ProxyMethods))

	tail := routes[len(routes)-len(ProxyMethods):]
	for i, r := range tail {
		assert.Equal(t, "/:service/*", r.Path)
		assert.Equal(t, ProxyMethods[i], r.Method)
	}
	for _, r := range routes[:len(routes)-len(ProxyMethods)] {
		assert.NotEqual(t, "/:service/*", r.Path)
	}
}

func TestRoutes_WithoutMetrics(t *testing.T) {
	routes := Routes(Handlers{
		Service: &handler.ServiceHandler{},
		Health:  &handler.HealthHandler{},
		Proxy:   &handler.ProxyHandler{},
	})
	for _, r := range routes {
		assert.NotEqual(t, "/metrics", r.Path)
	}
}

func TestGateway_DiscoveryAndProxy(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/orders/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	defer downstream.Close()

	e, _ := setupGateway(t, nil)

	rec := serve(e, http.MethodPost, "/discovery/register",
		`{"service_name":"orders","service_url":"`+downstream.URL+`","metadata":{"path_prefix":"/api/v1"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(e, http.MethodGet, "/orders/orders/42", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":42}`, rec.Body.String())
}

func TestGateway_StaticRoutesWin(t *testing.T) {
	e, _ := setupGateway(t, map[string]config.ProxyServiceConfig{
		"health": {URL: "http://should-not-be-called"},
	})

	rec := serve(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(e, http.MethodGet, "/discovery/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// 保留前缀下的未知路径不会被转发
	rec = serve(e, http.MethodGet, "/discovery/unknown/path", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "discovery_gateway_")
}

func TestGateway_UnknownService(t *testing.T) {
	e, _ := setupGateway(t, nil)

	rec := serve(e, http.MethodGet, "/ghost/anything", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp handler.ProxyErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Unknown service: ghost", resp.Detail)
}

func TestGateway_InactiveServiceUnavailable(t *testing.T) {
	e, reg := setupGateway(t, nil)

	record, err := reg.Register(context.Background(), &model.RegisterRequest{
		ServiceName: "billing",
		ServiceURL:  "http://billing:9000",
	})
	require.NoError(t, err)
	require.NoError(t, reg.Deactivate(context.Background(), record.ID))

	rec := serve(e, http.MethodPost, "/billing/invoices", `{"amount":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestApply_NamesRoutes(t *testing.T) {
	e := echo.New()
	Apply(e, []Route{{
		Method:  http.MethodGet,
		Path:    "/ping",
		Name:    "ping",
		Handler: func(c echo.Context) error { return c.String(http.StatusOK, "pong") },
	}})

	assert.Equal(t, "/ping", e.Reverse("ping"))
	rec := serve(e, http.MethodGet, "/ping", "")
	assert.Equal(t, "pong", rec.Body.String())
}
