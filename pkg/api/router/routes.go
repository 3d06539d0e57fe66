package router

import (
	"net/http"

	"github.com/hewenyu/discovery-gateway/pkg/api/handler"
	"github.com/labstack/echo/v4"
)

// ProxyMethods 动态转发支持的HTTP方法
var ProxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// Route 路由表中的一项
type Route struct {
	Method      string
	Path        string
	Name        string
	Handler     echo.HandlerFunc
	Middlewares []echo.MiddlewareFunc
}

// Handlers 构建路由表所需的处理器
type Handlers struct {
	Service *handler.ServiceHandler
	Health  *handler.HealthHandler
	Metrics *handler.MetricsHandler
	Proxy   *handler.ProxyHandler

	// ProxyMiddlewares 只作用于动态转发路由，例如限流
	ProxyMiddlewares []echo.MiddlewareFunc
}

// Routes 返回有序路由表：服务发现与网关自身路由在前，动态转发路由始终在最后
func Routes(h Handlers) []Route {
	routes := []Route{
		// 服务发现
		{Method: http.MethodPost, Path: "/discovery/register", Name: "discovery.register", Handler: h.Service.RegisterService},
		{Method: http.MethodDelete, Path: "/discovery/unregister/:service_id", Name: "discovery.unregister", Handler: h.Service.UnregisterService},
		{Method: http.MethodGet, Path: "/discovery/services", Name: "discovery.list", Handler: h.Service.ListServices},
		{Method: http.MethodGet, Path: "/discovery/services/name/:service_name", Name: "discovery.get_by_name", Handler: h.Service.GetServicesByName},
		{Method: http.MethodGet, Path: "/discovery/services/:service_id", Name: "discovery.get", Handler: h.Service.GetService},
		{Method: http.MethodPost, Path: "/discovery/heartbeat/:service_id", Name: "discovery.heartbeat", Handler: h.Service.Heartbeat},
		{Method: http.MethodPost, Path: "/discovery/cleanup", Name: "discovery.cleanup", Handler: h.Service.Cleanup},
		{Method: http.MethodGet, Path: "/discovery/health", Name: "discovery.health", Handler: h.Service.DiscoveryHealth},

		// 网关自身
		{Method: http.MethodGet, Path: "/", Name: "root", Handler: h.Health.Root},
		{Method: http.MethodGet, Path: "/health", Name: "health", Handler: h.Health.HealthCheck},
		{Method: http.MethodGet, Path: "/api/health", Name: "api.health", Handler: h.Health.HealthCheck},
	}

	if h.Metrics != nil {
		routes = append(routes, Route{Method: http.MethodGet, Path: "/metrics", Name: "metrics", Handler: h.Metrics.GetMetrics})
	}

	// 动态转发
	for _, method := range ProxyMethods {
		routes = append(routes, Route{
			Method:      method,
			Path:        "/:service/*",
			Name:        "proxy." + method,
			Handler:     h.Proxy.Proxy,
			Middlewares: h.ProxyMiddlewares,
		})
	}

	return routes
}

// Apply 按路由表顺序注册路由
func Apply(e *echo.Echo, routes []Route) {
	for _, r := range routes {
		route := e.Add(r.Method, r.Path, r.Handler, r.Middlewares...)
		route.Name = r.Name
	}
}
