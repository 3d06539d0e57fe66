package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/hewenyu/discovery-gateway/pkg/proxy"
	"github.com/labstack/echo/v4"
)

// ReservedPrefixes 网关自身使用的一级路径，不会作为服务名转发
var ReservedPrefixes = []string{"discovery", "health", "metrics"}

// IsReserved 判断一级路径是否为保留名称
func IsReserved(service string) bool {
	for _, name := range ReservedPrefixes {
		if service == name {
			return true
		}
	}
	return false
}

// Forwarder 请求转发接口，由proxy.Relay实现
type Forwarder interface {
	Forward(ctx context.Context, req *http.Request, service, path string) (*proxy.Response, error)
}

// ProxyErrorResponse 转发失败时的响应体
type ProxyErrorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// ProxyHandler 处理 /:service/* 动态转发
type ProxyHandler struct {
	relay Forwarder
}

// NewProxyHandler 创建转发处理器
func NewProxyHandler(relay Forwarder) *ProxyHandler {
	return &ProxyHandler{
		relay: relay,
	}
}

// Proxy 将请求转发到service对应的下游，并原样返回下游响应
func (h *ProxyHandler) Proxy(c echo.Context) error {
	service := c.Param("service")
	if IsReserved(service) {
		return c.JSON(http.StatusNotFound, ProxyErrorResponse{
			Detail: "Not Found",
			Code:   ErrKindNotFound,
		})
	}

	resp, err := h.relay.Forward(c.Request().Context(), c.Request(), service, c.Param("*"))
	if err != nil {
		return h.relayError(c, service, err)
	}

	header := c.Response().Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	if len(resp.Body) == 0 || !bodyAllowed(c.Request().Method, resp.StatusCode) {
		return nil
	}
	_, err = c.Response().Write(resp.Body)
	return err
}

// relayError 将转发错误映射为HTTP状态码
func (h *ProxyHandler) relayError(c echo.Context, service string, err error) error {
	kind := proxy.KindOf(err)
	switch kind {
	case proxy.KindNotFound:
		return c.JSON(http.StatusNotFound, ProxyErrorResponse{
			Detail: "Unknown service: " + service,
			Code:   string(kind),
		})
	case proxy.KindUnavailable:
		return c.JSON(http.StatusServiceUnavailable, ProxyErrorResponse{
			Detail: "Service unavailable: " + service,
			Code:   string(kind),
		})
	}

	cause := err
	var re *proxy.RelayError
	if errors.As(err, &re) && re.Err != nil {
		cause = re.Err
	}
	return c.JSON(http.StatusInternalServerError, ProxyErrorResponse{
		Detail: "Gateway error: " + cause.Error(),
		Code:   string(kind),
	})
}

// bodyAllowed 判断响应是否允许携带响应体
func bodyAllowed(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	switch {
	case status >= 100 && status < 200, status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
