package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/hewenyu/discovery-gateway/pkg/model"
	"github.com/hewenyu/discovery-gateway/pkg/proxy"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupProxy(t *testing.T, resolver proxy.Resolver, opts ...proxy.RelayOption) *echo.Echo {
	t.Helper()

	e := echo.New()
	h := NewProxyHandler(proxy.NewRelay(resolver, opts...))
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		e.Add(method, "/:service/*", h.Proxy)
	}
	return e
}

func decodeProxyError(t *testing.T, rec *httptest.ResponseRecorder) ProxyErrorResponse {
	t.Helper()
	var resp ProxyErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestProxy_RelayScenario(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items", r.URL.Path)
		assert.Equal(t, "x=1", r.URL.RawQuery)
		assert.Equal(t, "abc", r.Header.Get("X-Trace"))

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Served-By", "inventory")
		_, _ = w.Write([]byte(`{"a":1}`))
	}))
	defer downstream.Close()

	e := setupProxy(t, proxy.NewStaticResolver(map[string]config.ProxyServiceConfig{
		"inventory": {URL: downstream.URL},
	}))

	req := httptest.NewRequest(http.MethodGet, "/inventory/items?x=1", nil)
	req.Header.Set("X-Trace", "abc")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"a":1}`, rec.Body.String())
	assert.Equal(t, "inventory", rec.Header().Get("X-Served-By"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestProxy_AllMethods(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"method": r.Method, "body": string(body)})
	}))
	defer downstream.Close()

	e := setupProxy(t, proxy.NewStaticResolver(map[string]config.ProxyServiceConfig{
		"orders": {URL: downstream.URL},
	}))

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		req := httptest.NewRequest(method, "/orders/1", strings.NewReader(`{"qty":2}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusAccepted, rec.Code, method)
		var got map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, method, got["method"])
		assert.Equal(t, `{"qty":2}`, got["body"])
	}
}

func TestProxy_UnknownService(t *testing.T) {
	var calls int32
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer downstream.Close()

	e := setupProxy(t, proxy.NewStaticResolver(map[string]config.ProxyServiceConfig{
		"inventory": {URL: downstream.URL},
	}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ghost/anything", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeProxyError(t, rec)
	assert.Equal(t, "Unknown service: ghost", resp.Detail)
	assert.Equal(t, string(proxy.KindNotFound), resp.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestProxy_Misconfigured(t *testing.T) {
	e := setupProxy(t, proxy.NewStaticResolver(map[string]config.ProxyServiceConfig{
		"assessment": {},
	}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assessment/list", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeProxyError(t, rec)
	assert.Equal(t, string(proxy.KindMisconfigured), resp.Code)
	assert.Contains(t, resp.Detail, "ASSESSMENT_SERVICE_URL")
}

func TestProxy_Timeout(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer downstream.Close()

	e := setupProxy(t,
		proxy.NewStaticResolver(map[string]config.ProxyServiceConfig{"slow": {URL: downstream.URL}}),
		proxy.WithTimeout(50*time.Millisecond),
	)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow/wait", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeProxyError(t, rec)
	assert.Equal(t, string(proxy.KindTimeout), resp.Code)
	assert.True(t, strings.HasPrefix(resp.Detail, "Gateway error: "))
}

func TestProxy_RegistryUnavailable(t *testing.T) {
	reg, _ := newRegistry()
	_, err := reg.Register(t.Context(), &model.RegisterRequest{ServiceID: "inv-1", ServiceName: "inventory", ServiceURL: "http://svc"})
	require.NoError(t, err)
	require.NoError(t, reg.Deactivate(t.Context(), "inv-1"))

	e := setupProxy(t, proxy.NewRegistryResolver(reg))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory/items", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(proxy.KindUnavailable), decodeProxyError(t, rec).Code)
}

func TestProxy_ReservedPrefix(t *testing.T) {
	e := setupProxy(t, proxy.NewStaticResolver(map[string]config.ProxyServiceConfig{
		"discovery": {URL: "http://should-not-be-used"},
	}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/discovery/unknown", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrKindNotFound, decodeProxyError(t, rec).Code)

	assert.True(t, IsReserved("health"))
	assert.True(t, IsReserved("metrics"))
	assert.False(t, IsReserved("inventory"))
}

func TestProxy_NoContent(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer downstream.Close()

	e := setupProxy(t, proxy.NewStaticResolver(map[string]config.ProxyServiceConfig{
		"orders": {URL: downstream.URL},
	}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/orders/1", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}
