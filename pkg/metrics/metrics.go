package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "discovery_gateway"

// Metrics 网关的Prometheus指标集合
//
// 所有方法在接收者为nil时直接返回，调用方无需判断是否启用了指标。
type Metrics struct {
	registry *prometheus.Registry

	registryServices *prometheus.GaugeVec
	sweepRuns        prometheus.Counter
	sweptServices    prometheus.Counter

	proxyRequests *prometheus.CounterVec
	proxyDuration *prometheus.HistogramVec
	proxyFailures *prometheus.CounterVec

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	rateLimited  prometheus.Counter
	dnsQueries   *prometheus.CounterVec
}

// New 创建指标集合并注册到独立的Registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		registryServices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "services",
				Help:      "Number of registered service instances by state.",
			},
			[]string{"state"},
		),
		sweepRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "sweeps_total",
				Help:      "Total number of liveness sweeps.",
			},
		),
		sweptServices: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "swept_services_total",
				Help:      "Total number of stale service ids reported by sweeps.",
			},
		),

		proxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of relayed requests by downstream status.",
			},
			[]string{"service", "method", "status"},
		),
		proxyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "Duration of relayed requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms ~ 40s
			},
			[]string{"service"},
		),
		proxyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "failures_total",
				Help:      "Total number of failed relays by failure kind.",
			},
			[]string{"service", "kind"},
		),

		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms ~ 5s
			},
			[]string{"method", "route"},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "rate_limited_total",
				Help:      "Total number of requests rejected by the rate limiter.",
			},
		),
		dnsQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dns",
				Name:      "queries_total",
				Help:      "Total number of DNS questions by type and result.",
			},
			[]string{"qtype", "result"},
		),
	}

	m.registry.MustRegister(
		m.registryServices,
		m.sweepRuns,
		m.sweptServices,
		m.proxyRequests,
		m.proxyDuration,
		m.proxyFailures,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.rateLimited,
		m.dnsQueries,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return m
}

// Registry 返回底层的Prometheus Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回暴露指标的HTTP处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetServiceCounts 更新注册中心实例数量
func (m *Metrics) SetServiceCounts(active, total int) {
	if m == nil {
		return
	}
	m.registryServices.WithLabelValues("active").Set(float64(active))
	m.registryServices.WithLabelValues("inactive").Set(float64(total - active))
}

// RecordSweep 记录一次过期清理
func (m *Metrics) RecordSweep(stale int) {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweptServices.Add(float64(stale))
}

// RecordProxy 记录一次成功转发，status为下游返回的状态码
func (m *Metrics) RecordProxy(service, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.proxyRequests.WithLabelValues(service, method, strconv.Itoa(status)).Inc()
	m.proxyDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordProxyFailure 记录一次转发失败
func (m *Metrics) RecordProxyFailure(service, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.proxyFailures.WithLabelValues(service, kind).Inc()
	m.proxyDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// InFlight 调整处理中的请求数
func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.httpInFlight.Add(delta)
}

// RecordHTTP 记录一次HTTP请求，route为路由模板而不是原始路径
func (m *Metrics) RecordHTTP(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRateLimited 记录一次被限流的请求
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// RecordDNSQuery 记录一次DNS查询
func (m *Metrics) RecordDNSQuery(qtype, result string) {
	if m == nil {
		return
	}
	m.dnsQueries.WithLabelValues(qtype, result).Inc()
}
