package dns

import (
	"context"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/hewenyu/discovery-gateway/pkg/metrics"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// 单次查询的处理超时
const queryTimeout = 5 * time.Second

// 查询结果标签
const (
	resultCache    = "cache"
	resultLocal    = "local"
	resultNXDomain = "nxdomain"
	resultUpstream = "upstream"
	resultError    = "error"
	resultRefused  = "refused"
)

// Handler DNS请求处理器
type Handler struct {
	records  *RecordManager    // DNS记录管理器
	upstream *UpstreamResolver // 上游DNS解析器，为nil时拒绝非本地查询
	cache    *DNSCache         // DNS缓存
	logger   config.Logger
	metrics  *metrics.Metrics
}

// NewHandler 创建DNS请求处理器
func NewHandler(records *RecordManager, upstream *UpstreamResolver, cache *DNSCache, logger config.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &Handler{
		records:  records,
		upstream: upstream,
		cache:    cache,
		logger:   logger,
		metrics:  m,
	}
}

// ServeDNS 处理DNS请求
func (h *Handler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)

	// 只处理标准查询
	if r.Opcode != dns.OpcodeQuery {
		m.Rcode = dns.RcodeNotImplemented
		h.write(w, m, "", resultRefused)
		return
	}
	if len(r.Question) != 1 {
		m.Rcode = dns.RcodeFormatError
		h.write(w, m, "", resultError)
		return
	}

	q := r.Question[0]
	qtype := dns.TypeToString[q.Qtype]

	// 检查缓存
	if cached := h.cache.Get(q); cached != nil {
		cached.Id = r.Id
		h.write(w, cached, qtype, resultCache)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if h.records.IsLocal(q.Name) {
		h.handleLocal(ctx, w, m, q)
		return
	}

	h.handleUpstream(ctx, w, r, q)
}

// handleLocal 处理本地域名查询
func (h *Handler) handleLocal(ctx context.Context, w dns.ResponseWriter, m *dns.Msg, q dns.Question) {
	qtype := dns.TypeToString[q.Qtype]
	m.Authoritative = true

	records, found, err := h.records.GetRecords(ctx, q.Name, q.Qtype)
	if err != nil {
		h.logger.Error("获取DNS记录失败", zap.String("name", q.Name), zap.Error(err))
		m.Rcode = dns.RcodeServerFailure
		h.write(w, m, qtype, resultError)
		return
	}

	// 没有活跃实例时返回NXDOMAIN
	if !found {
		m.Rcode = dns.RcodeNameError
		h.write(w, m, qtype, resultNXDomain)
		return
	}

	m.Answer = append(m.Answer, records...)
	h.cache.Set(q, m)
	h.write(w, m, qtype, resultLocal)
}

// handleUpstream 处理上游DNS查询
func (h *Handler) handleUpstream(ctx context.Context, w dns.ResponseWriter, r *dns.Msg, q dns.Question) {
	qtype := dns.TypeToString[q.Qtype]

	if h.upstream == nil {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeRefused)
		h.write(w, m, qtype, resultRefused)
		return
	}

	resp, err := h.upstream.Resolve(ctx, r)
	if err != nil {
		h.logger.Warn("上游DNS查询失败", zap.String("name", q.Name), zap.Error(err))
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeServerFailure)
		h.write(w, m, qtype, resultError)
		return
	}

	// 上游记录的TTL不短于缓存有效期时才缓存
	if resp.Rcode == dns.RcodeSuccess {
		if ttl, ok := minTTL(resp); ok && time.Duration(ttl)*time.Second >= h.cache.TTL() {
			h.cache.Set(q, resp)
		}
	}

	resp.Id = r.Id
	h.write(w, resp, qtype, resultUpstream)
}

func (h *Handler) write(w dns.ResponseWriter, m *dns.Msg, qtype, result string) {
	h.metrics.RecordDNSQuery(qtype, result)
	if err := w.WriteMsg(m); err != nil {
		h.logger.Warn("写入DNS响应失败", zap.Error(err))
	}
}
