package dns

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/multierr"
)

// 上游查询默认超时
const defaultUpstreamTimeout = 5 * time.Second

// UpstreamResolver 将非本地域名的查询转发到上游DNS
type UpstreamResolver struct {
	servers []string    // 上游DNS服务器列表
	client  *dns.Client // DNS客户端
}

// NewUpstreamResolver 创建上游DNS解析器
func NewUpstreamResolver(servers []string, timeout time.Duration) *UpstreamResolver {
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	return &UpstreamResolver{
		servers: append([]string(nil), servers...),
		client: &dns.Client{
			Net:     "udp",
			Timeout: timeout,
		},
	}
}

// Resolve 从随机选中的上游开始依次尝试，直到有一个返回响应
func (ur *UpstreamResolver) Resolve(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	if len(req.Question) == 0 {
		return nil, errors.New("无效的DNS请求：没有问题部分")
	}
	if len(ur.servers) == 0 {
		return nil, errors.New("未配置上游DNS服务器")
	}

	start := rand.IntN(len(ur.servers))
	var errs []error
	for i := range ur.servers {
		server := ur.servers[(start+i)%len(ur.servers)]
		resp, _, err := ur.client.ExchangeContext(ctx, req, server)
		if err == nil {
			return resp, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}

	return nil, multierr.Combine(errs...)
}

// minTTL 返回响应中回答部分的最小TTL
func minTTL(msg *dns.Msg) (uint32, bool) {
	if len(msg.Answer) == 0 {
		return 0, false
	}
	ttl := msg.Answer[0].Header().Ttl
	for _, rr := range msg.Answer[1:] {
		if rr.Header().Ttl < ttl {
			ttl = rr.Header().Ttl
		}
	}
	return ttl, true
}
