package dns

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/hewenyu/discovery-gateway/pkg/model"
	"github.com/miekg/dns"
)

// 生成SRV记录时使用的固定优先级与权重
const (
	srvPriority = 10
	srvWeight   = 10
)

// ServiceSource 提供当前活跃的服务实例
type ServiceSource interface {
	ListActive(ctx context.Context) ([]*model.ServiceRecord, error)
}

// RecordManager 根据注册中心的活跃实例生成DNS记录
type RecordManager struct {
	source ServiceSource
	domain string // 规范化后的域名，以.结尾
	ttl    uint32
}

// NewRecordManager 创建DNS记录管理器
func NewRecordManager(source ServiceSource, domain string, ttl int) *RecordManager {
	if ttl < 0 {
		ttl = 0
	}
	return &RecordManager{
		source: source,
		domain: dns.Fqdn(strings.ToLower(domain)),
		ttl:    uint32(ttl),
	}
}

// Domain 返回本地域名
func (rm *RecordManager) Domain() string {
	return rm.domain
}

// IsLocal 判断查询的域名是否属于本地域
func (rm *RecordManager) IsLocal(name string) bool {
	return dns.IsSubDomain(rm.domain, dns.Fqdn(strings.ToLower(name)))
}

// GetRecords 获取指定域名和类型的DNS记录，found为false表示该名称下没有活跃服务
func (rm *RecordManager) GetRecords(ctx context.Context, name string, qtype uint16) (rrs []dns.RR, found bool, err error) {
	name = dns.Fqdn(strings.ToLower(name))

	serviceName, srv := rm.extractServiceName(name)
	if serviceName == "" {
		return nil, false, nil
	}

	records, err := rm.source.ListActive(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("读取活跃服务失败: %w", err)
	}

	for _, record := range records {
		if !strings.EqualFold(record.Name, serviceName) {
			continue
		}

		ep, err := parseEndpoint(record.BaseURL)
		if err != nil {
			continue
		}
		found = true

		if srv {
			if qtype == dns.TypeSRV || qtype == dns.TypeANY {
				rrs = append(rrs, rm.srvRecord(name, serviceName, ep))
			}
			continue
		}

		rrs = append(rrs, rm.hostRecords(name, qtype, ep, record.BaseURL)...)
	}

	return rrs, found, nil
}

// extractServiceName 从域名中解析服务名称，支持 <name>.<domain> 与 _<name>._tcp.<domain>
func (rm *RecordManager) extractServiceName(name string) (string, bool) {
	if !dns.IsSubDomain(rm.domain, name) || name == rm.domain {
		return "", false
	}

	prefix := strings.TrimSuffix(strings.TrimSuffix(name, rm.domain), ".")
	labels := dns.SplitDomainName(prefix)

	switch {
	case len(labels) == 1 && !strings.HasPrefix(labels[0], "_"):
		return labels[0], false
	case len(labels) == 2 && strings.HasPrefix(labels[0], "_") && labels[1] == "_tcp":
		return strings.TrimPrefix(labels[0], "_"), true
	default:
		return "", false
	}
}

// hostRecords 生成主机名上的记录：IP地址对应A/AAAA，主机名对应CNAME，TXT携带服务地址
func (rm *RecordManager) hostRecords(name string, qtype uint16, ep endpoint, baseURL string) []dns.RR {
	var rrs []dns.RR

	ip := net.ParseIP(ep.host)
	switch {
	case ip == nil:
		if qtype == dns.TypeA || qtype == dns.TypeAAAA || qtype == dns.TypeCNAME || qtype == dns.TypeANY {
			rrs = append(rrs, &dns.CNAME{Hdr: rm.header(name, dns.TypeCNAME), Target: dns.Fqdn(ep.host)})
		}
	case ip.To4() != nil:
		if qtype == dns.TypeA || qtype == dns.TypeANY {
			rrs = append(rrs, &dns.A{Hdr: rm.header(name, dns.TypeA), A: ip.To4()})
		}
	default:
		if qtype == dns.TypeAAAA || qtype == dns.TypeANY {
			rrs = append(rrs, &dns.AAAA{Hdr: rm.header(name, dns.TypeAAAA), AAAA: ip})
		}
	}

	if qtype == dns.TypeTXT || qtype == dns.TypeANY {
		rrs = append(rrs, &dns.TXT{Hdr: rm.header(name, dns.TypeTXT), Txt: []string{baseURL}})
	}

	return rrs
}

// srvRecord 生成SRV记录，目标指向 <name>.<domain>
func (rm *RecordManager) srvRecord(name, serviceName string, ep endpoint) dns.RR {
	return &dns.SRV{
		Hdr:      rm.header(name, dns.TypeSRV),
		Priority: srvPriority,
		Weight:   srvWeight,
		Port:     ep.port,
		Target:   dns.Fqdn(strings.ToLower(serviceName) + "." + rm.domain),
	}
}

func (rm *RecordManager) header(name string, rrtype uint16) dns.RR_Header {
	return dns.RR_Header{Name: name, Rrtype: rrtype, Class: dns.ClassINET, Ttl: rm.ttl}
}

// endpoint 服务地址中的主机与端口
type endpoint struct {
	host string
	port uint16
}

// parseEndpoint 从服务基础地址解析主机与端口，未指定端口时按协议取默认值
func parseEndpoint(baseURL string) (endpoint, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return endpoint{}, err
	}
	if u.Hostname() == "" {
		return endpoint{}, fmt.Errorf("服务地址缺少主机: %s", baseURL)
	}

	ep := endpoint{host: u.Hostname()}
	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return endpoint{}, fmt.Errorf("无效的端口: %s", p)
		}
		ep.port = uint16(port)
		return ep, nil
	}

	switch u.Scheme {
	case "https":
		ep.port = 443
	default:
		ep.port = 80
	}
	return ep, nil
}
