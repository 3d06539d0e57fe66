package proxy

import (
	"context"
	"fmt"
	"strings"

	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/hewenyu/discovery-gateway/pkg/model"
)

// PathPrefixMetadataKey 注册实例元数据中声明下游路径前缀的key
const PathPrefixMetadataKey = "path_prefix"

// Target 解析得到的下游地址
type Target struct {
	Service    string
	BaseURL    string
	PathPrefix string
}

// URL 拼接下游请求地址：BaseURL + PathPrefix + "/" + path，path的前导斜杠会被去掉
func (t *Target) URL(path string) string {
	base := strings.TrimRight(t.BaseURL, "/")
	prefix := strings.Trim(t.PathPrefix, "/")
	if prefix != "" {
		base += "/" + prefix
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// Resolver 将逻辑服务名解析为下游地址
type Resolver interface {
	Resolve(ctx context.Context, service string) (*Target, error)
}

// StaticResolver 基于配置的静态服务映射
type StaticResolver struct {
	services map[string]config.ProxyServiceConfig
}

// NewStaticResolver 创建静态解析器
func NewStaticResolver(services map[string]config.ProxyServiceConfig) *StaticResolver {
	copied := make(map[string]config.ProxyServiceConfig, len(services))
	for name, svc := range services {
		copied[name] = svc
	}
	return &StaticResolver{services: copied}
}

// Resolve 未声明的服务返回NOT_FOUND，已声明但没有地址返回CONFIGURATION_ERROR
func (s *StaticResolver) Resolve(ctx context.Context, service string) (*Target, error) {
	svc, ok := s.services[service]
	if !ok {
		return nil, notFound(service)
	}
	if strings.TrimSpace(svc.URL) == "" {
		return nil, &RelayError{
			Kind:    KindMisconfigured,
			Service: service,
			Err:     fmt.Errorf("%w: %s", ErrMisconfigured, serviceURLEnv(service)),
		}
	}
	return &Target{
		Service:    service,
		BaseURL:    strings.TrimSpace(svc.URL),
		PathPrefix: svc.PathPrefix,
	}, nil
}

// serviceURLEnv 返回服务对应的地址环境变量名，用于错误提示
func serviceURLEnv(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_")) + config.ServiceURLEnvSuffix
}

// ServiceLookup 按名称查询注册实例，由registry.Registry实现
type ServiceLookup interface {
	GetByName(ctx context.Context, serviceName string) ([]*model.ServiceRecord, error)
}

// RegistryResolver 基于注册中心的解析器，选择第一个活跃实例
type RegistryResolver struct {
	lookup ServiceLookup
}

// NewRegistryResolver 创建注册中心解析器
func NewRegistryResolver(lookup ServiceLookup) *RegistryResolver {
	return &RegistryResolver{lookup: lookup}
}

// Resolve 没有实例返回NOT_FOUND，有实例但都不活跃返回UNAVAILABLE
func (r *RegistryResolver) Resolve(ctx context.Context, service string) (*Target, error) {
	records, err := r.lookup.GetByName(ctx, service)
	if err != nil {
		return nil, &RelayError{Kind: KindInternal, Service: service, Err: err}
	}
	if len(records) == 0 {
		return nil, notFound(service)
	}

	for _, record := range records {
		if record.Active {
			return &Target{
				Service:    service,
				BaseURL:    record.BaseURL,
				PathPrefix: record.MetadataString(PathPrefixMetadataKey),
			}, nil
		}
	}

	return nil, &RelayError{Kind: KindUnavailable, Service: service, Err: ErrServiceUnavailable}
}

// ChainResolver 依次尝试多个解析器
//
// NOT_FOUND与CONFIGURATION_ERROR会继续尝试下一个解析器，其他错误立即返回。
// 全部失败时返回最后一个不是NOT_FOUND的错误。
type ChainResolver struct {
	resolvers []Resolver
}

// NewChainResolver 创建链式解析器
func NewChainResolver(resolvers ...Resolver) *ChainResolver {
	return &ChainResolver{resolvers: resolvers}
}

// Resolve 返回第一个成功的解析结果
func (c *ChainResolver) Resolve(ctx context.Context, service string) (*Target, error) {
	var lastErr error
	for _, resolver := range c.resolvers {
		target, err := resolver.Resolve(ctx, service)
		if err == nil {
			return target, nil
		}

		switch KindOf(err) {
		case KindNotFound:
		case KindMisconfigured:
			lastErr = err
		default:
			return nil, err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, notFound(service)
}

// NewResolver 按策略创建解析器
func NewResolver(strategy string, services map[string]config.ProxyServiceConfig, lookup ServiceLookup) (Resolver, error) {
	switch strategy {
	case config.StrategyStatic:
		return NewStaticResolver(services), nil
	case config.StrategyRegistry:
		return NewRegistryResolver(lookup), nil
	case config.StrategyChain, "":
		return NewChainResolver(NewStaticResolver(services), NewRegistryResolver(lookup)), nil
	default:
		return nil, fmt.Errorf("不支持的路由解析策略: %s", strategy)
	}
}
