package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "DISCOVERY_GATEWAY"

// ServiceURLEnvSuffix 静态服务地址环境变量后缀，例如 USER_SERVICE_URL
const ServiceURLEnvSuffix = "_SERVICE_URL"

// 路由解析策略
const (
	StrategyStatic   = "static"
	StrategyRegistry = "registry"
	StrategyChain    = "chain"
)

// 存储类型
const (
	StorageMemory = "memory"
	StorageEtcd   = "etcd"
)

// Config 定义整个应用的配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Etcd     EtcdConfig     `mapstructure:"etcd"`
	Registry RegistryConfig `mapstructure:"registry"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	DNS      DNSConfig      `mapstructure:"dns"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	ListenAddress   string        `mapstructure:"listen_address"`
	Port            int           `mapstructure:"port"`
	DNSEnabled      bool          `mapstructure:"dns_enabled"`
	DNSPort         int           `mapstructure:"dns_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig 服务注册存储配置
type StorageConfig struct {
	Type string `mapstructure:"type"` // "memory" 或 "etcd"
}

// EtcdConfig etcd配置
type EtcdConfig struct {
	Endpoints   []string `mapstructure:"endpoints"`
	DialTimeout string   `mapstructure:"dial_timeout"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	Prefix      string   `mapstructure:"prefix"`
}

// RegistryConfig 注册中心配置
type RegistryConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // 0 表示不启动后台清理
	SweepTimeout  time.Duration `mapstructure:"sweep_timeout"`
}

// ProxyConfig 请求转发配置
type ProxyConfig struct {
	Strategy  string                        `mapstructure:"strategy"`
	Timeout   time.Duration                 `mapstructure:"timeout"`
	Services  map[string]ProxyServiceConfig `mapstructure:"services"`
	RateLimit RateLimitConfig               `mapstructure:"rate_limit"`
}

// ProxyServiceConfig 单个下游服务的静态配置
type ProxyServiceConfig struct {
	URL        string `mapstructure:"url"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// DNSConfig DNS服务配置
type DNSConfig struct {
	Domain   string   `mapstructure:"domain"`
	Upstream []string `mapstructure:"upstream"`
	CacheTTL int      `mapstructure:"cache_ttl"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// defaultServices 默认声明的下游服务及路径前缀，地址由 <NAME>_SERVICE_URL 提供
var defaultServices = map[string]string{
	"user":         "",
	"auth":         "/api/v1/auth",
	"payment":      "",
	"notification": "",
	"file":         "",
	"report":       "",
	"assessment":   "",
}

// LoadConfig 从.env、配置文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	loadDotEnv()

	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 设置配置文件
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 默认查找路径
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/discovery-gateway")
		v.SetConfigName("config")
	}
	v.SetConfigType("yaml")

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 配置文件不存在时不返回错误
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 从环境变量读取配置
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVariables(v)

	// 解析配置到结构体
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	config.Proxy.Services = mergeEnvServices(config.Proxy.Services, os.Environ())

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	switch c.Proxy.Strategy {
	case StrategyStatic, StrategyRegistry, StrategyChain:
	default:
		return fmt.Errorf("不支持的路由解析策略: %s", c.Proxy.Strategy)
	}

	switch c.Storage.Type {
	case StorageMemory, StorageEtcd:
	default:
		return fmt.Errorf("不支持的存储类型: %s", c.Storage.Type)
	}

	if c.Proxy.Timeout <= 0 {
		return fmt.Errorf("转发超时时间必须大于0")
	}
	if c.Registry.SweepTimeout < 0 {
		return fmt.Errorf("服务过期时间不能为负数")
	}
	if c.Proxy.RateLimit.Enabled && (c.Proxy.RateLimit.RPS <= 0 || c.Proxy.RateLimit.Burst <= 0) {
		return fmt.Errorf("限流参数必须大于0")
	}

	return nil
}

// ServiceNames 返回已声明的静态服务名称，按字母排序
func (p *ProxyConfig) ServiceNames() []string {
	names := make([]string, 0, len(p.Services))
	for name := range p.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.listen_address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.dns_enabled", false)
	v.SetDefault("server.dns_port", 5353)
	v.SetDefault("server.shutdown_timeout", "10s")

	// 存储默认配置
	v.SetDefault("storage.type", StorageMemory)

	// etcd默认配置
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.prefix", "/discovery-gateway/services/")

	// 注册中心默认配置
	v.SetDefault("registry.sweep_interval", "30s")
	v.SetDefault("registry.sweep_timeout", "30s")

	// 转发默认配置
	v.SetDefault("proxy.strategy", StrategyChain)
	v.SetDefault("proxy.timeout", "30s")
	v.SetDefault("proxy.rate_limit.enabled", false)
	v.SetDefault("proxy.rate_limit.rps", 100)
	v.SetDefault("proxy.rate_limit.burst", 200)
	for name, prefix := range defaultServices {
		v.SetDefault("proxy.services."+name+".url", "")
		v.SetDefault("proxy.services."+name+".path_prefix", prefix)
	}

	// DNS默认配置
	v.SetDefault("dns.domain", "service.local")
	v.SetDefault("dns.upstream", []string{"8.8.8.8:53", "114.114.114.114:53"})
	v.SetDefault("dns.cache_ttl", 30)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

// bindEnvVariables 绑定特定的环境变量
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("server.port", EnvPrefix+"_PORT", "PORT")
	v.BindEnv("etcd.endpoints", EnvPrefix+"_ETCD_ENDPOINTS", "ETCD_ENDPOINTS")
	v.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL")

	for name := range defaultServices {
		v.BindEnv("proxy.services."+name+".url", serviceURLEnvKey(name))
	}
}

// loadDotEnv 加载.env文件，已存在的环境变量不会被覆盖
func loadDotEnv() {
	if os.Getenv("RAILWAY_ENVIRONMENT") == "true" {
		return
	}
	_ = godotenv.Load()
}

// serviceURLEnvKey 返回服务对应的地址环境变量名
func serviceURLEnvKey(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + ServiceURLEnvSuffix
}

// mergeEnvServices 将形如 <NAME>_SERVICE_URL 的环境变量合并到静态服务表
func mergeEnvServices(services map[string]ProxyServiceConfig, environ []string) map[string]ProxyServiceConfig {
	merged := make(map[string]ProxyServiceConfig, len(services))
	for name, svc := range services {
		merged[strings.ToLower(name)] = svc
	}

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasSuffix(key, ServiceURLEnvSuffix) || strings.HasPrefix(key, EnvPrefix+"_") {
			continue
		}
		name := strings.TrimSuffix(key, ServiceURLEnvSuffix)
		if name == "" {
			continue
		}
		name = strings.ToLower(strings.ReplaceAll(name, "_", "-"))

		svc := merged[name]
		if svc.URL == "" {
			svc.URL = strings.TrimSpace(value)
		}
		merged[name] = svc
	}

	return merged
}
