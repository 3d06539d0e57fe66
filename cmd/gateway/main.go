package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/api"
	"github.com/hewenyu/discovery-gateway/pkg/api/handler"
	"github.com/hewenyu/discovery-gateway/pkg/api/middleware"
	"github.com/hewenyu/discovery-gateway/pkg/api/router"
	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/hewenyu/discovery-gateway/pkg/dns"
	"github.com/hewenyu/discovery-gateway/pkg/metrics"
	"github.com/hewenyu/discovery-gateway/pkg/proxy"
	"github.com/hewenyu/discovery-gateway/pkg/registry"
	"github.com/hewenyu/discovery-gateway/pkg/storage"
	"github.com/hewenyu/discovery-gateway/pkg/storage/etcd"
	"github.com/hewenyu/discovery-gateway/pkg/storage/memory"
	"github.com/labstack/echo/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// 限流器空闲条目的清理周期
const limiterCleanupInterval = 10 * time.Minute

var configFile string

func init() {
	// 解析命令行参数
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("网关异常退出", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger config.Logger) error {
	// 打印启动信息
	logger.Info("Discovery Gateway Starting...",
		zap.String("version", handler.Version),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Type),
		zap.String("strategy", cfg.Proxy.Strategy),
		zap.Strings("static_services", cfg.Proxy.ServiceNames()),
		zap.Bool("dns_enabled", cfg.Server.DNSEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	store, err := newStorage(cfg)
	if err != nil {
		return err
	}

	reg := registry.New(store, registry.WithLogger(logger), registry.WithMetrics(m))
	sweeperDone := reg.StartSweeper(ctx, cfg.Registry.SweepInterval, cfg.Registry.SweepTimeout)

	resolver, err := proxy.NewResolver(cfg.Proxy.Strategy, cfg.Proxy.Services, reg)
	if err != nil {
		store.Close()
		return err
	}
	relay := proxy.NewRelay(resolver,
		proxy.WithTimeout(cfg.Proxy.Timeout),
		proxy.WithLogger(logger),
		proxy.WithMetrics(m),
	)

	var proxyMiddlewares []echo.MiddlewareFunc
	if cfg.Proxy.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.Proxy.RateLimit.RPS, cfg.Proxy.RateLimit.Burst, logger, m)
		limiter.StartCleanup(ctx, limiterCleanupInterval)
		proxyMiddlewares = append(proxyMiddlewares, limiter.Middleware())
	}

	routes := router.Routes(router.Handlers{
		Service:          handler.NewServiceHandler(reg, cfg.Registry.SweepTimeout, logger),
		Health:           handler.NewHealthHandler(cfg.Server.Port),
		Metrics:          handler.NewMetricsHandler(m.Handler()),
		Proxy:            handler.NewProxyHandler(relay),
		ProxyMiddlewares: proxyMiddlewares,
	})

	server := api.NewServer(cfg.Server, logger, m, routes)
	serverErr := server.Start()

	var dnsServer *dns.Server
	if cfg.Server.DNSEnabled {
		addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddress, cfg.Server.DNSPort)
		dnsServer = dns.NewServer(addr, cfg.DNS, reg, logger, m)
		if err := dnsServer.Start(); err != nil {
			logger.Error("启动DNS服务失败", zap.Error(err))
			stop()
		}

		// 实例集合变化时清空DNS缓存
		if watcher, ok := store.(storage.Watcher); ok {
			if err := watcher.Watch(ctx, dnsServer.HandleChange); err != nil {
				logger.Warn("订阅服务变更失败，DNS缓存将按TTL过期", zap.Error(err))
			}
		}
	}

	// 等待信号或HTTP服务异常退出
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("接收到关闭信号，正在优雅关闭...")
	case err, ok := <-serverErr:
		if ok {
			runErr = err
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = server.Shutdown(shutdownCtx)
	if dnsServer != nil {
		err = multierr.Append(err, dnsServer.Shutdown(shutdownCtx))
	}
	<-sweeperDone
	err = multierr.Append(err, store.Close())

	if err != nil {
		logger.Error("关闭过程中出现错误", zap.Error(err))
	}
	logger.Info("网关已关闭")

	return multierr.Append(runErr, err)
}

// newStorage 按配置创建服务存储
func newStorage(cfg *config.Config) (storage.ServiceStorage, error) {
	switch cfg.Storage.Type {
	case config.StorageEtcd:
		client, err := etcd.NewClient(&cfg.Etcd)
		if err != nil {
			return nil, fmt.Errorf("初始化etcd存储失败: %w", err)
		}
		return etcd.NewServiceStorage(client), nil
	default:
		return memory.NewServiceStorage(), nil
	}
}
