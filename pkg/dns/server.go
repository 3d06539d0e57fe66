package dns

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/hewenyu/discovery-gateway/pkg/metrics"
	"github.com/hewenyu/discovery-gateway/pkg/storage"
	"github.com/miekg/dns"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Server DNS服务器，同时监听UDP与TCP
type Server struct {
	addr      string
	handler   *Handler
	udpServer *dns.Server
	tcpServer *dns.Server
	logger    config.Logger
}

// NewServer 创建DNS服务器，记录来源于注册中心的活跃服务
func NewServer(addr string, conf config.DNSConfig, source ServiceSource, logger config.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = config.NewNopLogger()
	}

	ttl := time.Duration(conf.CacheTTL) * time.Second
	var upstream *UpstreamResolver
	if len(conf.Upstream) > 0 {
		upstream = NewUpstreamResolver(conf.Upstream, defaultUpstreamTimeout)
	}

	handler := NewHandler(
		NewRecordManager(source, conf.Domain, conf.CacheTTL),
		upstream,
		NewDNSCache(defaultCacheSize, ttl),
		logger,
		m,
	)

	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger,
	}
}

// Start 绑定端口并在后台处理请求，端口占用等错误直接返回
func (s *Server) Start() error {
	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("监听DNS UDP端口失败: %w", err)
	}

	// TCP与UDP使用同一端口
	ln, err := net.Listen("tcp", pc.LocalAddr().String())
	if err != nil {
		pc.Close()
		return fmt.Errorf("监听DNS TCP端口失败: %w", err)
	}

	started := make(chan struct{}, 2)
	notify := func() { started <- struct{}{} }
	s.udpServer = &dns.Server{PacketConn: pc, Handler: s.handler, NotifyStartedFunc: notify}
	s.tcpServer = &dns.Server{Listener: ln, Handler: s.handler, NotifyStartedFunc: notify}

	errCh := make(chan error, 2)
	go func() {
		if err := s.udpServer.ActivateAndServe(); err != nil {
			s.logger.Error("DNS UDP服务异常退出", zap.Error(err))
			errCh <- err
		}
	}()
	go func() {
		if err := s.tcpServer.ActivateAndServe(); err != nil {
			s.logger.Error("DNS TCP服务异常退出", zap.Error(err))
			errCh <- err
		}
	}()

	// 等待两个监听都进入服务状态
	for range 2 {
		select {
		case <-started:
		case err := <-errCh:
			pc.Close()
			ln.Close()
			return fmt.Errorf("启动DNS服务失败: %w", err)
		}
	}

	s.logger.Info("DNS服务已启动", zap.String("address", pc.LocalAddr().String()))
	return nil
}

// HandleChange 服务实例集合变化时清空响应缓存，可作为storage.Watcher的回调
func (s *Server) HandleChange(ev storage.ChangeEvent) {
	if !ev.MembershipChanged() {
		return
	}
	s.handler.cache.Purge()
	s.logger.Debug("服务实例变化，清空DNS缓存", zap.String("type", ev.Type), zap.String("service_id", ev.ServiceID))
}

// Addr 返回实际监听的UDP地址，未启动时返回nil
func (s *Server) Addr() net.Addr {
	if s.udpServer == nil || s.udpServer.PacketConn == nil {
		return nil
	}
	return s.udpServer.PacketConn.LocalAddr()
}

// Shutdown 停止DNS服务器
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭DNS服务...")

	var err error
	if s.udpServer != nil {
		err = multierr.Append(err, s.udpServer.ShutdownContext(ctx))
	}
	if s.tcpServer != nil {
		err = multierr.Append(err, s.tcpServer.ShutdownContext(ctx))
	}
	if err != nil {
		s.logger.Error("关闭DNS服务出错", zap.Error(err))
	}
	return err
}
