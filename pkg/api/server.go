package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hewenyu/discovery-gateway/pkg/api/handler"
	"github.com/hewenyu/discovery-gateway/pkg/api/middleware"
	"github.com/hewenyu/discovery-gateway/pkg/api/router"
	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/hewenyu/discovery-gateway/pkg/metrics"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Server 网关HTTP服务，承载服务发现API、健康检查与动态转发
type Server struct {
	echo   *echo.Echo
	addr   string
	logger config.Logger
}

// NewServer 创建HTTP服务并按顺序注册路由
func NewServer(cfg config.ServerConfig, logger config.Logger, m *metrics.Metrics, routes []router.Route) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()

	// 添加中间件
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.Instrument(m))

	// 添加CORS中间件
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	router.Apply(e, routes)

	return &Server{
		echo:   e,
		addr:   fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.Port),
		logger: logger,
	}
}

// Echo 返回底层echo实例
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start 启动服务（非阻塞），监听失败时写入返回的channel
func (s *Server) Start() <-chan error {
	s.logger.Info("启动网关HTTP服务", zap.String("address", s.addr))

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("网关HTTP服务启动失败", zap.Error(err))
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown 优雅关闭HTTP服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭网关HTTP服务...")
	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("关闭网关HTTP服务出错", zap.Error(err))
		return err
	}
	return nil
}
