package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorKind 转发失败的分类，同时作为响应体中的机器可读错误码
type ErrorKind string

const (
	// KindNotFound 未知服务
	KindNotFound ErrorKind = "NOT_FOUND"
	// KindUnavailable 服务已注册但没有活跃实例
	KindUnavailable ErrorKind = "UNAVAILABLE"
	// KindMisconfigured 服务已声明但缺少地址配置
	KindMisconfigured ErrorKind = "CONFIGURATION_ERROR"
	// KindTimeout 下游在超时时间内未响应
	KindTimeout ErrorKind = "UPSTREAM_TIMEOUT"
	// KindUnreachable 无法连接下游
	KindUnreachable ErrorKind = "UPSTREAM_UNREACHABLE"
	// KindInternal 其他错误
	KindInternal ErrorKind = "INTERNAL_ERROR"
)

var (
	// ErrUnknownService 服务名无法解析
	ErrUnknownService = errors.New("unknown service")
	// ErrServiceUnavailable 服务没有活跃实例
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrMisconfigured 服务地址未配置
	ErrMisconfigured = errors.New("service url not configured")
)

// RelayError 解析或转发失败时返回的错误
type RelayError struct {
	Kind    ErrorKind
	Service string
	URL     string
	Err     error
}

// Error 实现error接口
func (e *RelayError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s %s: %v", e.Service, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

// Unwrap 返回底层错误
func (e *RelayError) Unwrap() error {
	return e.Err
}

// KindOf 返回错误链中RelayError的分类，不是RelayError时返回KindInternal
func KindOf(err error) ErrorKind {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

func notFound(service string) *RelayError {
	return &RelayError{Kind: KindNotFound, Service: service, Err: ErrUnknownService}
}

// classify 按原因对出站请求错误分类：超时、连接失败、其他
func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUnreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindUnreachable
	}

	return KindInternal
}
