package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/model"
	"go.uber.org/zap"
)

// Heartbeat 发送一次心跳，返回注册中心记录的心跳时间
func (c *Client) Heartbeat(ctx context.Context) (time.Time, error) {
	id := c.ServiceID()
	if id == "" {
		return time.Time{}, fmt.Errorf("服务尚未注册")
	}

	var result model.HeartbeatResult
	if err := c.do(ctx, http.MethodPost, "/heartbeat/"+url.PathEscape(id), nil, &result); err != nil {
		return time.Time{}, fmt.Errorf("发送心跳失败: %w", err)
	}
	return result.Timestamp, nil
}

// StartHeartbeat 启动后台心跳任务，返回的channel在任务退出后关闭
//
// 服务记录被注销后（心跳返回404）会自动重新注册。
func (c *Client) StartHeartbeat(ctx context.Context) <-chan struct{} {
	c.StopHeartbeat()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.stop = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.beat(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	return done
}

// beat 执行一次心跳，必要时重新注册
func (c *Client) beat(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	_, err := c.Heartbeat(ctx)
	if err == nil {
		return
	}
	if !IsNotFound(err) {
		c.logger.Warn("心跳发送失败，将在下一个周期重试", zap.String("service_id", c.ServiceID()), zap.Error(err))
		return
	}

	c.logger.Warn("服务记录不存在，重新注册", zap.String("service_id", c.ServiceID()))
	c.mu.Lock()
	c.serviceID = ""
	c.mu.Unlock()

	if _, err := c.Register(ctx); err != nil {
		c.logger.Error("重新注册失败", zap.Error(err))
	}
}

// StopHeartbeat 停止心跳任务并等待其退出
func (c *Client) StopHeartbeat() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}

// Close 停止心跳并注销服务
func (c *Client) Close(ctx context.Context) error {
	c.StopHeartbeat()

	if c.IsRegistered() {
		return c.Unregister(ctx)
	}
	return nil
}
