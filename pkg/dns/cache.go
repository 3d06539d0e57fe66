package dns

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/miekg/dns"
)

// 默认缓存容量
const defaultCacheSize = 4096

// DNSCache 实现DNS响应缓存，条目在TTL到期后自动失效
type DNSCache struct {
	lru *expirable.LRU[string, *dns.Msg]
	ttl time.Duration
}

// NewDNSCache 创建新的DNS缓存，ttl小于等于0时不缓存
func NewDNSCache(size int, ttl time.Duration) *DNSCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &DNSCache{
		lru: expirable.NewLRU[string, *dns.Msg](size, nil, ttl),
		ttl: ttl,
	}
}

// TTL 返回缓存有效期
func (c *DNSCache) TTL() time.Duration {
	return c.ttl
}

// Get 从缓存获取DNS响应的副本
func (c *DNSCache) Get(q dns.Question) *dns.Msg {
	if c.ttl <= 0 {
		return nil
	}
	msg, ok := c.lru.Get(GetCacheKey(q))
	if !ok {
		return nil
	}
	return msg.Copy()
}

// Set 设置缓存记录
func (c *DNSCache) Set(q dns.Question, msg *dns.Msg) {
	if c.ttl <= 0 || msg == nil {
		return
	}
	c.lru.Add(GetCacheKey(q), msg.Copy())
}

// Len 返回当前缓存条目数
func (c *DNSCache) Len() int {
	return c.lru.Len()
}

// Purge 清空缓存
func (c *DNSCache) Purge() {
	c.lru.Purge()
}

// GetCacheKey 生成缓存键
func GetCacheKey(q dns.Question) string {
	return dns.CanonicalName(q.Name) + "-" + dns.TypeToString[q.Qtype] + "-" + dns.ClassToString[q.Qclass]
}
