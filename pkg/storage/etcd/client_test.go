package etcd

import (
	"testing"

	"github.com/hewenyu/discovery-gateway/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestClient_GetServiceKey(t *testing.T) {
	client := &Client{
		prefix: DefaultPrefix,
	}

	key := client.GetServiceKey("test-service")
	assert.Equal(t, "/discovery-gateway/services/test-service", key)
	assert.Equal(t, DefaultPrefix, client.GetServicesPrefix())
}

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, DefaultPrefix, normalizePrefix(""))
	assert.Equal(t, "/custom/", normalizePrefix("/custom"))
	assert.Equal(t, "/custom/", normalizePrefix("/custom/"))
}

func TestNewClient_ConfigValidation(t *testing.T) {
	// 无法解析的超时应当返回错误
	_, err := NewClient(&config.EtcdConfig{
		Endpoints:   []string{"localhost:2379"},
		DialTimeout: "invalid",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "解析etcd超时时间失败")

	// 缺少地址
	_, err = NewClient(&config.EtcdConfig{DialTimeout: "1s"})
	assert.Error(t, err)
}
