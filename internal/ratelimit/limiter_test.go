package ratelimit

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLimiter_LocalSlidingWindow(t *testing.T) {
	l := New(nil, 5, 60*time.Second, nil, 0, zap.NewNop())
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(ctx, "1.2.3.4", now), "request %d should pass", i+1)
	}
	assert.False(t, l.Allow(ctx, "1.2.3.4", now), "6th request should be rejected")

	// 其它客户端不受影响
	assert.True(t, l.Allow(ctx, "5.6.7.8", now))

	// 窗口完全滑过后恢复
	assert.True(t, l.Allow(ctx, "1.2.3.4", now.Add(61*time.Second)))
}

func TestLimiter_FallsBackWhenRedisUnreachable(t *testing.T) {
	// 指向不可达地址，拨号会得到连接错误
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	l := New(rdb, 5, 60*time.Second, nil, 0, zap.NewNop())
	ctx := context.Background()
	now := time.Now()

	// 首个请求触发降级，且不向调用方抛错，本地仍然执行同样的限额
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(ctx, "1.2.3.4", now))
	}
	assert.False(t, l.Allow(ctx, "1.2.3.4", now))
	assert.True(t, l.Degraded())

	// reprobe=0：不再尝试 Redis，直到显式 Reset
	l.Reset()
	assert.False(t, l.Degraded())
}

func TestLimiter_ClientIdentity(t *testing.T) {
	r := httptest.NewRequest("GET", "/devices", nil)
	r.RemoteAddr = "10.0.0.9:41234"
	assert.Equal(t, "10.0.0.9", ClientID(r))

	r.Header.Set("X-Real-IP", "172.16.0.2")
	assert.Equal(t, "172.16.0.2", ClientID(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 172.16.0.2")
	assert.Equal(t, "203.0.113.7", ClientID(r))
}

func TestLimiter_Exemptions(t *testing.T) {
	l := New(nil, 1, time.Minute, []string{"/health", "/docs"}, 0, zap.NewNop())

	health := httptest.NewRequest("GET", "/health", nil)
	assert.True(t, l.Exempt(health))

	upgrade := httptest.NewRequest("GET", "/ws", nil)
	upgrade.Header.Set("Connection", "Upgrade")
	upgrade.Header.Set("Upgrade", "websocket")
	assert.True(t, l.Exempt(upgrade))

	normal := httptest.NewRequest("POST", "/telemetry", nil)
	assert.False(t, l.Exempt(normal))

	// 豁免路径不消耗配额
	require.True(t, l.AllowRequest(normal))
	assert.False(t, l.Allow(context.Background(), ClientID(normal), time.Now()))
	assert.True(t, l.AllowRequest(health))
}
