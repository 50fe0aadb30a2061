package ratelimit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Limiter 基于滑动窗口的限流器
// 主策略：Redis ZSET（跨节点共享）；Redis 不可达时降级为单节点内存窗口
// 降级只在连接类错误上发生；其它 Redis 错误直接放行（fail open），
// 避免限流器自身造成可用性故障
type Limiter struct {
	limit  int
	window time.Duration
	exempt []string

	rdb redis.Cmdable // nil 表示只用本地策略

	mu    sync.Mutex
	local map[string][]time.Time

	degraded   bool
	degradedAt time.Time
	// reprobe 降级后重试 Redis 的间隔；0 表示一旦降级不再尝试（需显式 Reset）
	reprobe time.Duration

	logger *zap.Logger
}

func New(rdb redis.Cmdable, limit int, window time.Duration, exemptPrefixes []string, reprobe time.Duration, logger *zap.Logger) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		exempt:  exemptPrefixes,
		rdb:     rdb,
		local:   map[string][]time.Time{},
		reprobe: reprobe,
		logger:  logger,
	}
}

// ClientID 推导客户端身份：X-Forwarded-For 第一项 > X-Real-IP > 对端地址
func ClientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Exempt 判断请求是否绕过限流：豁免路径前缀，以及 websocket 握手阶段
func (l *Limiter) Exempt(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}
	for _, p := range l.exempt {
		if strings.HasPrefix(r.URL.Path, p) {
			return true
		}
	}
	return false
}

// Allow 判定该客户端的本次请求是否放行
func (l *Limiter) Allow(ctx context.Context, clientID string, now time.Time) bool {
	if l.useDistributed(now) {
		count, err := l.distributedHit(ctx, clientID, now)
		if err == nil {
			l.restore()
			return count <= int64(l.limit)
		}
		if isConnectivityError(err) {
			l.degrade(now, err)
		} else {
			// 非连接类错误：放行，不因限流器故障拒绝请求
			l.logger.Warn("rate limit store error, failing open", zap.Error(err))
			return true
		}
	}
	return l.localAllow(clientID, now)
}

// AllowRequest Allow 的 HTTP 形式，含身份推导与豁免
func (l *Limiter) AllowRequest(r *http.Request) bool {
	if l.Exempt(r) {
		return true
	}
	return l.Allow(r.Context(), ClientID(r), time.Now())
}

// Reset 清除降级标记，恢复分布式策略
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.degraded = false
}

// Degraded 是否处于本地降级模式
func (l *Limiter) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

func (l *Limiter) useDistributed(now time.Time) bool {
	if l.rdb == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.degraded {
		return true
	}
	if l.reprobe > 0 && now.Sub(l.degradedAt) >= l.reprobe {
		// 到达重试窗口：本次请求探测 Redis，失败会再次降级
		l.degradedAt = now
		return true
	}
	return false
}

func (l *Limiter) restore() {
	l.mu.Lock()
	was := l.degraded
	l.degraded = false
	l.mu.Unlock()
	if was {
		l.logger.Info("rate limit store reachable again, distributed mode restored")
	}
}

func (l *Limiter) degrade(now time.Time, err error) {
	l.mu.Lock()
	already := l.degraded
	l.degraded = true
	l.degradedAt = now
	l.mu.Unlock()
	if !already {
		l.logger.Warn("rate limit store unreachable, falling back to local windows", zap.Error(err))
	}
}

// distributedHit 记一次请求并返回窗口内计数：
// ZADD 唯一成员 -> ZREMRANGEBYSCORE 清理过期 -> ZCARD 计数 -> EXPIRE 窗口+余量
func (l *Limiter) distributedHit(ctx context.Context, clientID string, now time.Time) (int64, error) {
	key := "ratelimit:" + clientID
	cutoff := now.Add(-l.window)

	pipe := l.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixMicro()),
		Member: uuid.NewString(),
	})
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixMicro(), 10))
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return card.Val(), nil
}

// localAllow 单节点回退：窗口内达到 limit 则拒绝，否则记录本次请求
func (l *Limiter) localAllow(clientID string, now time.Time) bool {
	cutoff := now.Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.local[clientID][:0]
	for _, ts := range l.local[clientID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limit {
		l.local[clientID] = kept
		return false
	}
	l.local[clientID] = append(kept, now)
	return true
}

func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
