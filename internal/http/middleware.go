package httpapi

import (
	"context"
	"net/http"
	"strings"

	"thingsnxt/internal/auth"
	"thingsnxt/internal/ratelimit"

	"go.uber.org/zap"
)

type contextKey string

const claimsKey contextKey = "claims"

// claimsFrom 取出认证中间件放入的用户身份
func claimsFrom(r *http.Request) (*auth.Claims, bool) {
	c, ok := r.Context().Value(claimsKey).(*auth.Claims)
	return c, ok
}

// RateLimitMiddleware 滑动窗口限流；超限返回 429
// 豁免路径和 WebSocket 升级请求直接放行、不计额度
func RateLimitMiddleware(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.AllowRequest(r) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, Fail("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware 校验 Authorization: Bearer 访问令牌，身份放入请求上下文
// 设备上报走 device_token 鉴权，不在这条链上
func AuthMiddleware(secret string, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			writeJSON(w, http.StatusUnauthorized, Fail("missing bearer token"))
			return
		}
		claims, err := auth.ParseAccessToken(secret, token)
		if err != nil {
			logger.Debug("token rejected", zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, Fail("invalid token"))
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin 管理端点守卫
func requireAdmin(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := claimsFrom(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Fail("unauthenticated"))
		return nil, false
	}
	if !claims.Admin {
		writeJSON(w, http.StatusForbidden, Fail("admin only"))
		return nil, false
	}
	return claims, true
}

// requireUser 普通端点守卫
func requireUser(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := claimsFrom(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Fail("unauthenticated"))
		return nil, false
	}
	return claims, true
}
