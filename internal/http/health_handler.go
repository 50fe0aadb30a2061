package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"thingsnxt/internal/events"
	"thingsnxt/internal/ws"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// HealthHandler 健康检查；供外部编排探活
type HealthHandler struct {
	db       *sql.DB       // 可为 nil（内存模式）
	rdb      *redis.Client // 可为 nil
	registry *ws.Registry
	bus      *events.Bus
	logger   *zap.Logger
}

func NewHealthHandler(db *sql.DB, rdb *redis.Client, registry *ws.Registry, bus *events.Bus, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb, registry: registry, bus: bus, logger: logger}
}

// ServeHTTP GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	result := map[string]any{
		"status":          "ok",
		"connections":     h.registry.ConnectionCount(),
		"connected_users": h.registry.UserCount(),
		"subscribers":     h.bus.SubscriberCount(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Warn("health: database unreachable", zap.Error(err))
			result["database"] = "down"
			result["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			result["database"] = "up"
		}
	}
	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			// Redis 不可用只降级（限流走本地、缓存失效），不判死
			result["redis"] = "down"
		} else {
			result["redis"] = "up"
		}
	}

	writeJSON(w, status, result)
}
