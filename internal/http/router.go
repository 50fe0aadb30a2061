package httpapi

import (
	"net/http"

	"thingsnxt/internal/ratelimit"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Handlers 路由注册所需的全部 Handler
type Handlers struct {
	Telemetry     *TelemetryHandler
	Devices       *DeviceHandler
	Dashboards    *DashboardHandler
	Widgets       *WidgetHandler
	Schedules     *ScheduleHandler
	Notifications *NotificationHandler
	WS            *WSHandler
	Events        *EventsHandler
	Health        *HealthHandler
	AdminExport   *AdminExportHandler
}

// Register 注册全部路由并套上中间件链
// 设备上报和健康检查不做用户认证；WebSocket 在握手时单独认证
func (r *Router) Register(h Handlers, secret string) {
	authed := func(handler http.Handler) http.Handler {
		return AuthMiddleware(secret, r.logger, handler)
	}

	// 设备边界（device_token 鉴权）
	r.Handle("/api/v1/telemetry", http.HandlerFunc(h.Telemetry.Ingest))
	r.Handle("/api/v1/telemetry/latest", http.HandlerFunc(h.Telemetry.Latest))

	// 用户边界
	r.Handle("/api/v1/devices", authed(h.Devices))
	r.Handle("/api/v1/devices/", authed(h.Devices))
	r.Handle("/api/v1/dashboards", authed(h.Dashboards))
	r.Handle("/api/v1/dashboards/", authed(h.Dashboards))
	r.Handle("/api/v1/widgets", authed(h.Widgets))
	r.Handle("/api/v1/widgets/", authed(h.Widgets))
	r.Handle("/api/v1/schedules", authed(h.Schedules))
	r.Handle("/api/v1/schedules/", authed(h.Schedules))
	r.Handle("/api/v1/notifications", authed(h.Notifications))
	r.Handle("/api/v1/notifications/", authed(h.Notifications))

	// 管理边界
	r.Handle("/admin/api/v1/devices/export", authed(h.AdminExport))

	// 观察者边界
	r.Handle("/ws", h.WS)
	r.Handle("/events", h.Events)

	// 健康检查
	r.Handle("/health", h.Health)
}

// WithRateLimit 最外层限流；限流器自己处理豁免路径和 ws 升级
func (r *Router) WithRateLimit(limiter *ratelimit.Limiter) http.Handler {
	return RateLimitMiddleware(limiter, r)
}
