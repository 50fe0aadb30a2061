package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"thingsnxt/internal/domain"
	"thingsnxt/internal/events"
	"thingsnxt/internal/ratelimit"
	"thingsnxt/internal/repository"
	"thingsnxt/internal/service"
	"thingsnxt/internal/ws"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "handler-test-secret"

type testApp struct {
	router     *Router
	devices    *repository.MemoryDevicesRepo
	dashboards *repository.MemoryDashboardsRepo
	widgets    *repository.MemoryWidgetsRepo
	schedules  *repository.MemorySchedulesRepo
	scheduler  *service.ScheduleService
	registry   *ws.Registry
	bus        *events.Bus
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	log := zap.NewNop()
	app := &testApp{
		devices:    repository.NewMemoryDevicesRepo(),
		dashboards: repository.NewMemoryDashboardsRepo(),
		widgets:    repository.NewMemoryWidgetsRepo(),
		schedules:  repository.NewMemorySchedulesRepo(),
		registry:   ws.NewRegistry(log),
		bus:        events.NewBus(log),
	}
	notifications := repository.NewMemoryNotificationsRepo()

	notifier := service.NewNotificationService(notifications, app.registry, "", log)
	commands := service.NewCommandService(app.devices, app.widgets, app.registry, log)
	telemetry := service.NewTelemetryService(app.devices, app.widgets, app.registry, app.bus, nil, log)
	deviceSvc := service.NewDeviceService(app.devices, app.bus, nil, log)
	dashboardSvc := service.NewDashboardService(app.dashboards, app.widgets, log)
	widgetSvc := service.NewWidgetService(app.widgets, app.dashboards, app.devices, app.registry, log)
	app.scheduler = service.NewScheduleService(
		app.schedules, app.widgets, app.dashboards, commands, notifier, app.registry, app.bus,
		1, 86400, "UTC", log,
	)

	app.router = NewRouter(log)
	app.router.Register(Handlers{
		Telemetry:     NewTelemetryHandler(telemetry, log),
		Devices:       NewDeviceHandler(deviceSvc, log),
		Dashboards:    NewDashboardHandler(dashboardSvc, widgetSvc, log),
		Widgets:       NewWidgetHandler(widgetSvc, commands, app.scheduler, log),
		Schedules:     NewScheduleHandler(app.scheduler, log),
		Notifications: NewNotificationHandler(notifier, log),
		WS:            NewWSHandler(app.registry, testSecret, log),
		Events:        NewEventsHandler(app.bus, log),
		Health:        NewHealthHandler(nil, nil, app.registry, app.bus, log),
		AdminExport:   NewAdminExportHandler(deviceSvc, log),
	}, testSecret)
	return app
}

func signAccessToken(t *testing.T, userID string, admin bool) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  userID,
		"type": "access",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	if admin {
		claims["admin"] = true
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out struct {
		Code   int            `json:"code"`
		Result map[string]any `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Result
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	app := newTestApp(t)
	rec := doJSON(t, app.router, http.MethodGet, "/api/v1/devices", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeviceLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)
	token := signAccessToken(t, "user-1", false)

	rec := doJSON(t, app.router, http.MethodPost, "/api/v1/devices", token, map[string]any{"name": "greenhouse"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeResult(t, rec)
	deviceID, _ := created["id"].(string)
	require.NotEmpty(t, deviceID)
	assert.Equal(t, "offline", created["status"])
	assert.NotEmpty(t, created["device_token"])

	rec = doJSON(t, app.router, http.MethodGet, "/api/v1/devices", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// 别人的令牌访问不到
	other := signAccessToken(t, "user-2", false)
	rec = doJSON(t, app.router, http.MethodGet, "/api/v1/devices/"+deviceID, other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, app.router, http.MethodDelete, "/api/v1/devices/"+deviceID, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTelemetryIngestOverHTTP(t *testing.T) {
	app := newTestApp(t)
	token := signAccessToken(t, "user-1", false)

	rec := doJSON(t, app.router, http.MethodPost, "/api/v1/devices", token, map[string]any{"name": "sensor"})
	require.Equal(t, http.StatusCreated, rec.Code)
	deviceToken, _ := decodeResult(t, rec)["device_token"].(string)
	require.NotEmpty(t, deviceToken)

	// 设备边界不需要用户令牌
	rec = doJSON(t, app.router, http.MethodPost, "/api/v1/telemetry", "", map[string]any{
		"device_token": deviceToken,
		"data":         map[string]any{"temperature": 22.5},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeResult(t, rec)
	data, _ := result["data"].(map[string]any)
	assert.Equal(t, 22.5, data["temperature"])

	rec = doJSON(t, app.router, http.MethodPost, "/api/v1/telemetry", "", map[string]any{
		"device_token": "bogus",
		"data":         map[string]any{},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleCancelAfterCompletionReturns404(t *testing.T) {
	app := newTestApp(t)
	userToken := signAccessToken(t, "user-1", false)
	ctx := context.Background()

	device := &domain.Device{
		DeviceID: uuid.NewString(), UserID: "user-1", Name: "d",
		Status: domain.DeviceStatusOffline, DeviceToken: uuid.NewString(),
		Telemetry: map[string]any{}, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, app.devices.CreateDevice(ctx, device))
	dash := &domain.Dashboard{DashboardID: uuid.NewString(), UserID: "user-1", Name: "d", CreatedAt: time.Now().UTC()}
	require.NoError(t, app.dashboards.CreateDashboard(ctx, dash))
	widget := &domain.Widget{
		WidgetID: uuid.NewString(), DashboardID: dash.DashboardID,
		Type: domain.WidgetTypeLED, Config: map[string]any{"virtual_pin": "v0"},
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	widget.DeviceID.String = device.DeviceID
	widget.DeviceID.Valid = true
	require.NoError(t, app.widgets.CreateWidget(ctx, widget))

	rec := doJSON(t, app.router, http.MethodPost, "/api/v1/schedules/timer", userToken, map[string]any{
		"widget_id":        widget.WidgetID,
		"state":            true,
		"duration_seconds": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	scheduleID, _ := decodeResult(t, rec)["id"].(string)
	require.NotEmpty(t, scheduleID)

	// 模拟轮询越过到期点执行
	app.scheduler.ProcessDue(ctx, time.Now().UTC().Add(5*time.Second))

	rec = doJSON(t, app.router, http.MethodPost, "/api/v1/schedules/"+scheduleID+"/cancel", userToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	app := newTestApp(t)
	limiter := ratelimit.New(nil, 3, time.Minute, []string{"/health"}, 0, zap.NewNop())
	handler := RateLimitMiddleware(limiter, app.router)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// 豁免路径不受限
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWSHandlerRejectsBadToken(t *testing.T) {
	app := newTestApp(t)
	rec := doJSON(t, app.router, http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, app.router, http.MethodGet, "/ws?token=garbage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminExportRequiresAdmin(t *testing.T) {
	app := newTestApp(t)

	user := signAccessToken(t, "user-1", false)
	rec := doJSON(t, app.router, http.MethodGet, "/admin/api/v1/devices/export", user, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := signAccessToken(t, "root", true)
	rec = doJSON(t, app.router, http.MethodGet, "/admin/api/v1/devices/export", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheet")
}

func TestHealthReportsConnectionCounts(t *testing.T) {
	app := newTestApp(t)
	rec := doJSON(t, app.router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["connections"])
	assert.EqualValues(t, 0, body["connected_users"])
}

func TestWidgetSchedulesEndpoint(t *testing.T) {
	app := newTestApp(t)
	userToken := signAccessToken(t, "user-1", false)
	ctx := context.Background()

	device := &domain.Device{
		DeviceID: uuid.NewString(), UserID: "user-1", Name: "d",
		Status: domain.DeviceStatusOffline, DeviceToken: uuid.NewString(),
		Telemetry: map[string]any{}, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, app.devices.CreateDevice(ctx, device))
	dash := &domain.Dashboard{DashboardID: uuid.NewString(), UserID: "user-1", Name: "d", CreatedAt: time.Now().UTC()}
	require.NoError(t, app.dashboards.CreateDashboard(ctx, dash))
	widget := &domain.Widget{
		WidgetID: uuid.NewString(), DashboardID: dash.DashboardID,
		Type: domain.WidgetTypeLED, Config: map[string]any{"virtual_pin": "v0"},
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	widget.DeviceID.String = device.DeviceID
	widget.DeviceID.Valid = true
	require.NoError(t, app.widgets.CreateWidget(ctx, widget))

	for _, secs := range []int{60, 120} {
		rec := doJSON(t, app.router, http.MethodPost, "/api/v1/schedules/timer", userToken, map[string]any{
			"widget_id":        widget.WidgetID,
			"state":            true,
			"duration_seconds": secs,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, app.router, http.MethodGet, "/api/v1/widgets/"+widget.WidgetID+"/schedules", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Code   int              `json:"code"`
		Result []map[string]any `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Result, 2)
	assert.Equal(t, "pending", out.Result[0]["status"])

	// 非所有者不可见
	otherToken := signAccessToken(t, "user-2", false)
	rec = doJSON(t, app.router, http.MethodGet, "/api/v1/widgets/"+widget.WidgetID+"/schedules", otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
