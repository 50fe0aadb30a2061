package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"thingsnxt/internal/domain"
	"thingsnxt/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBroadcaster 记录按用户投递的事件
type fakeBroadcaster struct {
	mu     sync.Mutex
	events map[string][]map[string]any
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{events: map[string][]map[string]any{}}
}

func (f *fakeBroadcaster) Broadcast(userID string, event any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := event.(map[string]any); ok {
		f.events[userID] = append(f.events[userID], m)
	}
}

func (f *fakeBroadcaster) eventsFor(userID string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any{}, f.events[userID]...)
}

func (f *fakeBroadcaster) typesFor(userID string) []string {
	out := []string{}
	for _, e := range f.eventsFor(userID) {
		if t, ok := e["type"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}

// fakeBus 记录全局发布的事件
type fakeBus struct {
	mu     sync.Mutex
	events []map[string]any
}

func (f *fakeBus) Publish(event any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := event.(map[string]any); ok {
		f.events = append(f.events, m)
	}
}

func (f *fakeBus) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, e := range f.events {
		if t, ok := e["type"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}

// testEnv 内存仓储 + 假广播器组成的测试装配
type testEnv struct {
	devices       *repository.MemoryDevicesRepo
	dashboards    *repository.MemoryDashboardsRepo
	widgets       *repository.MemoryWidgetsRepo
	schedules     *repository.MemorySchedulesRepo
	notifications *repository.MemoryNotificationsRepo
	registry      *fakeBroadcaster
	bus           *fakeBus
	notifier      *NotificationService
	commands      *CommandService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		devices:       repository.NewMemoryDevicesRepo(),
		dashboards:    repository.NewMemoryDashboardsRepo(),
		widgets:       repository.NewMemoryWidgetsRepo(),
		schedules:     repository.NewMemorySchedulesRepo(),
		notifications: repository.NewMemoryNotificationsRepo(),
		registry:      newFakeBroadcaster(),
		bus:           &fakeBus{},
	}
	logger := zap.NewNop()
	env.notifier = NewNotificationService(env.notifications, env.registry, "", logger)
	env.commands = NewCommandService(env.devices, env.widgets, env.registry, logger)
	return env
}

func (e *testEnv) seedDevice(t *testing.T, userID string) *domain.Device {
	t.Helper()
	d := &domain.Device{
		DeviceID:    uuid.NewString(),
		UserID:      userID,
		Name:        "bench device",
		Status:      domain.DeviceStatusOffline,
		DeviceToken: uuid.NewString(),
		Telemetry:   map[string]any{},
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, e.devices.CreateDevice(context.Background(), d))
	return d
}

func (e *testEnv) seedDashboard(t *testing.T, userID string) *domain.Dashboard {
	t.Helper()
	d := &domain.Dashboard{
		DashboardID: uuid.NewString(),
		UserID:      userID,
		Name:        "bench dashboard",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, e.dashboards.CreateDashboard(context.Background(), d))
	return d
}

func (e *testEnv) seedLEDWidget(t *testing.T, dashboardID, deviceID, pin string) *domain.Widget {
	t.Helper()
	now := time.Now().UTC()
	w := &domain.Widget{
		WidgetID:    uuid.NewString(),
		DashboardID: dashboardID,
		Type:        domain.WidgetTypeLED,
		Label:       "led " + pin,
		Config:      map[string]any{"virtual_pin": pin},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if deviceID != "" {
		w.DeviceID.String = deviceID
		w.DeviceID.Valid = true
	}
	require.NoError(t, e.widgets.CreateWidget(context.Background(), w))
	return w
}
