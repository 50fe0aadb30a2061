package service

import (
	"context"
	"testing"

	"thingsnxt/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTelemetryService(env *testEnv) *TelemetryService {
	return NewTelemetryService(env.devices, env.widgets, env.registry, env.bus, nil, zap.NewNop())
}

func TestIngestMergesAndMarksOnline(t *testing.T) {
	env := newTestEnv()
	svc := newTelemetryService(env)
	ctx := context.Background()
	device := env.seedDevice(t, "user-1")

	resp, err := svc.Ingest(ctx, IngestRequest{
		DeviceToken: device.DeviceToken,
		Data:        map[string]any{"temperature": 22.5, "humidity": 40.0},
	})
	require.NoError(t, err)
	assert.Equal(t, device.DeviceID, resp.DeviceID)
	assert.Equal(t, 22.5, resp.Data["temperature"])

	got, err := env.devices.GetDevice(ctx, device.DeviceID)
	require.NoError(t, err)
	assert.True(t, got.Online())
	assert.True(t, got.LastActive.Valid)

	// 后续心跳合并，不丢已有键
	_, err = svc.Ingest(ctx, IngestRequest{
		DeviceToken: device.DeviceToken,
		Data:        map[string]any{"humidity": 45.0},
	})
	require.NoError(t, err)
	got, err = env.devices.GetDevice(ctx, device.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, 22.5, got.Telemetry["temperature"])
	assert.Equal(t, 45.0, got.Telemetry["humidity"])
}

func TestIngestUnknownTokenRejected(t *testing.T) {
	env := newTestEnv()
	svc := newTelemetryService(env)

	_, err := svc.Ingest(context.Background(), IngestRequest{
		DeviceToken: "no-such-token",
		Data:        map[string]any{"temperature": 1},
	})
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestIngestFirstHeartbeatEmitsStatusUpdate(t *testing.T) {
	env := newTestEnv()
	svc := newTelemetryService(env)
	ctx := context.Background()
	device := env.seedDevice(t, "user-1")

	_, err := svc.Ingest(ctx, IngestRequest{DeviceToken: device.DeviceToken})
	require.NoError(t, err)
	assert.Contains(t, env.registry.typesFor("user-1"), EventTelemetryUpdate)
	assert.Contains(t, env.registry.typesFor("user-1"), EventStatusUpdate)
	assert.Contains(t, env.bus.types(), EventStatusUpdate)

	// 已在线的设备再次心跳不会重复发 status_update
	env.bus.mu.Lock()
	env.bus.events = nil
	env.bus.mu.Unlock()
	_, err = svc.Ingest(ctx, IngestRequest{DeviceToken: device.DeviceToken})
	require.NoError(t, err)
	assert.NotContains(t, env.bus.types(), EventStatusUpdate)
}

func TestVirtualPinIndependence(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	device := env.seedDevice(t, "user-1")
	dash := env.seedDashboard(t, "user-1")
	w0 := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v0")
	w1 := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v1")

	_, err := env.commands.Execute(ctx, ExecuteRequest{UserID: "user-1", WidgetID: w0.WidgetID, State: true})
	require.NoError(t, err)
	_, err = env.commands.Execute(ctx, ExecuteRequest{UserID: "user-1", WidgetID: w1.WidgetID, State: false})
	require.NoError(t, err)

	got, err := env.devices.GetDevice(ctx, device.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, true, got.Telemetry["v0"])
	assert.Equal(t, false, got.Telemetry["v1"])
}

func TestIngestRefreshesBoundWidgets(t *testing.T) {
	env := newTestEnv()
	svc := newTelemetryService(env)
	ctx := context.Background()
	device := env.seedDevice(t, "user-1")
	dash := env.seedDashboard(t, "user-1")
	w := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v0")

	_, err := svc.Ingest(ctx, IngestRequest{
		DeviceToken: device.DeviceToken,
		Data:        map[string]any{"v0": true},
	})
	require.NoError(t, err)

	got, err := env.widgets.GetWidget(ctx, w.WidgetID)
	require.NoError(t, err)
	assert.Equal(t, true, got.Value)
}
