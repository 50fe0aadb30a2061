package service

import (
	"context"
	"testing"
	"time"

	"thingsnxt/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLivenessMonitor(env *testEnv, timeoutSeconds int) *LivenessMonitor {
	return NewLivenessMonitor(env.devices, env.registry, env.bus, env.notifier, timeoutSeconds, zap.NewNop())
}

func TestSweepDemotesStaleDevices(t *testing.T) {
	env := newTestEnv()
	monitor := newLivenessMonitor(env, 20)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := env.seedDevice(t, "user-1")
	require.NoError(t, env.devices.MergeTelemetry(ctx, stale.DeviceID, nil, now.Add(-30*time.Second)))
	fresh := env.seedDevice(t, "user-1")
	require.NoError(t, env.devices.MergeTelemetry(ctx, fresh.DeviceID, nil, now.Add(-5*time.Second)))

	monitor.Sweep(ctx, now)

	got, err := env.devices.GetDevice(ctx, stale.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceStatusOffline, got.Status)

	got, err = env.devices.GetDevice(ctx, fresh.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceStatusOnline, got.Status)

	assert.Contains(t, env.registry.typesFor("user-1"), EventStatusUpdate)
	assert.Contains(t, env.bus.types(), EventStatusUpdate)
	assert.Contains(t, env.registry.typesFor("user-1"), EventNotification)
}

func TestSweepBoundaryExactTimeoutStaysOnline(t *testing.T) {
	env := newTestEnv()
	monitor := newLivenessMonitor(env, 20)
	ctx := context.Background()
	now := time.Now().UTC()

	d := env.seedDevice(t, "user-1")
	require.NoError(t, env.devices.MergeTelemetry(ctx, d.DeviceID, nil, now.Add(-20*time.Second)))

	monitor.Sweep(ctx, now)

	got, err := env.devices.GetDevice(ctx, d.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceStatusOnline, got.Status)
}

func TestSweepIgnoresAlreadyOffline(t *testing.T) {
	env := newTestEnv()
	monitor := newLivenessMonitor(env, 20)
	ctx := context.Background()

	d := env.seedDevice(t, "user-1")
	monitor.Sweep(ctx, time.Now().UTC())

	got, err := env.devices.GetDevice(ctx, d.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceStatusOffline, got.Status)
	assert.Empty(t, env.registry.eventsFor("user-1"))
	assert.Empty(t, env.bus.types())
}

func TestSweepRepeatedRunsNotifyOnce(t *testing.T) {
	env := newTestEnv()
	monitor := newLivenessMonitor(env, 20)
	ctx := context.Background()
	now := time.Now().UTC()

	d := env.seedDevice(t, "user-1")
	require.NoError(t, env.devices.MergeTelemetry(ctx, d.DeviceID, nil, now.Add(-time.Minute)))

	monitor.Sweep(ctx, now)
	monitor.Sweep(ctx, now.Add(20*time.Second))

	statusEvents := 0
	for _, typ := range env.registry.typesFor("user-1") {
		if typ == EventStatusUpdate {
			statusEvents++
		}
	}
	assert.Equal(t, 1, statusEvents)
}
