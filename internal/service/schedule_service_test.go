package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"thingsnxt/internal/domain"
	"thingsnxt/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newScheduleService(env *testEnv) *ScheduleService {
	return NewScheduleService(
		env.schedules, env.widgets, env.dashboards,
		env.commands, env.notifier, env.registry, env.bus,
		1, 86400, "UTC", zap.NewNop(),
	)
}

func TestScheduleCreateRejectsPastExecuteAt(t *testing.T) {
	env := newTestEnv()
	svc := newScheduleService(env)
	user := "user-1"
	device := env.seedDevice(t, user)
	dash := env.seedDashboard(t, user)
	w := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v0")

	_, err := svc.Create(context.Background(), CreateScheduleRequest{
		UserID:    user,
		WidgetID:  w.WidgetID,
		State:     true,
		ExecuteAt: time.Now().UTC().Add(-time.Second),
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(context.Background(), CreateScheduleRequest{
		UserID:    user,
		WidgetID:  w.WidgetID,
		State:     true,
		ExecuteAt: time.Now().UTC(),
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestScheduleTimerBounds(t *testing.T) {
	env := newTestEnv()
	svc := newScheduleService(env)
	user := "user-1"
	device := env.seedDevice(t, user)
	dash := env.seedDashboard(t, user)
	w := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v0")

	_, err := svc.CreateTimer(context.Background(), CreateTimerRequest{
		UserID: user, WidgetID: w.WidgetID, State: true, DurationSeconds: 0,
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateTimer(context.Background(), CreateTimerRequest{
		UserID: user, WidgetID: w.WidgetID, State: true, DurationSeconds: 86401,
	})
	require.ErrorIs(t, err, ErrValidation)

	a, err := svc.CreateTimer(context.Background(), CreateTimerRequest{
		UserID: user, WidgetID: w.WidgetID, State: true, DurationSeconds: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusPending, a.Status)
	assert.True(t, a.DurationSeconds.Valid)
	assert.EqualValues(t, 30, a.DurationSeconds.Int64)
}

func TestScheduleDueActionCompletesAndWritesPin(t *testing.T) {
	env := newTestEnv()
	svc := newScheduleService(env)
	user := "user-1"
	device := env.seedDevice(t, user)
	dash := env.seedDashboard(t, user)
	w := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v0")

	a, err := svc.Create(context.Background(), CreateScheduleRequest{
		UserID:    user,
		WidgetID:  w.WidgetID,
		State:     true,
		ExecuteAt: time.Now().UTC().Add(2 * time.Second),
	})
	require.NoError(t, err)

	// 到期前不会执行
	svc.ProcessDue(context.Background(), time.Now().UTC())
	got, err := env.schedules.GetSchedule(context.Background(), a.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusPending, got.Status)

	// 模拟时间推进到到期后
	svc.ProcessDue(context.Background(), a.ExecuteAt.Add(time.Second))

	got, err = env.schedules.GetSchedule(context.Background(), a.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusCompleted, got.Status)
	assert.True(t, got.ExecutedAt.Valid)

	updated, err := env.widgets.GetWidget(context.Background(), w.WidgetID)
	require.NoError(t, err)
	assert.Equal(t, true, updated.Value)

	d, err := env.devices.GetDevice(context.Background(), device.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, true, d.Telemetry["v0"])

	assert.Contains(t, env.registry.typesFor(user), EventLEDScheduleExecuted)
	assert.Contains(t, env.registry.typesFor(user), EventNotification)
	assert.Contains(t, env.bus.types(), EventLEDScheduleExecuted)
}

func TestScheduleCancelBeforeDue(t *testing.T) {
	env := newTestEnv()
	svc := newScheduleService(env)
	user := "user-1"
	device := env.seedDevice(t, user)
	dash := env.seedDashboard(t, user)
	w := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v0")

	a, err := svc.Create(context.Background(), CreateScheduleRequest{
		UserID:    user,
		WidgetID:  w.WidgetID,
		State:     true,
		ExecuteAt: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), user, a.ScheduleID))

	got, err := env.schedules.GetSchedule(context.Background(), a.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusCancelled, got.Status)
	assert.Contains(t, env.registry.typesFor(user), EventLEDScheduleCancelled)

	// 即便时间越过原定执行点，已取消的动作也不会被执行
	svc.ProcessDue(context.Background(), a.ExecuteAt.Add(time.Minute))
	d, err := env.devices.GetDevice(context.Background(), device.DeviceID)
	require.NoError(t, err)
	_, written := d.Telemetry["v0"]
	assert.False(t, written)
}

func TestScheduleCancelAfterTerminal(t *testing.T) {
	env := newTestEnv()
	svc := newScheduleService(env)
	user := "user-1"
	device := env.seedDevice(t, user)
	dash := env.seedDashboard(t, user)
	w := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v0")

	a, err := svc.Create(context.Background(), CreateScheduleRequest{
		UserID:    user,
		WidgetID:  w.WidgetID,
		State:     true,
		ExecuteAt: time.Now().UTC().Add(time.Second),
	})
	require.NoError(t, err)

	svc.ProcessDue(context.Background(), a.ExecuteAt.Add(time.Second))

	err = svc.Cancel(context.Background(), user, a.ScheduleID)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestScheduleMissingWidgetMarksFailed(t *testing.T) {
	env := newTestEnv()
	svc := newScheduleService(env)
	user := "user-1"
	device := env.seedDevice(t, user)
	dash := env.seedDashboard(t, user)
	w := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v0")

	a, err := svc.Create(context.Background(), CreateScheduleRequest{
		UserID:    user,
		WidgetID:  w.WidgetID,
		State:     true,
		ExecuteAt: time.Now().UTC().Add(time.Second),
	})
	require.NoError(t, err)

	// 执行前控件被删掉：动作标记 failed，不重试
	require.NoError(t, env.widgets.DeleteWidget(context.Background(), w.WidgetID))
	svc.ProcessDue(context.Background(), a.ExecuteAt.Add(time.Second))

	got, err := env.schedules.GetSchedule(context.Background(), a.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusFailed, got.Status)
	assert.True(t, got.Error.Valid)
	assert.Contains(t, env.registry.typesFor(user), EventNotification)
}

func TestScheduleFailureDoesNotBlockBatch(t *testing.T) {
	env := newTestEnv()
	svc := newScheduleService(env)
	user := "user-1"
	device := env.seedDevice(t, user)
	dash := env.seedDashboard(t, user)
	broken := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v0")
	healthy := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v1")

	base := time.Now().UTC().Add(time.Second)
	first, err := svc.Create(context.Background(), CreateScheduleRequest{
		UserID: user, WidgetID: broken.WidgetID, State: true, ExecuteAt: base,
	})
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), CreateScheduleRequest{
		UserID: user, WidgetID: healthy.WidgetID, State: true, ExecuteAt: base.Add(time.Millisecond),
	})
	require.NoError(t, err)

	require.NoError(t, env.widgets.DeleteWidget(context.Background(), broken.WidgetID))
	svc.ProcessDue(context.Background(), base.Add(time.Second))

	got, err := env.schedules.GetSchedule(context.Background(), first.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusFailed, got.Status)

	got, err = env.schedules.GetSchedule(context.Background(), second.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusCompleted, got.Status)
}

func TestScheduleNonOwnerDenied(t *testing.T) {
	env := newTestEnv()
	svc := newScheduleService(env)
	owner := "user-1"
	device := env.seedDevice(t, owner)
	dash := env.seedDashboard(t, owner)
	w := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v0")

	_, err := svc.Create(context.Background(), CreateScheduleRequest{
		UserID:    "user-2",
		WidgetID:  w.WidgetID,
		State:     true,
		ExecuteAt: time.Now().UTC().Add(time.Hour),
	})
	require.ErrorIs(t, err, ErrAccessDenied)

	a, err := svc.Create(context.Background(), CreateScheduleRequest{
		UserID:    owner,
		WidgetID:  w.WidgetID,
		State:     true,
		ExecuteAt: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), "user-2", a.ScheduleID)
	require.ErrorIs(t, err, ErrAccessDenied)
}

// pinHookDevices 包装内存设备仓储：记录 SetPin 顺序，
// 并允许在写入前插入并发操作
type pinHookDevices struct {
	*repository.MemoryDevicesRepo
	mu        sync.Mutex
	pins      []string
	beforeSet func(pin string)
}

func (d *pinHookDevices) SetPin(ctx context.Context, deviceID, pin string, value any) error {
	if d.beforeSet != nil {
		d.beforeSet(pin)
	}
	if err := d.MemoryDevicesRepo.SetPin(ctx, deviceID, pin, value); err != nil {
		return err
	}
	d.mu.Lock()
	d.pins = append(d.pins, pin)
	d.mu.Unlock()
	return nil
}

func (d *pinHookDevices) written() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.pins...)
}

func TestScheduleCancelDuringExecutionLoses(t *testing.T) {
	env := newTestEnv()
	hooked := &pinHookDevices{MemoryDevicesRepo: env.devices}
	env.commands = NewCommandService(hooked, env.widgets, env.registry, zap.NewNop())
	svc := newScheduleService(env)
	user := "user-1"
	device := env.seedDevice(t, user)
	dash := env.seedDashboard(t, user)
	w := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v0")

	a, err := svc.Create(context.Background(), CreateScheduleRequest{
		UserID:    user,
		WidgetID:  w.WidgetID,
		State:     true,
		ExecuteAt: time.Now().UTC().Add(2 * time.Second),
	})
	require.NoError(t, err)

	// 取消在引脚写入前一刻到达：行已被执行器占用，取消必须落空，
	// 取消成功与引脚被写入二者不可兼得
	hooked.beforeSet = func(string) {
		err := svc.Cancel(context.Background(), user, a.ScheduleID)
		require.ErrorIs(t, err, ErrAlreadyProcessed)
	}
	svc.ProcessDue(context.Background(), a.ExecuteAt.Add(time.Second))

	got, err := env.schedules.GetSchedule(context.Background(), a.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusCompleted, got.Status)
	assert.NotContains(t, env.registry.typesFor(user), EventLEDScheduleCancelled)

	d, err := env.devices.GetDevice(context.Background(), device.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, true, d.Telemetry["v0"])
}

func TestProcessDueExecutesInDueOrder(t *testing.T) {
	env := newTestEnv()
	rec := &pinHookDevices{MemoryDevicesRepo: env.devices}
	env.commands = NewCommandService(rec, env.widgets, env.registry, zap.NewNop())
	svc := newScheduleService(env)
	user := "user-1"
	device := env.seedDevice(t, user)
	dash := env.seedDashboard(t, user)

	base := time.Now().UTC().Add(-time.Minute)
	mk := func(pin string, executeAt, createdAt time.Time) {
		w := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, pin)
		require.NoError(t, env.schedules.CreateSchedule(context.Background(), &domain.ScheduledAction{
			ScheduleID:  uuid.NewString(),
			WidgetID:    w.WidgetID,
			DeviceID:    device.DeviceID,
			DashboardID: dash.DashboardID,
			State:       true,
			ExecuteAt:   executeAt,
			Status:      domain.ScheduleStatusPending,
			CreatedBy:   user,
			CreatedAt:   createdAt,
		}))
	}
	// v2 到期最晚；v0 和 v1 同刻到期，按创建先后裁决
	mk("v2", base.Add(2*time.Second), base)
	mk("v0", base.Add(time.Second), base.Add(time.Millisecond))
	mk("v1", base.Add(time.Second), base)

	svc.ProcessDue(context.Background(), time.Now().UTC())
	assert.Equal(t, []string{"v1", "v0", "v2"}, rec.written())
}

func TestScheduleListByWidget(t *testing.T) {
	env := newTestEnv()
	svc := newScheduleService(env)
	user := "user-1"
	device := env.seedDevice(t, user)
	dash := env.seedDashboard(t, user)
	w := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v0")
	other := env.seedLEDWidget(t, dash.DashboardID, device.DeviceID, "v1")

	a1, err := svc.Create(context.Background(), CreateScheduleRequest{
		UserID: user, WidgetID: w.WidgetID, State: true,
		ExecuteAt: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	a2, err := svc.Create(context.Background(), CreateScheduleRequest{
		UserID: user, WidgetID: w.WidgetID, State: false,
		ExecuteAt: time.Now().UTC().Add(2 * time.Hour),
	})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateScheduleRequest{
		UserID: user, WidgetID: other.WidgetID, State: true,
		ExecuteAt: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	got, err := svc.ListByWidget(context.Background(), user, w.WidgetID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a1.ScheduleID, got[0].ScheduleID)
	assert.Equal(t, a2.ScheduleID, got[1].ScheduleID)

	_, err = svc.ListByWidget(context.Background(), "user-2", w.WidgetID)
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = svc.ListByWidget(context.Background(), user, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}
