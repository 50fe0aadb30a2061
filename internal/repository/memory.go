package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"thingsnxt/internal/domain"
)

// MemoryDevicesRepo supports running without a database (and unit tests).
type MemoryDevicesRepo struct {
	mu      sync.RWMutex
	devices map[string]*domain.Device // deviceID -> Device
}

func NewMemoryDevicesRepo() *MemoryDevicesRepo {
	return &MemoryDevicesRepo{devices: map[string]*domain.Device{}}
}

func cloneDevice(d *domain.Device) *domain.Device {
	c := *d
	c.Telemetry = map[string]any{}
	for k, v := range d.Telemetry {
		c.Telemetry[k] = v
	}
	return &c
}

func (r *MemoryDevicesRepo) list(filter func(*domain.Device) bool) []*domain.Device {
	out := []*domain.Device{}
	for _, d := range r.devices {
		if filter == nil || filter(d) {
			out = append(out, cloneDevice(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MemoryDevicesRepo) ListByUser(_ context.Context, userID string) ([]*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list(func(d *domain.Device) bool { return d.UserID == userID }), nil
}

func (r *MemoryDevicesRepo) ListAll(_ context.Context) ([]*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list(nil), nil
}

func (r *MemoryDevicesRepo) ListOnline(_ context.Context) ([]*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list(func(d *domain.Device) bool { return d.Status == domain.DeviceStatusOnline }), nil
}

func (r *MemoryDevicesRepo) GetDevice(_ context.Context, deviceID string) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDevice(d), nil
}

func (r *MemoryDevicesRepo) GetByToken(_ context.Context, token string) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.DeviceToken == token {
			return cloneDevice(d), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryDevicesRepo) CreateDevice(_ context.Context, d *domain.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.Telemetry == nil {
		d.Telemetry = map[string]any{}
	}
	r.devices[d.DeviceID] = cloneDevice(d)
	return nil
}

func (r *MemoryDevicesRepo) DeleteDevice(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[deviceID]; !ok {
		return ErrNotFound
	}
	delete(r.devices, deviceID)
	return nil
}

func (r *MemoryDevicesRepo) MergeTelemetry(_ context.Context, deviceID string, data map[string]any, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	if d.Telemetry == nil {
		d.Telemetry = map[string]any{}
	}
	for k, v := range data {
		d.Telemetry[k] = v
	}
	d.Status = domain.DeviceStatusOnline
	d.LastActive = sql.NullTime{Time: now, Valid: true}
	return nil
}

func (r *MemoryDevicesRepo) SetPin(_ context.Context, deviceID, pin string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	if d.Telemetry == nil {
		d.Telemetry = map[string]any{}
	}
	d.Telemetry[pin] = value
	return nil
}

func (r *MemoryDevicesRepo) MarkOffline(_ context.Context, deviceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok || d.Status != domain.DeviceStatusOnline {
		return false, nil
	}
	d.Status = domain.DeviceStatusOffline
	return true, nil
}

// MemoryDashboardsRepo in-memory DashboardsRepository
type MemoryDashboardsRepo struct {
	mu         sync.RWMutex
	dashboards map[string]*domain.Dashboard
}

func NewMemoryDashboardsRepo() *MemoryDashboardsRepo {
	return &MemoryDashboardsRepo{dashboards: map[string]*domain.Dashboard{}}
}

func (r *MemoryDashboardsRepo) CreateDashboard(_ context.Context, d *domain.Dashboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *d
	r.dashboards[d.DashboardID] = &c
	return nil
}

func (r *MemoryDashboardsRepo) GetDashboard(_ context.Context, dashboardID string) (*domain.Dashboard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dashboards[dashboardID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *d
	return &c, nil
}

func (r *MemoryDashboardsRepo) ListDashboardsByUser(_ context.Context, userID string) ([]*domain.Dashboard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.Dashboard{}
	for _, d := range r.dashboards {
		if d.UserID == userID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryDashboardsRepo) DeleteDashboard(_ context.Context, dashboardID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.dashboards[dashboardID]; !ok {
		return ErrNotFound
	}
	delete(r.dashboards, dashboardID)
	return nil
}

// MemoryWidgetsRepo in-memory WidgetsRepository
type MemoryWidgetsRepo struct {
	mu      sync.RWMutex
	widgets map[string]*domain.Widget
}

func NewMemoryWidgetsRepo() *MemoryWidgetsRepo {
	return &MemoryWidgetsRepo{widgets: map[string]*domain.Widget{}}
}

func cloneWidget(w *domain.Widget) *domain.Widget {
	c := *w
	c.Config = map[string]any{}
	for k, v := range w.Config {
		c.Config[k] = v
	}
	return &c
}

func (r *MemoryWidgetsRepo) CreateWidget(_ context.Context, w *domain.Widget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.Config == nil {
		w.Config = map[string]any{}
	}
	r.widgets[w.WidgetID] = cloneWidget(w)
	return nil
}

func (r *MemoryWidgetsRepo) GetWidget(_ context.Context, widgetID string) (*domain.Widget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.widgets[widgetID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneWidget(w), nil
}

func (r *MemoryWidgetsRepo) DeleteWidget(_ context.Context, widgetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.widgets[widgetID]; !ok {
		return ErrNotFound
	}
	delete(r.widgets, widgetID)
	return nil
}

func (r *MemoryWidgetsRepo) DeleteWidgetsByDashboard(_ context.Context, dashboardID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, w := range r.widgets {
		if w.DashboardID == dashboardID {
			delete(r.widgets, id)
		}
	}
	return nil
}

func (r *MemoryWidgetsRepo) listWidgets(filter func(*domain.Widget) bool) []*domain.Widget {
	out := []*domain.Widget{}
	for _, w := range r.widgets {
		if filter(w) {
			out = append(out, cloneWidget(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MemoryWidgetsRepo) ListWidgetsByDashboard(_ context.Context, dashboardID string) ([]*domain.Widget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listWidgets(func(w *domain.Widget) bool { return w.DashboardID == dashboardID }), nil
}

func (r *MemoryWidgetsRepo) ListWidgetsByDevice(_ context.Context, deviceID string) ([]*domain.Widget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listWidgets(func(w *domain.Widget) bool { return w.DeviceID.Valid && w.DeviceID.String == deviceID }), nil
}

func (r *MemoryWidgetsRepo) UpdateWidgetValue(_ context.Context, widgetID string, value any, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.widgets[widgetID]
	if !ok {
		return ErrNotFound
	}
	w.Value = value
	w.UpdatedAt = now
	return nil
}

func (r *MemoryWidgetsRepo) UsedPins(_ context.Context, dashboardID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []string{}
	for _, w := range r.widgets {
		if w.DashboardID != dashboardID {
			continue
		}
		if pin := w.VirtualPin(); pin != "" {
			out = append(out, pin)
		}
	}
	return out, nil
}

// MemorySchedulesRepo in-memory SchedulesRepository
type MemorySchedulesRepo struct {
	mu        sync.RWMutex
	schedules map[string]*domain.ScheduledAction
}

func NewMemorySchedulesRepo() *MemorySchedulesRepo {
	return &MemorySchedulesRepo{schedules: map[string]*domain.ScheduledAction{}}
}

func (r *MemorySchedulesRepo) CreateSchedule(_ context.Context, a *domain.ScheduledAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.schedules[a.ScheduleID] = &c
	return nil
}

func (r *MemorySchedulesRepo) GetSchedule(_ context.Context, scheduleID string) (*domain.ScheduledAction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.schedules[scheduleID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

func (r *MemorySchedulesRepo) listSchedules(filter func(*domain.ScheduledAction) bool) []*domain.ScheduledAction {
	out := []*domain.ScheduledAction{}
	for _, a := range r.schedules {
		if filter(a) {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExecuteAt.Equal(out[j].ExecuteAt) {
			return out[i].ExecuteAt.Before(out[j].ExecuteAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *MemorySchedulesRepo) ListSchedulesByUser(_ context.Context, userID string) ([]*domain.ScheduledAction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listSchedules(func(a *domain.ScheduledAction) bool { return a.CreatedBy == userID }), nil
}

func (r *MemorySchedulesRepo) ListSchedulesByWidget(_ context.Context, widgetID string) ([]*domain.ScheduledAction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listSchedules(func(a *domain.ScheduledAction) bool { return a.WidgetID == widgetID }), nil
}

func (r *MemorySchedulesRepo) DuePending(_ context.Context, now time.Time) ([]*domain.ScheduledAction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listSchedules(func(a *domain.ScheduledAction) bool {
		return a.Status == domain.ScheduleStatusPending && !a.ExecuteAt.After(now)
	}), nil
}

func (r *MemorySchedulesRepo) transition(scheduleID, from string, apply func(*domain.ScheduledAction)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.schedules[scheduleID]
	if !ok || a.Status != from {
		return false, nil
	}
	apply(a)
	return true, nil
}

func (r *MemorySchedulesRepo) ClaimPending(_ context.Context, scheduleID string) (bool, error) {
	return r.transition(scheduleID, domain.ScheduleStatusPending, func(a *domain.ScheduledAction) {
		a.Status = domain.ScheduleStatusProcessing
	})
}

func (r *MemorySchedulesRepo) MarkCompleted(_ context.Context, scheduleID string, executedAt time.Time) (bool, error) {
	return r.transition(scheduleID, domain.ScheduleStatusProcessing, func(a *domain.ScheduledAction) {
		a.Status = domain.ScheduleStatusCompleted
		a.ExecutedAt = sql.NullTime{Time: executedAt, Valid: true}
	})
}

func (r *MemorySchedulesRepo) MarkFailed(_ context.Context, scheduleID string, reason string, executedAt time.Time) (bool, error) {
	return r.transition(scheduleID, domain.ScheduleStatusProcessing, func(a *domain.ScheduledAction) {
		a.Status = domain.ScheduleStatusFailed
		a.Error = sql.NullString{String: reason, Valid: true}
		a.ExecutedAt = sql.NullTime{Time: executedAt, Valid: true}
	})
}

func (r *MemorySchedulesRepo) MarkCancelled(_ context.Context, scheduleID string) (bool, error) {
	return r.transition(scheduleID, domain.ScheduleStatusPending, func(a *domain.ScheduledAction) {
		a.Status = domain.ScheduleStatusCancelled
	})
}

// MemoryNotificationsRepo in-memory NotificationsRepository
type MemoryNotificationsRepo struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification
}

func NewMemoryNotificationsRepo() *MemoryNotificationsRepo {
	return &MemoryNotificationsRepo{notifications: map[string]*domain.Notification{}}
}

func (r *MemoryNotificationsRepo) CreateNotification(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *n
	r.notifications[n.NotificationID] = &c
	return nil
}

func (r *MemoryNotificationsRepo) ListNotificationsByUser(_ context.Context, userID string, unreadOnly bool) ([]*domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.Notification{}
	for _, n := range r.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryNotificationsRepo) MarkNotificationRead(_ context.Context, notificationID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[notificationID]
	if !ok || n.UserID != userID {
		return false, nil
	}
	n.Read = true
	return true, nil
}
