package repository

import (
	"context"
	"errors"
	"time"

	"thingsnxt/internal/domain"
)

// ErrNotFound 目标记录不存在
var ErrNotFound = errors.New("not found")

// DevicesRepository 设备Repository接口
// 使用强类型领域模型，不使用map[string]any
type DevicesRepository interface {
	// 查询
	ListByUser(ctx context.Context, userID string) ([]*domain.Device, error)
	ListAll(ctx context.Context) ([]*domain.Device, error)
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)
	GetByToken(ctx context.Context, token string) (*domain.Device, error)
	// ListOnline 巡检用：当前记录为 online 的设备
	ListOnline(ctx context.Context) ([]*domain.Device, error)

	// 创建/删除
	CreateDevice(ctx context.Context, d *domain.Device) error
	DeleteDevice(ctx context.Context, deviceID string) error

	// MergeTelemetry 心跳：合并遥测键值并置 status=online、last_active=now
	MergeTelemetry(ctx context.Context, deviceID string, data map[string]any, now time.Time) error
	// SetPin 写单个虚拟引脚；不触碰遥测中的其它键
	SetPin(ctx context.Context, deviceID, pin string, value any) error
	// MarkOffline 条件转移 online -> offline；返回是否实际发生转移
	// （与并发心跳竞争时由 WHERE status='online' 裁决）
	MarkOffline(ctx context.Context, deviceID string) (bool, error)
}

// DashboardsRepository 仪表盘Repository接口
type DashboardsRepository interface {
	CreateDashboard(ctx context.Context, d *domain.Dashboard) error
	GetDashboard(ctx context.Context, dashboardID string) (*domain.Dashboard, error)
	ListDashboardsByUser(ctx context.Context, userID string) ([]*domain.Dashboard, error)
	DeleteDashboard(ctx context.Context, dashboardID string) error
}

// WidgetsRepository 控件Repository接口
type WidgetsRepository interface {
	CreateWidget(ctx context.Context, w *domain.Widget) error
	GetWidget(ctx context.Context, widgetID string) (*domain.Widget, error)
	DeleteWidget(ctx context.Context, widgetID string) error
	DeleteWidgetsByDashboard(ctx context.Context, dashboardID string) error
	ListWidgetsByDashboard(ctx context.Context, dashboardID string) ([]*domain.Widget, error)
	ListWidgetsByDevice(ctx context.Context, deviceID string) ([]*domain.Widget, error)
	UpdateWidgetValue(ctx context.Context, widgetID string, value any, now time.Time) error
	// UsedPins 仪表盘内已占用的 virtual_pin 集合（用于最小可用后缀分配）
	UsedPins(ctx context.Context, dashboardID string) ([]string, error)
}

// SchedulesRepository 定时动作Repository接口
// 终态转移一律是条件更新（WHERE status='pending'），保证 exactly-once
type SchedulesRepository interface {
	CreateSchedule(ctx context.Context, a *domain.ScheduledAction) error
	GetSchedule(ctx context.Context, scheduleID string) (*domain.ScheduledAction, error)
	ListSchedulesByUser(ctx context.Context, userID string) ([]*domain.ScheduledAction, error)
	ListSchedulesByWidget(ctx context.Context, widgetID string) ([]*domain.ScheduledAction, error)
	// DuePending 到期的 pending 动作，按 execute_at 升序、created_at 升序
	DuePending(ctx context.Context, now time.Time) ([]*domain.ScheduledAction, error)
	// ClaimPending 条件转移 pending -> processing；false 表示取消请求先占了这一行。
	// 执行器必须先占用再写引脚，占用成功后 MarkCompleted/MarkFailed 收尾
	ClaimPending(ctx context.Context, scheduleID string) (bool, error)
	MarkCompleted(ctx context.Context, scheduleID string, executedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, scheduleID string, reason string, executedAt time.Time) (bool, error)
	MarkCancelled(ctx context.Context, scheduleID string) (bool, error)
}

// NotificationsRepository 通知Repository接口
type NotificationsRepository interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	ListNotificationsByUser(ctx context.Context, userID string, unreadOnly bool) ([]*domain.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) (bool, error)
}
