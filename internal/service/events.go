package service

import "time"

// 观察者事件类型；用户流和全局流共用
const (
	EventTelemetryUpdate      = "telemetry_update"
	EventStatusUpdate         = "status_update"
	EventWidgetUpdate         = "widget_update"
	EventWidgetDeleted        = "widget_deleted"
	EventDeviceAdded          = "device_added"
	EventDeviceRemoved        = "device_removed"
	EventLEDScheduleExecuted  = "led_schedule_executed"
	EventLEDScheduleCancelled = "led_schedule_cancelled"
	EventNotification         = "notification"
)

// UserBroadcaster 按用户投递（ws.Registry 实现）
type UserBroadcaster interface {
	Broadcast(userID string, event any)
}

// GlobalPublisher 全局投递（events.Bus 实现）
type GlobalPublisher interface {
	Publish(event any)
}

func newEvent(eventType string, now time.Time, fields map[string]any) map[string]any {
	event := map[string]any{
		"type":      eventType,
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		event[k] = v
	}
	return event
}

func telemetryUpdateEvent(deviceID string, data map[string]any, now time.Time) map[string]any {
	return newEvent(EventTelemetryUpdate, now, map[string]any{
		"device_id": deviceID,
		"data":      data,
	})
}

func statusUpdateEvent(deviceID, status string, now time.Time) map[string]any {
	return newEvent(EventStatusUpdate, now, map[string]any{
		"device_id": deviceID,
		"status":    status,
	})
}

func widgetUpdateEvent(widgetID string, value any, now time.Time) map[string]any {
	return newEvent(EventWidgetUpdate, now, map[string]any{
		"widget_id": widgetID,
		"value":     value,
	})
}

func widgetDeletedEvent(widgetID, dashboardID string, now time.Time) map[string]any {
	return newEvent(EventWidgetDeleted, now, map[string]any{
		"widget_id":    widgetID,
		"dashboard_id": dashboardID,
	})
}

func deviceAddedEvent(deviceID, name string, now time.Time) map[string]any {
	return newEvent(EventDeviceAdded, now, map[string]any{
		"device_id": deviceID,
		"name":      name,
	})
}

func deviceRemovedEvent(deviceID string, now time.Time) map[string]any {
	return newEvent(EventDeviceRemoved, now, map[string]any{
		"device_id": deviceID,
	})
}

func scheduleExecutedEvent(scheduleID, widgetID string, state bool, now time.Time) map[string]any {
	return newEvent(EventLEDScheduleExecuted, now, map[string]any{
		"schedule_id": scheduleID,
		"widget_id":   widgetID,
		"state":       state,
	})
}

func scheduleCancelledEvent(scheduleID, widgetID string, now time.Time) map[string]any {
	return newEvent(EventLEDScheduleCancelled, now, map[string]any{
		"schedule_id": scheduleID,
		"widget_id":   widgetID,
	})
}

func notificationEvent(notificationID, message string, now time.Time) map[string]any {
	return newEvent(EventNotification, now, map[string]any{
		"notification_id": notificationID,
		"message":         message,
	})
}
