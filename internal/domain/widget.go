package domain

import (
	"database/sql"
	"time"
)

// Widget 类型
const (
	WidgetTypeTelemetry = "telemetry"
	WidgetTypeLED       = "led"
)

// Widget 控件领域模型（对应 widgets 表）
// LED 控件的 config 携带 virtual_pin（如 "v0"），同一仪表盘内唯一；
// telemetry 控件的 config 携带 key，指向设备遥测中的字段
type Widget struct {
	WidgetID    string         `db:"widget_id"`
	DashboardID string         `db:"dashboard_id"` // NOT NULL
	DeviceID    sql.NullString `db:"device_id"`    // nullable
	Type        string         `db:"type"`         // NOT NULL, default 'telemetry'
	Label       string         `db:"label"`
	Config      map[string]any `db:"config"` // JSONB
	Value       any            `db:"value"`  // JSONB，最近一次观测/下发的标量值
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// VirtualPin 返回 LED 控件的虚拟引脚名（没有则返回空串）
func (w *Widget) VirtualPin() string {
	if w.Config == nil {
		return ""
	}
	if pin, ok := w.Config["virtual_pin"].(string); ok {
		return pin
	}
	return ""
}

// TelemetryKey 返回控件绑定的遥测字段名；LED 控件回落到 virtual_pin
func (w *Widget) TelemetryKey() string {
	if w.Config == nil {
		return ""
	}
	if key, ok := w.Config["key"].(string); ok && key != "" {
		return key
	}
	return w.VirtualPin()
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (w *Widget) ToJSON() map[string]any {
	m := map[string]any{
		"id":           w.WidgetID,
		"dashboard_id": w.DashboardID,
		"type":         w.Type,
		"label":        w.Label,
		"value":        w.Value,
		"created_at":   w.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":   w.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if w.DeviceID.Valid {
		m["device_id"] = w.DeviceID.String
	} else {
		m["device_id"] = nil
	}
	if w.Config != nil {
		m["config"] = w.Config
	} else {
		m["config"] = map[string]any{}
	}
	return m
}
