package domain

import (
	"database/sql"
	"time"
)

// 设备状态
const (
	DeviceStatusOnline  = "online"
	DeviceStatusOffline = "offline"
)

// Device 设备领域模型（对应 devices 表）
// status 是派生值：只有心跳能把它置为 online，只有巡检/显式命令能置为 offline
type Device struct {
	DeviceID    string         `db:"device_id"`
	UserID      string         `db:"user_id"` // NOT NULL，设备所有者
	Name        string         `db:"name"`    // NOT NULL
	Status      string         `db:"status"`  // NOT NULL, default 'offline'
	LastActive  sql.NullTime   `db:"last_active"`
	DeviceToken string         `db:"device_token"` // UNIQUE，设备上报凭证
	Telemetry   map[string]any `db:"telemetry"`    // JSONB，虚拟引脚等遥测键值
	CreatedAt   time.Time      `db:"created_at"`
}

// Online 判断设备是否在线
func (d *Device) Online() bool {
	return d.Status == DeviceStatusOnline
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (d *Device) ToJSON() map[string]any {
	m := map[string]any{
		"id":           d.DeviceID,
		"user_id":      d.UserID,
		"name":         d.Name,
		"status":       d.Status,
		"device_token": d.DeviceToken,
		"created_at":   d.CreatedAt.UTC().Format(time.RFC3339),
	}
	if d.LastActive.Valid {
		m["last_active"] = d.LastActive.Time.UTC().Format(time.RFC3339)
	} else {
		m["last_active"] = nil
	}
	if d.Telemetry != nil {
		m["telemetry"] = d.Telemetry
	} else {
		m["telemetry"] = map[string]any{}
	}
	return m
}
