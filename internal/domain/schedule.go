package domain

import (
	"database/sql"
	"time"
)

// ScheduledAction 状态机；processing 是轮询器已占用、尚未落终态的过渡态
const (
	ScheduleStatusPending    = "pending"
	ScheduleStatusProcessing = "processing"
	ScheduleStatusCompleted  = "completed"
	ScheduleStatusFailed     = "failed"
	ScheduleStatusCancelled  = "cancelled"
)

// ScheduledAction 定时执行动作（对应 led_schedules 表）
// 生命周期：pending -> processing -> completed | failed，或 pending -> cancelled；
// 终态后不可变
type ScheduledAction struct {
	ScheduleID      string         `db:"schedule_id"`
	WidgetID        string         `db:"widget_id"`    // NOT NULL
	DeviceID        string         `db:"device_id"`    // NOT NULL
	DashboardID     string         `db:"dashboard_id"` // NOT NULL
	State           bool           `db:"state"`        // 目标布尔状态
	ExecuteAt       time.Time      `db:"execute_at"`   // UTC 绝对时刻
	Status          string         `db:"status"`       // NOT NULL, default 'pending'
	Label           sql.NullString `db:"label"`
	DurationSeconds sql.NullInt64  `db:"duration_seconds"` // 仅 timer 形式设置
	CreatedBy       string         `db:"created_by"`       // NOT NULL
	CreatedAt       time.Time      `db:"created_at"`
	ExecutedAt      sql.NullTime   `db:"executed_at"`
	Error           sql.NullString `db:"error"`
}

// Terminal 判断动作是否已进入终态
func (a *ScheduledAction) Terminal() bool {
	return a.Status != ScheduleStatusPending && a.Status != ScheduleStatusProcessing
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (a *ScheduledAction) ToJSON() map[string]any {
	m := map[string]any{
		"id":           a.ScheduleID,
		"widget_id":    a.WidgetID,
		"device_id":    a.DeviceID,
		"dashboard_id": a.DashboardID,
		"state":        a.State,
		"execute_at":   a.ExecuteAt.UTC().Format(time.RFC3339),
		"status":       a.Status,
		"created_by":   a.CreatedBy,
		"created_at":   a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.Label.Valid {
		m["label"] = a.Label.String
	}
	if a.DurationSeconds.Valid {
		m["duration_seconds"] = a.DurationSeconds.Int64
	}
	if a.ExecutedAt.Valid {
		m["executed_at"] = a.ExecutedAt.Time.UTC().Format(time.RFC3339)
	}
	if a.Error.Valid {
		m["error"] = a.Error.String
	}
	return m
}
