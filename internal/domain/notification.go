package domain

import "time"

// Notification 用户通知记录（对应 notifications 表）
type Notification struct {
	NotificationID string    `db:"notification_id"`
	UserID         string    `db:"user_id"` // NOT NULL
	Message        string    `db:"message"` // NOT NULL
	Read           bool      `db:"read"`    // NOT NULL, default false
	CreatedAt      time.Time `db:"created_at"`
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (n *Notification) ToJSON() map[string]any {
	return map[string]any{
		"id":         n.NotificationID,
		"user_id":    n.UserID,
		"message":    n.Message,
		"read":       n.Read,
		"created_at": n.CreatedAt.UTC().Format(time.RFC3339),
	}
}
