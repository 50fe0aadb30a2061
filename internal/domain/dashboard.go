package domain

import "time"

// Dashboard 仪表盘领域模型（对应 dashboards 表）
type Dashboard struct {
	DashboardID string    `db:"dashboard_id"`
	UserID      string    `db:"user_id"` // NOT NULL
	Name        string    `db:"name"`    // NOT NULL
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (d *Dashboard) ToJSON() map[string]any {
	return map[string]any{
		"id":          d.DashboardID,
		"user_id":     d.UserID,
		"name":        d.Name,
		"description": d.Description,
		"created_at":  d.CreatedAt.UTC().Format(time.RFC3339),
	}
}
