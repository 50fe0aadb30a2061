package repository

import (
	"context"
	"database/sql"

	"thingsnxt/internal/domain"
)

type PostgresNotificationsRepo struct {
	db *sql.DB
}

func NewPostgresNotificationsRepo(db *sql.DB) *PostgresNotificationsRepo {
	return &PostgresNotificationsRepo{db: db}
}

func (r *PostgresNotificationsRepo) CreateNotification(ctx context.Context, n *domain.Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (notification_id, user_id, message, read, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		n.NotificationID, n.UserID, n.Message, n.Read, n.CreatedAt,
	)
	return err
}

func (r *PostgresNotificationsRepo) ListNotificationsByUser(ctx context.Context, userID string, unreadOnly bool) ([]*domain.Notification, error) {
	q := `SELECT notification_id::text, user_id::text, message, read, created_at
	      FROM notifications WHERE user_id = $1`
	if unreadOnly {
		q += ` AND read = false`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Notification{}
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.NotificationID, &n.UserID, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (r *PostgresNotificationsRepo) MarkNotificationRead(ctx context.Context, notificationID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = true WHERE notification_id = $1 AND user_id = $2`,
		notificationID, userID,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
