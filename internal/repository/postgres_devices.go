package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"thingsnxt/internal/domain"

	"github.com/lib/pq"
)

type PostgresDevicesRepo struct {
	db *sql.DB
}

func NewPostgresDevicesRepo(db *sql.DB) *PostgresDevicesRepo {
	return &PostgresDevicesRepo{db: db}
}

const deviceColumns = `
	device_id::text,
	user_id::text,
	name,
	status,
	last_active,
	device_token,
	COALESCE(telemetry::text, '{}'),
	created_at`

func scanDevice(s interface{ Scan(...any) error }) (*domain.Device, error) {
	var d domain.Device
	var telemetry string
	if err := s.Scan(
		&d.DeviceID,
		&d.UserID,
		&d.Name,
		&d.Status,
		&d.LastActive,
		&d.DeviceToken,
		&telemetry,
		&d.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(telemetry), &d.Telemetry); err != nil {
		d.Telemetry = map[string]any{}
	}
	return &d, nil
}

func (r *PostgresDevicesRepo) queryDevices(ctx context.Context, where string, args ...any) ([]*domain.Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices ` + where
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresDevicesRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	return r.queryDevices(ctx, `WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (r *PostgresDevicesRepo) ListAll(ctx context.Context) ([]*domain.Device, error) {
	return r.queryDevices(ctx, `ORDER BY created_at`)
}

func (r *PostgresDevicesRepo) ListOnline(ctx context.Context) ([]*domain.Device, error) {
	return r.queryDevices(ctx, `WHERE status = 'online' ORDER BY created_at`)
}

func (r *PostgresDevicesRepo) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`, deviceID)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

func (r *PostgresDevicesRepo) GetByToken(ctx context.Context, token string) (*domain.Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_token = $1`, token)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

func (r *PostgresDevicesRepo) CreateDevice(ctx context.Context, d *domain.Device) error {
	telemetry, err := json.Marshal(d.Telemetry)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO devices (device_id, user_id, name, status, last_active, device_token, telemetry, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`,
		d.DeviceID, d.UserID, d.Name, d.Status, d.LastActive, d.DeviceToken, string(telemetry), d.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("device token already exists")
		}
		return err
	}
	return nil
}

func (r *PostgresDevicesRepo) DeleteDevice(ctx context.Context, deviceID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE device_id = $1`, deviceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeTelemetry 心跳路径：telemetry || data，status=online，last_active=now
// 整条是单语句单文档更新，与巡检的条件降级天然互斥
func (r *PostgresDevicesRepo) MergeTelemetry(ctx context.Context, deviceID string, data map[string]any, now time.Time) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices
		 SET telemetry = COALESCE(telemetry, '{}'::jsonb) || $2::jsonb,
		     status = 'online',
		     last_active = $3
		 WHERE device_id = $1`,
		deviceID, string(payload), now,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPin 只写一个遥测键；jsonb_set 不会覆盖其它引脚的值
func (r *PostgresDevicesRepo) SetPin(ctx context.Context, deviceID, pin string, value any) error {
	v, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal pin value: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices
		 SET telemetry = jsonb_set(COALESCE(telemetry, '{}'::jsonb), ARRAY[$2], $3::jsonb, true)
		 WHERE device_id = $1`,
		deviceID, pin, string(v),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresDevicesRepo) MarkOffline(ctx context.Context, deviceID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET status = 'offline' WHERE device_id = $1 AND status = 'online'`,
		deviceID,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
