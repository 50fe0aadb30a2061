package repository

import (
	"context"
	"database/sql"
	"time"

	"thingsnxt/internal/domain"
)

type PostgresSchedulesRepo struct {
	db *sql.DB
}

func NewPostgresSchedulesRepo(db *sql.DB) *PostgresSchedulesRepo {
	return &PostgresSchedulesRepo{db: db}
}

const scheduleColumns = `
	schedule_id::text,
	widget_id::text,
	device_id::text,
	dashboard_id::text,
	state,
	execute_at,
	status,
	label,
	duration_seconds,
	created_by::text,
	created_at,
	executed_at,
	error`

func scanSchedule(s interface{ Scan(...any) error }) (*domain.ScheduledAction, error) {
	var a domain.ScheduledAction
	if err := s.Scan(
		&a.ScheduleID,
		&a.WidgetID,
		&a.DeviceID,
		&a.DashboardID,
		&a.State,
		&a.ExecuteAt,
		&a.Status,
		&a.Label,
		&a.DurationSeconds,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.ExecutedAt,
		&a.Error,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PostgresSchedulesRepo) querySchedules(ctx context.Context, where string, args ...any) ([]*domain.ScheduledAction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM led_schedules `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.ScheduledAction{}
	for rows.Next() {
		a, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresSchedulesRepo) CreateSchedule(ctx context.Context, a *domain.ScheduledAction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO led_schedules
		 (schedule_id, widget_id, device_id, dashboard_id, state, execute_at, status,
		  label, duration_seconds, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ScheduleID, a.WidgetID, a.DeviceID, a.DashboardID, a.State, a.ExecuteAt, a.Status,
		a.Label, a.DurationSeconds, a.CreatedBy, a.CreatedAt,
	)
	return err
}

func (r *PostgresSchedulesRepo) GetSchedule(ctx context.Context, scheduleID string) (*domain.ScheduledAction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM led_schedules WHERE schedule_id = $1`, scheduleID)
	a, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

func (r *PostgresSchedulesRepo) ListSchedulesByUser(ctx context.Context, userID string) ([]*domain.ScheduledAction, error) {
	return r.querySchedules(ctx, `WHERE created_by = $1 ORDER BY execute_at`, userID)
}

func (r *PostgresSchedulesRepo) ListSchedulesByWidget(ctx context.Context, widgetID string) ([]*domain.ScheduledAction, error) {
	return r.querySchedules(ctx, `WHERE widget_id = $1 ORDER BY execute_at`, widgetID)
}

// DuePending 索引 (status, execute_at)；同刻到期按插入顺序
func (r *PostgresSchedulesRepo) DuePending(ctx context.Context, now time.Time) ([]*domain.ScheduledAction, error) {
	return r.querySchedules(ctx,
		`WHERE status = 'pending' AND execute_at <= $1 ORDER BY execute_at ASC, created_at ASC`,
		now,
	)
}

func (r *PostgresSchedulesRepo) transition(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClaimPending 执行器占行；取消路径只认 pending，占用成功后取消必然落空
func (r *PostgresSchedulesRepo) ClaimPending(ctx context.Context, scheduleID string) (bool, error) {
	return r.transition(ctx,
		`UPDATE led_schedules SET status = 'processing'
		 WHERE schedule_id = $1 AND status = 'pending'`,
		scheduleID,
	)
}

func (r *PostgresSchedulesRepo) MarkCompleted(ctx context.Context, scheduleID string, executedAt time.Time) (bool, error) {
	return r.transition(ctx,
		`UPDATE led_schedules SET status = 'completed', executed_at = $2
		 WHERE schedule_id = $1 AND status = 'processing'`,
		scheduleID, executedAt,
	)
}

func (r *PostgresSchedulesRepo) MarkFailed(ctx context.Context, scheduleID string, reason string, executedAt time.Time) (bool, error) {
	return r.transition(ctx,
		`UPDATE led_schedules SET status = 'failed', error = $2, executed_at = $3
		 WHERE schedule_id = $1 AND status = 'processing'`,
		scheduleID, reason, executedAt,
	)
}

func (r *PostgresSchedulesRepo) MarkCancelled(ctx context.Context, scheduleID string) (bool, error) {
	return r.transition(ctx,
		`UPDATE led_schedules SET status = 'cancelled'
		 WHERE schedule_id = $1 AND status = 'pending'`,
		scheduleID,
	)
}
