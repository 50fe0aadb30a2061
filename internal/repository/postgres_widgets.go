package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"thingsnxt/internal/domain"
)

type PostgresWidgetsRepo struct {
	db *sql.DB
}

func NewPostgresWidgetsRepo(db *sql.DB) *PostgresWidgetsRepo {
	return &PostgresWidgetsRepo{db: db}
}

const widgetColumns = `
	widget_id::text,
	dashboard_id::text,
	CASE WHEN device_id IS NULL THEN NULL ELSE device_id::text END,
	type,
	COALESCE(label, ''),
	COALESCE(config::text, '{}'),
	CASE WHEN value IS NULL THEN NULL ELSE value::text END,
	created_at,
	updated_at`

func scanWidget(s interface{ Scan(...any) error }) (*domain.Widget, error) {
	var w domain.Widget
	var config string
	var value sql.NullString
	if err := s.Scan(
		&w.WidgetID,
		&w.DashboardID,
		&w.DeviceID,
		&w.Type,
		&w.Label,
		&config,
		&value,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(config), &w.Config); err != nil {
		w.Config = map[string]any{}
	}
	if value.Valid {
		_ = json.Unmarshal([]byte(value.String), &w.Value)
	}
	return &w, nil
}

func (r *PostgresWidgetsRepo) queryWidgets(ctx context.Context, where string, args ...any) ([]*domain.Widget, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+widgetColumns+` FROM widgets `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Widget{}
	for rows.Next() {
		w, err := scanWidget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *PostgresWidgetsRepo) CreateWidget(ctx context.Context, w *domain.Widget) error {
	config, err := json.Marshal(w.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	var value sql.NullString
	if w.Value != nil {
		v, err := json.Marshal(w.Value)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		value = sql.NullString{String: string(v), Valid: true}
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO widgets (widget_id, dashboard_id, device_id, type, label, config, value, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9)`,
		w.WidgetID, w.DashboardID, w.DeviceID, w.Type, w.Label, string(config), value, w.CreatedAt, w.UpdatedAt,
	)
	return err
}

func (r *PostgresWidgetsRepo) GetWidget(ctx context.Context, widgetID string) (*domain.Widget, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+widgetColumns+` FROM widgets WHERE widget_id = $1`, widgetID)
	w, err := scanWidget(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return w, err
}

func (r *PostgresWidgetsRepo) DeleteWidget(ctx context.Context, widgetID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM widgets WHERE widget_id = $1`, widgetID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresWidgetsRepo) DeleteWidgetsByDashboard(ctx context.Context, dashboardID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM widgets WHERE dashboard_id = $1`, dashboardID)
	return err
}

func (r *PostgresWidgetsRepo) ListWidgetsByDashboard(ctx context.Context, dashboardID string) ([]*domain.Widget, error) {
	return r.queryWidgets(ctx, `WHERE dashboard_id = $1 ORDER BY created_at`, dashboardID)
}

func (r *PostgresWidgetsRepo) ListWidgetsByDevice(ctx context.Context, deviceID string) ([]*domain.Widget, error) {
	return r.queryWidgets(ctx, `WHERE device_id = $1 ORDER BY created_at`, deviceID)
}

func (r *PostgresWidgetsRepo) UpdateWidgetValue(ctx context.Context, widgetID string, value any, now time.Time) error {
	v, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE widgets SET value = $2::jsonb, updated_at = $3 WHERE widget_id = $1`,
		widgetID, string(v), now,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresWidgetsRepo) UsedPins(ctx context.Context, dashboardID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT config->>'virtual_pin' FROM widgets
		 WHERE dashboard_id = $1 AND config ? 'virtual_pin'`,
		dashboardID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var pin sql.NullString
		if err := rows.Scan(&pin); err != nil {
			return nil, err
		}
		if pin.Valid && pin.String != "" {
			out = append(out, pin.String)
		}
	}
	return out, rows.Err()
}
