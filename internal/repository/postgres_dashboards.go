package repository

import (
	"context"
	"database/sql"

	"thingsnxt/internal/domain"
)

type PostgresDashboardsRepo struct {
	db *sql.DB
}

func NewPostgresDashboardsRepo(db *sql.DB) *PostgresDashboardsRepo {
	return &PostgresDashboardsRepo{db: db}
}

func (r *PostgresDashboardsRepo) CreateDashboard(ctx context.Context, d *domain.Dashboard) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dashboards (dashboard_id, user_id, name, description, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		d.DashboardID, d.UserID, d.Name, d.Description, d.CreatedAt,
	)
	return err
}

func (r *PostgresDashboardsRepo) GetDashboard(ctx context.Context, dashboardID string) (*domain.Dashboard, error) {
	var d domain.Dashboard
	err := r.db.QueryRowContext(ctx,
		`SELECT dashboard_id::text, user_id::text, name, COALESCE(description, ''), created_at
		 FROM dashboards WHERE dashboard_id = $1`,
		dashboardID,
	).Scan(&d.DashboardID, &d.UserID, &d.Name, &d.Description, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PostgresDashboardsRepo) ListDashboardsByUser(ctx context.Context, userID string) ([]*domain.Dashboard, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT dashboard_id::text, user_id::text, name, COALESCE(description, ''), created_at
		 FROM dashboards WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Dashboard{}
	for rows.Next() {
		var d domain.Dashboard
		if err := rows.Scan(&d.DashboardID, &d.UserID, &d.Name, &d.Description, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *PostgresDashboardsRepo) DeleteDashboard(ctx context.Context, dashboardID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dashboards WHERE dashboard_id = $1`, dashboardID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
