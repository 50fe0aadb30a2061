package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"thingsnxt/internal/auth"
	"thingsnxt/internal/domain"
	"thingsnxt/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DashboardService 仪表盘管理
type DashboardService struct {
	dashboards repository.DashboardsRepository
	widgets    repository.WidgetsRepository
	logger     *zap.Logger
}

func NewDashboardService(dashboards repository.DashboardsRepository, widgets repository.WidgetsRepository, logger *zap.Logger) *DashboardService {
	return &DashboardService{
		dashboards: dashboards,
		widgets:    widgets,
		logger:     logger,
	}
}

// CreateDashboardRequest 创建仪表盘请求
type CreateDashboardRequest struct {
	UserID      string
	Name        string
	Description string
}

func (s *DashboardService) Create(ctx context.Context, req CreateDashboardRequest) (*domain.Dashboard, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: dashboard name required", ErrValidation)
	}
	d := &domain.Dashboard{
		DashboardID: uuid.NewString(),
		UserID:      req.UserID,
		Name:        name,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.dashboards.CreateDashboard(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DashboardService) List(ctx context.Context, userID string) ([]*domain.Dashboard, error) {
	return s.dashboards.ListDashboardsByUser(ctx, userID)
}

// Delete 删除仪表盘及其全部控件（仅所有者）
func (s *DashboardService) Delete(ctx context.Context, userID, dashboardID string) error {
	d, err := s.dashboards.GetDashboard(ctx, dashboardID)
	if err != nil {
		return err
	}
	if !auth.Authorize("dashboards", "write", auth.Input{UserID: userID, OwnerID: d.UserID}) {
		return ErrAccessDenied
	}
	if err := s.widgets.DeleteWidgetsByDashboard(ctx, dashboardID); err != nil {
		return err
	}
	return s.dashboards.DeleteDashboard(ctx, dashboardID)
}
