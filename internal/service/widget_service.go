package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"thingsnxt/internal/auth"
	"thingsnxt/internal/domain"
	"thingsnxt/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WidgetService 控件管理；LED 控件在这里获得虚拟引脚
type WidgetService struct {
	widgets    repository.WidgetsRepository
	dashboards repository.DashboardsRepository
	devices    repository.DevicesRepository
	registry   UserBroadcaster
	logger     *zap.Logger
}

func NewWidgetService(
	widgets repository.WidgetsRepository,
	dashboards repository.DashboardsRepository,
	devices repository.DevicesRepository,
	registry UserBroadcaster,
	logger *zap.Logger,
) *WidgetService {
	return &WidgetService{
		widgets:    widgets,
		dashboards: dashboards,
		devices:    devices,
		registry:   registry,
		logger:     logger,
	}
}

// CreateWidgetRequest 创建控件请求
type CreateWidgetRequest struct {
	UserID      string
	DashboardID string
	DeviceID    string
	Type        string
	Label       string
	Config      map[string]any
	Value       any
}

// Create 创建控件（仅仪表盘所有者）
// LED 控件的 virtual_pin 忽略客户端传值，总是按最小可用后缀分配：
// v0 被释放后，下一个 LED 控件拿到的是 v0 而不是下一个未用过的序号
func (s *WidgetService) Create(ctx context.Context, req CreateWidgetRequest) (*domain.Widget, error) {
	dashboard, err := s.dashboards.GetDashboard(ctx, req.DashboardID)
	if err != nil {
		return nil, err
	}
	if !auth.Authorize("widgets", "write", auth.Input{UserID: req.UserID, RefOwnerID: dashboard.UserID}) {
		return nil, ErrAccessDenied
	}

	widgetType := req.Type
	if widgetType == "" {
		widgetType = domain.WidgetTypeTelemetry
	}
	config := map[string]any{}
	for k, v := range req.Config {
		config[k] = v
	}

	if widgetType == domain.WidgetTypeLED {
		pin, err := s.assignPin(ctx, req.DashboardID)
		if err != nil {
			return nil, err
		}
		config["virtual_pin"] = pin
	}

	var deviceID sql.NullString
	if req.DeviceID != "" {
		if _, err := s.devices.GetDevice(ctx, req.DeviceID); err != nil {
			return nil, err
		}
		deviceID = sql.NullString{String: req.DeviceID, Valid: true}
	}

	now := time.Now().UTC()
	w := &domain.Widget{
		WidgetID:    uuid.NewString(),
		DashboardID: req.DashboardID,
		DeviceID:    deviceID,
		Type:        widgetType,
		Label:       req.Label,
		Config:      config,
		Value:       req.Value,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.widgets.CreateWidget(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// assignPin 仪表盘内最小可用的 vN 后缀
func (s *WidgetService) assignPin(ctx context.Context, dashboardID string) (string, error) {
	used, err := s.widgets.UsedPins(ctx, dashboardID)
	if err != nil {
		return "", fmt.Errorf("list used pins: %w", err)
	}
	taken := map[int]bool{}
	for _, pin := range used {
		if len(pin) > 1 && pin[0] == 'v' {
			if n, err := strconv.Atoi(pin[1:]); err == nil && n >= 0 {
				taken[n] = true
			}
		}
	}
	n := 0
	for taken[n] {
		n++
	}
	return "v" + strconv.Itoa(n), nil
}

// List 仪表盘的控件列表，缓存值回填为设备遥测里的最新值
func (s *WidgetService) List(ctx context.Context, dashboardID string) ([]*domain.Widget, error) {
	if _, err := s.dashboards.GetDashboard(ctx, dashboardID); err != nil {
		return nil, err
	}
	widgets, err := s.widgets.ListWidgetsByDashboard(ctx, dashboardID)
	if err != nil {
		return nil, err
	}
	for _, w := range widgets {
		if !w.DeviceID.Valid {
			continue
		}
		key := w.TelemetryKey()
		if key == "" {
			continue
		}
		device, err := s.devices.GetDevice(ctx, w.DeviceID.String)
		if err != nil {
			continue
		}
		if v, ok := device.Telemetry[key]; ok && v != nil {
			w.Value = v
		}
	}
	return widgets, nil
}

// AuthorizeAccess 校验用户是否拥有控件所在的仪表盘
func (s *WidgetService) AuthorizeAccess(ctx context.Context, userID, widgetID string) error {
	w, err := s.widgets.GetWidget(ctx, widgetID)
	if err != nil {
		return err
	}
	dashboard, err := s.dashboards.GetDashboard(ctx, w.DashboardID)
	if err != nil {
		return err
	}
	if !auth.Authorize("widgets", "write", auth.Input{UserID: userID, RefOwnerID: dashboard.UserID}) {
		return ErrAccessDenied
	}
	return nil
}

// Delete 删除控件（仅仪表盘所有者）；广播 widget_deleted，释放其虚拟引脚
func (s *WidgetService) Delete(ctx context.Context, userID, widgetID string) error {
	w, err := s.widgets.GetWidget(ctx, widgetID)
	if err != nil {
		return err
	}
	dashboard, err := s.dashboards.GetDashboard(ctx, w.DashboardID)
	if err != nil {
		return err
	}
	if !auth.Authorize("widgets", "write", auth.Input{UserID: userID, RefOwnerID: dashboard.UserID}) {
		return ErrAccessDenied
	}
	if err := s.widgets.DeleteWidget(ctx, widgetID); err != nil {
		return err
	}
	s.registry.Broadcast(dashboard.UserID, widgetDeletedEvent(widgetID, w.DashboardID, time.Now().UTC()))
	return nil
}
