package service

import (
	"context"
	"fmt"
	"time"

	"thingsnxt/internal/domain"
	"thingsnxt/internal/repository"

	"go.uber.org/zap"
)

// CommandService 虚拟引脚写入的唯一入口
// 即时命令和定时执行都走这里，保证"怎么写引脚"只有一种答案
type CommandService struct {
	devices  repository.DevicesRepository
	widgets  repository.WidgetsRepository
	registry UserBroadcaster
	logger   *zap.Logger
}

func NewCommandService(devices repository.DevicesRepository, widgets repository.WidgetsRepository, registry UserBroadcaster, logger *zap.Logger) *CommandService {
	return &CommandService{
		devices:  devices,
		widgets:  widgets,
		registry: registry,
		logger:   logger,
	}
}

// Apply 把目标布尔状态写到控件的虚拟引脚上：
// 1) 设备遥测里只写该引脚这一个键  2) 控件缓存值同步  3) 不做任何广播
// 广播由调用方负责（即时命令和调度器的事件形状不同）
func (s *CommandService) Apply(ctx context.Context, widget *domain.Widget, state bool, now time.Time) error {
	pin := widget.VirtualPin()
	if pin == "" {
		return fmt.Errorf("widget %s has no virtual pin", widget.WidgetID)
	}
	if !widget.DeviceID.Valid {
		return fmt.Errorf("widget %s is not bound to a device", widget.WidgetID)
	}

	if err := s.devices.SetPin(ctx, widget.DeviceID.String, pin, state); err != nil {
		return fmt.Errorf("write pin %s: %w", pin, err)
	}
	if err := s.widgets.UpdateWidgetValue(ctx, widget.WidgetID, state, now); err != nil {
		return fmt.Errorf("update widget value: %w", err)
	}
	return nil
}

// ExecuteRequest 即时命令请求
type ExecuteRequest struct {
	UserID   string
	WidgetID string
	State    bool
}

// Execute 即时执行命令：鉴权调用方已完成，这里写引脚并广播 widget_update
func (s *CommandService) Execute(ctx context.Context, req ExecuteRequest) (*domain.Widget, error) {
	widget, err := s.widgets.GetWidget(ctx, req.WidgetID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.Apply(ctx, widget, req.State, now); err != nil {
		return nil, err
	}
	widget.Value = req.State

	s.registry.Broadcast(req.UserID, widgetUpdateEvent(widget.WidgetID, req.State, now))
	if widget.DeviceID.Valid {
		if device, err := s.devices.GetDevice(ctx, widget.DeviceID.String); err == nil {
			s.registry.Broadcast(device.UserID,
				telemetryUpdateEvent(device.DeviceID, map[string]any{widget.VirtualPin(): req.State}, now))
		}
	}
	return widget, nil
}
