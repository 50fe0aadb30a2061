package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"thingsnxt/internal/auth"
	"thingsnxt/internal/domain"
	"thingsnxt/internal/repository"
	"thingsnxt/internal/store"

	"go.uber.org/zap"
)

const telemetryCacheTTL = 60 * time.Second

// TelemetryService 遥测接入（心跳）
type TelemetryService struct {
	devices  repository.DevicesRepository
	widgets  repository.WidgetsRepository
	registry UserBroadcaster
	bus      GlobalPublisher
	cache    store.KV // 可为 nil：不启用快照缓存
	logger   *zap.Logger
}

func NewTelemetryService(
	devices repository.DevicesRepository,
	widgets repository.WidgetsRepository,
	registry UserBroadcaster,
	bus GlobalPublisher,
	cache store.KV,
	logger *zap.Logger,
) *TelemetryService {
	return &TelemetryService{
		devices:  devices,
		widgets:  widgets,
		registry: registry,
		bus:      bus,
		cache:    cache,
		logger:   logger,
	}
}

// IngestRequest 设备上报请求
type IngestRequest struct {
	DeviceToken string
	Data        map[string]any
}

// IngestResponse 设备上报响应；Data 为合并后的完整遥测，
// 设备据此读回自己的引脚状态（如 LED 指令）
type IngestResponse struct {
	DeviceID string
	Data     map[string]any
	LED      any
}

// Ingest 心跳路径：按 token 鉴权 -> 合并遥测并置 online -> 刷新关联控件 -> 广播
func (s *TelemetryService) Ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	if req.DeviceToken == "" {
		return nil, fmt.Errorf("missing device_token")
	}

	device, err := s.devices.GetByToken(ctx, req.DeviceToken)
	if err != nil {
		return nil, err
	}
	if !auth.Authorize("telemetry", "write", auth.Input{
		PresentedToken: req.DeviceToken,
		ResourceToken:  device.DeviceToken,
	}) {
		return nil, fmt.Errorf("telemetry write denied")
	}

	now := time.Now().UTC()
	wasOffline := !device.Online()
	payload := req.Data
	if payload == nil {
		payload = map[string]any{}
	}

	if err := s.devices.MergeTelemetry(ctx, device.DeviceID, payload, now); err != nil {
		return nil, fmt.Errorf("merge telemetry: %w", err)
	}

	// 刷新绑定到该设备、且 key 出现在本次上报里的控件缓存值
	if widgets, err := s.widgets.ListWidgetsByDevice(ctx, device.DeviceID); err == nil {
		for _, w := range widgets {
			key := w.TelemetryKey()
			if key == "" {
				continue
			}
			if v, ok := payload[key]; ok {
				if err := s.widgets.UpdateWidgetValue(ctx, w.WidgetID, v, now); err != nil {
					s.logger.Warn("refresh widget value failed",
						zap.String("widget_id", w.WidgetID),
						zap.Error(err),
					)
				}
			}
		}
	} else {
		s.logger.Warn("list device widgets failed",
			zap.String("device_id", device.DeviceID),
			zap.Error(err),
		)
	}

	s.registry.Broadcast(device.UserID, telemetryUpdateEvent(device.DeviceID, payload, now))
	if wasOffline {
		// 离线设备的心跳同时是一次 offline->online 状态变化
		s.registry.Broadcast(device.UserID, statusUpdateEvent(device.DeviceID, domain.DeviceStatusOnline, now))
		s.bus.Publish(statusUpdateEvent(device.DeviceID, domain.DeviceStatusOnline, now))
	}

	merged, err := s.devices.GetDevice(ctx, device.DeviceID)
	if err != nil {
		return nil, err
	}
	s.cacheSnapshot(ctx, merged)

	return &IngestResponse{
		DeviceID: merged.DeviceID,
		Data:     merged.Telemetry,
		LED:      merged.Telemetry["led_state"],
	}, nil
}

// LatestRequest 按设备令牌查询最近遥测
type LatestRequest struct {
	DeviceToken string
}

// LatestResponse 最近遥测快照
type LatestResponse struct {
	DeviceID   string
	Data       map[string]any
	LastActive *time.Time
}

// Latest 读取设备最近遥测；优先用缓存快照
func (s *TelemetryService) Latest(ctx context.Context, req LatestRequest) (*LatestResponse, error) {
	device, err := s.devices.GetByToken(ctx, req.DeviceToken)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, telemetryCacheKey(device.DeviceID)); err == nil {
			var data map[string]any
			if json.Unmarshal([]byte(raw), &data) == nil {
				return s.latestResponse(device, data), nil
			}
		}
	}
	return s.latestResponse(device, device.Telemetry), nil
}

func (s *TelemetryService) latestResponse(device *domain.Device, data map[string]any) *LatestResponse {
	resp := &LatestResponse{DeviceID: device.DeviceID, Data: data}
	if device.LastActive.Valid {
		t := device.LastActive.Time
		resp.LastActive = &t
	}
	return resp
}

func (s *TelemetryService) cacheSnapshot(ctx context.Context, device *domain.Device) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(device.Telemetry)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, telemetryCacheKey(device.DeviceID), string(raw), telemetryCacheTTL); err != nil {
		s.logger.Debug("telemetry snapshot cache write failed", zap.Error(err))
	}
}

func telemetryCacheKey(deviceID string) string {
	return "telemetry:" + deviceID
}
