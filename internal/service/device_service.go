package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"thingsnxt/internal/auth"
	"thingsnxt/internal/domain"
	"thingsnxt/internal/repository"
	"thingsnxt/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeviceService 设备管理
type DeviceService struct {
	devices repository.DevicesRepository
	bus     GlobalPublisher
	cache   store.KV // 可为 nil：不启用快照缓存
	logger  *zap.Logger
}

func NewDeviceService(devices repository.DevicesRepository, bus GlobalPublisher, cache store.KV, logger *zap.Logger) *DeviceService {
	return &DeviceService{
		devices: devices,
		bus:     bus,
		cache:   cache,
		logger:  logger,
	}
}

// CreateDeviceRequest 注册设备请求
type CreateDeviceRequest struct {
	UserID string
	Name   string
}

// Create 注册新设备：初始 offline，签发唯一上报令牌
func (s *DeviceService) Create(ctx context.Context, req CreateDeviceRequest) (*domain.Device, error) {
	name := req.Name
	if name == "" {
		name = "Unnamed Device"
	}
	token, err := newDeviceToken()
	if err != nil {
		return nil, fmt.Errorf("generate device token: %w", err)
	}

	d := &domain.Device{
		DeviceID:    uuid.NewString(),
		UserID:      req.UserID,
		Name:        name,
		Status:      domain.DeviceStatusOffline,
		DeviceToken: token,
		Telemetry:   map[string]any{},
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.devices.CreateDevice(ctx, d); err != nil {
		return nil, err
	}

	s.bus.Publish(deviceAddedEvent(d.DeviceID, d.Name, d.CreatedAt))
	s.logger.Info("device registered",
		zap.String("device_id", d.DeviceID),
		zap.String("user_id", d.UserID),
	)
	return d, nil
}

// List 用户自己的设备列表
func (s *DeviceService) List(ctx context.Context, userID string) ([]*domain.Device, error) {
	return s.devices.ListByUser(ctx, userID)
}

// ListAll 全部设备（管理员导出用）
func (s *DeviceService) ListAll(ctx context.Context) ([]*domain.Device, error) {
	return s.devices.ListAll(ctx)
}

// Delete 删除设备（仅所有者）
func (s *DeviceService) Delete(ctx context.Context, userID, deviceID string) error {
	device, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if !auth.Authorize("devices", "write", auth.Input{UserID: userID, OwnerID: device.UserID}) {
		return ErrAccessDenied
	}
	if err := s.devices.DeleteDevice(ctx, deviceID); err != nil {
		return err
	}
	if s.cache != nil {
		// 快照缓存里不能留下已删除设备的遥测
		if err := s.cache.Delete(ctx, telemetryCacheKey(deviceID)); err != nil {
			s.logger.Debug("telemetry snapshot cache delete failed", zap.Error(err))
		}
	}
	s.bus.Publish(deviceRemovedEvent(deviceID, time.Now().UTC()))
	return nil
}

// Get 读取单个设备（仅所有者）
func (s *DeviceService) Get(ctx context.Context, userID, deviceID string) (*domain.Device, error) {
	device, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !auth.Authorize("devices", "read", auth.Input{UserID: userID, OwnerID: device.UserID}) {
		return nil, ErrAccessDenied
	}
	return device, nil
}

func newDeviceToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
