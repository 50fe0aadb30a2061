package service

import (
	"context"
	"fmt"
	"time"

	"thingsnxt/internal/repository"

	"go.uber.org/zap"
)

// LivenessMonitor 设备在线状态巡检
// 心跳把设备置为 online，这里是唯一把 online 置回 offline 的地方；
// 巡检周期等于离线阈值，保证过期设备最多一个周期内被降级
type LivenessMonitor struct {
	devices       repository.DevicesRepository
	registry      UserBroadcaster
	bus           GlobalPublisher
	notifications *NotificationService
	logger        *zap.Logger

	offlineTimeout time.Duration
}

func NewLivenessMonitor(
	devices repository.DevicesRepository,
	registry UserBroadcaster,
	bus GlobalPublisher,
	notifications *NotificationService,
	offlineTimeoutSeconds int,
	logger *zap.Logger,
) *LivenessMonitor {
	if offlineTimeoutSeconds <= 0 {
		offlineTimeoutSeconds = 20
	}
	return &LivenessMonitor{
		devices:        devices,
		registry:       registry,
		bus:            bus,
		notifications:  notifications,
		logger:         logger,
		offlineTimeout: time.Duration(offlineTimeoutSeconds) * time.Second,
	}
}

// Start 巡检循环；ctx 取消后返回
func (m *LivenessMonitor) Start(ctx context.Context) {
	m.logger.Info("liveness monitor started",
		zap.Duration("offline_timeout", m.offlineTimeout),
	)
	ticker := time.NewTicker(m.offlineTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("liveness monitor stopped")
			return
		case now := <-ticker.C:
			m.Sweep(ctx, now.UTC())
		}
	}
}

// Sweep 一轮扫描：last_active 超过阈值的 online 设备转为 offline
// 单个设备出错不中断同批其它设备
func (m *LivenessMonitor) Sweep(ctx context.Context, now time.Time) {
	online, err := m.devices.ListOnline(ctx)
	if err != nil {
		m.logger.Error("list online devices failed", zap.Error(err))
		return
	}
	for _, d := range online {
		if d.LastActive.Valid && now.Sub(d.LastActive.Time) <= m.offlineTimeout {
			continue
		}
		// 条件更新：并发心跳刚把设备刷成 online 的话这里不会命中
		changed, err := m.devices.MarkOffline(ctx, d.DeviceID)
		if err != nil {
			m.logger.Error("mark device offline failed",
				zap.String("device_id", d.DeviceID),
				zap.Error(err),
			)
			continue
		}
		if !changed {
			continue
		}

		m.registry.Broadcast(d.UserID, statusUpdateEvent(d.DeviceID, "offline", now))
		m.bus.Publish(statusUpdateEvent(d.DeviceID, "offline", now))

		msg := fmt.Sprintf("Device %q went offline", d.Name)
		if d.LastActive.Valid {
			msg = fmt.Sprintf("Device %q went offline (last seen %s)",
				d.Name, d.LastActive.Time.UTC().Format(time.RFC3339))
		}
		m.notifications.Notify(ctx, d.UserID, msg)

		m.logger.Info("device marked offline",
			zap.String("device_id", d.DeviceID),
			zap.String("name", d.Name),
		)
	}
}
