package service

import (
	"context"
	"time"

	"thingsnxt/internal/domain"
	"thingsnxt/internal/repository"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationService 通知记录 + 用户流推送 + 可选 webhook 转发
type NotificationService struct {
	repo     repository.NotificationsRepository
	registry UserBroadcaster
	webhook  *resty.Client // nil 表示不转发
	logger   *zap.Logger
}

func NewNotificationService(repo repository.NotificationsRepository, registry UserBroadcaster, webhookURL string, logger *zap.Logger) *NotificationService {
	s := &NotificationService{
		repo:     repo,
		registry: registry,
		logger:   logger,
	}
	if webhookURL != "" {
		s.webhook = resty.New().
			SetBaseURL(webhookURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(1 * time.Second).
			SetHeader("Content-Type", "application/json")
	}
	return s
}

// Notify 落库并推送；webhook 异步转发，失败只记日志
func (s *NotificationService) Notify(ctx context.Context, userID, message string) {
	now := time.Now().UTC()
	n := &domain.Notification{
		NotificationID: uuid.NewString(),
		UserID:         userID,
		Message:        message,
		CreatedAt:      now,
	}
	if err := s.repo.CreateNotification(ctx, n); err != nil {
		s.logger.Error("create notification failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		// 落库失败仍然尝试推送，观察者至少能看到一次
	}

	s.registry.Broadcast(userID, notificationEvent(n.NotificationID, message, now))

	if s.webhook != nil {
		go s.forward(n)
	}
}

func (s *NotificationService) forward(n *domain.Notification) {
	_, err := s.webhook.R().
		SetBody(n.ToJSON()).
		Post("")
	if err != nil {
		s.logger.Warn("notification webhook forward failed",
			zap.String("notification_id", n.NotificationID),
			zap.Error(err),
		)
	}
}

// List 用户的通知列表
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool) ([]*domain.Notification, error) {
	return s.repo.ListNotificationsByUser(ctx, userID, unreadOnly)
}

// MarkRead 标记已读；找不到（含他人的通知）返回 ErrNotFound
func (s *NotificationService) MarkRead(ctx context.Context, notificationID, userID string) error {
	ok, err := s.repo.MarkNotificationRead(ctx, notificationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}
