package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"thingsnxt/internal/auth"
	"thingsnxt/internal/domain"
	"thingsnxt/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ScheduleService 定时执行调度器
// 一个轮询循环扫描到期的 pending 动作并执行；执行器先把行从 pending
// 占为 processing 再写引脚，取消只认 pending，谁先命中条件更新谁赢。
// 取消成功因此保证引脚从未被写入
type ScheduleService struct {
	schedules     repository.SchedulesRepository
	widgets       repository.WidgetsRepository
	dashboards    repository.DashboardsRepository
	commands      *CommandService
	notifications *NotificationService
	registry      UserBroadcaster
	bus           GlobalPublisher
	logger        *zap.Logger

	pollInterval time.Duration
	maxTimer     time.Duration
	displayLoc   *time.Location
}

func NewScheduleService(
	schedules repository.SchedulesRepository,
	widgets repository.WidgetsRepository,
	dashboards repository.DashboardsRepository,
	commands *CommandService,
	notifications *NotificationService,
	registry UserBroadcaster,
	bus GlobalPublisher,
	pollIntervalSeconds int,
	maxTimerSeconds int,
	displayTimezone string,
	logger *zap.Logger,
) *ScheduleService {
	if pollIntervalSeconds <= 0 {
		pollIntervalSeconds = 1
	}
	loc, err := time.LoadLocation(displayTimezone)
	if err != nil {
		logger.Warn("invalid display timezone, using UTC", zap.String("timezone", displayTimezone))
		loc = time.UTC
	}
	return &ScheduleService{
		schedules:     schedules,
		widgets:       widgets,
		dashboards:    dashboards,
		commands:      commands,
		notifications: notifications,
		registry:      registry,
		bus:           bus,
		logger:        logger,
		pollInterval:  time.Duration(pollIntervalSeconds) * time.Second,
		maxTimer:      time.Duration(maxTimerSeconds) * time.Second,
		displayLoc:    loc,
	}
}

// CreateScheduleRequest 按绝对时刻创建定时动作
type CreateScheduleRequest struct {
	UserID    string
	WidgetID  string
	State     bool
	ExecuteAt time.Time
	Label     string
}

// Create 创建定时动作；execute_at 必须严格晚于当前时刻
func (s *ScheduleService) Create(ctx context.Context, req CreateScheduleRequest) (*domain.ScheduledAction, error) {
	now := time.Now().UTC()
	executeAt := req.ExecuteAt.UTC()
	if !executeAt.After(now) {
		return nil, fmt.Errorf("%w: execute_at must be in the future", ErrValidation)
	}
	return s.create(ctx, req.UserID, req.WidgetID, req.State, executeAt, req.Label, 0, now)
}

// CreateTimerRequest 按相对时长创建定时动作（倒计时形式）
type CreateTimerRequest struct {
	UserID          string
	WidgetID        string
	State           bool
	DurationSeconds int
	Label           string
}

// CreateTimer 倒计时形式：duration 取值 1..maxTimer 秒
func (s *ScheduleService) CreateTimer(ctx context.Context, req CreateTimerRequest) (*domain.ScheduledAction, error) {
	if req.DurationSeconds < 1 || time.Duration(req.DurationSeconds)*time.Second > s.maxTimer {
		return nil, fmt.Errorf("%w: duration must be between 1 and %d seconds", ErrValidation, int(s.maxTimer/time.Second))
	}
	now := time.Now().UTC()
	executeAt := now.Add(time.Duration(req.DurationSeconds) * time.Second)
	return s.create(ctx, req.UserID, req.WidgetID, req.State, executeAt, req.Label, req.DurationSeconds, now)
}

func (s *ScheduleService) create(ctx context.Context, userID, widgetID string, state bool, executeAt time.Time, label string, durationSeconds int, now time.Time) (*domain.ScheduledAction, error) {
	widget, err := s.widgets.GetWidget(ctx, widgetID)
	if err != nil {
		return nil, err
	}
	if widget.VirtualPin() == "" {
		return nil, fmt.Errorf("%w: widget has no virtual pin", ErrValidation)
	}
	if !widget.DeviceID.Valid {
		return nil, fmt.Errorf("%w: widget is not bound to a device", ErrValidation)
	}
	dashboard, err := s.dashboards.GetDashboard(ctx, widget.DashboardID)
	if err != nil {
		return nil, err
	}
	if !auth.Authorize("schedules", "write", auth.Input{UserID: userID, RefOwnerID: dashboard.UserID}) {
		return nil, ErrAccessDenied
	}

	a := &domain.ScheduledAction{
		ScheduleID:  uuid.NewString(),
		WidgetID:    widgetID,
		DeviceID:    widget.DeviceID.String,
		DashboardID: widget.DashboardID,
		State:       state,
		ExecuteAt:   executeAt,
		Status:      domain.ScheduleStatusPending,
		CreatedBy:   userID,
		CreatedAt:   now,
	}
	if label != "" {
		a.Label = sql.NullString{String: label, Valid: true}
	}
	if durationSeconds > 0 {
		a.DurationSeconds = sql.NullInt64{Int64: int64(durationSeconds), Valid: true}
	}
	if err := s.schedules.CreateSchedule(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Cancel 取消 pending 动作
// 条件更新没有命中行意味着调度器先到或动作已终态，返回 ErrAlreadyProcessed
func (s *ScheduleService) Cancel(ctx context.Context, userID, scheduleID string) error {
	a, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !auth.Authorize("schedules", "write", auth.Input{UserID: userID, RefOwnerID: a.CreatedBy}) {
		return ErrAccessDenied
	}

	ok, err := s.schedules.MarkCancelled(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyProcessed
	}

	now := time.Now().UTC()
	s.registry.Broadcast(a.CreatedBy, scheduleCancelledEvent(scheduleID, a.WidgetID, now))
	s.bus.Publish(scheduleCancelledEvent(scheduleID, a.WidgetID, now))
	return nil
}

// List 用户创建的定时动作
func (s *ScheduleService) List(ctx context.Context, userID string) ([]*domain.ScheduledAction, error) {
	return s.schedules.ListSchedulesByUser(ctx, userID)
}

// ListByWidget 某个控件上的全部定时动作（仅仪表盘所有者）
func (s *ScheduleService) ListByWidget(ctx context.Context, userID, widgetID string) ([]*domain.ScheduledAction, error) {
	widget, err := s.widgets.GetWidget(ctx, widgetID)
	if err != nil {
		return nil, err
	}
	dashboard, err := s.dashboards.GetDashboard(ctx, widget.DashboardID)
	if err != nil {
		return nil, err
	}
	if !auth.Authorize("schedules", "read", auth.Input{UserID: userID, RefOwnerID: dashboard.UserID}) {
		return nil, ErrAccessDenied
	}
	return s.schedules.ListSchedulesByWidget(ctx, widgetID)
}

// Get 查看单条动作（仅创建者）
func (s *ScheduleService) Get(ctx context.Context, userID, scheduleID string) (*domain.ScheduledAction, error) {
	a, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !auth.Authorize("schedules", "read", auth.Input{UserID: userID, RefOwnerID: a.CreatedBy}) {
		return nil, ErrAccessDenied
	}
	return a, nil
}

// Start 轮询循环；ctx 取消后返回
func (s *ScheduleService) Start(ctx context.Context) {
	s.logger.Info("schedule poller started",
		zap.Duration("poll_interval", s.pollInterval),
	)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("schedule poller stopped")
			return
		case now := <-ticker.C:
			s.ProcessDue(ctx, now.UTC())
		}
	}
}

// ProcessDue 执行所有到期动作，按 execute_at、created_at 顺序
// 单个动作失败只标记该行 failed，不影响同批其它动作
func (s *ScheduleService) ProcessDue(ctx context.Context, now time.Time) {
	due, err := s.schedules.DuePending(ctx, now)
	if err != nil {
		s.logger.Error("poll due schedules failed", zap.Error(err))
		return
	}
	for _, a := range due {
		s.execute(ctx, a, now)
	}
}

func (s *ScheduleService) execute(ctx context.Context, a *domain.ScheduledAction, now time.Time) {
	// 先占行：pending -> processing，和取消请求抢同一个条件更新。
	// 占不到说明取消先落地，引脚一定没被写过，直接放弃
	claimed, err := s.schedules.ClaimPending(ctx, a.ScheduleID)
	if err != nil {
		s.logger.Error("claim schedule",
			zap.String("schedule_id", a.ScheduleID),
			zap.Error(err),
		)
		return
	}
	if !claimed {
		s.logger.Info("schedule cancelled before execution",
			zap.String("schedule_id", a.ScheduleID),
		)
		return
	}

	// Execute 一并完成引脚写入和 widget_update/telemetry_update 的扇出
	widget, err := s.commands.Execute(ctx, ExecuteRequest{
		UserID:   a.CreatedBy,
		WidgetID: a.WidgetID,
		State:    a.State,
	})
	if err != nil {
		ok, markErr := s.schedules.MarkFailed(ctx, a.ScheduleID, err.Error(), now)
		if markErr != nil {
			s.logger.Error("mark schedule failed",
				zap.String("schedule_id", a.ScheduleID),
				zap.Error(markErr),
			)
			return
		}
		if ok {
			s.logger.Warn("scheduled action failed",
				zap.String("schedule_id", a.ScheduleID),
				zap.String("widget_id", a.WidgetID),
				zap.Error(err),
			)
			s.notifications.Notify(ctx, a.CreatedBy,
				fmt.Sprintf("Scheduled action failed: %s", err.Error()))
		}
		return
	}

	// 行已被占用，取消此刻到达只会看到 processing 并落空
	ok, err := s.schedules.MarkCompleted(ctx, a.ScheduleID, now)
	if err != nil {
		s.logger.Error("mark schedule completed",
			zap.String("schedule_id", a.ScheduleID),
			zap.Error(err),
		)
		return
	}
	if !ok {
		// processing 行只有执行器自己会动，走到这说明状态被外部改写
		s.logger.Error("claimed schedule changed state unexpectedly",
			zap.String("schedule_id", a.ScheduleID),
		)
		return
	}

	s.registry.Broadcast(a.CreatedBy, scheduleExecutedEvent(a.ScheduleID, a.WidgetID, a.State, now))
	s.bus.Publish(scheduleExecutedEvent(a.ScheduleID, a.WidgetID, a.State, now))
	s.notifications.Notify(ctx, a.CreatedBy, s.executedMessage(widget, a.State, now))

	s.logger.Info("scheduled action executed",
		zap.String("schedule_id", a.ScheduleID),
		zap.String("widget_id", a.WidgetID),
		zap.Bool("state", a.State),
	)
}

// executedMessage 通知文案，时间按配置的展示时区格式化
func (s *ScheduleService) executedMessage(widget *domain.Widget, state bool, now time.Time) string {
	label := widget.Label
	if label == "" {
		label = widget.VirtualPin()
	}
	verb := "off"
	if state {
		verb = "on"
	}
	return fmt.Sprintf("LED %q switched %s at %s",
		label, verb, now.In(s.displayLoc).Format("2006-01-02 15:04:05 MST"))
}
