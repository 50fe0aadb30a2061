package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"thingsnxt/internal/config"
	"thingsnxt/internal/events"
	httpapi "thingsnxt/internal/http"
	"thingsnxt/internal/logger"
	mqttbridge "thingsnxt/internal/mqtt"
	"thingsnxt/internal/ratelimit"
	"thingsnxt/internal/repository"
	"thingsnxt/internal/service"
	"thingsnxt/internal/store"
	"thingsnxt/internal/ws"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.Load()

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "thingsnxt")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	if cfg.Auth.Secret == "" {
		log.Fatal("SECRET_KEY environment variable is required")
	}

	// 3. 存储层：PostgreSQL，或内存模式（本地开发/测试）
	var (
		db            *sql.DB
		devices       repository.DevicesRepository
		dashboards    repository.DashboardsRepository
		widgets       repository.WidgetsRepository
		schedules     repository.SchedulesRepository
		notifications repository.NotificationsRepository
	)
	if cfg.DBEnabled {
		db, err = sql.Open("postgres", cfg.Database.GetDSN())
		if err != nil {
			log.Fatal("Failed to open database", zap.Error(err))
		}
		db.SetMaxOpenConns(cfg.Database.MaxConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdle)
		if err := db.Ping(); err != nil {
			log.Fatal("Failed to ping database", zap.Error(err))
		}
		devices = repository.NewPostgresDevicesRepo(db)
		dashboards = repository.NewPostgresDashboardsRepo(db)
		widgets = repository.NewPostgresWidgetsRepo(db)
		schedules = repository.NewPostgresSchedulesRepo(db)
		notifications = repository.NewPostgresNotificationsRepo(db)
		log.Info("using postgres repositories", zap.String("host", cfg.Database.Host))
	} else {
		devices = repository.NewMemoryDevicesRepo()
		dashboards = repository.NewMemoryDashboardsRepo()
		widgets = repository.NewMemoryWidgetsRepo()
		schedules = repository.NewMemorySchedulesRepo()
		notifications = repository.NewMemoryNotificationsRepo()
		log.Warn("database disabled, using in-memory repositories")
	}

	// 4. Redis：限流分布式窗口 + 遥测快照缓存；连不上则全部走本地/直读
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	var cache store.KV
	{
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable at startup, rate limiter will use local fallback", zap.Error(err))
		} else {
			cache = store.NewRedisKV(rdb)
		}
		cancel()
	}

	// 5. 注册表 / 总线 / 限流器
	registry := ws.NewRegistry(log)
	bus := events.NewBus(log)
	limiter := ratelimit.New(rdb,
		cfg.RateLimit.Limit,
		time.Duration(cfg.RateLimit.WindowSeconds)*time.Second,
		cfg.RateLimit.ExemptPrefixes,
		time.Duration(cfg.RateLimit.ReprobeSeconds)*time.Second,
		log,
	)

	// 6. Service 层
	notifier := service.NewNotificationService(notifications, registry, cfg.WebhookURL, log)
	commands := service.NewCommandService(devices, widgets, registry, log)
	telemetry := service.NewTelemetryService(devices, widgets, registry, bus, cache, log)
	deviceSvc := service.NewDeviceService(devices, bus, cache, log)
	dashboardSvc := service.NewDashboardService(dashboards, widgets, log)
	widgetSvc := service.NewWidgetService(widgets, dashboards, devices, registry, log)
	scheduleSvc := service.NewScheduleService(
		schedules, widgets, dashboards, commands, notifier, registry, bus,
		cfg.Schedule.PollIntervalSeconds,
		cfg.Schedule.MaxTimerSeconds,
		cfg.Schedule.DisplayTimezone,
		log,
	)
	monitor := service.NewLivenessMonitor(devices, registry, bus, notifier, cfg.Liveness.OfflineTimeoutSeconds, log)

	// 7. 后台任务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduleSvc.Start(ctx)
	go monitor.Start(ctx)

	// 可选的 MQTT 接入通道
	if cfg.MQTT.Enabled {
		mqttClient, err := mqttbridge.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Fatal("Failed to connect MQTT broker", zap.Error(err))
		}
		defer mqttClient.Disconnect()
		bridge := mqttbridge.NewBridge(mqttClient, telemetry, cfg.MQTT.Topic, log)
		if err := bridge.Start(ctx); err != nil {
			log.Fatal("Failed to start MQTT bridge", zap.Error(err))
		}
	}

	// 8. HTTP 层
	router := httpapi.NewRouter(log)
	router.Register(httpapi.Handlers{
		Telemetry:     httpapi.NewTelemetryHandler(telemetry, log),
		Devices:       httpapi.NewDeviceHandler(deviceSvc, log),
		Dashboards:    httpapi.NewDashboardHandler(dashboardSvc, widgetSvc, log),
		Widgets:       httpapi.NewWidgetHandler(widgetSvc, commands, scheduleSvc, log),
		Schedules:     httpapi.NewScheduleHandler(scheduleSvc, log),
		Notifications: httpapi.NewNotificationHandler(notifier, log),
		WS:            httpapi.NewWSHandler(registry, cfg.Auth.Secret, log),
		Events:        httpapi.NewEventsHandler(bus, log),
		Health:        httpapi.NewHealthHandler(db, rdb, registry, bus, log),
		AdminExport:   httpapi.NewAdminExportHandler(deviceSvc, log),
	}, cfg.Auth.Secret)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router.WithRateLimit(limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE/WebSocket 长连接不能设写超时
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	// 9. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErrChan:
		log.Fatal("Server error", zap.Error(err))
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	if db != nil {
		_ = db.Close()
	}
	_ = rdb.Close()

	log.Info("thingsnxt stopped")
}
