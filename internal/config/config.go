package config

import (
	"os"
	"strconv"
	"strings"
)

// Config thingsnxt（HTTP API + 后台任务）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled bool
	Database  DatabaseConfig
	Redis     struct {
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	Auth struct {
		Secret string
	}
	// Liveness 设备在线状态巡检配置
	Liveness struct {
		OfflineTimeoutSeconds int
	}
	// Schedule 定时执行（LED schedule）配置
	Schedule struct {
		PollIntervalSeconds int
		MaxTimerSeconds     int
		DisplayTimezone     string
	}
	RateLimit RateLimitConfig
	MQTT      MQTTConfig
	// Webhook 通知转发地址（为空则不转发）
	WebhookURL string
}

// DatabaseConfig PostgreSQL 配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 构建 lib/pq DSN
func (c *DatabaseConfig) GetDSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// RateLimitConfig 滑动窗口限流配置
type RateLimitConfig struct {
	Limit          int
	WindowSeconds  int
	ExemptPrefixes []string
	// ReprobeSeconds 降级到本地模式后重试 Redis 的间隔；0 表示不重试
	ReprobeSeconds int
}

// MQTTConfig MQTT 配置（可选的遥测接入通道，默认禁用）
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "thingsnxt")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "20"), 20)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Auth.Secret = getEnv("SECRET_KEY", "")

	cfg.Liveness.OfflineTimeoutSeconds = parseInt(getEnv("OFFLINE_TIMEOUT", "20"), 20)

	cfg.Schedule.PollIntervalSeconds = parseInt(getEnv("SCHEDULE_POLL_INTERVAL", "1"), 1)
	cfg.Schedule.MaxTimerSeconds = parseInt(getEnv("SCHEDULE_MAX_TIMER_SECONDS", "86400"), 86400)
	cfg.Schedule.DisplayTimezone = getEnv("DISPLAY_TIMEZONE", "UTC")

	cfg.RateLimit.Limit = parseInt(getEnv("RATE_LIMIT", "100"), 100)
	cfg.RateLimit.WindowSeconds = parseInt(getEnv("RATE_LIMIT_WINDOW", "60"), 60)
	cfg.RateLimit.ExemptPrefixes = splitCSV(getEnv("RATE_LIMIT_EXEMPT", "/health,/docs"))
	cfg.RateLimit.ReprobeSeconds = parseInt(getEnv("RATE_LIMIT_REPROBE_SECONDS", "0"), 0)

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "thingsnxt-ingest")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "thingsnxt/telemetry")

	cfg.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", "")

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
