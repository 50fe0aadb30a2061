package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"thingsnxt/internal/config"
	"thingsnxt/internal/service"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Client MQTT客户端封装
type Client struct {
	client mqtt.Client
	logger *zap.Logger
}

// NewClient 创建并连接MQTT客户端
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Client{client: client, logger: logger}, nil
}

// Subscribe 订阅主题
func (c *Client) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("mqtt message handling failed",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// Bridge 把 MQTT 上报转发到遥测接入路径
// 与 HTTP 上报共用同一条 Ingest 语义，设备仍以 device_token 自证身份
type Bridge struct {
	client    *Client
	telemetry *service.TelemetryService
	topic     string
	logger    *zap.Logger
}

func NewBridge(client *Client, telemetry *service.TelemetryService, topic string, logger *zap.Logger) *Bridge {
	return &Bridge{
		client:    client,
		telemetry: telemetry,
		topic:     topic,
		logger:    logger,
	}
}

// Start 订阅上报主题；消息体 {device_token, data}
func (b *Bridge) Start(ctx context.Context) error {
	err := b.client.Subscribe(b.topic, 1, func(topic string, payload []byte) error {
		var msg struct {
			DeviceToken string         `json:"device_token"`
			Data        map[string]any `json:"data"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		if msg.DeviceToken == "" {
			return fmt.Errorf("missing device_token")
		}
		_, err := b.telemetry.Ingest(ctx, service.IngestRequest{
			DeviceToken: msg.DeviceToken,
			Data:        msg.Data,
		})
		return err
	})
	if err != nil {
		return err
	}
	b.logger.Info("mqtt telemetry bridge started", zap.String("topic", b.topic))
	return nil
}
