package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig configures the broker connection used by MQTTSink.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// ConnectMQTT connects with auto-reconnect enabled.
func ConnectMQTT(cfg MQTTConfig, logger *zap.Logger) (mqtt.Client, error) {
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
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", zap.String("broker", cfg.Broker), zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return client, nil
}

// MQTTSink forwards alarm events as JSON to <topic>/<kind>.
type MQTTSink struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
	logger  *zap.Logger
}

func NewMQTTSink(client mqtt.Client, topic string, qos byte, logger *zap.Logger) *MQTTSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTSink{client: client, topic: topic, qos: qos, timeout: 2 * time.Second, logger: logger}
}

func (s *MQTTSink) Send(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	topic := fmt.Sprintf("%s/%s", s.topic, e.Kind)
	token := s.client.Publish(topic, s.qos, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (s *MQTTSink) Run(ctx context.Context, sub *Subscription) {
	drain(ctx, sub, s.Send, s.logger.With(zap.String("sink", "mqtt")))
}
