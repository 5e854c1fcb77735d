package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// TopicRequestID is replaced with the event's request ID in the topic pattern
const TopicRequestID = "{request_id}"

// MQTTConfig configures the MQTT publisher
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic may contain {request_id}
	Topic   string
	QoS     byte
	Timeout time.Duration
}

// MQTTPublisher publishes events as JSON to an MQTT broker
type MQTTPublisher struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

// NewMQTTPublisher connects to the broker and returns a publisher
func NewMQTTPublisher(config MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if config.Broker == "" {
		return nil, fmt.Errorf("broker cannot be empty")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(config.Timeout)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info("MQTT connection established", slog.String("broker", config.Broker))
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", slog.String("error", err.Error()))
	})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(config.Timeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", config.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return newMQTTPublisher(client, config, logger), nil
}

func newMQTTPublisher(client mqtt.Client, config MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	return &MQTTPublisher{
		client:  client,
		topic:   config.Topic,
		qos:     config.QoS,
		timeout: config.Timeout,
		logger:  logger,
	}
}

// Publish sends event to its topic and waits for the broker to acknowledge it
func (p *MQTTPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := formatTopic(p.topic, event.RequestID)
	token := p.client.Publish(topic, p.qos, false, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("timed out publishing to %s", topic)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Published result event",
		slog.String("topic", topic),
		slog.String("request_id", event.RequestID),
	)
	return nil
}

// Close disconnects from the broker, allowing in-flight messages 250ms to complete
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

func formatTopic(pattern, requestID string) string {
	return strings.ReplaceAll(pattern, TopicRequestID, requestID)
}
