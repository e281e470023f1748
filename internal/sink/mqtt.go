package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"tracklog/internal/types"
)

// connectTimeout bounds the initial broker handshake; publish waits are
// bounded separately so a wedged broker cannot stall a dispatch goroutine.
const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// MQTTSink publishes each emitted record as JSON to <prefix>/points at
// QoS 0. It exists for local dashboards and piggyback consumers; like the
// Firebase sink it is best-effort only.
type MQTTSink struct {
	client      mqtt.Client
	topicPrefix string
	logger      *slog.Logger
}

// MQTTSinkConfig holds the configuration for creating an MQTTSink.
type MQTTSinkConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Logger      *slog.Logger
}

// NewMQTTSink connects to the broker and returns a ready sink. Connection
// failure is returned to the caller; main treats it as sink-disabled
// rather than fatal.
func NewMQTTSink(cfg MQTTSinkConfig) (*MQTTSink, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, types.NewAppError(types.ErrCodeSinkUnavailable,
			fmt.Sprintf("mqtt broker %s did not answer", cfg.BrokerURL), nil)
	}
	if err := token.Error(); err != nil {
		return nil, types.NewAppError(types.ErrCodeSinkUnavailable,
			fmt.Sprintf("mqtt connect to %s failed", cfg.BrokerURL), err)
	}

	logger.Info("mqtt sink connected", "broker", cfg.BrokerURL)

	return &MQTTSink{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		logger:      logger,
	}, nil
}

// PublishRecord publishes the record to <prefix>/points. The context is
// accepted for interface symmetry; paho bounds the wait itself.
func (s *MQTTSink) PublishRecord(_ context.Context, rec types.EmittedRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to serialize record for mqtt", err)
	}

	topic := s.topicPrefix + "/points"
	token := s.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return types.NewAppError(types.ErrCodeSinkUnavailable,
			fmt.Sprintf("mqtt publish to %s timed out", topic), nil)
	}
	if err := token.Error(); err != nil {
		return types.NewAppError(types.ErrCodeSinkUnavailable,
			fmt.Sprintf("mqtt publish to %s failed", topic), err)
	}
	return nil
}

// Close disconnects from the broker, allowing in-flight work to drain.
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
