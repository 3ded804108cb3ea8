package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the part of mqtt.Client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTOptions configures an MQTTSink.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte

	// PublishTimeout bounds each publish; zero means 2s.
	PublishTimeout time.Duration
}

// MQTTSink publishes each delivery as JSON. The stock table goes to
// {prefix}/{stream}/levels as a retained message so late subscribers see the
// current state; frames with deficient items also publish to
// {prefix}/{stream}/alerts.
type MQTTSink struct {
	opts   MQTTOptions
	logger *slog.Logger

	client    mqtt.Client
	publisher Publisher

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// NewMQTTSink creates a sink that connects to opts.Broker on Connect.
func NewMQTTSink(opts MQTTOptions, logger *slog.Logger) *MQTTSink {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	return &MQTTSink{opts: opts, logger: logger, published: make(map[string]uint64)}
}

// NewMQTTSinkWithPublisher creates a connected sink over an existing
// publisher, such as a client shared with other components.
func NewMQTTSinkWithPublisher(opts MQTTOptions, publisher Publisher, logger *slog.Logger) *MQTTSink {
	s := NewMQTTSink(opts, logger)
	s.publisher = publisher
	s.connected = true
	return s
}

// Connect establishes the broker connection. The client reconnects on its
// own after a lost connection.
func (s *MQTTSink) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(s.opts.Broker))
	opts.SetClientID(s.opts.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		s.logger.Info("mqtt connection established",
			"broker", s.opts.Broker,
			"client_id", s.opts.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", s.opts.Broker)
	}

	client := mqtt.NewClient(opts)
	s.logger.Info("connecting to mqtt broker", "broker", s.opts.Broker)

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.publisher = client
	s.connected = true
	s.mu.Unlock()
	return nil
}

// Deliver implements Sink.
func (s *MQTTSink) Deliver(ctx context.Context, d Delivery) error {
	if !s.isConnected() {
		s.countError()
		return fmt.Errorf("mqtt not connected")
	}
	n := NewNotification(d)
	payload, err := json.Marshal(n)
	if err != nil {
		s.countError()
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := s.publish(s.Topic(d.Stream, "levels"), true, payload); err != nil {
		return err
	}
	if len(d.Deficient) == 0 {
		return nil
	}
	return s.publish(s.Topic(d.Stream, "alerts"), false, payload)
}

// Topic returns the topic for kind ("levels" or "alerts") of stream.
func (s *MQTTSink) Topic(stream, kind string) string {
	prefix := strings.TrimSuffix(s.opts.TopicPrefix, "/")
	if prefix == "" {
		return stream + "/" + kind
	}
	return prefix + "/" + stream + "/" + kind
}

func (s *MQTTSink) publish(topic string, retained bool, payload []byte) error {
	s.mu.RLock()
	publisher := s.publisher
	s.mu.RUnlock()

	token := publisher.Publish(topic, s.opts.QoS, retained, payload)
	if !token.WaitTimeout(s.opts.PublishTimeout) {
		s.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		s.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	s.mu.Lock()
	s.published[topic]++
	s.mu.Unlock()

	s.logger.Debug("notification published",
		"topic", topic,
		"qos", s.opts.QoS,
		"size", len(payload))
	return nil
}

// Disconnect closes the broker connection.
func (s *MQTTSink) Disconnect() {
	s.mu.Lock()
	client := s.client
	s.connected = false
	s.mu.Unlock()
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		s.logger.Info("mqtt disconnected")
	}
}

// Stats contains sink statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns sink statistics.
func (s *MQTTSink) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	published := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		published[k] = v
	}
	return Stats{Connected: s.connected, Published: published, Errors: s.errors}
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSink) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected && s.publisher != nil
}

func (s *MQTTSink) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
