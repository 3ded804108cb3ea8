package alert

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	messages []message
	token    *fakeToken
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.messages = append(p.messages, message{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	if p.token != nil {
		return p.token
	}
	return &fakeToken{}
}

func TestMQTTSinkDeliver(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSinkWithPublisher(MQTTOptions{TopicPrefix: "stockwatch/", QoS: 1}, pub, nil)
	d := testDelivery(t)
	if err := sink.Deliver(context.Background(), d); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(pub.messages) != 2 {
		t.Fatalf("expected levels and alerts messages, got %d", len(pub.messages))
	}
	levels, alerts := pub.messages[0], pub.messages[1]
	if levels.topic != "stockwatch/rack-1/levels" || !levels.retained || levels.qos != 1 {
		t.Fatalf("unexpected levels message: %+v", levels)
	}
	if alerts.topic != "stockwatch/rack-1/alerts" || alerts.retained {
		t.Fatalf("unexpected alerts message: %+v", alerts)
	}
	var n Notification
	if err := json.Unmarshal(alerts.payload, &n); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(n.Deficient) != 1 || n.Deficient[0] != "bottle" {
		t.Fatalf("unexpected payload: %+v", n)
	}

	stats := sink.Stats()
	if !stats.Connected || stats.Published["stockwatch/rack-1/levels"] != 1 || stats.Errors != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMQTTSinkNoDeficiency(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSinkWithPublisher(MQTTOptions{}, pub, nil)
	d := testDelivery(t)
	d.Deficient = nil
	if err := sink.Deliver(context.Background(), d); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(pub.messages) != 1 || pub.messages[0].topic != "rack-1/levels" {
		t.Fatalf("expected only a levels message, got %+v", pub.messages)
	}
}

func TestMQTTSinkFailures(t *testing.T) {
	boom := errors.New("broker gone")
	cases := []struct {
		name  string
		token *fakeToken
		want  string
	}{
		{"timeout", &fakeToken{timeout: true}, "publish timeout"},
		{"error", &fakeToken{err: boom}, "publish failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := NewMQTTSinkWithPublisher(MQTTOptions{}, &fakePublisher{token: tc.token}, nil)
			err := sink.Deliver(context.Background(), testDelivery(t))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q, got %v", tc.want, err)
			}
			if sink.Stats().Errors != 1 {
				t.Fatalf("expected one error counted, got %d", sink.Stats().Errors)
			}
		})
	}

	sink := NewMQTTSink(MQTTOptions{Broker: "localhost:1883"}, nil)
	if err := sink.Deliver(context.Background(), testDelivery(t)); err == nil {
		t.Fatalf("expected error before Connect")
	}
	sink.Disconnect()
}

func TestBrokerURL(t *testing.T) {
	if got := brokerURL("localhost:1883"); got != "tcp://localhost:1883" {
		t.Fatalf("got %s", got)
	}
	if got := brokerURL("ssl://broker:8883"); got != "ssl://broker:8883" {
		t.Fatalf("got %s", got)
	}
}
