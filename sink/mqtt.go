package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"i4.energy/across/smsrx/modem"
)

var ErrPublishTimeout = errors.New("mqtt: publish timed out")

// mqttPublisher is the part of mqtt.Client the sink uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// MQTT publishes the JSON Envelope of every message to a topic at QoS 1.
type MQTT struct {
	client  mqttPublisher
	topic   string
	timeout time.Duration
}

type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// NewMQTT connects to the broker and waits for the connection to be
// acknowledged.
func NewMQTT(o MQTTOptions) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	t := client.Connect()
	t.Wait()
	if err := t.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", o.Broker, err)
	}
	return &MQTT{client: client, topic: o.Topic, timeout: 10 * time.Second}, nil
}

func (m *MQTT) Deliver(ctx context.Context, msg *modem.Message) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}

	t := m.client.Publish(m.topic, 1, false, body)
	select {
	case <-t.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.timeout):
		return ErrPublishTimeout
	}
	if err := t.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", m.topic, err)
	}
	return nil
}

func (m *MQTT) Close() error {
	if c, ok := m.client.(mqtt.Client); ok {
		c.Disconnect(500)
	}
	return nil
}
