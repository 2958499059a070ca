package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/cjeanneret/FocusGo/internal/config"
	"github.com/cjeanneret/FocusGo/internal/debug"
	"github.com/cjeanneret/FocusGo/internal/logic/rig"
)

// minInterval matches the config validation floor.
const minInterval = 100 * time.Millisecond

// Publisher is the part of paho.Client used for telemetry.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// StatusSource provides the data to publish and the publish interval.
type StatusSource interface {
	Status() rig.Status
	Settings() config.Settings
}

// Config holds the broker connection parameters.
type Config struct {
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string
	Topic    string // prefix; status goes to <Topic>/status
}

// Connect opens a paho client with auto-reconnect.
func Connect(cfg Config) (paho.Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker is empty")
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetWill(cfg.Topic+"/online", "false", 1, true)
	opts.OnConnect = func(c paho.Client) {
		debug.Info("Connected to MQTT broker %s", cfg.Broker)
		c.Publish(cfg.Topic+"/online", 1, true, "true")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		debug.Warn("MQTT connection lost: %v", err)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// Telemetry periodically publishes the rig status.
type Telemetry struct {
	pub     Publisher
	src     StatusSource
	topic   string
	Timeout time.Duration // per-publish acknowledgement wait
}

func NewTelemetry(pub Publisher, src StatusSource, topicPrefix string) *Telemetry {
	return &Telemetry{
		pub:     pub,
		src:     src,
		topic:   topicPrefix + "/status",
		Timeout: 2 * time.Second,
	}
}

// Topic returns the status topic.
func (t *Telemetry) Topic() string { return t.topic }

// PublishOnce sends one status snapshot.
func (t *Telemetry) PublishOnce() error {
	data, err := json.Marshal(t.src.Status())
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	token := t.pub.Publish(t.topic, 0, false, data)
	if !token.WaitTimeout(t.Timeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", t.topic)
	}
	return token.Error()
}

func (t *Telemetry) interval() time.Duration {
	d := time.Duration(t.src.Settings().Interface.StatusInterval) * time.Millisecond
	if d < minInterval {
		return minInterval
	}
	return d
}

// Run publishes every status interval until ctx is done. A changed
// interval setting takes effect after the next publish.
func (t *Telemetry) Run(ctx context.Context) error {
	interval := t.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	debug.Info("MQTT telemetry on %s every %v", t.topic, interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.PublishOnce(); err != nil {
				debug.Warn("Telemetry: %v", err)
			}
			if next := t.interval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}
