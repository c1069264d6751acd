// Package telemetry publishes process and download events to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jannetahkola/mc-server-manager/internal/config"
	"github.com/jannetahkola/mc-server-manager/internal/database"
	"github.com/jannetahkola/mc-server-manager/internal/files"
	"github.com/jannetahkola/mc-server-manager/internal/logging"
	"github.com/jannetahkola/mc-server-manager/internal/server"
)

const (
	TopicProcessState = "process/state"
	TopicFilesStatus  = "files/status"
	TopicManager      = "manager/status"
	TopicMetrics      = "process/metrics"
)

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is the envelope of every published event.
type Message struct {
	Host      string      `json:"host"`
	Event     string      `json:"event"`
	Timestamp string      `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// StatePayload describes a process state transition.
type StatePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Publisher sends telemetry events. A nil *Publisher discards everything.
type Publisher struct {
	cfg    config.MQTTConfig
	client client
	host   string
	now    func() time.Time
}

// NewPublisher creates a publisher for the configured broker. It does not
// connect.
func NewPublisher(cfg config.MQTTConfig) *Publisher {
	host, _ := os.Hostname()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("mc-server-manager-%s", host))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("[Telemetry] Connected to MQTT broker %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.L().Warn("mqtt_connection_lost", "broker", cfg.Broker, "error", err)
	})

	return newPublisher(cfg, mqtt.NewClient(opts), host)
}

func newPublisher(cfg config.MQTTConfig, c client, host string) *Publisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Publisher{cfg: cfg, client: c, host: host, now: time.Now}
}

// Connect starts the broker connection. With connect retry enabled the
// client keeps trying in the background after ctx ends.
func (p *Publisher) Connect(ctx context.Context) error {
	if p == nil {
		return nil
	}
	token := p.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("MQTT connect failed: %w", err)
		}
		p.publish(TopicManager, "online", nil)
		return nil
	case <-ctx.Done():
		log.Printf("[Telemetry] Broker %s not reachable yet, retrying in background", p.cfg.Broker)
		return nil
	}
}

// Close publishes an offline event and disconnects.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.publish(TopicManager, "offline", nil)
	p.client.Disconnect(uint(p.cfg.Timeout.Milliseconds()))
}

// PublishProcessState publishes a state transition.
func (p *Publisher) PublishProcessState(from, to server.ProcessState) {
	if p == nil {
		return
	}
	p.publish(TopicProcessState, "state_changed", StatePayload{From: from.String(), To: to.String()})
}

// PublishDownloadStatus publishes a download status change.
func (p *Publisher) PublishDownloadStatus(info files.StatusInfo) {
	if p == nil {
		return
	}
	p.publish(TopicFilesStatus, strings.ToLower(string(info.Status)), info)
}

// PublishMetrics publishes a process metrics sample.
func (p *Publisher) PublishMetrics(sample database.MetricSample) {
	if p == nil {
		return
	}
	p.publish(TopicMetrics, "sample", sample)
}

func (p *Publisher) topic(suffix string) string {
	prefix := strings.TrimSuffix(p.cfg.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

func (p *Publisher) publish(suffix, event string, payload interface{}) {
	if !p.client.IsConnected() {
		return
	}

	topic := p.topic(suffix)
	data, err := json.Marshal(Message{
		Host:      p.host,
		Event:     event,
		Timestamp: p.now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		logging.L().Warn("mqtt_marshal_failed", "topic", topic, "error", err)
		return
	}

	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, data)
	go func() {
		if !token.WaitTimeout(p.cfg.Timeout) {
			logging.L().Warn("mqtt_publish_timeout", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			logging.L().Warn("mqtt_publish_failed", "topic", topic, "error", err)
		}
	}()
}
