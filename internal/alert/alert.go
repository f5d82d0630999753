// Package alert publishes tape-alert-flag and GC-sweep-status transitions
// to an MQTT broker as a machine-readable event stream. It is transport
// only: callers format the payload; this package never templates or
// renders a message body.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"tapevault/internal/logging"
)

// Event is a single published notification. Kind distinguishes the event
// stream a subscriber is listening to (e.g. "tape-alert", "gc-status");
// Payload is serialized as JSON.
type Event struct {
	Kind    string
	Source  string // drive name or datastore name
	At      time.Time
	Payload any
}

// Publisher maintains one MQTT connection and publishes Events to
// per-Kind topics under a configured prefix.
type Publisher struct {
	client      *paho.Client
	topicPrefix string
	qos         byte
	logger      *slog.Logger
}

// Config holds Publisher construction parameters.
type Config struct {
	// BrokerAddr is the MQTT broker's host:port.
	BrokerAddr string
	// TopicPrefix is prepended to every published topic, e.g.
	// "tapevault/" so events land under "tapevault/tape-alert/<source>".
	TopicPrefix string
	// QoS is the MQTT quality-of-service level used for every publish.
	// Defaults to 1 (at-least-once) if zero.
	QoS    byte
	Logger *slog.Logger
}

// Dial connects to cfg.BrokerAddr and returns a ready-to-use Publisher.
// The caller owns the Publisher's lifetime and must call Close.
func Dial(ctx context.Context, cfg Config) (*Publisher, error) {
	conn, err := net.Dial("tcp", cfg.BrokerAddr)
	if err != nil {
		return nil, fmt.Errorf("alert: dial %s: %w", cfg.BrokerAddr, err)
	}

	client := paho.NewClient(paho.ClientConfig{Conn: conn})
	connAck, err := client.Connect(ctx, &paho.Connect{
		KeepAlive:  30,
		CleanStart: true,
		ClientID:   "tapevault-alert",
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("alert: connect %s: %w", cfg.BrokerAddr, err)
	}
	if connAck.ReasonCode != 0 {
		conn.Close()
		return nil, fmt.Errorf("alert: broker %s refused connection, reason %d", cfg.BrokerAddr, connAck.ReasonCode)
	}

	qos := cfg.QoS
	if qos == 0 {
		qos = 1
	}

	return &Publisher{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		qos:         qos,
		logger:      logging.Default(cfg.Logger).With("component", "alert"),
	}, nil
}

// Publish sends ev to the broker under topic "<prefix><kind>/<source>".
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("alert: marshal event: %w", err)
	}

	topic := topicFor(p.topicPrefix, ev.Kind, ev.Source)
	_, err = p.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     p.qos,
		Payload: body,
	})
	if err != nil {
		return fmt.Errorf("alert: publish %s: %w", topic, err)
	}
	p.logger.Info("published event", "topic", topic, "kind", ev.Kind, "source", ev.Source)
	return nil
}

func topicFor(prefix, kind, source string) string {
	return prefix + kind + "/" + source
}

// Close disconnects from the broker.
func (p *Publisher) Close(ctx context.Context) error {
	return p.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
