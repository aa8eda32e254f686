package natspub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Publisher mirrors price snapshots and trade signals onto NATS so
// external tooling can watch the bot without scraping its logs. It is
// optional: callers construct one only when a NATS URL is configured.
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

func Connect(url string) (*Publisher, error) {
	logger := logrus.WithField("component", "natspub")

	opts := []nats.Option{
		nats.Name("arb-ami"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warnf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.WithField("url", url).Info("connected")
	return &Publisher{conn: conn, logger: logger}, nil
}

// PublishSnapshot publishes the engine's heartbeat view of all books.
// A nil Publisher is a no-op so callers need no guards.
func (p *Publisher) PublishSnapshot(snapshot interface{}) {
	if p == nil {
		return
	}
	p.publish("prices.snapshot", snapshot)
}

// PublishSignal publishes one opportunity under signals.<shape>.
func (p *Publisher) PublishSignal(shape string, signal interface{}) {
	if p == nil {
		return
	}
	p.publish(fmt.Sprintf("signals.%s", shape), signal)
}

func (p *Publisher) publish(subject string, data interface{}) {
	msg, err := json.Marshal(data)
	if err != nil {
		p.logger.Errorf("failed to marshal %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, msg); err != nil {
		p.logger.Errorf("failed to publish to %s: %v", subject, err)
	}
}

func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
