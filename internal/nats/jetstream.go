package natsjs

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const streamName = "MAIL_EVENTS"

// Publisher wraps NATS JetStream for publishing mail events drained from the
// store's outbox.
type Publisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher connects to NATS and ensures the MAIL_EVENTS stream exists.
func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}

	p := &Publisher{nc: nc, js: js}
	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) ensureStream() error {
	if info, err := p.js.StreamInfo(streamName); err == nil && info != nil {
		return nil
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{"account.*.email.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     30 * 24 * time.Hour,
	})
	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			return nil
		}
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

// Publish publishes a message with broker-side deduplication on msgID.
func (p *Publisher) Publish(subject string, payload []byte, msgID string) error {
	if _, err := p.js.Publish(subject, payload, nats.MsgId(msgID)); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
