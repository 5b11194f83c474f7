package pubsub

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

const deltaStreamName = "MAIL_DELTAS"

// NATSPublisher broadcasts deltas over NATS JetStream. The per-message id
// (account id + cursor) lets JetStream deduplicate redeliveries, giving
// at-least-once semantics while keeping per-account ordering.
type NATSPublisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewNATSPublisher connects to NATS and ensures the delta stream exists.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}

	p := &NATSPublisher{nc: nc, js: js}
	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *NATSPublisher) ensureStream() error {
	if info, err := p.js.StreamInfo(deltaStreamName); err == nil && info != nil {
		return nil
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       deltaStreamName,
		Subjects:   []string{"deltas.account.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     30 * 24 * time.Hour,
	})
	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			return nil
		}
		return fmt.Errorf("create delta stream: %w", err)
	}
	return nil
}

// PublishDelta publishes one delta on its account channel.
func (p *NATSPublisher) PublishDelta(delta types.Delta) error {
	payload, err := encodeDelta(delta)
	if err != nil {
		return err
	}

	msgID := fmt.Sprintf("%s|%d", delta.AccountID, delta.Cursor)
	if _, err := p.js.Publish(SubjectForAccount(delta.AccountID), payload, nats.MsgId(msgID)); err != nil {
		return fmt.Errorf("publish delta: %w", err)
	}
	return nil
}

// Close drops the NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
