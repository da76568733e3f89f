package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"resource-service/internal/event"

	"github.com/nats-io/nats.go"
)

// Producer publishes events on "<subject>.<event type>".
type Producer struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

var _ event.Publisher = (*Producer)(nil)

func NewProducer(url string, subject string, logger *slog.Logger) (*Producer, error) {
	nc, err := nats.Connect(url,
		nats.Name("resource-service"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("NATS producer initialized", "url", url, "subject", subject)

	return &Producer{
		conn:    nc,
		subject: subject,
		logger:  logger,
	}, nil
}

func (p *Producer) Publish(ctx context.Context, ev event.Event) error {
	valueBytes, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.subject + "." + string(ev.Type)
	if err := p.conn.Publish(subject, valueBytes); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.DebugContext(ctx, "event sent to NATS", "subject", subject)
	return nil
}

func (p *Producer) Name() string {
	return "nats"
}

// Ping reports whether the connection is currently usable.
func (p *Producer) Ping(ctx context.Context) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("NATS connection status %s", p.conn.Status())
	}
	return nil
}

func (p *Producer) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
