package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// StreamName is the JetStream stream attendance events are stored in.
const StreamName = "ATTENDANCE"

// NATSPublisher publishes events as JSON to <subject>.<type> on JetStream.
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
	logger  *zap.Logger
}

// NewNATSPublisher connects to url and makes sure the stream covering
// subject exists.
func NewNATSPublisher(ctx context.Context, url, subject string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("face-attendance"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(streamCtx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subject + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
	})
	if err != nil {
		// the stream may be managed by an operator with other settings
		logger.Warn("failed to ensure NATS stream", zap.String("stream", StreamName), zap.Error(err))
	}

	return &NATSPublisher{nc: nc, js: js, subject: subject, logger: logger}, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(t Type) string {
	return p.subject + "." + string(t)
}

// Publish sends the event. Snapshot events stay in process.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if event.Type == TypeSnapshot {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.Subject(event.Type)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event to subject %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
		}
	}
}
