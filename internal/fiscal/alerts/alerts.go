// Package alerts delivers operational alerts to the operator channel.
// Retry exhaustion and protocol rejections must reach a human; they never
// retroactively invalidate an already-printed receipt.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Kind classifies an operator alert.
type Kind string

const (
	KindRetryExhausted    Kind = "retry_exhausted"
	KindProtocolRejection Kind = "protocol_rejection"
)

// Alert is the payload published to the operator topic.
type Alert struct {
	Kind      Kind      `json:"kind"`
	ReceiptID uuid.UUID `json:"receipt_id"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Publisher sends alerts to Kafka. A Publisher constructed without brokers
// degrades to structured log warnings so the pipeline never depends on the
// broker being up.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// New constructs an alert publisher. Empty brokers yields a log-only
// publisher.
func New(brokers []string, topic string, opts ...Option) (*Publisher, error) {
	p := &Publisher{topic: topic, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}

	if len(brokers) == 0 {
		return p, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("init kafka client: %w", err)
	}
	p.client = client
	return p, nil
}

// Publish delivers an alert. Broker failures are logged, not returned:
// alerting must never fail the submission path.
func (p *Publisher) Publish(ctx context.Context, alert Alert) {
	if alert.At.IsZero() {
		alert.At = time.Now()
	}

	if p.client == nil {
		p.logger.WarnContext(ctx, "operator alert",
			"kind", alert.Kind,
			"receipt_id", alert.ReceiptID,
			"code", alert.Code,
			"message", alert.Message,
		)
		return
	}

	value, err := json.Marshal(alert)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal operator alert", "error", err)
		return
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(alert.ReceiptID.String()),
		Value: value,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.ErrorContext(ctx, "publish operator alert",
				"kind", alert.Kind,
				"receipt_id", alert.ReceiptID,
				"error", err,
			)
		}
	})
}

// Close flushes and shuts down the Kafka client.
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
