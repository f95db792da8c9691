// Package settlement publishes fill events for downstream consumers
// (statements, reconciliation, reporting).
package settlement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// FillEvent is the message written per settled fill.
type FillEvent struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   string    `json:"quantity"`
	Price      string    `json:"price"`
	Commission string    `json:"commission"`
	SettledAt  time.Time `json:"settled_at"`
}

// Publisher writes fill events to a kafka topic.
type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewPublisher creates a publisher. A nil *Publisher is safe to call;
// it drops events, which lets deployments run without a broker.
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Publisher{writer: writer, logger: logger}
}

// PublishFill writes one fill event, keyed by user so a user's fills
// stay ordered within a partition.
func (p *Publisher) PublishFill(ctx context.Context, ev FillEvent) error {
	if p == nil {
		return nil
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: value,
	})
	if err != nil {
		p.logger.Error("failed to publish fill event",
			zap.String("order_id", ev.OrderID), zap.Error(err))
	}
	return err
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
