package repository

import (
	"context"
	"time"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	pkgkafka "AlphaDesk/pkg/kafka"
)

// Event types carried in the envelope.
const (
	EventAlpha = "alpha_result"
	EventOrder = "order"
	EventTrade = "position_closed"
)

// Event is the envelope written to the events topic.
type Event struct {
	Type      string      `json:"type"`
	Symbol    string      `json:"symbol"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

type producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

var _ producer = (*pkgkafka.Producer)(nil)

// KafkaPublisher publishes domain events keyed by symbol so per-symbol
// ordering holds within a partition.
type KafkaPublisher struct {
	producer producer
	topic    string
	now      func() time.Time
}

var _ domrepo.EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(p *pkgkafka.Producer, topic string) *KafkaPublisher {
	return newKafkaPublisher(p, topic)
}

func newKafkaPublisher(p producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic, now: time.Now}
}

func (p *KafkaPublisher) publish(ctx context.Context, typ, symbol string, payload interface{}) error {
	return p.producer.Publish(ctx, p.topic, []byte(symbol), Event{
		Type:      typ,
		Symbol:    symbol,
		Timestamp: p.now().UTC(),
		Payload:   payload,
	})
}

func (p *KafkaPublisher) PublishAlpha(ctx context.Context, res *models.AlphaResult) error {
	return p.publish(ctx, EventAlpha, res.Symbol, res)
}

func (p *KafkaPublisher) PublishOrder(ctx context.Context, o *models.Order) error {
	return p.publish(ctx, EventOrder, o.Symbol, o)
}

func (p *KafkaPublisher) PublishTrade(ctx context.Context, t *models.TradeRecord) error {
	return p.publish(ctx, EventTrade, t.Symbol, t)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

var _ domrepo.EventPublisher = NopPublisher{}

func (NopPublisher) PublishAlpha(context.Context, *models.AlphaResult) error { return nil }
func (NopPublisher) PublishOrder(context.Context, *models.Order) error       { return nil }
func (NopPublisher) PublishTrade(context.Context, *models.TradeRecord) error { return nil }
func (NopPublisher) Close() error                                            { return nil }
