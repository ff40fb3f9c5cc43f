package ingest

import (
	"context"

	pkgkafka "AlphaDesk/pkg/kafka"
)

type consumer interface {
	RegisterHandler(h pkgkafka.MessageHandler)
	Start() error
	Stop(ctx context.Context) error
}

var _ consumer = (*pkgkafka.Consumer)(nil)

// KafkaSource feeds ticks from the ticks topic through handler.
type KafkaSource struct {
	consumer consumer
	handler  pkgkafka.MessageHandler
}

func NewKafkaSource(c *pkgkafka.Consumer, h *KafkaTicksHandler) *KafkaSource {
	return &KafkaSource{consumer: c, handler: h}
}

// Start registers the handler and starts consuming. The consumer owns its
// goroutines, so ctx is not retained.
func (s *KafkaSource) Start(context.Context) error {
	s.consumer.RegisterHandler(s.handler)
	return s.consumer.Start()
}

func (s *KafkaSource) Shutdown(ctx context.Context) error {
	return s.consumer.Stop(ctx)
}
