package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	applogger "AlphaDesk/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer reads registered topics and dispatches to handlers through a
// keyed worker pool.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *applogger.Logger
	readers  map[string]*kafka.Reader
	handlers map[string]MessageHandler
	lanes    []chan kafka.Message
	stopChan chan struct{}
	readWg   sync.WaitGroup
	workWg   sync.WaitGroup
	stopOnce sync.Once
	dlq      *kafka.Writer
	hook     Hook
	metrics  *consumerMetrics
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := complete(cfg); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = applogger.Nop()
	}

	c := &Consumer{
		cfg:      cfg,
		log:      log.Component("kafka_consumer"),
		readers:  make(map[string]*kafka.Reader),
		handlers: make(map[string]MessageHandler),
		stopChan: make(chan struct{}),
		metrics:  newConsumerMetrics(cfg.Registerer),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// RegisterHandler registers a handler for its topic. The first handler wins.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook installs h before every delivery attempt. Later calls
// run after earlier ones.
func (c *Consumer) WithConsumerHook(h Hook) {
	if c.hook == nil {
		c.hook = h
		return
	}
	c.hook = Chain(c.hook, h)
}

// Start creates one reader per registered topic and starts the workers.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}

	c.lanes = make([]chan kafka.Message, c.cfg.WorkerCount)
	for i := range c.lanes {
		c.lanes[i] = make(chan kafka.Message, c.cfg.BufferSize)
		c.workWg.Add(1)
		go c.worker(c.lanes[i])
	}

	for topic := range c.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
		c.readers[topic] = reader
		c.readWg.Add(1)
		go c.read(topic, reader)
	}

	c.log.Info("kafka consumer started",
		applogger.Int("workers", c.cfg.WorkerCount),
		applogger.Int("topics", len(c.readers)),
	)
	return nil
}

// Stop stops readers first, then drains workers, bounded by ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		close(c.stopChan)
		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Warn("close reader", applogger.String("topic", topic), applogger.Error(err))
			}
		}
		c.readWg.Wait()
		for _, lane := range c.lanes {
			close(lane)
		}
		stopErr = waitGroup(ctx, &c.workWg)
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Warn("close dlq writer", applogger.Error(err))
			}
		}
		if stopErr == nil {
			c.log.Info("kafka consumer stopped")
		}
	})
	return stopErr
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
	case <-done:
		return nil
	}
}

// laneFor maps a key to a worker so per-key ordering is preserved.
func laneFor(key []byte, n int) int {
	if n <= 1 || len(key) == 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}

func (c *Consumer) read(topic string, reader *kafka.Reader) {
	defer c.readWg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		msg, err := reader.FetchMessage(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
				select {
				case <-c.stopChan:
					return
				default:
				}
				c.log.Warn("fetch message", applogger.String("topic", topic), applogger.Error(err))
			}
			continue
		}

		lane := c.lanes[laneFor(msg.Key, len(c.lanes))]
		select {
		case lane <- msg:
			c.metrics.queueDepth(topic, len(lane))
		case <-c.stopChan:
			return
		}
	}
}

func (c *Consumer) worker(lane <-chan kafka.Message) {
	defer c.workWg.Done()
	for msg := range lane {
		c.process(msg)
	}
}

func (c *Consumer) process(msg kafka.Message) {
	handler, ok := c.handlers[msg.Topic]
	if !ok {
		return
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in message handler", applogger.String("topic", msg.Topic), applogger.Any("panic", r))
		}
		c.metrics.observe(msg.Topic, time.Since(start))
	}()

	var err error
	attempts := 0
	for {
		attempts++
		err = c.attempt(handler, msg)
		if err == nil || attempts > c.cfg.RetryMax {
			break
		}
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)):
		case <-c.stopChan:
			return
		}
	}

	if err != nil {
		c.log.Error("handle message failed",
			applogger.String("topic", msg.Topic),
			applogger.Int("attempts", attempts),
			applogger.Error(err),
		)
		if c.dlq == nil {
			return
		}
		dlqErr := c.dlq.WriteMessages(context.Background(), kafka.Message{
			Topic:   c.cfg.DLQTopic,
			Key:     msg.Key,
			Value:   msg.Value,
			Time:    time.Now(),
			Headers: []kafka.Header{{Key: "source_topic", Value: []byte(msg.Topic)}},
		})
		if dlqErr != nil {
			c.log.Error("write dlq", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(dlqErr))
			return
		}
	}

	if reader := c.readers[msg.Topic]; reader != nil {
		c.commit(reader, msg)
	}
}

func (c *Consumer) attempt(h MessageHandler, msg kafka.Message) error {
	ctx := context.Background()
	if c.hook != nil {
		var err error
		if ctx, err = c.hook(ctx, msg); err != nil {
			return fmt.Errorf("hook: %w", err)
		}
	}
	return h.Handle(ctx, msg.Value)
}

func (c *Consumer) commit(reader *kafka.Reader, msg kafka.Message) {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, msg)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("commit offset", applogger.String("topic", msg.Topic), applogger.Error(err))
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := max
	if attempt < 31 {
		if d := min << uint(attempt-1); d > 0 && d < max {
			exp = d
		}
	}
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}

type consumerMetrics struct {
	depth   *prometheus.GaugeVec
	latency *prometheus.HistogramVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	if reg == nil {
		return nil
	}
	m := &consumerMetrics{
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "alphadesk",
			Name:      "kafka_consumer_lane_depth",
			Help:      "Messages waiting in a consumer lane",
		}, []string{"topic"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "alphadesk",
			Name:      "kafka_consumer_handle_seconds",
			Help:      "Handling time per message",
		}, []string{"topic"}),
	}
	reg.MustRegister(m.depth, m.latency)
	return m
}

func (m *consumerMetrics) queueDepth(topic string, n int) {
	if m != nil {
		m.depth.WithLabelValues(topic).Set(float64(n))
	}
}

func (m *consumerMetrics) observe(topic string, d time.Duration) {
	if m != nil {
		m.latency.WithLabelValues(topic).Observe(d.Seconds())
	}
}
