package kafka

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	applogger "AlphaDesk/pkg/logger"
)

var validate = validator.New()

func complete(cfg interface{}) error {
	if err := defaults.Set(cfg); err != nil {
		return fmt.Errorf("kafka defaults: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("kafka config: %w", err)
	}
	return nil
}

// ProducerConfig holds writer settings. RequiredAcks left at zero means all
// in-sync replicas (-1).
type ProducerConfig struct {
	Brokers      []string              `validate:"min=1,dive,required"`
	RequiredAcks int                   `default:"-1" validate:"oneof=-1 1"`
	Compression  string                `default:"snappy" validate:"oneof=none snappy gzip lz4 zstd"`
	MaxAttempts  int                   `default:"3" validate:"gte=1"`
	WriteTimeout time.Duration         `default:"10s"`
	ReadTimeout  time.Duration         `default:"10s"`
	BatchSize    int                   `default:"100" validate:"gte=1"`
	BatchBytes   int                   `default:"1048576"`
	BatchTimeout time.Duration         `default:"10ms"`
	Async        bool
	HashByKey    bool                  `default:"true"`
	Registerer   prometheus.Registerer `validate:"-"`
}

type ProducerOption func(*ProducerConfig)

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

func WithCompression(codec string) ProducerOption {
	return func(c *ProducerConfig) { c.Compression = codec }
}

func WithRequiredAcks(acks int) ProducerOption {
	return func(c *ProducerConfig) { c.RequiredAcks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *ProducerConfig) { c.MaxAttempts = n }
}

// WithBatching sets how many messages, how many bytes, and how long the
// writer collects before flushing. Zero keeps the default.
func WithBatching(size, bytes int, linger time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		c.BatchSize = size
		c.BatchBytes = bytes
		c.BatchTimeout = linger
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		c.WriteTimeout = write
		c.ReadTimeout = read
	}
}

// WithAsync makes Publish return before the broker acknowledges.
func WithAsync(async bool) ProducerOption {
	return func(c *ProducerConfig) { c.Async = async }
}

// WithHashByKey routes equal keys to one partition.
func WithHashByKey(hash bool) ProducerOption {
	return func(c *ProducerConfig) { c.HashByKey = hash }
}

func WithProducerMetrics(reg prometheus.Registerer) ProducerOption {
	return func(c *ProducerConfig) { c.Registerer = reg }
}

// ConsumerConfig holds reader and worker pool settings.
type ConsumerConfig struct {
	Brokers     []string              `validate:"min=1,dive,required"`
	GroupID     string                `default:"alphadesk"`
	WorkerCount int                   `default:"1" validate:"gte=1"`
	BufferSize  int                   `default:"100" validate:"gte=1"`
	RetryMax    int                   `default:"3" validate:"gte=0"`
	BackoffMin  time.Duration         `default:"50ms"`
	BackoffMax  time.Duration         `default:"2s" validate:"gtefield=BackoffMin"`
	DLQTopic    string
	MinBytes    int                   `default:"1"`
	MaxBytes    int                   `default:"10000000" validate:"gtefield=MinBytes"`
	Registerer  prometheus.Registerer `validate:"-"`
	Logger      *applogger.Logger     `validate:"-"`
}

type ConsumerOption func(*ConsumerConfig)

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) { c.GroupID = groupID }
}

// WithConsumerWorkers sets the number of workers. Messages with the same
// key always land on the same worker.
func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) { c.WorkerCount = count }
}

// WithConsumerBufferSize sets each worker's channel size.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) { c.BufferSize = n }
}

// WithConsumerRetry configures retry attempts and the backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ names the topic that receives messages which exhaust
// their retries.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

func WithConsumerMetrics(reg prometheus.Registerer) ConsumerOption {
	return func(c *ConsumerConfig) { c.Registerer = reg }
}

func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}
