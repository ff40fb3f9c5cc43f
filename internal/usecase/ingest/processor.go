// Package ingest moves ticks from push sources (Kafka, Finnhub) into the
// trading pipeline and, optionally, into tick storage.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"AlphaDesk/internal/domain/models"
	drepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/pkg/logger"
	"AlphaDesk/pkg/metrics"
)

// ErrBackpressure is returned when the trading pipeline refuses a tick.
var ErrBackpressure = errors.New("trading pipeline backpressure")

// Sink accepts ticks without blocking.
type Sink interface {
	Ingest(t *models.Tick) bool
}

// TickProcessor routes ticks to the trading pipeline and batches them
// into storage.
type TickProcessor struct {
	sink    Sink
	store   drepo.TickStorage
	metrics drepo.Metrics
	log     *logger.Logger
	batchSz int
	batchTO time.Duration

	mu    sync.Mutex
	batch []*models.Tick
}

type ProcessorOption func(*TickProcessor)

// WithStorage enables batched tick persistence.
func WithStorage(s drepo.TickStorage, batchSize int, flushEvery time.Duration) ProcessorOption {
	return func(p *TickProcessor) {
		p.store = s
		if batchSize > 0 {
			p.batchSz = batchSize
		}
		if flushEvery > 0 {
			p.batchTO = flushEvery
		}
	}
}

func WithProcessorMetrics(m drepo.Metrics) ProcessorOption {
	return func(p *TickProcessor) { p.metrics = m }
}

func WithProcessorLogger(l *logger.Logger) ProcessorOption {
	return func(p *TickProcessor) { p.log = l.Component("tick_processor") }
}

// NewTickProcessor creates a new TickProcessor instance.
func NewTickProcessor(sink Sink, opts ...ProcessorOption) *TickProcessor {
	p := &TickProcessor{
		sink:    sink,
		metrics: metrics.Discard{},
		log:     logger.Nop(),
		batchSz: 500,
		batchTO: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process hands a tick to the pipeline and queues it for storage.
func (p *TickProcessor) Process(ctx context.Context, t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick is nil")
	}
	if !p.sink.Ingest(t) {
		return ErrBackpressure
	}
	if p.store == nil {
		return nil
	}
	p.mu.Lock()
	p.batch = append(p.batch, t)
	full := len(p.batch) >= p.batchSz
	p.mu.Unlock()
	if full {
		return p.Flush(ctx)
	}
	return nil
}

// Flush writes buffered ticks to storage. A failed batch is dropped.
func (p *TickProcessor) Flush(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	p.mu.Lock()
	batch := p.batch
	p.batch = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := p.store.StoreBatch(ctx, batch); err != nil {
		p.metrics.RecordError("tick_store")
		return fmt.Errorf("store %d ticks: %w", len(batch), err)
	}
	p.metrics.RecordLatency("tick_store", time.Since(start).Seconds())
	return nil
}

// Run flushes storage on an interval until ctx is done, then flushes once more.
func (p *TickProcessor) Run(ctx context.Context) error {
	if p.store == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(p.batchTO)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.Flush(flushCtx); err != nil {
				p.log.Warn("final tick flush failed", logger.Error(err))
			}
			return nil
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.log.Warn("tick flush failed", logger.Error(err))
			}
		}
	}
}

// Close closes the storage if one is configured.
func (p *TickProcessor) Close() error {
	if p.store == nil {
		return nil
	}
	return p.store.Close()
}
