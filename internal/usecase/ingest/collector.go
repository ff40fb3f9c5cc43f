package ingest

import (
	"context"
	"sync"

	"AlphaDesk/internal/domain/models"
	drepo "AlphaDesk/internal/domain/repository"
	mid "AlphaDesk/internal/middleware"
	"AlphaDesk/pkg/logger"
	"AlphaDesk/pkg/metrics"
)

// TickCollector reads ticks from a market stream and processes them.
type TickCollector struct {
	stream  drepo.TickStream
	proc    mid.Proc
	pipe    *mid.RealtimePipeline
	metrics drepo.Metrics
	log     *logger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type CollectorOption func(*TickCollector)

// WithPipeline routes ticks through the realtime pipeline instead of
// calling the processor directly.
func WithPipeline(p *mid.RealtimePipeline) CollectorOption {
	return func(c *TickCollector) { c.pipe = p }
}

func WithCollectorMetrics(m drepo.Metrics) CollectorOption {
	return func(c *TickCollector) { c.metrics = m }
}

func WithCollectorLogger(l *logger.Logger) CollectorOption {
	return func(c *TickCollector) { c.log = l.Component("tick_collector") }
}

// NewTickCollector creates a new TickCollector instance.
func NewTickCollector(stream drepo.TickStream, proc mid.Proc, opts ...CollectorOption) *TickCollector {
	c := &TickCollector{stream: stream, proc: proc, metrics: metrics.Discard{}, log: logger.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConnected returns true if the market stream is connected.
func (c *TickCollector) IsConnected() bool { return c.stream.IsConnected() }

func (c *TickCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		_ = c.stream.Close()
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx)
	}()
	return nil
}

func (c *TickCollector) consume(ctx context.Context) {
	ticks, errs := c.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if ok && err == nil {
				continue
			}
			if err != nil {
				c.metrics.RecordError("stream")
				c.log.Warn("stream failed, reconnecting", logger.Error(err))
			}
			if ctx.Err() != nil {
				return
			}
			if rerr := c.stream.Reconnect(ctx); rerr != nil {
				c.metrics.RecordError("stream_reconnect")
				c.log.Error("reconnect failed", logger.Error(rerr))
				continue
			}
			ticks, errs = c.stream.Read(ctx)
		case t, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			c.handle(ctx, t)
		}
	}
}

func (c *TickCollector) handle(ctx context.Context, t *models.Tick) {
	if t == nil {
		return
	}
	var err error
	if c.pipe != nil {
		err = c.pipe.Process(ctx, t)
	} else {
		err = c.proc.Process(ctx, t)
	}
	if err != nil {
		c.log.Debug("tick not processed", logger.String("symbol", t.Symbol), logger.Error(err))
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *TickCollector) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.stream.Close()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return err
}
