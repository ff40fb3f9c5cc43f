package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/internal/service/ratelimit"
	"AlphaDesk/pkg/logger"
	"AlphaDesk/pkg/metrics"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t *models.Tick) error
}

var (
	ErrInvalidTick = errors.New("invalid tick")
	ErrBufferFull  = errors.New("pipeline buffer full")
)

// RealtimePipeline sits between a tick source and the trading core.
// It validates, throttles per symbol and buffers ticks while downstream
// pushes back.
type RealtimePipeline struct {
	proc      Proc
	metrics   domrepo.Metrics
	log       *logger.Logger
	limiter   *ratelimit.Limiter
	maxRPS    float64
	bufSize   int
	maxAge    time.Duration
	now       func() time.Time
	transform func(*models.Tick) *models.Tick

	bufCh   chan *models.Tick
	stopCh  chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	started bool
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS caps accepted ticks per second per symbol. Zero disables throttling.
func WithMaxRPS(n float64) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the buffer used while downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithMaxAge drops ticks older than d. Zero keeps everything.
func WithMaxAge(d time.Duration) PipelineOption { return func(p *RealtimePipeline) { p.maxAge = d } }

// WithTransform sets a hook that rewrites ticks before validation.
func WithTransform(fn func(*models.Tick) *models.Tick) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

func WithPipelineMetrics(m domrepo.Metrics) PipelineOption {
	return func(p *RealtimePipeline) { p.metrics = m }
}

func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *RealtimePipeline) { p.log = l.Component("realtime_pipeline") }
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *RealtimePipeline) { p.now = now }
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:    proc,
		metrics: metrics.Discard{},
		log:     logger.Nop(),
		maxRPS:  50,
		bufSize: 1000,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Tick, p.bufSize)
	p.limiter = ratelimit.New(p.maxRPS, 1)
	return p
}

// Start launches background flushing of buffered ticks.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.flush(ctx)
}

func (p *RealtimePipeline) flush(ctx context.Context) {
	defer close(p.done)
	const minBackoff = 50 * time.Millisecond
	backoff := minBackoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case t := <-p.bufCh:
			if p.stale(t) {
				p.metrics.RecordError("pipeline_stale")
				continue
			}
			if err := p.proc.Process(ctx, t); err != nil {
				p.metrics.RecordError("pipeline_flush")
				if backoff < 2*time.Second {
					backoff *= 2
				}
				select {
				case p.bufCh <- t:
				default:
					p.metrics.RecordError("pipeline_buffer_drop")
				}
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				case <-p.stopCh:
					return
				}
				continue
			}
			backoff = minBackoff
		}
	}
}

// Stop stops background flushing and waits for it to exit.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.done
	if n := len(p.bufCh); n > 0 {
		p.log.Warn("dropping buffered ticks", logger.Int("count", n))
	}
}

// Buffered is the number of ticks waiting for downstream.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles and forwards a tick, buffering it when
// downstream fails.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.Tick) error {
	start := p.now()
	if p.transform != nil && t != nil {
		t = p.transform(t)
	}
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.stale(t) {
		p.metrics.RecordError("pipeline_stale")
		return nil
	}
	if !p.limiter.Allow(t.Symbol) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- t:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
			return fmt.Errorf("%w: %v", ErrBufferFull, err)
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", p.now().Sub(start).Seconds())
	return nil
}

func (p *RealtimePipeline) stale(t *models.Tick) bool {
	return p.maxAge > 0 && !t.Timestamp.IsZero() && p.now().Sub(t.Timestamp) > p.maxAge
}

func validateTick(t *models.Tick) error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: nil", ErrInvalidTick)
	case t.Symbol == "":
		return fmt.Errorf("%w: symbol empty", ErrInvalidTick)
	case t.Bid < 0 || t.Ask < 0 || t.Last < 0 || t.Volume < 0:
		return fmt.Errorf("%w: negative price or volume", ErrInvalidTick)
	case t.Price() <= 0:
		return fmt.Errorf("%w: no price", ErrInvalidTick)
	case t.Bid > 0 && t.Ask > 0 && t.Bid > t.Ask:
		return fmt.Errorf("%w: crossed book", ErrInvalidTick)
	}
	return nil
}
