// Package trading connects the alpha engine, the risk manager and the
// execution engine with typed channels:
//
//	ticks -> mark & monitor (execution) -> throttled eval (alpha) -> results -> validate (risk) -> submit (execution)
package trading

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/internal/usecase/execution"
	"AlphaDesk/pkg/logger"
	"AlphaDesk/pkg/metrics"
)

type Alpha interface {
	OnTick(ctx context.Context, tick *models.Tick) (*models.AlphaResult, error)
	ComputeAlpha(ctx context.Context, symbol string) (*models.AlphaResult, error)
}

type Validator interface {
	ValidateSignal(ctx context.Context, sig *models.TradeSignal) models.ValidationResult
}

type Executor interface {
	OnTick(tick *models.Tick)
	Submit(sig *models.TradeSignal) error
}

// TickObserver sees every tick before evaluation, e.g. the paper venue.
type TickObserver interface {
	Observe(tick *models.Tick)
}

var _ Executor = (*execution.Engine)(nil)

const rejectNoPrice = "no_price"

type Pipeline struct {
	alpha     Alpha
	risk      Validator
	exec      Executor
	observers []TickObserver
	metrics   domrepo.Metrics
	log       *logger.Logger
	now       func() time.Time
	newID     func() string

	minInterval time.Duration
	buffer      int

	ticks   chan *models.Tick
	evals   chan *models.Tick
	results chan *models.AlphaResult

	mu       sync.Mutex
	lastEval map[string]time.Time
	prices   map[string]float64
	running  bool
}

type Option func(*Pipeline)

func WithObserver(o TickObserver) Option { return func(p *Pipeline) { p.observers = append(p.observers, o) } }

func WithMetrics(m domrepo.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

func WithLogger(l *logger.Logger) Option { return func(p *Pipeline) { p.log = l.Component("pipeline") } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func WithIDGenerator(f func() string) Option { return func(p *Pipeline) { p.newID = f } }

// WithMinInterval throttles alpha evaluation per symbol. Marking and exit
// checks still see every tick.
func WithMinInterval(d time.Duration) Option { return func(p *Pipeline) { p.minInterval = d } }

func WithBuffer(n int) Option { return func(p *Pipeline) { p.buffer = n } }

func NewPipeline(a Alpha, r Validator, x Executor, opts ...Option) *Pipeline {
	p := &Pipeline{
		alpha:    a,
		risk:     r,
		exec:     x,
		metrics:  metrics.Discard{},
		log:      logger.Nop(),
		now:      time.Now,
		newID:    uuid.NewString,
		buffer:   1024,
		lastEval: make(map[string]time.Time),
		prices:   make(map[string]float64),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ticks = make(chan *models.Tick, p.buffer)
	p.evals = make(chan *models.Tick, p.buffer)
	p.results = make(chan *models.AlphaResult, p.buffer)
	return p
}

// Ingest hands a tick to the pipeline without blocking. It reports false
// when the tick was dropped.
func (p *Pipeline) Ingest(tick *models.Tick) bool {
	if tick == nil || tick.Symbol == "" {
		return false
	}
	select {
	case p.ticks <- tick:
		return true
	default:
		p.metrics.RecordError("tick_dropped")
		return false
	}
}

// Run drives the three stages until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("pipeline already running")
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.markLoop(gctx) })
	g.Go(func() error { return p.alphaLoop(gctx) })
	g.Go(func() error { return p.riskLoop(gctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pipeline) markLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-p.ticks:
			p.observe(t)
			if !p.due(t.Symbol) {
				continue
			}
			select {
			case p.evals <- t:
			default:
				p.metrics.RecordError("eval_dropped")
			}
		}
	}
}

func (p *Pipeline) observe(t *models.Tick) {
	if px := t.Price(); px > 0 {
		p.mu.Lock()
		p.prices[t.Symbol] = px
		p.mu.Unlock()
	}
	for _, o := range p.observers {
		o.Observe(t)
	}
	p.exec.OnTick(t)
}

func (p *Pipeline) due(symbol string) bool {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastEval[symbol]; ok && now.Sub(last) < p.minInterval {
		return false
	}
	p.lastEval[symbol] = now
	return true
}

func (p *Pipeline) alphaLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-p.evals:
			res, err := p.alpha.OnTick(ctx, t)
			if err != nil {
				p.metrics.RecordError("alpha")
				p.log.Warn("alpha evaluation failed", logger.String("symbol", t.Symbol), logger.Error(err))
				continue
			}
			if res == nil {
				continue
			}
			select {
			case p.results <- res:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (p *Pipeline) riskLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-p.results:
			p.Handle(ctx, res)
		}
	}
}

// Scan evaluates every symbol on demand and routes actionable results
// through risk to execution. Symbols without an observed price are skipped.
func (p *Pipeline) Scan(ctx context.Context, symbols []string) int {
	n := 0
	for _, s := range symbols {
		if ctx.Err() != nil {
			break
		}
		res, err := p.alpha.ComputeAlpha(ctx, s)
		if err != nil {
			p.metrics.RecordError("alpha")
			p.log.Warn("alpha scan failed", logger.String("symbol", s), logger.Error(err))
			continue
		}
		if res != nil && p.Handle(ctx, res) {
			n++
		}
	}
	return n
}

// Handle turns an alpha result into a trade signal, validates it and
// submits it. It reports whether the signal was queued for execution.
func (p *Pipeline) Handle(ctx context.Context, res *models.AlphaResult) bool {
	price := p.Price(res.Symbol)
	if price <= 0 {
		p.metrics.RecordSignalRejected(rejectNoPrice)
		p.log.Debug("no price for signal", logger.String("symbol", res.Symbol))
		return false
	}
	sig := models.NewTradeSignal(p.newID(), res, price)
	if sig.Side == "" {
		return false
	}

	v := p.risk.ValidateSignal(ctx, sig)
	if !v.Approved {
		p.metrics.RecordSignalRejected(v.Reason)
		p.log.Debug("signal rejected",
			logger.String("symbol", sig.Symbol),
			logger.String("reason", v.Reason))
		return false
	}
	if err := p.exec.Submit(sig); err != nil {
		p.log.Warn("submit failed", logger.String("signal_id", sig.ID), logger.Error(err))
		return false
	}
	p.log.Info("signal queued",
		logger.String("signal_id", sig.ID),
		logger.String("symbol", sig.Symbol),
		logger.String("side", string(sig.Side)),
		logger.Float64("strength", sig.Strength),
		logger.Float64("confidence", sig.Confidence))
	return true
}

// Price is the last observed price for symbol.
func (p *Pipeline) Price(symbol string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prices[symbol]
}
