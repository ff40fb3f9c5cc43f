package alpha

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	domsvc "AlphaDesk/internal/domain/service"
	"AlphaDesk/internal/services/features"
	"AlphaDesk/pkg/config"
	"AlphaDesk/pkg/logger"
	"AlphaDesk/pkg/metrics"
)

// Reasons an evaluation produced no alpha.
const (
	FilterNoContributors = "alpha_no_contributors"
	FilterLowConfidence  = "alpha_low_confidence"
	FilterWeakSignal     = "alpha_weak_signal"
	FilterNoAttribution  = "alpha_no_attribution"
)

// Engine evaluates every pod for a symbol, blends their signals and shapes
// the result.
type Engine struct {
	cfg       config.AlphaConfig
	pods      []domsvc.Pod
	allocator *Allocator
	market    domrepo.MarketData
	window    int
	windows   features.Windows
	metrics   domrepo.Metrics
	publisher domrepo.EventPublisher
	log       *logger.Logger
	now       func() time.Time

	mu   sync.Mutex
	last map[string]*models.AlphaResult
}

type Option func(*Engine)

func WithMetrics(m domrepo.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithPublisher(p domrepo.EventPublisher) Option { return func(e *Engine) { e.publisher = p } }

func WithLogger(l *logger.Logger) Option { return func(e *Engine) { e.log = l.Component("alpha") } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithFeatureWindows(w features.Windows) Option { return func(e *Engine) { e.windows = w } }

// NewEngine wires pods, allocator and the history source. window is the
// number of bars fetched per evaluation.
func NewEngine(cfg config.AlphaConfig, pods []domsvc.Pod, allocator *Allocator, market domrepo.MarketData, window int, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		pods:      pods,
		allocator: allocator,
		market:    market,
		window:    window,
		windows:   features.DefaultWindows(),
		metrics:   metrics.Discard{},
		log:       logger.Nop(),
		now:       time.Now,
		last:      make(map[string]*models.AlphaResult),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Warmup feeds each pod the current history so they can count bars seen.
func (e *Engine) Warmup(ctx context.Context, symbols []string) error {
	for _, sym := range symbols {
		candles, err := e.market.GetHistory(ctx, sym, e.window)
		if err != nil {
			return fmt.Errorf("warmup %s: %w", sym, err)
		}
		for _, p := range e.pods {
			p.Warmup(sym, candles)
		}
	}
	return nil
}

// ComputeAlpha evaluates the symbol against current history. A nil result
// with a nil error means the pods produced nothing actionable.
func (e *Engine) ComputeAlpha(ctx context.Context, symbol string) (*models.AlphaResult, error) {
	return e.evaluate(ctx, symbol, nil)
}

// OnTick evaluates the tick's symbol, passing the tick through to pods.
func (e *Engine) OnTick(ctx context.Context, tick *models.Tick) (*models.AlphaResult, error) {
	return e.evaluate(ctx, tick.Symbol, tick)
}

// Last returns the most recent actionable result for a symbol.
func (e *Engine) Last(symbol string) (*models.AlphaResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.last[symbol]
	return r, ok
}

func (e *Engine) Pods() []domsvc.Pod { return e.pods }

func (e *Engine) Allocator() *Allocator { return e.allocator }

func (e *Engine) evaluate(ctx context.Context, symbol string, tick *models.Tick) (*models.AlphaResult, error) {
	start := time.Now()
	defer func() { e.metrics.RecordLatency("compute_alpha", time.Since(start).Seconds()) }()

	candles, err := e.market.GetHistory(ctx, symbol, e.window)
	if err != nil {
		e.metrics.RecordError("history")
		return nil, fmt.Errorf("history %s: %w", symbol, err)
	}
	feats := features.Extract(candles, e.windows)

	signals := e.collect(ctx, symbol, feats, tick)
	blend := e.allocator.BlendSignals(signals, symbol)
	if blend.Contributors == 0 {
		return e.drop(symbol, FilterNoContributors)
	}

	res := e.shape(symbol, blend, signals)
	if reason := e.filter(res); reason != "" {
		return e.drop(symbol, reason)
	}

	e.metrics.RecordSignalGenerated(symbol)
	e.mu.Lock()
	e.last[symbol] = res
	e.mu.Unlock()
	if e.publisher != nil {
		if err := e.publisher.PublishAlpha(ctx, res); err != nil {
			e.log.Warn("publish alpha failed", logger.String("symbol", symbol), logger.Error(err))
		}
	}
	e.log.Debug("alpha computed",
		logger.String("symbol", symbol),
		logger.Float64("signal", res.Signal),
		logger.Float64("confidence", res.Confidence),
		logger.Int("pods", blend.Contributors))
	return res, nil
}

// collect runs every pod concurrently, each bounded by the pod timeout.
// A failing pod is logged and contributes nothing.
func (e *Engine) collect(ctx context.Context, symbol string, feats domsvc.Features, tick *models.Tick) []*models.Signal {
	out := make([]*models.Signal, len(e.pods))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range e.pods {
		g.Go(func() error {
			pctx := gctx
			if e.cfg.PodTimeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(gctx, e.cfg.PodTimeout)
				defer cancel()
			}
			sig, err := p.ComputeSignal(pctx, symbol, feats, tick)
			if err != nil {
				e.metrics.RecordError("pod")
				e.log.Warn("pod failed",
					logger.String("pod", p.Name()),
					logger.String("symbol", symbol),
					logger.Error(err))
				return nil
			}
			out[i] = sig
			return nil
		})
	}
	_ = g.Wait()

	signals := out[:0]
	for _, s := range out {
		if s != nil {
			signals = append(signals, s)
		}
	}
	return signals
}

// shape applies, in order: strength cap, confidence threshold zeroing and
// volatility scaling floored at half size.
func (e *Engine) shape(symbol string, b Blend, signals []*models.Signal) *models.AlphaResult {
	sig := clamp(b.Signal, -e.cfg.MaxSignalStrength, e.cfg.MaxSignalStrength)
	conf := b.Confidence

	if conf < e.cfg.ConfidenceThreshold {
		sig, conf = 0, 0
	}
	if e.cfg.VolatilityAdjustment && b.Volatility > e.cfg.VolatilityThreshold {
		f := math.Max(0.5, e.cfg.VolatilityThreshold/b.Volatility)
		sig *= f
		conf *= f
	}

	podSignals := make([]models.Signal, 0, len(signals))
	for _, s := range signals {
		podSignals = append(podSignals, *s)
	}
	return &models.AlphaResult{
		Symbol:      symbol,
		Signal:      sig,
		Confidence:  conf,
		Volatility:  b.Volatility,
		Attribution: b.Attribution,
		PodSignals:  podSignals,
		Weights:     b.Weights,
		Timestamp:   e.now().UTC(),
	}
}

func (e *Engine) filter(r *models.AlphaResult) string {
	if r.Confidence < e.cfg.ConfidenceThreshold {
		return FilterLowConfidence
	}
	if math.Abs(r.Signal) < e.cfg.MinSignal {
		return FilterWeakSignal
	}
	for _, v := range r.Attribution {
		if math.Abs(v) > e.cfg.MinAttribution {
			return ""
		}
	}
	return FilterNoAttribution
}

func (e *Engine) drop(symbol, reason string) (*models.AlphaResult, error) {
	e.metrics.RecordSignalRejected(reason)
	e.log.Debug("no alpha", logger.String("symbol", symbol), logger.String("reason", reason))
	return nil, nil
}
