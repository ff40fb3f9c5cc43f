// Package pods implements the strategy pods and the registry that builds
// them from configuration.
package pods

import (
	"math"
	"sync"
	"time"

	"AlphaDesk/internal/domain/models"
	"AlphaDesk/internal/domain/service"
	"AlphaDesk/internal/services/features"
)

// base carries the warmup and performance bookkeeping every pod shares.
type base struct {
	name       string
	kind       string
	warmupBars int

	mu   sync.Mutex
	perf models.PodPerformance
	bars map[string]int
}

func newBase(name, kind string, warmupBars int) *base {
	return &base{
		name:       name,
		kind:       kind,
		warmupBars: warmupBars,
		perf:       models.PodPerformance{Name: name, WarmupBars: warmupBars},
		bars:       make(map[string]int),
	}
}

func (b *base) Name() string { return b.name }
func (b *base) Kind() string { return b.kind }

// Warmup credits the pod with bars of history it has seen for symbol.
func (b *base) Warmup(symbol string, candles []models.Candle) {
	b.observeBars(symbol, len(candles))
}

// observeBars records the history depth seen for symbol and reports whether
// that symbol is past warmup. BarsProcessed is the deepest history over all
// symbols.
func (b *base) observeBars(symbol string, n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.bars[symbol] {
		b.bars[symbol] = n
	}
	if n > b.perf.BarsProcessed {
		b.perf.BarsProcessed = n
	}
	return b.bars[symbol] >= b.warmupBars
}

func (b *base) ready(symbol string, f service.Features) bool {
	return b.observeBars(symbol, int(f[features.KeyBars]))
}

func (b *base) emitted() {
	b.mu.Lock()
	b.perf.SignalsEmitted++
	b.mu.Unlock()
}

func (b *base) Performance() models.PodPerformance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.perf
}

func (b *base) RecordOutcome(pnl float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.perf.TradesClosed++
	b.perf.TotalPnL += pnl
	if pnl > 0 {
		b.perf.Wins++
	}
}

func (b *base) signal(symbol string, value, confidence, vol float64, tick *models.Tick) *models.Signal {
	b.emitted()
	s := &models.Signal{
		Symbol:     symbol,
		Value:      clamp(value, -1, 1),
		Confidence: clamp(confidence, 0, 1),
		Volatility: math.Max(0, vol),
		SourcePod:  b.name,
	}
	if tick != nil && !tick.Timestamp.IsZero() {
		s.Timestamp = tick.Timestamp
	} else {
		s.Timestamp = time.Now().UTC()
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}

func param(p map[string]float64, key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}
