package pods

import (
	"context"
	"math"

	"AlphaDesk/internal/domain/models"
	"AlphaDesk/internal/domain/service"
	"AlphaDesk/internal/services/features"
)

// Trend follows the fast/slow EMA spread.
type Trend struct {
	*base
	sensitivity float64
	minSpread   float64
}

var _ service.Pod = (*Trend)(nil)

func NewTrend(name string, warmupBars int, params map[string]float64) *Trend {
	return &Trend{
		base:        newBase(name, KindTrend, warmupBars),
		sensitivity: param(params, "sensitivity", 500),
		minSpread:   param(params, "min_spread", 0),
	}
}

func (p *Trend) ComputeSignal(_ context.Context, symbol string, f service.Features, tick *models.Tick) (*models.Signal, error) {
	if !p.ready(symbol, f) {
		return nil, nil
	}
	fast, okF := f[features.KeyEMAFast]
	slow, okS := f[features.KeyEMASlow]
	if !okF || !okS || slow <= 0 {
		return nil, nil
	}
	spread := (fast - slow) / slow
	if math.Abs(spread) <= p.minSpread {
		return nil, nil
	}

	value := math.Tanh(p.sensitivity * spread)
	confidence := 0.5 + 0.5*math.Abs(value)
	if mom, ok := f[features.KeyMomentum]; ok && mom*value < 0 {
		confidence *= 0.7
	}
	return p.signal(symbol, value, confidence, f[features.KeyVolShort], tick), nil
}
