package pods

import (
	"context"
	"math"

	"AlphaDesk/internal/domain/models"
	"AlphaDesk/internal/domain/service"
	"AlphaDesk/internal/services/features"
)

// VolatilityRegime compares short and long realized volatility. Compressed
// volatility favours following momentum; expanded volatility favours fading
// the last move. In between it stays flat.
type VolatilityRegime struct {
	*base
	low, high   float64
	momentumRef float64
}

var _ service.Pod = (*VolatilityRegime)(nil)

func NewVolatilityRegime(name string, warmupBars int, params map[string]float64) *VolatilityRegime {
	return &VolatilityRegime{
		base:        newBase(name, KindVolatilityRegime, warmupBars),
		low:         param(params, "low_ratio", 0.8),
		high:        param(params, "high_ratio", 1.5),
		momentumRef: param(params, "momentum_ref", 0.005),
	}
}

func (p *VolatilityRegime) ComputeSignal(_ context.Context, symbol string, f service.Features, tick *models.Tick) (*models.Signal, error) {
	if !p.ready(symbol, f) {
		return nil, nil
	}
	short, okS := f[features.KeyVolShort]
	long, okL := f[features.KeyVolLong]
	if !okS || !okL || long <= 0 {
		return nil, nil
	}
	ratio := short / long

	switch {
	case ratio < p.low:
		mom, ok := f[features.KeyMomentum]
		if !ok || mom == 0 || p.momentumRef <= 0 {
			return nil, nil
		}
		value := math.Tanh(mom / p.momentumRef)
		confidence := 0.55 + 0.4*(1-ratio/p.low)
		return p.signal(symbol, value, confidence, short, tick), nil
	case ratio > p.high:
		last, ok := f[features.KeyReturn]
		if !ok || last == 0 || short <= 0 {
			return nil, nil
		}
		value := -0.5 * math.Tanh(last/short)
		confidence := 0.5 + 0.3*math.Min(1, (ratio-p.high)/p.high)
		return p.signal(symbol, value, confidence, short, tick), nil
	default:
		return nil, nil
	}
}
