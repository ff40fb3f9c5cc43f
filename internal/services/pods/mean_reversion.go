package pods

import (
	"context"
	"math"

	"AlphaDesk/internal/domain/models"
	"AlphaDesk/internal/domain/service"
	"AlphaDesk/internal/services/features"
)

// MeanReversion fades stretched moves away from the moving average.
// Below the entry z-score it has no opinion.
type MeanReversion struct {
	*base
	entryZ float64
}

var _ service.Pod = (*MeanReversion)(nil)

func NewMeanReversion(name string, warmupBars int, params map[string]float64) *MeanReversion {
	return &MeanReversion{
		base:   newBase(name, KindMeanReversion, warmupBars),
		entryZ: param(params, "entry_z", 1.5),
	}
}

func (p *MeanReversion) ComputeSignal(_ context.Context, symbol string, f service.Features, tick *models.Tick) (*models.Signal, error) {
	if !p.ready(symbol, f) {
		return nil, nil
	}
	z, ok := f[features.KeyZScore]
	if !ok || math.Abs(z) < p.entryZ {
		return nil, nil
	}
	stretch := math.Abs(z) / (2 * p.entryZ)
	value := -math.Copysign(math.Min(1, stretch), z)
	confidence := 0.5 + 0.5*math.Min(1, stretch)
	return p.signal(symbol, value, confidence, f[features.KeyVolShort], tick), nil
}
