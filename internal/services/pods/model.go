package pods

import (
	"context"
	"fmt"

	"AlphaDesk/internal/domain/models"
	"AlphaDesk/internal/domain/service"
	"AlphaDesk/internal/services/features"
)

// Model defers to an external prediction service.
type Model struct {
	*base
	predictor     service.Predictor
	minConfidence float64
}

var _ service.Pod = (*Model)(nil)

func NewModel(name string, warmupBars int, params map[string]float64, predictor service.Predictor) *Model {
	return &Model{
		base:          newBase(name, KindModel, warmupBars),
		predictor:     predictor,
		minConfidence: param(params, "min_confidence", 0),
	}
}

func (p *Model) ComputeSignal(ctx context.Context, symbol string, f service.Features, tick *models.Tick) (*models.Signal, error) {
	if !p.ready(symbol, f) {
		return nil, nil
	}
	pred, err := p.predictor.Predict(ctx, symbol, f)
	if err != nil {
		return nil, fmt.Errorf("model pod %s: %w", p.name, err)
	}
	if pred.Confidence < p.minConfidence {
		return nil, nil
	}
	return p.signal(symbol, pred.Value, pred.Confidence, f[features.KeyVolShort], tick), nil
}
