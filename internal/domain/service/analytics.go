package service

import (
	"context"

	"AlphaDesk/internal/domain/models"
)

// Features is a named bag of scalar inputs derived from history.
type Features map[string]float64

// Pod is an independently reasoning strategy.
// ComputeSignal returns nil, nil when the pod has no opinion, including
// while it is still warming up.
type Pod interface {
	Name() string
	Kind() string
	Warmup(symbol string, candles []models.Candle)
	ComputeSignal(ctx context.Context, symbol string, features Features, tick *models.Tick) (*models.Signal, error)
	Performance() models.PodPerformance
	RecordOutcome(pnl float64)
}

// Predictor scores a feature vector with an external model.
type Predictor interface {
	Predict(ctx context.Context, symbol string, features map[string]float64) (models.Prediction, error)
}
