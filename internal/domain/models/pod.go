package models

import "time"

// PodState is the allocator-owned view of a pod. Persisted across restarts.
type PodState struct {
	Name                string    `json:"name"`
	Kind                string    `json:"kind"`
	Weight              float64   `json:"weight"`
	RollingPnL          float64   `json:"rolling_pnl"`
	PerformanceWindow   []float64 `json:"performance_window"`
	WarmupBarsRemaining int       `json:"warmup_bars_remaining"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// PodPerformance is what a pod exposes about itself.
type PodPerformance struct {
	Name           string  `json:"name"`
	BarsProcessed  int     `json:"bars_processed"`
	WarmupBars     int     `json:"warmup_bars"`
	SignalsEmitted int     `json:"signals_emitted"`
	TradesClosed   int     `json:"trades_closed"`
	Wins           int     `json:"wins"`
	TotalPnL       float64 `json:"total_pnl"`
}

// WarmedUp reports whether the pod has processed enough bars to emit.
func (p PodPerformance) WarmedUp() bool { return p.BarsProcessed >= p.WarmupBars }

// Prediction is a model service response.
type Prediction struct {
	Symbol     string                 `json:"symbol"`
	Value      float64                `json:"prediction"`
	Confidence float64                `json:"confidence"`
	ModelName  string                 `json:"model_name"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}
