package models

import "time"

// Side is the direction of a signal, order or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side that closes exposure opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SideFromValue maps a signed signal value to a side. Zero maps to "".
func SideFromValue(v float64) Side {
	switch {
	case v > 0:
		return SideBuy
	case v < 0:
		return SideSell
	default:
		return ""
	}
}

// Signal is a single pod's opinion on a symbol. Immutable once emitted.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Value      float64   `json:"value"`      // [-1, 1]
	Confidence float64   `json:"confidence"` // [0, 1]
	Volatility float64   `json:"volatility"`
	Timestamp  time.Time `json:"timestamp"`
	SourcePod  string    `json:"source_pod"`
}

// AlphaResult is the blended, shaped output of the alpha engine.
type AlphaResult struct {
	Symbol      string             `json:"symbol"`
	Signal      float64            `json:"signal"`
	Confidence  float64            `json:"confidence"`
	Volatility  float64            `json:"volatility"`
	Attribution map[string]float64 `json:"attribution"`
	PodSignals  []Signal           `json:"pod_signals"`
	Weights     map[string]float64 `json:"weights"`
	Timestamp   time.Time          `json:"timestamp"`
}

// TradeSignal is the actionable form of an alpha result handed to risk and execution.
// ID doubles as the order link id and makes submission idempotent.
type TradeSignal struct {
	ID          string             `json:"id"`
	Symbol      string             `json:"symbol"`
	Side        Side               `json:"side"`
	Strength    float64            `json:"strength"`
	Confidence  float64            `json:"confidence"`
	Price       float64            `json:"price"`
	Volatility  float64            `json:"volatility"`
	Strategy    string             `json:"strategy"`
	Attribution map[string]float64 `json:"attribution,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// NewTradeSignal converts an alpha result into a trade signal priced at price.
func NewTradeSignal(id string, res *AlphaResult, price float64) *TradeSignal {
	strength := res.Signal
	if strength < 0 {
		strength = -strength
	}
	attr := make(map[string]float64, len(res.Attribution))
	for k, v := range res.Attribution {
		attr[k] = v
	}
	return &TradeSignal{
		ID:          id,
		Symbol:      res.Symbol,
		Side:        SideFromValue(res.Signal),
		Strength:    strength,
		Confidence:  res.Confidence,
		Price:       price,
		Volatility:  res.Volatility,
		Strategy:    "ensemble",
		Attribution: attr,
		CreatedAt:   res.Timestamp,
	}
}
