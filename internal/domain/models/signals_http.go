package models

import "time"

// Requests and responses for the ops HTTP endpoints.

type AlphaRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required"`
	// Execute routes an actionable result through risk to execution.
	Execute bool `json:"execute"`
}

type AlphaResponse struct {
	Symbol     string       `json:"symbol"`
	Actionable bool         `json:"actionable"`
	Queued     bool         `json:"queued"`
	Result     *AlphaResult `json:"result,omitempty"`
}

type ValidateSignalRequest struct {
	Symbol     string  `json:"symbol" validate:"required"`
	Side       Side    `json:"side" validate:"required,oneof=buy sell"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	Strength   float64 `json:"strength" default:"1" validate:"gte=0,lte=1"`
	Price      float64 `json:"price" validate:"gte=0"`
	Strategy   string  `json:"strategy" default:"manual"`
}

// Signal builds the trade signal the request describes.
func (r ValidateSignalRequest) Signal(id string, now time.Time) *TradeSignal {
	return &TradeSignal{
		ID:         id,
		Symbol:     r.Symbol,
		Side:       r.Side,
		Strength:   r.Strength,
		Confidence: r.Confidence,
		Price:      r.Price,
		Strategy:   r.Strategy,
		CreatedAt:  now,
	}
}

type SubmitSignalRequest struct {
	ID string `json:"id"`
	ValidateSignalRequest
}

type SizeResponse struct {
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	Notional float64 `json:"notional"`
}

type SubmitResponse struct {
	SignalID   string           `json:"signal_id"`
	Validation ValidationResult `json:"validation"`
}

type SetModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=paper live"`
}

type ViolationsRequest struct {
	From  string `query:"from"`
	To    string `query:"to"`
	Limit int    `query:"limit" default:"100" validate:"gte=1,lte=5000"`
}

type CandlesRequest struct {
	Symbol string `param:"symbol" validate:"required"`
	TF     string `query:"tf" default:"1m" validate:"oneof=1s 1m 5m"`
	From   string `query:"from"`
	To     string `query:"to"`
	Limit  int    `query:"limit" default:"500" validate:"gte=1,lte=50000"`
}

type ClosePositionRequest struct {
	ID string `param:"id" validate:"required"`
}
