package models

import (
	"strings"
	"time"
)

// VaR methods.
const (
	VaRHistorical = "historical"
	VaRParametric = "parametric"
)

// RiskConfig holds every limit read by the validation paths.
type RiskConfig struct {
	MaxPositions        int           `json:"max_positions" yaml:"max_positions" default:"5" validate:"gte=1,lte=1000"`
	MaxRiskPerTrade     float64       `json:"max_risk_per_trade" yaml:"max_risk_per_trade" default:"0.02" validate:"gt=0,lte=1"`
	MaxDailyLoss        float64       `json:"max_daily_loss" yaml:"max_daily_loss" default:"0.05" validate:"gt=0,lte=1"`
	MaxKellySize        float64       `json:"max_kelly_size" yaml:"max_kelly_size" default:"0.1" validate:"gt=0,lte=1"`
	ConfidenceThreshold float64       `json:"confidence_threshold" yaml:"confidence_threshold" default:"0.6" validate:"gte=0,lte=1"`
	CorrelationLimit    float64       `json:"correlation_limit" yaml:"correlation_limit" default:"0.7" validate:"gt=0,lte=1"`
	VolatilityLimit     float64       `json:"volatility_limit" yaml:"volatility_limit" default:"0.05" validate:"gt=0"`
	MaxHoldingPeriod    time.Duration `json:"max_holding_period" yaml:"max_holding_period" default:"24h" validate:"gte=0"`
	MaxDrawdown         float64       `json:"max_drawdown" yaml:"max_drawdown" default:"0.2" validate:"gt=0,lte=1"`

	StopLossPct    float64 `json:"stop_loss_pct" yaml:"stop_loss_pct" default:"0.02" validate:"gte=0,lt=1"`
	TakeProfitPct  float64 `json:"take_profit_pct" yaml:"take_profit_pct" default:"0.05" validate:"gte=0"`
	VaRLimit       float64 `json:"var_limit" yaml:"var_limit" default:"0.05" validate:"gt=0,lte=1"`
	VaRConfidence  float64 `json:"var_confidence" yaml:"var_confidence" default:"0.95" validate:"gt=0.5,lt=1"`
	VaRHorizonDays int     `json:"var_horizon_days" yaml:"var_horizon_days" default:"1" validate:"gte=1,lte=30"`
	VaRMethod      string  `json:"var_method" yaml:"var_method" default:"historical" validate:"oneof=historical parametric"`

	CorrelationWindow int `json:"correlation_window" yaml:"correlation_window" default:"50" validate:"gte=3"`
	VolatilityWindow  int `json:"volatility_window" yaml:"volatility_window" default:"20" validate:"gte=2"`

	// Weekend window in UTC. Start is inclusive, end exclusive.
	WeekendCheck     bool         `json:"weekend_check" yaml:"weekend_check" default:"true"`
	WeekendStartDay  time.Weekday `json:"weekend_start_day" yaml:"weekend_start_day" default:"5" validate:"gte=0,lte=6"`
	WeekendStartHour int          `json:"weekend_start_hour" yaml:"weekend_start_hour" default:"22" validate:"gte=0,lte=23"`
	WeekendEndDay    time.Weekday `json:"weekend_end_day" yaml:"weekend_end_day" default:"1" validate:"gte=0,lte=6"`
	WeekendEndHour   int          `json:"weekend_end_hour" yaml:"weekend_end_hour" default:"0" validate:"gte=0,lte=23"`
}

// Violation types.
const (
	ViolationVaR                   = "var_limit"
	ViolationDailyLoss             = "daily_loss"
	ViolationDrawdown              = "drawdown"
	ViolationOrderRejected         = "order_rejected"
	ViolationLiquidation           = "auto_liquidation"
	ViolationLiquidationIncomplete = "liquidation_incomplete"
	ViolationMaxPositions          = "max_positions"
	ViolationCorrelation           = "correlation_limit"
	ViolationVolatility            = "volatility_limit"
)

// Severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// RiskViolation is an append-only audit record.
type RiskViolation struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	Value      float64   `json:"value"`
	Limit      float64   `json:"limit"`
	Symbol     string    `json:"symbol,omitempty"`
	PositionID string    `json:"position_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// BlackoutPeriod blocks new signals on the listed currencies while active.
type BlackoutPeriod struct {
	Event      string    `json:"event" validate:"required"`
	Start      time.Time `json:"start" validate:"required"`
	End        time.Time `json:"end" validate:"required,gtfield=Start"`
	Currencies []string  `json:"currencies" validate:"required,min=1,dive,len=3"`
}

// Active reports whether now falls within [Start, End].
func (b BlackoutPeriod) Active(now time.Time) bool {
	return !now.Before(b.Start) && !now.After(b.End)
}

// Expired reports whether the blackout ended before now.
func (b BlackoutPeriod) Expired(now time.Time) bool { return now.After(b.End) }

// Covers reports whether any of the currencies is listed by the blackout.
func (b BlackoutPeriod) Covers(currencies []string) bool {
	for _, c := range currencies {
		for _, bc := range b.Currencies {
			if strings.EqualFold(c, bc) {
				return true
			}
		}
	}
	return false
}

// Rejection reasons returned by signal validation.
const (
	ReasonBlackout      = "blackout_period"
	ReasonWeekend       = "outside_trading_hours"
	ReasonDailyLoss     = "daily_loss_limit"
	ReasonConfidence    = "confidence_below_threshold"
	ReasonCorrelation   = "correlation_limit"
	ReasonVolatility    = "volatility_limit"
	ReasonMaxPositions  = "max_positions"
	ReasonInvalidSignal = "invalid_signal"
)

// ValidationResult is the outcome of signal validation.
type ValidationResult struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// Approve returns an approved result.
func Approve() ValidationResult { return ValidationResult{Approved: true} }

// Reject returns a rejection with reason.
func Reject(reason string) ValidationResult { return ValidationResult{Reason: reason} }

// Close reasons.
const (
	CloseStopLoss      = "stop_loss"
	CloseTakeProfit    = "take_profit"
	CloseMaxHolding    = "max_holding_period"
	CloseManual        = "manual"
	CloseLiquidation   = "auto_liquidation"
	CloseEmergencyStop = "emergency_stop"
)

// CloseDecision is the outcome of a position check.
type CloseDecision struct {
	ShouldClose bool   `json:"should_close"`
	Reason      string `json:"reason"`
}

// PortfolioRisk is a snapshot of portfolio level risk.
type PortfolioRisk struct {
	Value           float64   `json:"value"`
	Exposure        float64   `json:"exposure"`
	VaR             float64   `json:"var"`
	VaRFraction     float64   `json:"var_fraction"`
	Method          string    `json:"method"`
	Confidence      float64   `json:"confidence"`
	HorizonDays     int       `json:"horizon_days"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	CurrentDrawdown float64   `json:"current_drawdown"`
	OpenPositions   int       `json:"open_positions"`
	Timestamp       time.Time `json:"timestamp"`
}
