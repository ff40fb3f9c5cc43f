package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"AlphaDesk/internal/domain/models"
	"AlphaDesk/internal/services/features"
	"AlphaDesk/pkg/logger"
)

// ValidateSignal approves or rejects a signal. Checks run in a fixed order
// and the first failure wins: trading allowed (blackouts, weekend, daily
// loss halt), confidence, correlation, volatility, capacity. Rejection is a
// value, not an error.
func (m *Manager) ValidateSignal(ctx context.Context, sig *models.TradeSignal) models.ValidationResult {
	res := m.validate(ctx, sig)
	if !res.Approved {
		m.metrics.RecordSignalRejected(res.Reason)
		sym := ""
		if sig != nil {
			sym = sig.Symbol
		}
		m.log.Debug("signal rejected", logger.String("symbol", sym), logger.String("reason", res.Reason))
	}
	return res
}

func (m *Manager) validate(ctx context.Context, sig *models.TradeSignal) models.ValidationResult {
	if sig == nil || sig.Symbol == "" || (sig.Side != models.SideBuy && sig.Side != models.SideSell) {
		return models.Reject(models.ReasonInvalidSignal)
	}
	cfg := m.Config()
	now := m.now().UTC()

	if m.inBlackout(sig.Symbol, now) {
		return models.Reject(models.ReasonBlackout)
	}
	if cfg.WeekendCheck && inWeekend(now, cfg) {
		return models.Reject(models.ReasonWeekend)
	}
	if m.dailyLossHit(ctx, cfg, now) {
		return models.Reject(models.ReasonDailyLoss)
	}

	if sig.Confidence < cfg.ConfidenceThreshold {
		return models.Reject(models.ReasonConfidence)
	}

	exposure := m.exposure()
	for _, e := range exposure {
		if e.side != sig.Side {
			continue
		}
		if c := m.Correlation(ctx, sig.Symbol, e.symbol, cfg.CorrelationWindow); c > cfg.CorrelationLimit {
			m.RecordViolation(ctx, models.RiskViolation{
				Type:     models.ViolationCorrelation,
				Severity: models.SeverityMedium,
				Message:  fmt.Sprintf("%s %s correlates %.2f with open %s", sig.Side, sig.Symbol, c, e.symbol),
				Value:    c,
				Limit:    cfg.CorrelationLimit,
				Symbol:   sig.Symbol,
			})
			return models.Reject(models.ReasonCorrelation)
		}
	}

	if v := m.Volatility(ctx, sig.Symbol, cfg.VolatilityWindow); v > cfg.VolatilityLimit {
		m.RecordViolation(ctx, models.RiskViolation{
			Type:     models.ViolationVolatility,
			Severity: models.SeverityMedium,
			Message:  fmt.Sprintf("%s volatility %.4f over %d bars", sig.Symbol, v, cfg.VolatilityWindow),
			Value:    v,
			Limit:    cfg.VolatilityLimit,
			Symbol:   sig.Symbol,
		})
		return models.Reject(models.ReasonVolatility)
	}

	if len(exposure) >= cfg.MaxPositions {
		m.RecordViolation(ctx, models.RiskViolation{
			Type:     models.ViolationMaxPositions,
			Severity: models.SeverityLow,
			Message:  fmt.Sprintf("%d positions and pending entries at capacity", len(exposure)),
			Value:    float64(len(exposure)),
			Limit:    float64(cfg.MaxPositions),
			Symbol:   sig.Symbol,
		})
		return models.Reject(models.ReasonMaxPositions)
	}
	return models.Approve()
}

type leg struct {
	symbol string
	side   models.Side
}

// exposure lists open positions and pending entry orders.
func (m *Manager) exposure() []leg {
	var out []leg
	for _, p := range m.book.Positions() {
		out = append(out, leg{symbol: p.Symbol, side: p.Side})
	}
	for _, o := range m.book.PendingOrders() {
		if o.LinkedPositionID != "" {
			continue
		}
		out = append(out, leg{symbol: o.Symbol, side: o.Side})
	}
	return out
}

// Correlation is the Pearson correlation of trailing simple returns. Missing
// or short history yields 0.
func (m *Manager) Correlation(ctx context.Context, a, b string, window int) float64 {
	ra, err := m.returns(ctx, a, window)
	if err != nil {
		return 0
	}
	if a == b {
		if len(ra) < 3 {
			return 0
		}
		return 1
	}
	rb, err := m.returns(ctx, b, window)
	if err != nil {
		return 0
	}
	return features.Pearson(ra, rb)
}

// Volatility is the sample standard deviation of trailing simple returns.
// Missing history yields 0.
func (m *Manager) Volatility(ctx context.Context, symbol string, window int) float64 {
	r, err := m.returns(ctx, symbol, window)
	if err != nil || len(r) < 2 {
		return 0
	}
	return features.StdDev(r)
}

func (m *Manager) returns(ctx context.Context, symbol string, window int) ([]float64, error) {
	if m.market == nil {
		return nil, fmt.Errorf("no market data")
	}
	candles, err := m.market.GetHistory(ctx, symbol, window+1)
	if err != nil {
		m.log.Debug("history unavailable", logger.String("symbol", symbol), logger.Error(err))
		return nil, err
	}
	r := features.SimpleReturns(models.Closes(candles))
	for _, v := range r {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("bad history for %s", symbol)
		}
	}
	if len(r) > window {
		r = r[len(r)-window:]
	}
	return r, nil
}

// dailyLossHit reports whether today's loss reached the daily limit and
// records the first breach of each UTC day.
func (m *Manager) dailyLossHit(ctx context.Context, cfg models.RiskConfig, now time.Time) bool {
	pnl, start := m.book.DailyPnL()
	if start <= 0 || pnl > -cfg.MaxDailyLoss*start {
		return false
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	m.mu.Lock()
	first := !m.lossDay.Equal(day)
	m.lossDay = day
	m.mu.Unlock()
	if first {
		m.RecordViolation(ctx, models.RiskViolation{
			Type:     models.ViolationDailyLoss,
			Severity: models.SeverityHigh,
			Message:  "daily loss limit reached, new signals halted",
			Value:    -pnl / start,
			Limit:    cfg.MaxDailyLoss,
		})
	}
	return true
}

// inWeekend reports whether now falls in the configured weekly closed
// window. Start is inclusive, end exclusive, and the window may wrap
// around Sunday.
func inWeekend(now time.Time, cfg models.RiskConfig) bool {
	now = now.UTC()
	minute := func(d time.Weekday, h, mm int) int { return int(d)*24*60 + h*60 + mm }
	cur := minute(now.Weekday(), now.Hour(), now.Minute())
	start := minute(cfg.WeekendStartDay, cfg.WeekendStartHour, 0)
	end := minute(cfg.WeekendEndDay, cfg.WeekendEndHour, 0)
	switch {
	case start == end:
		return false
	case start < end:
		return cur >= start && cur < end
	default:
		return cur >= start || cur < end
	}
}

// Currencies splits a symbol into the currencies a blackout can name.
// "EURUSD", "EUR/USD" and "OANDA:EUR_USD" all give [EUR USD]; anything
// that is not a six-letter pair is returned whole.
func Currencies(symbol string) []string {
	if i := strings.LastIndex(symbol, ":"); i >= 0 {
		symbol = symbol[i+1:]
	}
	letters := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToUpper(r)
		}
		return -1
	}, symbol)
	if len(letters) == 6 {
		return []string{letters[:3], letters[3:]}
	}
	return []string{strings.ToUpper(symbol)}
}
