package risk

import (
	"context"
	"errors"
	"fmt"
	"math"

	"AlphaDesk/internal/domain/models"
	"AlphaDesk/internal/services/features"
	"AlphaDesk/pkg/logger"
)

// ComputePortfolioRisk measures VaR over position-weighted returns and the
// drawdowns of the equity curve. VaR is scaled to the horizon by √h.
func (m *Manager) ComputePortfolioRisk(ctx context.Context) (models.PortfolioRisk, error) {
	cfg := m.Config()
	positions := m.book.Positions()
	value := m.book.Equity()

	pr := models.PortfolioRisk{
		Value:         value,
		Method:        cfg.VaRMethod,
		Confidence:    cfg.VaRConfidence,
		HorizonDays:   cfg.VaRHorizonDays,
		OpenPositions: len(positions),
		Timestamp:     m.now().UTC(),
	}
	pr.MaxDrawdown, pr.CurrentDrawdown = Drawdowns(m.book.EquityCurve())

	if len(positions) > 0 && value > 0 {
		series, exposure, err := m.portfolioReturns(ctx, positions, value, cfg.CorrelationWindow)
		if err != nil {
			return pr, err
		}
		pr.Exposure = exposure
		var frac float64
		if cfg.VaRMethod == models.VaRParametric {
			frac = ParametricVaR(series, cfg.VaRConfidence)
		} else {
			frac = HistoricalVaR(series, cfg.VaRConfidence)
		}
		pr.VaRFraction = frac * math.Sqrt(float64(cfg.VaRHorizonDays))
		pr.VaR = pr.VaRFraction * value
	}

	m.metrics.SetVaR(pr.VaRFraction)
	m.metrics.SetDrawdown(pr.CurrentDrawdown)
	return pr, nil
}

// portfolioReturns builds the return series of the book as it stands now:
// each bar's return is the sum of instrument returns weighted by signed
// notional over portfolio value. Series are aligned on their tails.
func (m *Manager) portfolioReturns(ctx context.Context, positions []models.Position, value float64, window int) ([]float64, float64, error) {
	weights := make(map[string]float64)
	var exposure float64
	for _, p := range positions {
		price := p.CurrentPrice
		if price <= 0 {
			price = p.EntryPrice
		}
		n := p.Size * price
		exposure += math.Abs(n)
		if p.Side == models.SideSell {
			n = -n
		}
		weights[p.Symbol] += n / value
	}

	rets := make(map[string][]float64, len(weights))
	n := -1
	for sym := range weights {
		r, err := m.returns(ctx, sym, window)
		if err != nil {
			return nil, exposure, fmt.Errorf("returns for %s: %w", sym, err)
		}
		rets[sym] = r
		if n < 0 || len(r) < n {
			n = len(r)
		}
	}
	if n < 2 {
		return nil, exposure, nil
	}

	series := make([]float64, n)
	for sym, w := range weights {
		r := rets[sym][len(rets[sym])-n:]
		for i := range series {
			series[i] += w * r[i]
		}
	}
	return series, exposure, nil
}

// HistoricalVaR is the loss at the (1-confidence) quantile of returns, as a
// positive fraction. Gains give 0.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return math.Max(0, -features.Quantile(returns, 1-confidence))
}

// ParametricVaR assumes normal returns: z·σ − μ, floored at 0.
func ParametricVaR(returns []float64, confidence float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	z := features.NormalQuantile(confidence)
	return math.Max(0, z*features.StdDev(returns)-features.Mean(returns))
}

// Drawdowns returns the largest and the current peak-to-trough decline of
// an equity curve as fractions of the peak.
func Drawdowns(curve []float64) (maxDD, current float64) {
	var peak float64
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
			current = dd
		}
	}
	return maxDD, current
}

// CheckPortfolioRisk computes portfolio risk, records any breach, and
// liquidates everything when VaR exceeds its limit. It returns
// ErrLiquidationIncomplete when positions survive liquidation.
func (m *Manager) CheckPortfolioRisk(ctx context.Context) (models.PortfolioRisk, error) {
	pr, err := m.ComputePortfolioRisk(ctx)
	if err != nil {
		m.metrics.RecordError("portfolio_risk")
		return pr, err
	}
	cfg := m.Config()

	m.dailyLossHit(ctx, cfg, pr.Timestamp)
	m.checkDrawdown(ctx, cfg, pr.CurrentDrawdown)

	if pr.VaRFraction <= cfg.VaRLimit {
		return pr, nil
	}
	m.RecordViolation(ctx, models.RiskViolation{
		Type:     models.ViolationVaR,
		Severity: models.SeverityCritical,
		Message:  fmt.Sprintf("%s VaR %.2f%% at %.0f%% over %dd exceeds limit", pr.Method, pr.VaRFraction*100, pr.Confidence*100, pr.HorizonDays),
		Value:    pr.VaRFraction,
		Limit:    cfg.VaRLimit,
	})
	if err := m.Liquidate(ctx, models.CloseLiquidation); err != nil {
		return pr, err
	}
	pr.OpenPositions = m.book.OpenCount()
	return pr, nil
}

// checkDrawdown records a violation when the current drawdown crosses its
// limit. It fires again only after the curve has recovered below the limit.
func (m *Manager) checkDrawdown(ctx context.Context, cfg models.RiskConfig, dd float64) {
	m.mu.Lock()
	crossed := dd > cfg.MaxDrawdown && !m.inDD
	m.inDD = dd > cfg.MaxDrawdown
	m.mu.Unlock()
	if !crossed {
		return
	}
	m.RecordViolation(ctx, models.RiskViolation{
		Type:     models.ViolationDrawdown,
		Severity: models.SeverityHigh,
		Message:  fmt.Sprintf("equity %.2f%% below its peak", dd*100),
		Value:    dd,
		Limit:    cfg.MaxDrawdown,
	})
}

// Liquidate closes every open position through the liquidator and checks
// that none are left. Leftovers are a critical violation and an error the
// caller must treat as fatal.
func (m *Manager) Liquidate(ctx context.Context, reason string) error {
	m.mu.RLock()
	liq := m.liquidator
	m.mu.RUnlock()
	if liq == nil {
		return ErrNoLiquidator
	}

	closed, lerr := liq.LiquidateAll(ctx, reason)
	remaining := m.book.OpenCount()
	total := closed + remaining

	m.RecordViolation(ctx, models.RiskViolation{
		Type:     models.ViolationLiquidation,
		Severity: models.SeverityHigh,
		Message:  fmt.Sprintf("liquidation (%s): closed %d of %d positions", reason, closed, total),
		Value:    float64(closed),
		Limit:    float64(total),
	})
	if remaining == 0 {
		if lerr != nil {
			m.log.Warn("liquidation reported errors but book is flat", logger.Error(lerr))
		}
		return nil
	}

	m.RecordViolation(ctx, models.RiskViolation{
		Type:     models.ViolationLiquidationIncomplete,
		Severity: models.SeverityCritical,
		Message:  fmt.Sprintf("%d positions still open after liquidation", remaining),
		Value:    float64(remaining),
	})
	return errors.Join(fmt.Errorf("%w: %d remaining", ErrLiquidationIncomplete, remaining), lerr)
}
