package risk

import (
	"time"

	"AlphaDesk/internal/domain/models"
)

// CheckPosition decides whether a position should close. Stop-loss wins
// over take-profit, which wins over the holding limit. Records without
// prices never close.
func (m *Manager) CheckPosition(p *models.Position, now time.Time) models.CloseDecision {
	if p == nil || p.CurrentPrice <= 0 || p.EntryPrice <= 0 {
		return models.CloseDecision{}
	}
	cur := p.CurrentPrice

	if p.StopLoss > 0 {
		if (p.Side == models.SideBuy && cur <= p.StopLoss) || (p.Side == models.SideSell && cur >= p.StopLoss) {
			return models.CloseDecision{ShouldClose: true, Reason: models.CloseStopLoss}
		}
	}
	if p.TakeProfit > 0 {
		if (p.Side == models.SideBuy && cur >= p.TakeProfit) || (p.Side == models.SideSell && cur <= p.TakeProfit) {
			return models.CloseDecision{ShouldClose: true, Reason: models.CloseTakeProfit}
		}
	}
	if hold := m.Config().MaxHoldingPeriod; hold > 0 && !p.OpenedAt.IsZero() && now.Sub(p.OpenedAt) > hold {
		return models.CloseDecision{ShouldClose: true, Reason: models.CloseMaxHolding}
	}
	return models.CloseDecision{}
}

// ExitLevels returns stop-loss and take-profit prices for an entry. A zero
// percentage disables that level.
func (m *Manager) ExitLevels(side models.Side, entry float64) (stop, target float64) {
	cfg := m.Config()
	dir := 1.0
	if side == models.SideSell {
		dir = -1
	}
	if cfg.StopLossPct > 0 {
		stop = entry * (1 - dir*cfg.StopLossPct)
	}
	if cfg.TakeProfitPct > 0 {
		target = entry * (1 + dir*cfg.TakeProfitPct)
	}
	return stop, target
}
