package risk

import (
	"math"

	"AlphaDesk/internal/domain/models"
)

const (
	defaultPayoffRatio = 1.5
	minTradesForPayoff = 10
)

type tradeStats struct {
	wins, losses int
	winSum       float64
	lossSum      float64
}

// payoff is average win over average loss, or false when history is thin.
func (s *tradeStats) payoff() (float64, bool) {
	if s == nil || s.wins+s.losses < minTradesForPayoff || s.wins == 0 || s.losses == 0 {
		return 0, false
	}
	avgWin := s.winSum / float64(s.wins)
	avgLoss := s.lossSum / float64(s.losses)
	if avgLoss <= 0 {
		return 0, false
	}
	return avgWin / avgLoss, true
}

// RecordTradeOutcome feeds a closed trade into the strategy's payoff history.
func (m *Manager) RecordTradeOutcome(t models.TradeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[t.Strategy]
	if !ok {
		s = &tradeStats{}
		m.stats[t.Strategy] = s
	}
	switch {
	case t.PnL > 0:
		s.wins++
		s.winSum += t.PnL
	case t.PnL < 0:
		s.losses++
		s.lossSum -= t.PnL
	}
}

// PayoffRatio returns the strategy's trailing win/loss ratio, or 1.5 when
// there are fewer than ten decided trades or no wins or no losses.
func (m *Manager) PayoffRatio(strategy string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.stats[strategy].payoff(); ok {
		return b
	}
	return defaultPayoffRatio
}

// KellyFraction is the capped Kelly fraction of equity for confidence c:
// (c - (1-c)/b), floored at 0, scaled by c, capped at maxKellySize.
func KellyFraction(c, payoff, maxKelly float64) float64 {
	if c <= 0 || payoff <= 0 || math.IsNaN(c) {
		return 0
	}
	c = math.Min(c, 1)
	f := c - (1-c)/payoff
	if f < 0 {
		f = 0
	}
	return math.Min(f*c, maxKelly)
}

// CalculatePositionSize returns the order size in instrument units. It
// never exceeds equity·maxKellySize, and equity·maxRiskPerTrade in notional.
func (m *Manager) CalculatePositionSize(sig *models.TradeSignal) float64 {
	if sig == nil || sig.Price <= 0 {
		return 0
	}
	cfg := m.Config()
	equity := m.book.Equity()
	if equity <= 0 {
		return 0
	}

	f := KellyFraction(sig.Confidence, m.PayoffRatio(sig.Strategy), cfg.MaxKellySize)
	size := f * equity / sig.Price
	size = math.Min(size, equity*cfg.MaxRiskPerTrade/sig.Price)
	size = math.Min(size, equity*cfg.MaxKellySize)
	if size < 0 || math.IsNaN(size) {
		return 0
	}
	return size
}
