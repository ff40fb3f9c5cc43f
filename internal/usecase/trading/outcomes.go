package trading

import (
	"AlphaDesk/internal/domain/models"
	domsvc "AlphaDesk/internal/domain/service"
	"AlphaDesk/internal/usecase/execution"
)

// Attributor spreads realized PnL over the pods that produced a trade.
type Attributor interface {
	RecordOutcome(attribution map[string]float64, pnl float64) map[string]float64
}

// TradeRecorder feeds closed trades into sizing statistics.
type TradeRecorder interface {
	RecordTradeOutcome(t models.TradeRecord)
}

// OutcomeListener closes the learning loop: each closed trade updates the
// allocator's performance windows, the pods' own counters and the payoff
// statistics used for Kelly sizing.
func OutcomeListener(alloc Attributor, rec TradeRecorder, pods []domsvc.Pod) execution.TradeListener {
	byName := make(map[string]domsvc.Pod, len(pods))
	for _, p := range pods {
		byName[p.Name()] = p
	}
	return func(t models.TradeRecord) {
		rec.RecordTradeOutcome(t)
		for name, share := range alloc.RecordOutcome(t.Attribution, t.PnL) {
			if p, ok := byName[name]; ok {
				p.RecordOutcome(share)
			}
		}
	}
}
