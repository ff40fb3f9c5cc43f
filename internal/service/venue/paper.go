// Package venue holds the order venues the execution engine can route to.
package venue

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
)

// Paper rejection reasons.
const (
	ReasonNoPrice       = "no_price"
	ReasonInvalidQty    = "invalid_qty"
	ReasonNotMarketable = "limit_not_marketable"
)

// Paper fills market orders immediately at the last observed quote: buys
// at the ask, sells at the bid, and at the last trade when the book is
// one-sided. It never invents a price.
type Paper struct {
	mu     sync.RWMutex
	quotes map[string]models.Tick
	newID  func() string
}

var _ domrepo.OrderVenue = (*Paper)(nil)

func NewPaper() *Paper {
	return &Paper{quotes: make(map[string]models.Tick), newID: uuid.NewString}
}

func (p *Paper) Name() string { return models.ModePaper }

// Observe records the latest quote for a symbol.
func (p *Paper) Observe(t *models.Tick) {
	if t == nil || t.Price() <= 0 {
		return
	}
	p.mu.Lock()
	p.quotes[t.Symbol] = *t
	p.mu.Unlock()
}

// Quote returns the last observed tick for symbol.
func (p *Paper) Quote(symbol string) (models.Tick, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[symbol]
	return q, ok
}

func (p *Paper) SubmitOrder(ctx context.Context, req domrepo.OrderRequest) (domrepo.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return domrepo.OrderAck{}, err
	}
	ack := domrepo.OrderAck{OrderID: p.newID()}
	if req.Qty <= 0 {
		ack.Status, ack.Reason = models.OrderRejected, ReasonInvalidQty
		return ack, nil
	}
	q, ok := p.Quote(req.Symbol)
	if !ok {
		ack.Status, ack.Reason = models.OrderRejected, ReasonNoPrice
		return ack, nil
	}

	px := fillPrice(q, req.Side)
	if req.Type == models.OrderTypeLimit && req.Price != nil {
		limit := *req.Price
		if (req.Side == models.SideBuy && px > limit) || (req.Side == models.SideSell && px < limit) {
			ack.Status, ack.Reason = models.OrderRejected, ReasonNotMarketable
			return ack, nil
		}
	}
	ack.Status = models.OrderFilled
	ack.FillPrice = px
	ack.FilledQty = req.Qty
	return ack, nil
}

// CancelOrder is a no-op: paper orders are filled or rejected on submit.
func (p *Paper) CancelOrder(context.Context, string) error { return nil }

func fillPrice(q models.Tick, side models.Side) float64 {
	switch {
	case side == models.SideBuy && q.Ask > 0:
		return q.Ask
	case side == models.SideSell && q.Bid > 0:
		return q.Bid
	}
	return q.Price()
}
