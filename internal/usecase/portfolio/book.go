// Package portfolio holds the book of positions, orders and cash. It is the
// single writer for position state; every read-decide-write runs under its
// lock.
package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"AlphaDesk/internal/domain/models"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionClosing  = errors.New("position already closing")
	ErrOrderNotFound    = errors.New("order not found")
)

const (
	maxCurvePoints = 10000
	maxTrades      = 1000

	// LinkRetention is how long a signal id stays claimed once nothing live
	// hangs off it. Resubmitting an id inside the window is a duplicate.
	LinkRetention = 24 * time.Hour
	maxLinks      = 50000

	restoredPrefix = "restored:"
)

// link ties a signal id to the order it produced. orderID is empty while
// the signal is only reserved; restored positions use "restored:<id>".
type link struct {
	orderID string
	at      time.Time
}

// Book tracks open exposure and the cash it was funded from. Buying debits
// cash and closing a long credits it; shorts mirror that.
type Book struct {
	mu sync.Mutex

	cash      decimal.Decimal
	positions map[string]*models.Position
	orders    map[string]*models.Order
	links     map[string]link
	trades    []models.TradeRecord
	perf      models.Performance
	curve     []float64

	day            time.Time
	dayStartEquity float64
	now            func() time.Time
}

type Option func(*Book)

func WithClock(now func() time.Time) Option { return func(b *Book) { b.now = now } }

func NewBook(initialCash float64, opts ...Option) *Book {
	b := &Book{
		cash:      decimal.NewFromFloat(initialCash),
		positions: make(map[string]*models.Position),
		orders:    make(map[string]*models.Order),
		links:     make(map[string]link),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.curve = append(b.curve, initialCash)
	b.day = dayOf(b.now())
	b.dayStartEquity = initialCash
	return b
}

// Reserve claims a signal id. It reports false when the id was seen before.
func (b *Book) Reserve(linkID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.links[linkID]; ok {
		return false
	}
	if len(b.links) >= maxLinks {
		b.pruneLinksLocked()
	}
	b.links[linkID] = link{at: b.now()}
	return true
}

// Release forgets a reservation that never produced an order.
func (b *Book) Release(linkID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.links[linkID]; ok && l.orderID == "" {
		delete(b.links, linkID)
	}
}

// HasOrderFor reports whether an order was already created for linkID.
func (b *Book) HasOrderFor(linkID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.links[linkID].orderID != ""
}

// Links is the number of signal ids currently claimed.
func (b *Book) Links() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.links)
}

// PruneLinks drops claims older than LinkRetention that nothing live
// depends on, together with their terminal orders. It returns how many
// claims were dropped.
func (b *Book) PruneLinks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pruneLinksLocked()
}

func (b *Book) pruneLinksLocked() int {
	cutoff := b.now().Add(-LinkRetention)
	n := 0
	for id, l := range b.links {
		if l.at.After(cutoff) || b.liveLocked(l.orderID) {
			continue
		}
		delete(b.links, id)
		if o, ok := b.orders[l.orderID]; ok && o.Status.Terminal() {
			delete(b.orders, l.orderID)
		}
		n++
	}
	return n
}

// liveLocked reports whether a link target still matters: a pending order
// or a restored position that is still on the book.
func (b *Book) liveLocked(target string) bool {
	if target == "" {
		return false
	}
	if pid, ok := strings.CutPrefix(target, restoredPrefix); ok {
		_, open := b.positions[pid]
		return open
	}
	o, ok := b.orders[target]
	return ok && !o.Status.Terminal()
}

// AddOrder records a new order against its link id.
func (b *Book) AddOrder(o *models.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *o
	b.orders[o.ID] = &cp
	if o.LinkID != "" {
		b.links[o.LinkID] = link{orderID: o.ID, at: b.now()}
	}
}

// UpdateOrder replaces a known order.
func (b *Book) UpdateOrder(o *models.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.orders[o.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, o.ID)
	}
	cp := *o
	b.orders[o.ID] = &cp
	return nil
}

// PendingOrders lists orders that are not yet terminal.
func (b *Book) PendingOrders() []models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Order
	for _, o := range b.orders {
		if !o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Open books a filled entry order and its position in one step.
func (b *Book) Open(pos *models.Position, fill *models.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.positions[pos.ID]; exists {
		return fmt.Errorf("position %s already open", pos.ID)
	}
	cp := *pos
	b.positions[pos.ID] = &cp
	if fill != nil {
		o := *fill
		b.orders[o.ID] = &o
		if o.LinkID != "" {
			b.links[o.LinkID] = link{orderID: o.ID, at: b.now()}
		}
	}
	b.cash = b.cash.Sub(signedNotional(pos.Side, pos.Size, pos.EntryPrice))
	return nil
}

// Restore reinstates persisted positions as if they had just been opened.
func (b *Book) Restore(positions []*models.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range positions {
		if p == nil || p.Status == models.PositionClosed {
			continue
		}
		if _, ok := b.positions[p.ID]; ok {
			continue
		}
		cp := *p
		cp.Status = models.PositionOpen
		b.positions[p.ID] = &cp
		b.cash = b.cash.Sub(signedNotional(p.Side, p.Size, p.EntryPrice))
		if p.SignalID != "" {
			b.links[p.SignalID] = link{orderID: restoredPrefix + p.ID, at: b.now()}
		}
	}
}

// Mark reprices every position on symbol and returns copies of those still open.
func (b *Book) Mark(symbol string, price float64) []models.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Position
	for _, p := range b.positions {
		if p.Symbol != symbol {
			continue
		}
		p.Mark(price)
		if p.Status == models.PositionOpen {
			out = append(out, *p)
		}
	}
	return out
}

// BeginClose moves an open position to closing. A position can only be
// claimed once, so concurrent close triggers cannot both act on it.
func (b *Book) BeginClose(id string) (models.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[id]
	if !ok {
		return models.Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if p.Status != models.PositionOpen {
		return *p, fmt.Errorf("%w: %s", ErrPositionClosing, id)
	}
	p.Status = models.PositionClosing
	return *p, nil
}

// AbortClose returns a closing position to open after a failed exit.
func (b *Book) AbortClose(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[id]; ok && p.Status == models.PositionClosing {
		p.Status = models.PositionOpen
	}
}

// Close removes the position at exitPrice, credits cash and updates
// performance. Performance only ever changes here.
func (b *Book) Close(id string, exitPrice float64, reason string) (models.TradeRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[id]
	if !ok {
		return models.TradeRecord{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if exitPrice <= 0 {
		exitPrice = p.CurrentPrice
	}
	p.Mark(exitPrice)
	p.Status = models.PositionClosed
	delete(b.positions, id)

	b.cash = b.cash.Add(signedNotional(p.Side, p.Size, exitPrice))

	pnl := realizedPnL(p.Side, p.Size, p.EntryPrice, exitPrice)
	t := models.TradeRecord{
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		Size:        p.Size,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exitPrice,
		PnL:         pnl,
		PnLPercent:  p.PnLPercent,
		Reason:      reason,
		Strategy:    p.Strategy,
		Attribution: p.Attribution,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    b.now().UTC(),
	}
	b.trades = append(b.trades, t)
	if len(b.trades) > maxTrades {
		b.trades = append([]models.TradeRecord(nil), b.trades[len(b.trades)-maxTrades:]...)
	}

	b.perf.TotalTrades++
	if pnl > 0 {
		b.perf.WinningTrades++
	}
	b.perf.TotalPnL += pnl
	if b.perf.TotalPnL > b.perf.PeakPnL {
		b.perf.PeakPnL = b.perf.TotalPnL
	}
	if dd := b.perf.PeakPnL - b.perf.TotalPnL; dd > b.perf.MaxDrawdown {
		b.perf.MaxDrawdown = dd
	}
	b.recordEquityLocked()
	return t, nil
}

// Get returns a copy of a position.
func (b *Book) Get(id string) (models.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// Positions returns copies of every open or closing position, oldest first.
func (b *Book) Positions() []models.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// OpenCount counts positions with size still on.
func (b *Book) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.positions {
		if p.Size > 0 {
			n++
		}
	}
	return n
}

func (b *Book) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, _ := b.cash.Float64()
	return f
}

// Equity is cash plus the marked value of open positions.
func (b *Book) Equity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.equityLocked()
}

func (b *Book) Performance() models.Performance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.perf
}

// Trades returns up to n most recent closed trades, newest last.
func (b *Book) Trades(n int) []models.TradeRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.trades) {
		n = len(b.trades)
	}
	return append([]models.TradeRecord(nil), b.trades[len(b.trades)-n:]...)
}

// RecordEquity appends the current equity to the curve and ages out stale
// signal claims.
func (b *Book) RecordEquity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLinksLocked()
	return b.recordEquityLocked()
}

func (b *Book) EquityCurve() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float64(nil), b.curve...)
}

// DailyPnL is equity change since the first observation of the current UTC
// day, and the equity the day started with.
func (b *Book) DailyPnL() (pnl, startEquity float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	eq := b.equityLocked()
	b.rollDayLocked(eq)
	return eq - b.dayStartEquity, b.dayStartEquity
}

func (b *Book) recordEquityLocked() float64 {
	eq := b.equityLocked()
	b.rollDayLocked(eq)
	b.curve = append(b.curve, eq)
	if len(b.curve) > maxCurvePoints {
		b.curve = append([]float64(nil), b.curve[len(b.curve)-maxCurvePoints:]...)
	}
	return eq
}

func (b *Book) rollDayLocked(eq float64) {
	if d := dayOf(b.now()); d.After(b.day) {
		b.day = d
		b.dayStartEquity = eq
	}
}

func (b *Book) equityLocked() float64 {
	eq := b.cash
	for _, p := range b.positions {
		price := p.CurrentPrice
		if price <= 0 {
			price = p.EntryPrice
		}
		eq = eq.Add(signedNotional(p.Side, p.Size, price))
	}
	f, _ := eq.Float64()
	return f
}

func signedNotional(side models.Side, size, price float64) decimal.Decimal {
	n := decimal.NewFromFloat(size).Mul(decimal.NewFromFloat(price))
	if side == models.SideSell {
		return n.Neg()
	}
	return n
}

func realizedPnL(side models.Side, size, entry, exit float64) float64 {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if side == models.SideSell {
		diff = diff.Neg()
	}
	f, _ := diff.Mul(decimal.NewFromFloat(size)).Float64()
	return f
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
