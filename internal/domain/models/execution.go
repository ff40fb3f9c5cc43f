package models

import "time"

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "open"
	PositionClosing PositionStatus = "closing"
	PositionClosed  PositionStatus = "closed"
)

// Position is open exposure created on fill.
type Position struct {
	ID           string             `json:"id"`
	Symbol       string             `json:"symbol"`
	Side         Side               `json:"side"`
	Size         float64            `json:"size"`
	EntryPrice   float64            `json:"entry_price"`
	CurrentPrice float64            `json:"current_price"`
	StopLoss     float64            `json:"stop_loss"`
	TakeProfit   float64            `json:"take_profit"`
	PnL          float64            `json:"pnl"`
	PnLPercent   float64            `json:"pnl_percent"`
	OpenedAt     time.Time          `json:"opened_at"`
	Status       PositionStatus     `json:"status"`
	SignalID     string             `json:"signal_id"`
	Strategy     string             `json:"strategy"`
	Attribution  map[string]float64 `json:"attribution,omitempty"`
}

// Mark updates the current price and recomputes PnL.
func (p *Position) Mark(price float64) {
	if price <= 0 {
		return
	}
	p.CurrentPrice = price
	if p.EntryPrice <= 0 || p.Size <= 0 {
		return
	}
	diff := price - p.EntryPrice
	if p.Side == SideSell {
		diff = -diff
	}
	p.PnL = diff * p.Size
	p.PnLPercent = diff / p.EntryPrice * 100
}

// Notional is size at the current price.
func (p *Position) Notional() float64 { return p.Size * p.CurrentPrice }

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// Order types.
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Order is created when an approved signal is dequeued.
type Order struct {
	ID               string      `json:"id"`
	LinkID           string      `json:"link_id"`
	VenueOrderID     string      `json:"venue_order_id,omitempty"`
	Symbol           string      `json:"symbol"`
	Side             Side        `json:"side"`
	Type             string      `json:"type"`
	Qty              float64     `json:"qty"`
	Price            *float64    `json:"price,omitempty"`
	FillPrice        float64     `json:"fill_price,omitempty"`
	Status           OrderStatus `json:"status"`
	Reason           string      `json:"reason,omitempty"`
	LinkedPositionID string      `json:"linked_position_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// TradeRecord is a closed position moved to history.
type TradeRecord struct {
	PositionID  string             `json:"position_id"`
	Symbol      string             `json:"symbol"`
	Side        Side               `json:"side"`
	Size        float64            `json:"size"`
	EntryPrice  float64            `json:"entry_price"`
	ExitPrice   float64            `json:"exit_price"`
	PnL         float64            `json:"pnl"`
	PnLPercent  float64            `json:"pnl_percent"`
	Reason      string             `json:"reason"`
	Strategy    string             `json:"strategy"`
	Attribution map[string]float64 `json:"attribution,omitempty"`
	OpenedAt    time.Time          `json:"opened_at"`
	ClosedAt    time.Time          `json:"closed_at"`
}

// Performance is updated on every position close.
type Performance struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	TotalPnL      float64 `json:"total_pnl"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	PeakPnL       float64 `json:"peak_pnl"`
}

// WinRate returns the fraction of winning trades.
func (p Performance) WinRate() float64 {
	if p.TotalTrades == 0 {
		return 0
	}
	return float64(p.WinningTrades) / float64(p.TotalTrades)
}

// Engine states.
const (
	StateStopped          = "stopped"
	StateRunning          = "running"
	StatePaused           = "paused"
	StateEmergencyStopped = "emergency_stopped"
)

// Execution modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Status is the execution engine snapshot exposed to operators.
type Status struct {
	State         string      `json:"state"`
	Mode          string      `json:"mode"`
	QueueDepth    int         `json:"queue_depth"`
	OpenPositions int         `json:"open_positions"`
	PendingOrders int         `json:"pending_orders"`
	Cash          float64     `json:"cash"`
	Equity        float64     `json:"equity"`
	Performance   Performance `json:"performance"`
	WinRate       float64     `json:"win_rate"`
	Timestamp     time.Time   `json:"timestamp"`
}
