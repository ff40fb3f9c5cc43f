package repository

import (
	"context"
	"time"

	"AlphaDesk/internal/domain/models"
)

// TickStream is a push source of market ticks.
type TickStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// FeatureStore reads aggregated candles. Results are ascending by bucket.
type FeatureStore interface {
	GetCandles(ctx context.Context, symbol string, from, to time.Time, tf Timeframe) ([]models.Candle, error)
	GetLatestNCandles(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Candle, error)
}

// MarketData is the pull side of the market data source.
type MarketData interface {
	GetHistory(ctx context.Context, symbol string, window int) ([]models.Candle, error)
}

// TickStorage persists raw ticks so candles can be aggregated downstream.
type TickStorage interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, ticks []*models.Tick) error
	Health(ctx context.Context) error
	Close() error
}

// OrderRequest is what the core sends to a venue.
type OrderRequest struct {
	LinkID string
	Symbol string
	Side   models.Side
	Type   string
	Qty    float64
	Price  *float64
}

// OrderAck is the venue's response to a submission.
type OrderAck struct {
	OrderID   string
	Status    models.OrderStatus
	FillPrice float64
	FilledQty float64
	Reason    string
}

// OrderVenue places and cancels orders.
type OrderVenue interface {
	Name() string
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// StateStore keeps the data that must survive restarts.
type StateStore interface {
	SavePosition(ctx context.Context, p *models.Position) error
	DeletePosition(ctx context.Context, id string) error
	LoadPositions(ctx context.Context) ([]*models.Position, error)
	SaveOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	SavePodStates(ctx context.Context, states []models.PodState) error
	LoadPodStates(ctx context.Context) ([]models.PodState, error)
	SaveRiskConfig(ctx context.Context, cfg models.RiskConfig) error
	LoadRiskConfig(ctx context.Context) (*models.RiskConfig, error)
}

// AuditStore is the append-only audit trail, queried by time range.
type AuditStore interface {
	Init(ctx context.Context) error
	RecordViolation(ctx context.Context, v models.RiskViolation) error
	RecordTrade(ctx context.Context, t models.TradeRecord) error
	RecordOrder(ctx context.Context, o models.Order) error
	QueryViolations(ctx context.Context, from, to time.Time, limit int) ([]models.RiskViolation, error)
	QueryTrades(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.TradeRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// EventPublisher fans domain events out to other services.
type EventPublisher interface {
	PublishAlpha(ctx context.Context, res *models.AlphaResult) error
	PublishOrder(ctx context.Context, o *models.Order) error
	PublishTrade(ctx context.Context, t *models.TradeRecord) error
	Close() error
}

// Metrics is the metrics sink used by the core.
type Metrics interface {
	RecordSignalGenerated(symbol string)
	RecordSignalRejected(reason string)
	RecordOrderFilled(symbol string, side models.Side)
	RecordViolation(kind, severity string)
	SetDrawdown(v float64)
	SetVaR(v float64)
	SetPodWeight(pod string, w float64)
	SetQueueDepth(n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
