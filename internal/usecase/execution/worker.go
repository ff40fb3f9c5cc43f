package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/pkg/logger"
)

// Rejection reasons set on orders and filtered signals.
const (
	RejectRevalidation = "revalidation_failed"
	RejectTimeout      = "revalidation_timeout"
	RejectSizeZero     = "size_zero"
	RejectVenue        = "venue_rejected"
	RejectVenueError   = "venue_error"
)

type item struct {
	signal *models.TradeSignal
	close  *closeRequest
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		it, ok := e.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
			}
			continue
		}

		e.execMu.Lock()
		if it.close != nil {
			e.processClose(ctx, *it.close)
		} else {
			e.processSignal(ctx, it.signal)
		}
		e.execMu.Unlock()

		if ctx.Err() != nil {
			return
		}
	}
}

// next pops the next unit of work. Exits go first and are served unless
// the engine is emergency stopped; signals only while running.
func (e *Engine) next() (item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.closes) > 0 && e.state != models.StateEmergencyStopped {
		c := e.closes[0]
		e.closes = e.closes[1:]
		return item{close: &c}, true
	}
	if len(e.signals) > 0 && e.state == models.StateRunning {
		s := e.signals[0]
		e.signals = e.signals[1:]
		e.metrics.SetQueueDepth(len(e.signals))
		return item{signal: s}, true
	}
	return item{}, false
}

func (e *Engine) processSignal(ctx context.Context, sig *models.TradeSignal) {
	start := e.now()
	defer func() { e.metrics.RecordLatency("execute_signal", e.now().Sub(start).Seconds()) }()

	log := e.log.With(logger.String("signal_id", sig.ID), logger.String("symbol", sig.Symbol))
	if e.book.HasOrderFor(sig.ID) {
		log.Debug("signal already has an order")
		return
	}

	vctx, cancel := context.WithTimeout(ctx, e.cfg.RevalidateTimeout)
	res := e.risk.ValidateSignal(vctx, sig)
	timedOut := vctx.Err() != nil
	cancel()
	switch {
	case timedOut:
		e.metrics.RecordSignalRejected(RejectTimeout)
		log.Warn("signal dropped", logger.String("reason", RejectTimeout))
		e.book.Release(sig.ID)
		return
	case !res.Approved:
		e.metrics.RecordSignalRejected(RejectRevalidation)
		log.Info("signal dropped on revalidation", logger.String("reason", res.Reason))
		e.book.Release(sig.ID)
		return
	}

	qty := e.roundLot(e.risk.CalculatePositionSize(sig))
	if qty <= 0 {
		e.metrics.RecordSignalRejected(RejectSizeZero)
		log.Info("signal dropped", logger.String("reason", RejectSizeZero))
		e.book.Release(sig.ID)
		return
	}

	now := e.now().UTC()
	order := &models.Order{
		ID:        e.newID(),
		LinkID:    sig.ID,
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Type:      models.OrderTypeMarket,
		Qty:       qty,
		Status:    models.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.book.AddOrder(order)
	e.saveOrder(ctx, order)

	ack, err := e.submit(ctx, order)
	if err != nil {
		e.reject(ctx, order, RejectVenueError, err)
		return
	}
	if ack.Status != models.OrderFilled {
		reason := ack.Reason
		if reason == "" {
			reason = RejectVenue
		}
		e.reject(ctx, order, reason, nil)
		return
	}

	fill := ack.FillPrice
	if fill <= 0 {
		fill = sig.Price
	}
	size := ack.FilledQty
	if size <= 0 {
		size = qty
	}
	order.FillPrice = fill
	order.Status = models.OrderFilled
	order.UpdatedAt = e.now().UTC()

	stop, target := e.risk.ExitLevels(sig.Side, fill)
	pos := &models.Position{
		ID:           e.newID(),
		Symbol:       sig.Symbol,
		Side:         sig.Side,
		Size:         size,
		EntryPrice:   fill,
		CurrentPrice: fill,
		StopLoss:     stop,
		TakeProfit:   target,
		OpenedAt:     order.UpdatedAt,
		Status:       models.PositionOpen,
		SignalID:     sig.ID,
		Strategy:     sig.Strategy,
		Attribution:  sig.Attribution,
	}
	if err := e.book.Open(pos, order); err != nil {
		e.metrics.RecordError("book")
		log.Error("open position failed", logger.Error(err))
		return
	}

	e.metrics.RecordOrderFilled(order.Symbol, order.Side)
	e.saveOrder(ctx, order)
	e.persistPosition(ctx, pos)
	e.finalOrder(ctx, order)
	log.Info("position opened",
		logger.String("position_id", pos.ID),
		logger.String("side", string(pos.Side)),
		logger.Float64("size", pos.Size),
		logger.Float64("entry", pos.EntryPrice),
		logger.Float64("stop_loss", pos.StopLoss),
		logger.Float64("take_profit", pos.TakeProfit))
}

func (e *Engine) processClose(ctx context.Context, req closeRequest) {
	pos, ok := e.book.Get(req.positionID)
	if !ok || pos.Status != models.PositionClosing {
		return
	}
	if err := e.exit(ctx, pos, req.reason); err != nil {
		e.log.Error("close failed",
			logger.String("position_id", pos.ID),
			logger.String("reason", req.reason),
			logger.Error(err))
	}
}

// LiquidateAll closes every position at market, one at a time. It holds
// the execution lock throughout, so an order already in flight lands in
// the book before the positions are listed and no new entry can interleave.
// Positions already queued for exit are taken over.
func (e *Engine) LiquidateAll(ctx context.Context, reason string) (int, error) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	var (
		closed int
		errs   []error
	)
	for _, p := range e.book.Positions() {
		err := e.liquidate(ctx, p.ID, reason)
		switch {
		case err == nil:
			closed++
		case errors.Is(err, errGone):
		default:
			errs = append(errs, err)
		}
	}
	return closed, errors.Join(errs...)
}

var errGone = errors.New("position gone")

func (e *Engine) liquidate(ctx context.Context, id, reason string) error {
	pos, ok := e.book.Get(id)
	if !ok {
		return errGone
	}
	if pos.Status == models.PositionOpen {
		var err error
		if pos, err = e.book.BeginClose(id); err != nil {
			return err
		}
	}
	return e.exit(ctx, pos, reason)
}

// exit sends the closing order for a position in closing state. On failure
// the position goes back to open.
func (e *Engine) exit(ctx context.Context, pos models.Position, reason string) error {
	now := e.now().UTC()
	order := &models.Order{
		ID:               e.newID(),
		LinkID:           "close:" + pos.ID,
		Symbol:           pos.Symbol,
		Side:             pos.Side.Opposite(),
		Type:             models.OrderTypeMarket,
		Qty:              pos.Size,
		Status:           models.OrderPending,
		Reason:           reason,
		LinkedPositionID: pos.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	e.book.AddOrder(order)
	e.saveOrder(ctx, order)

	ack, err := e.submit(ctx, order)
	if err != nil || ack.Status != models.OrderFilled {
		e.book.AbortClose(pos.ID)
		why := ack.Reason
		if err != nil {
			why = RejectVenueError
		} else if why == "" {
			why = RejectVenue
		}
		e.reject(ctx, order, why, err)
		if err == nil {
			err = fmt.Errorf("exit order %s: %s", order.ID, why)
		}
		return fmt.Errorf("close %s: %w", pos.ID, err)
	}

	exitPrice := ack.FillPrice
	if exitPrice <= 0 {
		exitPrice = pos.CurrentPrice
	}
	trade, err := e.book.Close(pos.ID, exitPrice, reason)
	if err != nil {
		return fmt.Errorf("close %s: %w", pos.ID, err)
	}

	order.FillPrice = exitPrice
	order.Status = models.OrderFilled
	order.UpdatedAt = e.now().UTC()
	_ = e.book.UpdateOrder(order)
	e.metrics.RecordOrderFilled(order.Symbol, order.Side)
	e.saveOrder(ctx, order)
	e.finalOrder(ctx, order)

	if e.store != nil {
		if err := e.store.DeletePosition(ctx, pos.ID); err != nil {
			e.metrics.RecordError("state_store")
			e.log.Error("delete position failed", logger.String("position_id", pos.ID), logger.Error(err))
		}
	}
	if e.audit != nil {
		if err := e.audit.RecordTrade(ctx, trade); err != nil {
			e.metrics.RecordError("audit")
			e.log.Error("audit trade failed", logger.Error(err))
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishTrade(ctx, &trade); err != nil {
			e.metrics.RecordError("publish")
			e.log.Warn("publish trade failed", logger.Error(err))
		}
	}
	for _, l := range e.listeners {
		l(trade)
	}

	e.log.Info("position closed",
		logger.String("position_id", pos.ID),
		logger.String("symbol", pos.Symbol),
		logger.String("reason", reason),
		logger.Float64("exit", exitPrice),
		logger.Float64("pnl", trade.PnL))
	return nil
}

func (e *Engine) venue() (domrepo.OrderVenue, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.venues[e.mode], e.mode
}

func (e *Engine) submit(ctx context.Context, o *models.Order) (domrepo.OrderAck, error) {
	v, mode := e.venue()
	if v == nil {
		return domrepo.OrderAck{}, fmt.Errorf("%w: %s", ErrVenueUnavailable, mode)
	}
	sctx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()

	start := time.Now()
	ack, err := v.SubmitOrder(sctx, domrepo.OrderRequest{
		LinkID: o.LinkID,
		Symbol: o.Symbol,
		Side:   o.Side,
		Type:   o.Type,
		Qty:    o.Qty,
		Price:  o.Price,
	})
	e.metrics.RecordLatency("submit_order", time.Since(start).Seconds())
	if ack.OrderID != "" {
		o.VenueOrderID = ack.OrderID
	}
	if err != nil {
		e.metrics.RecordError("venue")
		return ack, fmt.Errorf("%s submit: %w", v.Name(), err)
	}
	return ack, nil
}

// reject marks the order rejected, records the violation and makes a
// best-effort cancel at the venue. Orders are never retried.
func (e *Engine) reject(ctx context.Context, o *models.Order, reason string, cause error) {
	o.Status = models.OrderRejected
	o.Reason = reason
	o.UpdatedAt = e.now().UTC()
	_ = e.book.UpdateOrder(o)
	e.saveOrder(ctx, o)
	e.finalOrder(ctx, o)

	msg := fmt.Sprintf("order %s %s %s rejected: %s", o.ID, o.Side, o.Symbol, reason)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	e.risk.RecordViolation(ctx, models.RiskViolation{
		Type:     models.ViolationOrderRejected,
		Severity: models.SeverityMedium,
		Symbol:   o.Symbol,
		Value:    o.Qty,
		Message:  msg,
	})

	if o.VenueOrderID != "" {
		if v, _ := e.venue(); v != nil {
			cctx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
			if err := v.CancelOrder(cctx, o.VenueOrderID); err != nil {
				e.log.Debug("cancel after reject failed", logger.String("order_id", o.ID), logger.Error(err))
			}
			cancel()
		}
	}
}

func (e *Engine) roundLot(size float64) float64 {
	if size <= 0 {
		return 0
	}
	step := decimal.NewFromFloat(e.cfg.LotStep)
	if !step.IsPositive() {
		return size
	}
	f, _ := decimal.NewFromFloat(size).Div(step).Floor().Mul(step).Float64()
	return f
}

func (e *Engine) saveOrder(ctx context.Context, o *models.Order) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveOrder(ctx, o); err != nil {
		e.metrics.RecordError("state_store")
		e.log.Error("save order failed", logger.String("order_id", o.ID), logger.Error(err))
	}
}

func (e *Engine) persistPosition(ctx context.Context, p *models.Position) {
	if e.store == nil {
		return
	}
	if err := e.store.SavePosition(ctx, p); err != nil {
		e.metrics.RecordError("state_store")
		e.log.Error("save position failed", logger.String("position_id", p.ID), logger.Error(err))
	}
}

func (e *Engine) finalOrder(ctx context.Context, o *models.Order) {
	if e.audit != nil {
		if err := e.audit.RecordOrder(ctx, *o); err != nil {
			e.metrics.RecordError("audit")
			e.log.Error("audit order failed", logger.Error(err))
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishOrder(ctx, o); err != nil {
			e.metrics.RecordError("publish")
			e.log.Warn("publish order failed", logger.Error(err))
		}
	}
}
