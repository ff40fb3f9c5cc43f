// Package execution turns approved signals into orders and positions. A
// single worker drains a FIFO signal queue; position exits go through a
// separate lane that is served first and keeps running while paused.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/internal/usecase/portfolio"
	"AlphaDesk/internal/usecase/risk"
	"AlphaDesk/pkg/config"
	"AlphaDesk/pkg/logger"
	"AlphaDesk/pkg/metrics"
)

var (
	ErrInvalidMode      = errors.New("invalid execution mode")
	ErrInvalidState     = errors.New("invalid engine state transition")
	ErrDuplicateSignal  = errors.New("signal already submitted")
	ErrQueueFull        = errors.New("signal queue full")
	ErrNotAccepting     = errors.New("engine is not accepting signals")
	ErrInvalidSignal    = errors.New("invalid signal")
	ErrVenueUnavailable = errors.New("no venue for mode")
)

// Risk is what the engine needs from the risk manager.
type Risk interface {
	ValidateSignal(ctx context.Context, sig *models.TradeSignal) models.ValidationResult
	CalculatePositionSize(sig *models.TradeSignal) float64
	CheckPosition(p *models.Position, now time.Time) models.CloseDecision
	ExitLevels(side models.Side, entry float64) (stop, target float64)
	RecordViolation(ctx context.Context, v models.RiskViolation) models.RiskViolation
	Liquidate(ctx context.Context, reason string) error
	CheckPortfolioRisk(ctx context.Context) (models.PortfolioRisk, error)
}

// TradeListener is told about every closed position.
type TradeListener func(t models.TradeRecord)

type closeRequest struct {
	positionID string
	reason     string
}

// Engine is safe for concurrent use. Only its worker and the liquidation
// path create or close positions, and they serialise on execMu.
type Engine struct {
	cfg       config.ExecutionConfig
	risk      Risk
	book      *portfolio.Book
	venues    map[string]domrepo.OrderVenue
	store     domrepo.StateStore
	audit     domrepo.AuditStore
	publisher domrepo.EventPublisher
	metrics   domrepo.Metrics
	log       *logger.Logger
	now       func() time.Time
	newID     func() string
	listeners []TradeListener

	execMu sync.Mutex

	mu      sync.Mutex
	state   string
	mode    string
	signals []*models.TradeSignal
	closes  []closeRequest
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Engine)

func WithVenue(mode string, v domrepo.OrderVenue) Option {
	return func(e *Engine) { e.venues[mode] = v }
}

func WithStateStore(s domrepo.StateStore) Option { return func(e *Engine) { e.store = s } }

func WithAuditStore(a domrepo.AuditStore) Option { return func(e *Engine) { e.audit = a } }

func WithPublisher(p domrepo.EventPublisher) Option { return func(e *Engine) { e.publisher = p } }

func WithMetrics(m domrepo.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithLogger(l *logger.Logger) Option { return func(e *Engine) { e.log = l.Component("execution") } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithIDGenerator(f func() string) Option { return func(e *Engine) { e.newID = f } }

func WithTradeListener(l TradeListener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// NewEngine builds a stopped engine in cfg.Mode.
func NewEngine(cfg config.ExecutionConfig, r Risk, book *portfolio.Book, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		risk:    r,
		book:    book,
		venues:  make(map[string]domrepo.OrderVenue),
		metrics: metrics.Discard{},
		log:     logger.Nop(),
		now:     time.Now,
		newID:   uuid.NewString,
		state:   models.StateStopped,
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.SetMode(cfg.Mode); err != nil {
		return nil, err
	}
	return e, nil
}

// Restore reloads persisted positions into the book.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	positions, err := e.store.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	e.book.Restore(positions)
	if len(positions) > 0 {
		e.log.Info("positions restored", logger.Int("count", len(positions)))
	}
	return nil
}

// Start launches the worker. The worker stops when ctx is cancelled or
// Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done != nil {
		return fmt.Errorf("%w: already started", ErrInvalidState)
	}
	if e.state == models.StateEmergencyStopped {
		return fmt.Errorf("%w: reset required", ErrInvalidState)
	}
	wctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state = models.StateRunning
	go e.run(wctx, e.done)
	e.log.Info("execution engine started", logger.String("mode", e.mode))
	return nil
}

// Stop halts the worker after the item in hand and waits for it to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	e.mu.Lock()
	e.cancel, e.done = nil, nil
	if e.state != models.StateEmergencyStopped {
		e.state = models.StateStopped
	}
	e.mu.Unlock()
	e.log.Info("execution engine stopped")
}

// Pause stops dequeuing signals. Exits keep flowing.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != models.StateRunning {
		return fmt.Errorf("%w: pause from %s", ErrInvalidState, e.state)
	}
	e.state = models.StatePaused
	return nil
}

// Resume continues a paused engine.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != models.StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidState, e.state)
	}
	e.state = models.StateRunning
	e.notify()
	return nil
}

// Reset acknowledges an emergency stop. The engine comes back paused, or
// stopped if the worker is not running, and needs an explicit Resume.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != models.StateEmergencyStopped {
		return fmt.Errorf("%w: reset from %s", ErrInvalidState, e.state)
	}
	if e.done != nil {
		e.state = models.StatePaused
	} else {
		e.state = models.StateStopped
	}
	e.log.Warn("emergency stop reset", logger.String("state", e.state))
	return nil
}

// EmergencyStop halts dequeuing, drops queued signals and liquidates every
// position through the risk manager. An order already in flight completes
// first. The engine then refuses signals until Reset and Resume.
func (e *Engine) EmergencyStop(ctx context.Context) error {
	dropped := e.halt()
	e.log.Error("emergency stop", logger.Int("dropped_signals", dropped))
	if err := e.risk.Liquidate(ctx, models.CloseEmergencyStop); err != nil {
		return fmt.Errorf("emergency liquidation: %w", err)
	}
	return nil
}

func (e *Engine) halt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = models.StateEmergencyStopped
	dropped := len(e.signals)
	for _, sig := range e.signals {
		e.book.Release(sig.ID)
	}
	e.signals = nil
	for _, c := range e.closes {
		e.book.AbortClose(c.positionID)
	}
	e.closes = nil
	e.metrics.SetQueueDepth(0)
	return dropped
}

// SetMode switches between paper and live venues.
func (e *Engine) SetMode(mode string) error {
	if mode != models.ModePaper && mode != models.ModeLive {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.venues[mode]; !ok {
		return fmt.Errorf("%w: %s", ErrVenueUnavailable, mode)
	}
	if e.mode != mode && e.mode != "" {
		e.log.Warn("execution mode changed", logger.String("from", e.mode), logger.String("to", mode))
	}
	e.mode = mode
	return nil
}

// Submit queues a signal for execution. A signal id is accepted once.
func (e *Engine) Submit(sig *models.TradeSignal) error {
	if sig == nil || sig.Symbol == "" || (sig.Side != models.SideBuy && sig.Side != models.SideSell) {
		return ErrInvalidSignal
	}
	if sig.ID == "" {
		sig.ID = e.newID()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case models.StateStopped, models.StateEmergencyStopped:
		return fmt.Errorf("%w: %s", ErrNotAccepting, e.state)
	}
	if len(e.signals) >= e.cfg.QueueSize {
		return ErrQueueFull
	}
	if !e.book.Reserve(sig.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateSignal, sig.ID)
	}
	e.signals = append(e.signals, sig)
	e.metrics.SetQueueDepth(len(e.signals))
	e.notify()
	return nil
}

// OnTick marks positions on the tick's symbol and queues exits for any the
// risk manager wants closed. It never blocks on I/O.
func (e *Engine) OnTick(tick *models.Tick) {
	price := tick.Price()
	if price <= 0 {
		return
	}
	now := tick.Timestamp
	if now.IsZero() {
		now = e.now()
	}
	for _, p := range e.book.Mark(tick.Symbol, price) {
		if d := e.risk.CheckPosition(&p, now); d.ShouldClose {
			_ = e.requestClose(p.ID, d.Reason)
		}
	}
}

// RiskSweep checks every open position and queues exits. It returns how
// many exits were queued.
func (e *Engine) RiskSweep() int {
	now := e.now()
	n := 0
	for _, p := range e.book.Positions() {
		if p.Status != models.PositionOpen {
			continue
		}
		if d := e.risk.CheckPosition(&p, now); d.ShouldClose {
			if e.requestClose(p.ID, d.Reason) == nil {
				n++
			}
		}
	}
	e.book.RecordEquity()
	return n
}

// CheckPortfolio runs the portfolio risk check. A liquidation that leaves
// positions open moves the engine to emergency stop.
func (e *Engine) CheckPortfolio(ctx context.Context) (models.PortfolioRisk, error) {
	pr, err := e.risk.CheckPortfolioRisk(ctx)
	if errors.Is(err, risk.ErrLiquidationIncomplete) {
		e.halt()
		e.log.Error("liquidation incomplete, engine halted", logger.Error(err))
	}
	return pr, err
}

// ClosePosition queues a manual exit.
func (e *Engine) ClosePosition(id string) error {
	return e.requestClose(id, models.CloseManual)
}

func (e *Engine) requestClose(id, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == models.StateEmergencyStopped {
		return fmt.Errorf("%w: %s", ErrNotAccepting, e.state)
	}
	if _, err := e.book.BeginClose(id); err != nil {
		return err
	}
	e.closes = append(e.closes, closeRequest{positionID: id, reason: reason})
	e.notify()
	return nil
}

// Status snapshots the engine.
func (e *Engine) Status() models.Status {
	e.mu.Lock()
	st := models.Status{
		State:      e.state,
		Mode:       e.mode,
		QueueDepth: len(e.signals) + len(e.closes),
	}
	e.mu.Unlock()

	perf := e.book.Performance()
	st.OpenPositions = e.book.OpenCount()
	st.PendingOrders = len(e.book.PendingOrders())
	st.Cash = e.book.Cash()
	st.Equity = e.book.Equity()
	st.Performance = perf
	st.WinRate = perf.WinRate()
	st.Timestamp = e.now().UTC()
	return st
}

// Positions lists open and closing positions.
func (e *Engine) Positions() []models.Position { return e.book.Positions() }

func (e *Engine) Book() *portfolio.Book { return e.book }

func (e *Engine) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
