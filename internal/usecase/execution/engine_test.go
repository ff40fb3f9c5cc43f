package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/internal/usecase/portfolio"
	"AlphaDesk/internal/usecase/risk"
	"AlphaDesk/pkg/config"
)

type fakeVenue struct {
	name string

	mu     sync.Mutex
	calls  []domrepo.OrderRequest
	price  float64
	status models.OrderStatus
	err    error
}

func (v *fakeVenue) Name() string { return v.name }

func (v *fakeVenue) SubmitOrder(_ context.Context, req domrepo.OrderRequest) (domrepo.OrderAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, req)
	if v.err != nil {
		return domrepo.OrderAck{}, v.err
	}
	st := v.status
	if st == "" {
		st = models.OrderFilled
	}
	return domrepo.OrderAck{OrderID: fmt.Sprintf("v-%d", len(v.calls)), Status: st, FillPrice: v.price, FilledQty: req.Qty}, nil
}

func (v *fakeVenue) CancelOrder(context.Context, string) error { return nil }

func (v *fakeVenue) requests() []domrepo.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domrepo.OrderRequest(nil), v.calls...)
}

func (v *fakeVenue) set(price float64, status models.OrderStatus, err error) {
	v.mu.Lock()
	v.price, v.status, v.err = price, status, err
	v.mu.Unlock()
}

// gatedVenue holds its first order until release is closed.
type gatedVenue struct {
	*fakeVenue
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedVenue(price float64) *gatedVenue {
	return &gatedVenue{
		fakeVenue: &fakeVenue{name: models.ModePaper, price: price},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (g *gatedVenue) SubmitOrder(ctx context.Context, req domrepo.OrderRequest) (domrepo.OrderAck, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.fakeVenue.SubmitOrder(ctx, req)
}

type fakeRisk struct {
	mu         sync.Mutex
	reject     string
	size       float64
	closeOn    func(p *models.Position) models.CloseDecision
	violations []models.RiskViolation
	checkErr   error
	liquidator risk.Liquidator
}

func (r *fakeRisk) ValidateSignal(context.Context, *models.TradeSignal) models.ValidationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject != "" {
		return models.Reject(r.reject)
	}
	return models.Approve()
}

func (r *fakeRisk) CalculatePositionSize(*models.TradeSignal) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *fakeRisk) CheckPosition(p *models.Position, _ time.Time) models.CloseDecision {
	if r.closeOn == nil {
		return models.CloseDecision{}
	}
	return r.closeOn(p)
}

func (r *fakeRisk) ExitLevels(side models.Side, entry float64) (float64, float64) {
	if side == models.SideBuy {
		return entry * 0.98, entry * 1.05
	}
	return entry * 1.02, entry * 0.95
}

func (r *fakeRisk) RecordViolation(_ context.Context, v models.RiskViolation) models.RiskViolation {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, v)
	return v
}

func (r *fakeRisk) Liquidate(ctx context.Context, reason string) error {
	_, err := r.liquidator.LiquidateAll(ctx, reason)
	return err
}

func (r *fakeRisk) CheckPortfolioRisk(context.Context) (models.PortfolioRisk, error) {
	return models.PortfolioRisk{}, r.checkErr
}

func (r *fakeRisk) violationTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, v := range r.violations {
		out = append(out, v.Type)
	}
	return out
}

func execCfg() config.ExecutionConfig {
	return config.ExecutionConfig{
		Mode:              models.ModePaper,
		QueueSize:         4,
		RevalidateTimeout: time.Second,
		SubmitTimeout:     time.Second,
		InitialEquity:     100000,
		LotStep:           0.01,
	}
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeRisk, *fakeVenue) {
	t.Helper()
	r := &fakeRisk{size: 1000}
	v := &fakeVenue{name: models.ModePaper, price: 1.1}
	book := portfolio.NewBook(100000)
	e, err := NewEngine(execCfg(), r, book, append([]Option{WithVenue(models.ModePaper, v)}, opts...)...)
	require.NoError(t, err)
	r.liquidator = e
	t.Cleanup(e.Stop)
	return e, r, v
}

func signal(id string) *models.TradeSignal {
	return &models.TradeSignal{ID: id, Symbol: "EURUSD", Side: models.SideBuy, Strength: 0.8, Confidence: 0.9, Price: 1.1, Strategy: "ensemble"}
}

func waitOpen(t *testing.T, e *Engine, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.Book().OpenCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestSubmitRequiresRunningOrPaused(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.ErrorIs(t, e.Submit(signal("s1")), ErrNotAccepting)

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Pause())
	assert.NoError(t, e.Submit(signal("s1")))
	assert.Equal(t, 1, e.Status().QueueDepth)

	assert.ErrorIs(t, e.Submit(&models.TradeSignal{ID: "bad", Symbol: "EURUSD"}), ErrInvalidSignal)
}

func TestSubmitIsIdempotent(t *testing.T) {
	e, _, v := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, e.Submit(signal("s1")))
	assert.ErrorIs(t, e.Submit(signal("s1")), ErrDuplicateSignal)
	waitOpen(t, e, 1)
	assert.ErrorIs(t, e.Submit(signal("s1")), ErrDuplicateSignal)

	assert.Len(t, v.requests(), 1)
}

func TestQueueFull(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Pause())
	for i := 0; i < 4; i++ {
		require.NoError(t, e.Submit(signal(fmt.Sprintf("s%d", i))))
	}
	assert.ErrorIs(t, e.Submit(signal("s4")), ErrQueueFull)
	assert.Equal(t, 4, e.Status().QueueDepth)
}

func TestSetMode(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.ErrorIs(t, e.SetMode("backtest"), ErrInvalidMode)
	assert.ErrorIs(t, e.SetMode(models.ModeLive), ErrVenueUnavailable)
	assert.Equal(t, models.ModePaper, e.Status().Mode)

	live := &fakeVenue{name: models.ModeLive, price: 1.2}
	WithVenue(models.ModeLive, live)(e)
	require.NoError(t, e.SetMode(models.ModeLive))
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Submit(signal("s1")))
	waitOpen(t, e, 1)
	assert.Len(t, live.requests(), 1)
}

func TestNewEngineRejectsUnknownMode(t *testing.T) {
	cfg := execCfg()
	cfg.Mode = "sim"
	_, err := NewEngine(cfg, &fakeRisk{}, portfolio.NewBook(1), WithVenue(models.ModePaper, &fakeVenue{}))
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestSignalsExecuteInOrder(t *testing.T) {
	e, _, v := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Pause())
	for _, sym := range []string{"EURUSD", "GBPUSD", "USDJPY"} {
		s := signal("sig-" + sym)
		s.Symbol = sym
		require.NoError(t, e.Submit(s))
	}
	require.NoError(t, e.Resume())
	waitOpen(t, e, 3)

	var got []string
	for _, r := range v.requests() {
		got = append(got, r.Symbol)
	}
	assert.Equal(t, []string{"EURUSD", "GBPUSD", "USDJPY"}, got)
}

func TestOpenedPositionCarriesExitLevels(t *testing.T) {
	e, _, v := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Submit(signal("s1")))
	waitOpen(t, e, 1)

	p := e.Positions()[0]
	assert.Equal(t, "s1", p.SignalID)
	assert.Equal(t, 1000.0, p.Size)
	assert.InDelta(t, 1.1*0.98, p.StopLoss, 1e-12)
	assert.InDelta(t, 1.1*1.05, p.TakeProfit, 1e-12)
	assert.Equal(t, "s1", v.requests()[0].LinkID)
	assert.InDelta(t, 100000-1100, e.Book().Cash(), 1e-6)
	assert.Equal(t, 0, e.Status().Performance.TotalTrades)
}

func TestQuantityRoundsDownToLot(t *testing.T) {
	e, r, v := newTestEngine(t)
	r.size = 12.349
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Submit(signal("s1")))
	waitOpen(t, e, 1)
	assert.Equal(t, 12.34, v.requests()[0].Qty)

	r.mu.Lock()
	r.size = 0.004
	r.mu.Unlock()
	require.NoError(t, e.Submit(signal("s2")))
	assert.Never(t, func() bool { return len(v.requests()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestRevalidationRejectDropsSignal(t *testing.T) {
	e, r, v := newTestEngine(t)
	r.reject = models.ReasonConfidence
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Submit(signal("s1")))

	require.Eventually(t, func() bool { return e.Status().QueueDepth == 0 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(v.requests()) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
	require.Eventually(t, func() bool { return e.Book().Links() == 0 }, time.Second, 5*time.Millisecond)

	r.mu.Lock()
	r.reject = ""
	r.mu.Unlock()
	require.NoError(t, e.Submit(signal("s1")), "dropped signal id is released")
	waitOpen(t, e, 1)
}

func TestZeroSizeReleasesSignal(t *testing.T) {
	e, r, _ := newTestEngine(t)
	r.size = 0
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Submit(signal("s1")))
	require.Eventually(t, func() bool { return e.Book().Links() == 0 }, time.Second, 5*time.Millisecond)
}

func TestVenueRejectionIsNotRetried(t *testing.T) {
	e, r, v := newTestEngine(t)
	v.set(0, "", errors.New("connection reset"))
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Submit(signal("s1")))

	require.Eventually(t, func() bool { return len(r.violationTypes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{models.ViolationOrderRejected}, r.violationTypes())
	assert.Never(t, func() bool { return len(v.requests()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 0, e.Book().OpenCount())
	assert.Empty(t, e.Book().PendingOrders())
}

func TestTickTriggeredCloseUpdatesPerformance(t *testing.T) {
	var trades []models.TradeRecord
	var mu sync.Mutex
	e, r, v := newTestEngine(t, WithTradeListener(func(tr models.TradeRecord) {
		mu.Lock()
		trades = append(trades, tr)
		mu.Unlock()
	}))
	r.closeOn = func(p *models.Position) models.CloseDecision {
		if p.CurrentPrice <= p.StopLoss {
			return models.CloseDecision{ShouldClose: true, Reason: models.CloseStopLoss}
		}
		return models.CloseDecision{}
	}
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Submit(signal("s1")))
	waitOpen(t, e, 1)

	e.OnTick(&models.Tick{Symbol: "EURUSD", Last: 1.09})
	assert.Equal(t, 1, e.Book().OpenCount())

	v.set(1.07, "", nil)
	e.OnTick(&models.Tick{Symbol: "EURUSD", Last: 1.07})
	waitOpen(t, e, 0)

	perf := e.Status().Performance
	assert.Equal(t, 1, perf.TotalTrades)
	assert.Equal(t, 0, perf.WinningTrades)
	assert.InDelta(t, -30, perf.TotalPnL, 1e-6)

	reqs := v.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, models.SideSell, reqs[1].Side)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, trades, 1)
	assert.Equal(t, models.CloseStopLoss, trades[0].Reason)
}

func TestClosesRunWhilePaused(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Submit(signal("s1")))
	waitOpen(t, e, 1)

	require.NoError(t, e.Pause())
	id := e.Positions()[0].ID
	require.NoError(t, e.ClosePosition(id))
	assert.Error(t, e.ClosePosition(id), "already closing")
	waitOpen(t, e, 0)
	assert.Equal(t, 1, e.Status().Performance.TotalTrades)
}

func TestRiskSweepQueuesExits(t *testing.T) {
	e, r, _ := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Submit(signal("s1")))
	waitOpen(t, e, 1)

	r.mu.Lock()
	r.closeOn = func(*models.Position) models.CloseDecision {
		return models.CloseDecision{ShouldClose: true, Reason: models.CloseMaxHolding}
	}
	r.mu.Unlock()
	assert.Equal(t, 1, e.RiskSweep())
	waitOpen(t, e, 0)
	assert.Equal(t, models.CloseMaxHolding, e.Book().Trades(1)[0].Reason)
}

func TestEmergencyStop(t *testing.T) {
	e, _, v := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))
	for _, id := range []string{"s1", "s2"} {
		s := signal(id)
		if id == "s2" {
			s.Symbol = "GBPUSD"
		}
		require.NoError(t, e.Submit(s))
	}
	waitOpen(t, e, 2)

	require.NoError(t, e.Pause())
	require.NoError(t, e.Submit(signal("queued")))

	require.NoError(t, e.EmergencyStop(context.Background()))
	st := e.Status()
	assert.Equal(t, models.StateEmergencyStopped, st.State)
	assert.Equal(t, 0, st.OpenPositions)
	assert.Equal(t, 0, st.QueueDepth)
	assert.Equal(t, 2, st.Performance.TotalTrades)
	assert.Len(t, v.requests(), 4)

	assert.ErrorIs(t, e.Submit(signal("after")), ErrNotAccepting)
	assert.ErrorIs(t, e.Resume(), ErrInvalidState)
	require.NoError(t, e.Reset())
	assert.Equal(t, models.StatePaused, e.Status().State)
	require.NoError(t, e.Resume())
	assert.Equal(t, models.StateRunning, e.Status().State)
}

func TestEmergencyStopWaitsForInFlightOrder(t *testing.T) {
	g := newGatedVenue(1.1)
	e, _, _ := newTestEngine(t, WithVenue(models.ModePaper, g))
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Submit(signal("s1")))
	require.NoError(t, e.Submit(signal("queued")))
	<-g.entered

	done := make(chan error, 1)
	go func() { done <- e.EmergencyStop(context.Background()) }()
	select {
	case err := <-done:
		t.Fatalf("emergency stop returned while an order was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(g.release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("emergency stop did not return")
	}
	assert.Equal(t, 0, e.Book().OpenCount())
	assert.Equal(t, 1, e.Status().Performance.TotalTrades)
	assert.Equal(t, models.CloseEmergencyStop, e.Book().Trades(1)[0].Reason)

	reqs := g.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, models.SideBuy, reqs[0].Side)
	assert.Equal(t, models.SideSell, reqs[1].Side)
}

func TestEmergencyStopReleasesQueuedSignals(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Pause())
	require.NoError(t, e.Submit(signal("q1")))
	require.NoError(t, e.Submit(signal("q2")))
	assert.Equal(t, 2, e.Book().Links())

	require.NoError(t, e.EmergencyStop(context.Background()))
	assert.Equal(t, 0, e.Book().Links())
	require.NoError(t, e.Reset())
	assert.NoError(t, e.Submit(signal("q1")))
}

func TestEmergencyStopReportsFailedLiquidation(t *testing.T) {
	e, _, v := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Submit(signal("s1")))
	waitOpen(t, e, 1)

	v.set(0, models.OrderRejected, nil)
	err := e.EmergencyStop(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, e.Book().OpenCount())
	assert.Equal(t, models.PositionOpen, e.Positions()[0].Status)
	assert.Equal(t, models.StateEmergencyStopped, e.Status().State)
}

func TestIncompleteLiquidationHaltsEngine(t *testing.T) {
	e, r, _ := newTestEngine(t)
	require.NoError(t, e.Start(context.Background()))
	r.checkErr = fmt.Errorf("var breach: %w", risk.ErrLiquidationIncomplete)

	_, err := e.CheckPortfolio(context.Background())
	assert.ErrorIs(t, err, risk.ErrLiquidationIncomplete)
	assert.Equal(t, models.StateEmergencyStopped, e.Status().State)
}

func TestStateTransitions(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.ErrorIs(t, e.Pause(), ErrInvalidState)
	assert.ErrorIs(t, e.Reset(), ErrInvalidState)
	require.NoError(t, e.Start(context.Background()))
	assert.ErrorIs(t, e.Start(context.Background()), ErrInvalidState)
	assert.ErrorIs(t, e.Resume(), ErrInvalidState)
	e.Stop()
	assert.Equal(t, models.StateStopped, e.Status().State)
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, models.StateRunning, e.Status().State)
}
