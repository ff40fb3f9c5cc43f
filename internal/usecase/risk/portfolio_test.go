package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlphaDesk/internal/domain/models"
	"AlphaDesk/internal/usecase/portfolio"
)

// bookLiquidator closes positions straight on the book at their mark.
type bookLiquidator struct {
	book  *portfolio.Book
	fail  bool
	calls int
}

func (l *bookLiquidator) LiquidateAll(_ context.Context, reason string) (int, error) {
	l.calls++
	if l.fail {
		return 0, errors.New("venue down")
	}
	n := 0
	for _, p := range l.book.Positions() {
		if _, err := l.book.BeginClose(p.ID); err != nil {
			continue
		}
		if _, err := l.book.Close(p.ID, p.CurrentPrice, reason); err == nil {
			n++
		}
	}
	return n, nil
}

func TestVaRBreachLiquidatesEverything(t *testing.T) {
	book := portfolio.NewBook(100000)
	openPos(t, book, "a", "XAUUSD", models.SideBuy, 800, 100)
	openPos(t, book, "b", "EURUSD", models.SideBuy, 1000, 1.1)
	market := &fakeMarket{closes: map[string][]float64{"XAUUSD": wild(80), "EURUSD": calm(1.1, 80, 0)}}
	m := newManager(t, book, market, tuesday)
	liq := &bookLiquidator{book: book}
	m.SetLiquidator(liq)

	cashBefore := book.Cash()
	pr, err := m.CheckPortfolioRisk(context.Background())
	require.NoError(t, err)
	assert.Greater(t, pr.VaRFraction, 0.05)
	assert.Equal(t, 1, liq.calls)
	assert.Zero(t, pr.OpenPositions)

	for _, p := range book.Positions() {
		assert.LessOrEqual(t, p.Size, 0.0, "position %s survived", p.ID)
	}
	assert.Zero(t, book.OpenCount())
	assert.Greater(t, book.Cash(), cashBefore)

	vs, err := m.Violations(context.Background(), tuesday.Add(-time.Minute), tuesday.Add(time.Minute), 0)
	require.NoError(t, err)
	types := make([]string, 0, len(vs))
	for _, v := range vs {
		types = append(types, v.Type)
	}
	assert.ElementsMatch(t, []string{models.ViolationVaR, models.ViolationLiquidation}, types)
}

func TestLiquidationIncompleteIsFatal(t *testing.T) {
	book := portfolio.NewBook(100000)
	openPos(t, book, "a", "XAUUSD", models.SideBuy, 800, 100)
	m := newManager(t, book, &fakeMarket{closes: map[string][]float64{"XAUUSD": wild(80)}}, tuesday)
	m.SetLiquidator(&bookLiquidator{book: book, fail: true})

	_, err := m.CheckPortfolioRisk(context.Background())
	require.ErrorIs(t, err, ErrLiquidationIncomplete)

	vs, err := m.Violations(context.Background(), tuesday.Add(-time.Minute), tuesday.Add(time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, models.ViolationLiquidationIncomplete, vs[0].Type)
	assert.Equal(t, models.SeverityCritical, vs[0].Severity)
}

func TestLiquidateWithoutLiquidator(t *testing.T) {
	m := newManager(t, portfolio.NewBook(1), &fakeMarket{}, tuesday)
	assert.ErrorIs(t, m.Liquidate(context.Background(), models.CloseEmergencyStop), ErrNoLiquidator)
}

func TestCalmBookStaysUnderLimit(t *testing.T) {
	book := portfolio.NewBook(100000)
	openPos(t, book, "b", "EURUSD", models.SideBuy, 10000, 1.1)
	m := newManager(t, book, &fakeMarket{closes: map[string][]float64{"EURUSD": calm(1.1, 80, 0)}}, tuesday)
	liq := &bookLiquidator{book: book}
	m.SetLiquidator(liq)

	pr, err := m.CheckPortfolioRisk(context.Background())
	require.NoError(t, err)
	assert.Less(t, pr.VaRFraction, 0.05)
	assert.Greater(t, pr.VaR, 0.0)
	assert.InDelta(t, 11000, pr.Exposure, 1e-6)
	assert.Zero(t, liq.calls)
	assert.Equal(t, 1, book.OpenCount())
}

func TestPortfolioRiskHistoryErrorPropagates(t *testing.T) {
	book := portfolio.NewBook(100000)
	openPos(t, book, "a", "XAUUSD", models.SideBuy, 1, 100)
	m := newManager(t, book, &fakeMarket{}, tuesday)
	_, err := m.CheckPortfolioRisk(context.Background())
	assert.Error(t, err)
}

func TestVaRMethods(t *testing.T) {
	rets := []float64{0.01, -0.02, 0.005, -0.04, 0.03, -0.01, 0.0, 0.02, -0.03, 0.015}
	assert.InDelta(t, 0.0355, HistoricalVaR(rets, 0.95), 1e-9)
	assert.Zero(t, HistoricalVaR([]float64{0.01, 0.02, 0.03}, 0.95))
	assert.Zero(t, HistoricalVaR(nil, 0.95))

	p := ParametricVaR(rets, 0.95)
	assert.Greater(t, p, 0.0)
	assert.Greater(t, ParametricVaR(rets, 0.99), p)
}

func TestDrawdowns(t *testing.T) {
	maxDD, cur := Drawdowns([]float64{100, 120, 90, 110, 105})
	assert.InDelta(t, 0.25, maxDD, 1e-12)
	assert.InDelta(t, 15.0/120, cur, 1e-12)

	maxDD, cur = Drawdowns(nil)
	assert.Zero(t, maxDD)
	assert.Zero(t, cur)
}

func TestDrawdownBreachRecordedOncePerCrossing(t *testing.T) {
	book := portfolio.NewBook(100000)
	openPos(t, book, "a", "XAUUSD", models.SideBuy, 500, 100)
	m := newManager(t, book, &fakeMarket{closes: map[string][]float64{"XAUUSD": calm(100, 80, 0)}}, tuesday)
	m.SetLiquidator(&bookLiquidator{book: book})

	drawdowns := func() []models.RiskViolation {
		vs, err := m.Violations(context.Background(), tuesday.Add(-time.Minute), tuesday.Add(time.Minute), 0)
		require.NoError(t, err)
		var out []models.RiskViolation
		for _, v := range vs {
			if v.Type == models.ViolationDrawdown {
				out = append(out, v)
			}
		}
		return out
	}

	book.Mark("XAUUSD", 50)
	book.RecordEquity()
	for i := 0; i < 2; i++ {
		pr, err := m.CheckPortfolioRisk(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 0.25, pr.CurrentDrawdown, 1e-9)
	}
	dd := drawdowns()
	require.Len(t, dd, 1)
	assert.InDelta(t, 0.25, dd[0].Value, 1e-9)
	assert.Equal(t, 0.2, dd[0].Limit)
	assert.Equal(t, models.SeverityHigh, dd[0].Severity)
	assert.Equal(t, 1, book.OpenCount(), "drawdown alone does not liquidate")

	book.Mark("XAUUSD", 100)
	book.RecordEquity()
	_, err := m.CheckPortfolioRisk(context.Background())
	require.NoError(t, err)
	assert.Len(t, drawdowns(), 1)

	book.Mark("XAUUSD", 50)
	book.RecordEquity()
	_, err = m.CheckPortfolioRisk(context.Background())
	require.NoError(t, err)
	assert.Len(t, drawdowns(), 2)
}

func TestLiquidationCountsPositionsThatLandMidway(t *testing.T) {
	book := portfolio.NewBook(100000)
	m := newManager(t, book, &fakeMarket{}, tuesday)
	liq := &lateFillLiquidator{bookLiquidator: bookLiquidator{book: book}, open: func() {
		openPos(t, book, "late", "EURUSD", models.SideBuy, 100, 1.1)
	}}
	m.SetLiquidator(liq)

	require.NoError(t, m.Liquidate(context.Background(), models.CloseEmergencyStop))
	vs, err := m.Violations(context.Background(), tuesday.Add(-time.Minute), tuesday.Add(time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, models.ViolationLiquidation, vs[0].Type)
	assert.Equal(t, 1.0, vs[0].Value)
	assert.Equal(t, 1.0, vs[0].Limit)
}

// lateFillLiquidator opens a position just before closing, the way an
// in-flight entry lands while liquidation waits for the execution lock.
type lateFillLiquidator struct {
	bookLiquidator
	open func()
}

func (l *lateFillLiquidator) LiquidateAll(ctx context.Context, reason string) (int, error) {
	l.open()
	return l.bookLiquidator.LiquidateAll(ctx, reason)
}
