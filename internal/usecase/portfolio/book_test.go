package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlphaDesk/internal/domain/models"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func long(id string, size, entry float64) *models.Position {
	return &models.Position{
		ID: id, Symbol: "EURUSD", Side: models.SideBuy, Size: size,
		EntryPrice: entry, CurrentPrice: entry, Status: models.PositionOpen,
		SignalID: "sig-" + id, Strategy: "ensemble",
	}
}

func TestOpenMarkClose(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)}
	b := NewBook(100000, WithClock(c.now))

	require.NoError(t, b.Open(long("p1", 10000, 1.1), &models.Order{ID: "o1", LinkID: "sig-p1", Status: models.OrderFilled}))
	assert.InDelta(t, 89000, b.Cash(), 1e-6)
	assert.InDelta(t, 100000, b.Equity(), 1e-6)
	assert.True(t, b.HasOrderFor("sig-p1"))

	open := b.Mark("EURUSD", 1.105)
	require.Len(t, open, 1)
	assert.InDelta(t, 50, open[0].PnL, 1e-6)
	assert.InDelta(t, 100050, b.Equity(), 1e-6)
	assert.Empty(t, b.Mark("GBPUSD", 1.3))

	assert.Equal(t, models.Performance{}, b.Performance(), "opening never touches performance")

	tr, err := b.Close("p1", 1.105, models.CloseTakeProfit)
	require.NoError(t, err)
	assert.InDelta(t, 50, tr.PnL, 1e-6)
	assert.Equal(t, models.CloseTakeProfit, tr.Reason)
	assert.InDelta(t, 100050, b.Cash(), 1e-6)
	assert.Zero(t, b.OpenCount())

	perf := b.Performance()
	assert.Equal(t, 1, perf.TotalTrades)
	assert.Equal(t, 1, perf.WinningTrades)
	assert.InDelta(t, 50, perf.TotalPnL, 1e-6)
	assert.Len(t, b.Trades(0), 1)

	_, err = b.Close("p1", 1.2, models.CloseManual)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestShortAccounting(t *testing.T) {
	b := NewBook(10000)
	short := long("s1", 100, 50)
	short.Side = models.SideSell
	require.NoError(t, b.Open(short, nil))
	assert.InDelta(t, 15000, b.Cash(), 1e-9)
	assert.InDelta(t, 10000, b.Equity(), 1e-9)

	b.Mark("EURUSD", 45)
	assert.InDelta(t, 10500, b.Equity(), 1e-9)

	tr, err := b.Close("s1", 45, models.CloseManual)
	require.NoError(t, err)
	assert.InDelta(t, 500, tr.PnL, 1e-9)
	assert.InDelta(t, 10500, b.Cash(), 1e-9)
}

func TestBeginCloseClaimsOnce(t *testing.T) {
	b := NewBook(100000)
	require.NoError(t, b.Open(long("p1", 1, 1.1), nil))

	p, err := b.BeginClose("p1")
	require.NoError(t, err)
	assert.Equal(t, models.PositionClosing, p.Status)

	_, err = b.BeginClose("p1")
	assert.ErrorIs(t, err, ErrPositionClosing)
	assert.Empty(t, b.Mark("EURUSD", 1.2), "closing positions are not offered for new checks")

	b.AbortClose("p1")
	_, err = b.BeginClose("p1")
	assert.NoError(t, err)

	_, err = b.BeginClose("nope")
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestReserveIsIdempotent(t *testing.T) {
	b := NewBook(1)
	assert.True(t, b.Reserve("sig"))
	assert.False(t, b.Reserve("sig"))
	assert.False(t, b.HasOrderFor("sig"))

	b.Release("sig")
	assert.True(t, b.Reserve("sig"))

	b.AddOrder(&models.Order{ID: "o", LinkID: "sig", Status: models.OrderPending})
	b.Release("sig")
	assert.False(t, b.Reserve("sig"), "released only while no order exists")
	assert.Len(t, b.PendingOrders(), 1)

	require.NoError(t, b.UpdateOrder(&models.Order{ID: "o", LinkID: "sig", Status: models.OrderRejected}))
	assert.Empty(t, b.PendingOrders())
	assert.ErrorIs(t, b.UpdateOrder(&models.Order{ID: "x"}), ErrOrderNotFound)
}

func TestPerformanceDrawdown(t *testing.T) {
	b := NewBook(100000)
	for i, exit := range []float64{1.2, 1.05, 1.08, 1.0} {
		id := string(rune('a' + i))
		require.NoError(t, b.Open(long(id, 1000, 1.1), nil))
		_, err := b.Close(id, exit, models.CloseManual)
		require.NoError(t, err)
	}
	perf := b.Performance()
	assert.Equal(t, 4, perf.TotalTrades)
	assert.Equal(t, 1, perf.WinningTrades)
	assert.InDelta(t, 100, perf.PeakPnL, 1e-6)
	assert.InDelta(t, -70, perf.TotalPnL, 1e-6)
	assert.InDelta(t, 170, perf.MaxDrawdown, 1e-6)
	assert.InDelta(t, 0.25, perf.WinRate(), 1e-9)
	assert.Len(t, b.EquityCurve(), 5)
}

func TestDailyPnLRollsAtMidnight(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC)}
	b := NewBook(1000, WithClock(c.now))
	require.NoError(t, b.Open(long("p", 100, 1), nil))
	b.Mark("EURUSD", 0.9)

	pnl, start := b.DailyPnL()
	assert.InDelta(t, -10, pnl, 1e-9)
	assert.Equal(t, 1000.0, start)

	c.t = c.t.Add(2 * time.Hour)
	pnl, start = b.DailyPnL()
	assert.InDelta(t, 0, pnl, 1e-9)
	assert.InDelta(t, 990, start, 1e-9)
}

func TestRestore(t *testing.T) {
	b := NewBook(1000)
	p := long("p", 100, 2)
	p.Status = models.PositionClosing
	b.Restore([]*models.Position{p, nil, {ID: "gone", Status: models.PositionClosed}})

	got, ok := b.Get("p")
	require.True(t, ok)
	assert.Equal(t, models.PositionOpen, got.Status)
	assert.Equal(t, 1, b.OpenCount())
	assert.False(t, b.Reserve("sig-p"))
	assert.InDelta(t, 800, b.Cash(), 1e-9)
}

func TestPruneLinksAgesOutSettledClaims(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)}
	b := NewBook(100000, WithClock(c.now))

	require.True(t, b.Reserve("reserved"))
	b.AddOrder(&models.Order{ID: "o-pending", LinkID: "pending", Status: models.OrderPending})
	b.AddOrder(&models.Order{ID: "o-rejected", LinkID: "rejected", Status: models.OrderRejected})
	b.Restore([]*models.Position{long("r", 100, 1.1)})
	assert.Equal(t, 4, b.Links())

	c.t = c.t.Add(LinkRetention - time.Minute)
	assert.Zero(t, b.PruneLinks())
	assert.False(t, b.Reserve("rejected"), "still inside the retention window")

	c.t = c.t.Add(2 * time.Minute)
	assert.Equal(t, 2, b.PruneLinks())
	assert.Equal(t, 2, b.Links())
	assert.True(t, b.Reserve("reserved"))
	assert.True(t, b.Reserve("rejected"))
	assert.ErrorIs(t, b.UpdateOrder(&models.Order{ID: "o-rejected"}), ErrOrderNotFound)

	assert.False(t, b.Reserve("pending"), "pending order keeps its claim")
	assert.Len(t, b.PendingOrders(), 1)
	assert.False(t, b.Reserve("sig-r"), "restored position keeps its claim")
}

func TestPruneLinksDropsClaimOnceRestoredPositionCloses(t *testing.T) {
	c := &clock{t: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)}
	b := NewBook(100000, WithClock(c.now))
	b.Restore([]*models.Position{long("r", 100, 1.1)})

	_, err := b.BeginClose("r")
	require.NoError(t, err)
	_, err = b.Close("r", 1.2, models.CloseManual)
	require.NoError(t, err)

	c.t = c.t.Add(LinkRetention + time.Second)
	b.RecordEquity()
	assert.Zero(t, b.Links())
}
