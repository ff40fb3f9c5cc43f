package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
)

var candleCols = []string{"b", "symbol", "open", "high", "low", "close", "vol"}

func TestLatestCandlesAreAscending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	t0 := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM alphadesk.candles_1m")).
		WithArgs("EURUSD", 2).
		WillReturnRows(sqlmock.NewRows(candleCols).
			AddRow(t0.Add(time.Minute), "EURUSD", 1.2, 1.3, 1.1, 1.25, 10.0).
			AddRow(t0, "EURUSD", 1.0, 1.2, 0.9, 1.1, 5.0))

	s := NewCHFeatureStore(db, "alphadesk")
	out, err := s.GetLatestNCandles(context.Background(), "EURUSD", 2, domrepo.TF1m)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, t0, out[0].Bucket)
	assert.Equal(t, 1.25, out[1].Close)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFiveMinuteCandlesFoldOneMinuteTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	from := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("toStartOfFiveMinutes(bucket) AS b")).
		WithArgs("GBPUSD", from, to).
		WillReturnRows(sqlmock.NewRows(candleCols))

	s := NewCHFeatureStore(db, "alphadesk")
	out, err := s.GetCandles(context.Background(), "GBPUSD", from, to, domrepo.TF5m)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = s.GetCandles(context.Background(), "GBPUSD", from, to, domrepo.Timeframe("1h"))
	assert.Error(t, err)
	_, err = s.GetLatestNCandles(context.Background(), "GBPUSD", 0, domrepo.TF1m)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeatureStoreQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("candles_1s").WillReturnError(errors.New("connection refused"))
	_, err = NewCHFeatureStore(db, "alphadesk").GetLatestNCandles(context.Background(), "EURUSD", 10, domrepo.TF1s)
	assert.ErrorContains(t, err, "connection refused")
}

func TestTickStorageChunksAndSkipsInvalid(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alphadesk.ticks_raw (ts, symbol, bid, ask, last, volume) VALUES (?, ?, ?, ?, ?, ?)")).
		WithArgs(ts, "EURUSD", 1.0999, 1.1001, 1.1, 2.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewCHTickStorage(db, "alphadesk")
	err = s.StoreBatch(context.Background(), []*models.Tick{
		{Symbol: "EURUSD", Bid: 1.0999, Ask: 1.1001, Last: 1.1, Volume: 2, Timestamp: ts},
		{Symbol: "", Last: 1, Timestamp: ts},
		{Symbol: "GBPUSD", Last: 1.2},
		nil,
	})
	require.NoError(t, err)
	require.NoError(t, s.StoreBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditStoreViolations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	v := models.RiskViolation{ID: "v1", Type: models.ViolationVaR, Severity: models.SeverityHigh, Message: "var", Value: 0.07, Limit: 0.05, Timestamp: ts}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alphadesk.risk_violations")).
		WithArgs("v1", ts, models.ViolationVaR, models.SeverityHigh, "var", 0.07, 0.05, "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM alphadesk.risk_violations")).
		WithArgs(ts.Add(-time.Hour), ts, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "ts", "type", "severity", "message", "value", "limit_value", "symbol", "position_id"}).
			AddRow("v1", ts, models.ViolationVaR, models.SeverityHigh, "var", 0.07, 0.05, "", ""))

	s := NewCHAuditStore(db, "alphadesk")
	require.NoError(t, s.RecordViolation(context.Background(), v))
	got, err := s.QueryViolations(context.Background(), ts.Add(-time.Hour), ts, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.RiskViolation{v}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditStoreTrades(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	opened := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	closed := opened.Add(time.Hour)
	tr := models.TradeRecord{
		PositionID: "p1", Symbol: "EURUSD", Side: models.SideBuy, Size: 1000, EntryPrice: 1.1, ExitPrice: 1.11,
		PnL: 10, PnLPercent: 0.9, Reason: models.CloseTakeProfit, Strategy: "alpha",
		Attribution: map[string]float64{"trend": 0.6}, OpenedAt: opened, ClosedAt: closed,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alphadesk.trades")).
		WithArgs("p1", "EURUSD", "buy", 1000.0, 1.1, 1.11, 10.0, 0.9, models.CloseTakeProfit, "alpha", `{"trend":0.6}`, opened, closed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("AND symbol = ?")).
		WithArgs(opened, closed, "EURUSD", 5).
		WillReturnRows(sqlmock.NewRows([]string{"position_id", "symbol", "side", "size", "entry_price", "exit_price", "pnl", "pnl_percent", "reason", "strategy", "attribution", "opened_at", "closed_at"}).
			AddRow("p1", "EURUSD", "buy", 1000.0, 1.1, 1.11, 10.0, 0.9, models.CloseTakeProfit, "alpha", `{"trend":0.6}`, opened, closed))

	s := NewCHAuditStore(db, "alphadesk")
	require.NoError(t, s.RecordTrade(context.Background(), tr))
	got, err := s.QueryTrades(context.Background(), "EURUSD", opened, closed, 5)
	require.NoError(t, err)
	assert.Equal(t, []models.TradeRecord{tr}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditStoreOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alphadesk.orders")).
		WithArgs("o1", "sig-1", "", "EURUSD", "sell", models.OrderTypeMarket, 500.0, 0.0, "rejected", "http_422", "", now, now).
		WillReturnError(errors.New("table missing"))

	err = NewCHAuditStore(db, "alphadesk").RecordOrder(context.Background(), models.Order{
		ID: "o1", LinkID: "sig-1", Symbol: "EURUSD", Side: models.SideSell, Type: models.OrderTypeMarket,
		Qty: 500, Status: models.OrderRejected, Reason: "http_422", CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorContains(t, err, "record order")
	assert.NoError(t, mock.ExpectationsWereMet())
}
