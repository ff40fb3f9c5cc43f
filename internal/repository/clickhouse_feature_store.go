package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	applogger "AlphaDesk/pkg/logger"
)

// CHFeatureStore implements FeatureStore over the ClickHouse candle tables.
type CHFeatureStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

var _ domrepo.FeatureStore = (*CHFeatureStore)(nil)

func NewCHFeatureStore(db *sql.DB, database string) *CHFeatureStore {
	return &CHFeatureStore{db: db, database: database, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHFeatureStore) SetLogger(l *applogger.Logger) { s.l = l.Component("feature_store") }

// candleSource returns the FROM clause and bucket expression for tf. Five
// minute bars are folded from the one-minute table.
func (s *CHFeatureStore) candleSource(tf domrepo.Timeframe) (table, bucket string, err error) {
	switch tf {
	case domrepo.TF1s:
		return s.database + ".candles_1s", "bucket", nil
	case domrepo.TF1m:
		return s.database + ".candles_1m", "bucket", nil
	case domrepo.TF5m:
		return s.database + ".candles_1m", "toStartOfFiveMinutes(bucket)", nil
	default:
		return "", "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
}

const candleSelect = `
	SELECT %[2]s AS b, symbol,
		argMin(open, bucket), max(high), min(low), argMax(close, bucket), sum(vol)
	FROM %[1]s
	WHERE symbol = ?%[3]s
	GROUP BY symbol, b
	ORDER BY b %[4]s`

func (s *CHFeatureStore) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	table, bucket, err := s.candleSource(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(candleSelect, table, bucket, " AND bucket >= ? AND bucket <= ?", "ASC")
	out, err := s.query(ctx, "get_candles", q, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	return out, nil
}

func (s *CHFeatureStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	table, bucket, err := s.candleSource(tf)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("invalid candle count %d", n)
	}
	q := fmt.Sprintf(candleSelect, table, bucket, "", "DESC") + "\n\tLIMIT ?"
	out, err := s.query(ctx, "latest_candles", q, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *CHFeatureStore) query(ctx context.Context, op, q string, args ...interface{}) ([]models.Candle, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse query error", applogger.String("op", op), applogger.Error(err))
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Candle, 0, 256)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			s.l.Error("clickhouse scan error", applogger.String("op", op), applogger.Error(err))
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse query ok",
		applogger.String("op", op),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration", time.Since(start)),
	)
	return out, nil
}
