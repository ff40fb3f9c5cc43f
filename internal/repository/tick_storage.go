package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
)

// CHTickStorage writes raw ticks to ClickHouse. Candle tables are filled
// from it by materialized views.
type CHTickStorage struct {
	db    *sql.DB
	table string
}

var _ domrepo.TickStorage = (*CHTickStorage)(nil)

func NewCHTickStorage(db *sql.DB, database string) *CHTickStorage {
	return &CHTickStorage{db: db, table: database + ".ticks_raw"}
}

// Init is a no-op; schema is created by the clickhouse client.
func (s *CHTickStorage) Init(context.Context) error { return nil }

const tickChunk = 2000

func (s *CHTickStorage) StoreBatch(ctx context.Context, ticks []*models.Tick) error {
	for start := 0; start < len(ticks); start += tickChunk {
		end := min(start+tickChunk, len(ticks))

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*6)
		for _, t := range ticks[start:end] {
			if t == nil || t.Symbol == "" || t.Timestamp.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?)")
			args = append(args, t.Timestamp.UTC(), t.Symbol, t.Bid, t.Ask, t.Price(), t.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, symbol, bid, ask, last, volume) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert ticks: %w", err)
		}
	}
	return nil
}

func (s *CHTickStorage) Health(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close is a no-op; the pool belongs to the clickhouse client.
func (s *CHTickStorage) Close() error { return nil }
