package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
)

// CHAuditStore is the append-only audit trail in ClickHouse.
type CHAuditStore struct {
	db       *sql.DB
	database string
}

var _ domrepo.AuditStore = (*CHAuditStore)(nil)

func NewCHAuditStore(db *sql.DB, database string) *CHAuditStore {
	return &CHAuditStore{db: db, database: database}
}

// Init is a no-op; schema is created by the clickhouse client.
func (s *CHAuditStore) Init(context.Context) error { return nil }

func (s *CHAuditStore) RecordViolation(ctx context.Context, v models.RiskViolation) error {
	q := fmt.Sprintf(`INSERT INTO %s.risk_violations
		(id, ts, type, severity, message, value, limit_value, symbol, position_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.database)
	_, err := s.db.ExecContext(ctx, q,
		v.ID, v.Timestamp.UTC(), v.Type, v.Severity, v.Message, v.Value, v.Limit, v.Symbol, v.PositionID)
	if err != nil {
		return fmt.Errorf("record violation: %w", err)
	}
	return nil
}

func (s *CHAuditStore) RecordTrade(ctx context.Context, t models.TradeRecord) error {
	attr, err := json.Marshal(t.Attribution)
	if err != nil {
		return fmt.Errorf("encode attribution: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s.trades
		(position_id, symbol, side, size, entry_price, exit_price, pnl, pnl_percent, reason, strategy, attribution, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.database)
	_, err = s.db.ExecContext(ctx, q,
		t.PositionID, t.Symbol, string(t.Side), t.Size, t.EntryPrice, t.ExitPrice, t.PnL, t.PnLPercent,
		t.Reason, t.Strategy, string(attr), t.OpenedAt.UTC(), t.ClosedAt.UTC())
	if err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

// RecordOrder appends the order's current state. The table keeps the
// latest row per id.
func (s *CHAuditStore) RecordOrder(ctx context.Context, o models.Order) error {
	q := fmt.Sprintf(`INSERT INTO %s.orders
		(id, link_id, venue_order_id, symbol, side, type, qty, fill_price, status, reason, position_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.database)
	_, err := s.db.ExecContext(ctx, q,
		o.ID, o.LinkID, o.VenueOrderID, o.Symbol, string(o.Side), o.Type, o.Qty, o.FillPrice,
		string(o.Status), o.Reason, o.LinkedPositionID, o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("record order: %w", err)
	}
	return nil
}

func (s *CHAuditStore) QueryViolations(ctx context.Context, from, to time.Time, limit int) ([]models.RiskViolation, error) {
	q := fmt.Sprintf(`SELECT id, ts, type, severity, message, value, limit_value, symbol, position_id
		FROM %s.risk_violations
		WHERE ts >= ? AND ts <= ?
		ORDER BY ts DESC
		LIMIT ?`, s.database)
	rows, err := s.db.QueryContext(ctx, q, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	var out []models.RiskViolation
	for rows.Next() {
		var v models.RiskViolation
		if err := rows.Scan(&v.ID, &v.Timestamp, &v.Type, &v.Severity, &v.Message, &v.Value, &v.Limit, &v.Symbol, &v.PositionID); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *CHAuditStore) QueryTrades(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.TradeRecord, error) {
	where := "closed_at >= ? AND closed_at <= ?"
	args := []interface{}{from.UTC(), to.UTC()}
	if symbol != "" {
		where += " AND symbol = ?"
		args = append(args, symbol)
	}
	args = append(args, limit)
	q := fmt.Sprintf(`SELECT position_id, symbol, side, size, entry_price, exit_price, pnl, pnl_percent, reason, strategy, attribution, opened_at, closed_at
		FROM %s.trades
		WHERE %s
		ORDER BY closed_at DESC
		LIMIT ?`, s.database, where)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var (
			t    models.TradeRecord
			side string
			attr string
		)
		if err := rows.Scan(&t.PositionID, &t.Symbol, &side, &t.Size, &t.EntryPrice, &t.ExitPrice, &t.PnL, &t.PnLPercent,
			&t.Reason, &t.Strategy, &attr, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = models.Side(side)
		if attr != "" && attr != "null" {
			if err := json.Unmarshal([]byte(attr), &t.Attribution); err != nil {
				return nil, fmt.Errorf("decode attribution: %w", err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *CHAuditStore) Health(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close is a no-op; the pool belongs to the clickhouse client.
func (s *CHAuditStore) Close() error { return nil }
