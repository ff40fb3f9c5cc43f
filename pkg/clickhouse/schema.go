package clickhouse

import "fmt"

// Schema returns the DDL for the tables the service writes and reads.
// Ticks land in a raw table; one-minute and one-second candles are kept
// up to date by materialized views.
func Schema(db string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.ticks_raw (
			ts DateTime64(3, 'UTC'),
			symbol LowCardinality(String),
			bid Float64,
			ask Float64,
			last Float64,
			volume Float64
		) ENGINE = MergeTree
		PARTITION BY toDate(ts)
		ORDER BY (symbol, ts)
		TTL toDateTime(ts) + INTERVAL 30 DAY`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.candles_1s (
			bucket DateTime('UTC'),
			symbol LowCardinality(String),
			open SimpleAggregateFunction(any, Float64),
			high SimpleAggregateFunction(max, Float64),
			low SimpleAggregateFunction(min, Float64),
			close SimpleAggregateFunction(anyLast, Float64),
			vol SimpleAggregateFunction(sum, Float64)
		) ENGINE = AggregatingMergeTree
		ORDER BY (symbol, bucket)
		TTL bucket + INTERVAL 2 DAY`, db),
		fmt.Sprintf(`CREATE MATERIALIZED VIEW IF NOT EXISTS %[1]s.mv_candles_1s TO %[1]s.candles_1s AS
			SELECT toStartOfSecond(ts) AS bucket, symbol,
				any(last) AS open, max(last) AS high, min(last) AS low, anyLast(last) AS close, sum(volume) AS vol
			FROM %[1]s.ticks_raw GROUP BY symbol, bucket`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.candles_1m (
			bucket DateTime('UTC'),
			symbol LowCardinality(String),
			open SimpleAggregateFunction(any, Float64),
			high SimpleAggregateFunction(max, Float64),
			low SimpleAggregateFunction(min, Float64),
			close SimpleAggregateFunction(anyLast, Float64),
			vol SimpleAggregateFunction(sum, Float64)
		) ENGINE = AggregatingMergeTree
		ORDER BY (symbol, bucket)`, db),
		fmt.Sprintf(`CREATE MATERIALIZED VIEW IF NOT EXISTS %[1]s.mv_candles_1m TO %[1]s.candles_1m AS
			SELECT toStartOfMinute(ts) AS bucket, symbol,
				any(last) AS open, max(last) AS high, min(last) AS low, anyLast(last) AS close, sum(volume) AS vol
			FROM %[1]s.ticks_raw GROUP BY symbol, bucket`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.risk_violations (
			id String,
			ts DateTime64(3, 'UTC'),
			type LowCardinality(String),
			severity LowCardinality(String),
			message String,
			value Float64,
			limit_value Float64,
			symbol String,
			position_id String
		) ENGINE = MergeTree
		ORDER BY (ts, type)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trades (
			position_id String,
			symbol LowCardinality(String),
			side LowCardinality(String),
			size Float64,
			entry_price Float64,
			exit_price Float64,
			pnl Float64,
			pnl_percent Float64,
			reason LowCardinality(String),
			strategy String,
			attribution String,
			opened_at DateTime64(3, 'UTC'),
			closed_at DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		ORDER BY (symbol, closed_at)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.orders (
			id String,
			link_id String,
			venue_order_id String,
			symbol LowCardinality(String),
			side LowCardinality(String),
			type LowCardinality(String),
			qty Float64,
			fill_price Float64,
			status LowCardinality(String),
			reason String,
			position_id String,
			created_at DateTime64(3, 'UTC'),
			updated_at DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY id`, db),
	}
}
