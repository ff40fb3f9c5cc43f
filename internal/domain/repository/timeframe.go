package repository

import "time"

// Timeframe is a candle bucket width as it appears in queries and table
// names.
type Timeframe string

const (
	TF1s Timeframe = "1s"
	TF1m Timeframe = "1m"
	TF5m Timeframe = "5m"
)

var bucketWidth = map[Timeframe]time.Duration{
	TF1s: time.Second,
	TF1m: time.Minute,
	TF5m: 5 * time.Minute,
}

func IsValidTimeframe(tf Timeframe) bool {
	_, ok := bucketWidth[tf]
	return ok
}

// NormalizeTimeframe maps unknown or empty input to 1m.
func NormalizeTimeframe(s string) Timeframe {
	if tf := Timeframe(s); IsValidTimeframe(tf) {
		return tf
	}
	return TF1m
}

// Duration is the bucket width, or zero for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration { return bucketWidth[tf] }
