package util

import (
	"strconv"
	"time"
)

// unix values above this are read as milliseconds.
const millisThreshold = 1e11

// ParseTime accepts RFC3339 (with or without fractional seconds) and unix
// seconds or milliseconds. Results are UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ts <= 0 {
		return time.Time{}, false
	}
	if ts > millisThreshold {
		return time.UnixMilli(ts).UTC(), true
	}
	return time.Unix(ts, 0).UTC(), true
}

// ParseTimeDefault parses time or returns def if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// Range resolves an optional [from, to] query pair. Missing to means now,
// missing from means lookback before to.
func Range(from, to string, lookback time.Duration, now time.Time) (time.Time, time.Time) {
	end := ParseTimeDefault(to, now.UTC())
	start := ParseTimeDefault(from, end.Add(-lookback))
	return start, end
}

// AlignFromTo truncates both ends to the bucket step. Non-positive steps
// leave the range unchanged.
func AlignFromTo(from, to time.Time, step time.Duration) (time.Time, time.Time) {
	if step <= 0 {
		return from, to
	}
	return from.Truncate(step), to.Truncate(step)
}

// ParseIntDefault parses s or returns def if empty/invalid.
func ParseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
