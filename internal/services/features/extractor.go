package features

import (
	"math"
	"sort"

	"AlphaDesk/internal/domain/models"
	"AlphaDesk/internal/domain/service"
)

// Feature keys produced by Extract.
const (
	KeyClose    = "close"
	KeyReturn   = "return_1"
	KeyVolShort = "vol_short"
	KeyVolLong  = "vol_long"
	KeyEMAFast  = "ema_fast"
	KeyEMASlow  = "ema_slow"
	KeySMA      = "sma"
	KeyStdDev   = "price_std"
	KeyZScore   = "zscore"
	KeyVolume   = "volume"
	KeyBars     = "bars"
	KeyMomentum = "momentum"
)

// Windows configures Extract.
type Windows struct {
	Fast     int
	Slow     int
	Mean     int
	VolShort int
	VolLong  int
}

// DefaultWindows returns the windows used when none are configured.
func DefaultWindows() Windows {
	return Windows{Fast: 12, Slow: 26, Mean: 20, VolShort: 10, VolLong: 50}
}

// Extract derives the feature bag consumed by pods from history.
// Missing inputs leave keys absent rather than zero.
func Extract(candles []models.Candle, w Windows) service.Features {
	f := service.Features{KeyBars: float64(len(candles))}
	if len(candles) == 0 {
		return f
	}
	closes := models.Closes(candles)
	last := closes[len(closes)-1]
	f[KeyClose] = last
	f[KeyVolume] = candles[len(candles)-1].Volume

	rets := ComputeLogReturns(candles)
	if len(rets) > 0 {
		f[KeyReturn] = rets[len(rets)-1]
	}
	if len(rets) >= w.VolShort && w.VolShort > 1 {
		f[KeyVolShort] = StdDev(rets[len(rets)-w.VolShort:])
	}
	if len(rets) >= w.VolLong && w.VolLong > 1 {
		f[KeyVolLong] = StdDev(rets[len(rets)-w.VolLong:])
	}
	if len(closes) >= w.Slow {
		f[KeyEMAFast] = EMA(closes, w.Fast)
		f[KeyEMASlow] = EMA(closes, w.Slow)
		if first := closes[len(closes)-w.Slow]; first > 0 {
			f[KeyMomentum] = last/first - 1
		}
	}
	if len(closes) >= w.Mean && w.Mean > 1 {
		window := closes[len(closes)-w.Mean:]
		mean := Mean(window)
		sd := StdDev(window)
		f[KeySMA] = mean
		f[KeyStdDev] = sd
		if sd > 0 {
			f[KeyZScore] = (last - mean) / sd
		}
	}
	return f
}

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// SimpleReturns computes p_t/p_{t-1} - 1. Non-positive prices yield 0.
func SimpleReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, prices[i]/prices[i-1]-1)
	}
	return out
}

// RealizedVolatility computes annualized realized volatility over the
// latest window using the provided number of bars per year.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	return StdDev(logReturns[len(logReturns)-window:]) * math.Sqrt(barsPerYear)
}

// BarsPerYearForTF returns the approximate number of bars per year for a timeframe.
func BarsPerYearForTF(tf string) float64 {
	switch tf {
	case "1s":
		return 365 * 24 * 60 * 60
	case "5m":
		return 365 * 24 * 12
	default:
		return 365 * 24 * 60
	}
}

// Mean returns the arithmetic mean, 0 for empty input.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the sample standard deviation, 0 when fewer than two points.
func StdDev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// Pearson returns the correlation of the overlapping tails of a and b.
// Degenerate input returns 0.
func Pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 3 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]
	ma, mb := Mean(a), Mean(b)
	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	r := cov / math.Sqrt(va*vb)
	if math.IsNaN(r) {
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}

// EMA returns the exponential moving average of xs seeded with the first value.
func EMA(xs []float64, period int) float64 {
	if len(xs) == 0 || period <= 0 {
		return 0
	}
	k := 2 / (float64(period) + 1)
	ema := xs[0]
	for _, x := range xs[1:] {
		ema = x*k + ema*(1-k)
	}
	return ema
}

// Quantile returns the q-quantile of xs using linear interpolation.
func Quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	if q <= 0 {
		return s[0]
	}
	if q >= 1 {
		return s[len(s)-1]
	}
	pos := q * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return s[lo] + (s[hi]-s[lo])*frac
}

// NormalQuantile returns the inverse standard normal CDF at p
// (Acklam's rational approximation).
func NormalQuantile(p float64) float64 {
	if p <= 0 || p >= 1 {
		return math.NaN()
	}
	a := [...]float64{-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02, 1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00}
	b := [...]float64{-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02, 6.680131188771972e+01, -1.328068155288572e+01}
	c := [...]float64{-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00, -2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00}
	d := [...]float64{7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00, 3.754408661907416e+00}
	const plow = 0.02425
	switch {
	case p < plow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case p > 1-plow:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	default:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	}
}
