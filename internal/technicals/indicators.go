// Package technicals computes technical indicators and trading signals for
// watchlist stocks and open option positions.
package technicals

import "math"

// Default indicator periods.
const (
	RSIPeriod       = 14
	BollingerPeriod = 20
	BollingerStdDev = 2.0
	SupportLookback = 20
	VolumeLookback  = 20
)

// RSI computes the relative strength index over the trailing period using
// simple average gains and losses. Returns a neutral 50 when there is not
// enough history, and 100 when the window has no losses.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}

	var gains, losses float64
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// SMA computes the simple moving average of the trailing period. When there
// is less history than the period, it averages what is available.
func SMA(values []float64, period int) float64 {
	if len(values) == 0 || period <= 0 {
		return 0
	}
	if period > len(values) {
		period = len(values)
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMA computes the exponential moving average, seeded with the SMA of the
// first period and smoothed with alpha = 2/(period+1). With less history
// than the period it degrades to a plain mean.
func EMA(values []float64, period int) float64 {
	if len(values) == 0 || period <= 0 {
		return 0
	}
	if len(values) < period {
		return SMA(values, len(values))
	}

	ema := SMA(values[:period], period)
	alpha := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = v*alpha + ema*(1-alpha)
	}
	return ema
}

// BollingerBands returns the upper, middle, and lower bands over the period.
// With insufficient history all three collapse to the available mean.
func BollingerBands(closes []float64, period int, numStdDev float64) (upper, middle, lower float64) {
	middle = SMA(closes, period)
	if len(closes) < period {
		return middle, middle, middle
	}

	var variance float64
	for _, v := range closes[len(closes)-period:] {
		d := v - middle
		variance += d * d
	}
	std := math.Sqrt(variance / float64(period))
	return middle + numStdDev*std, middle, middle - numStdDev*std
}

// BollingerPosition returns where price sits within the bands as a 0-1 ratio
// (0 = lower band, 1 = upper band). Collapsed bands report 0.5.
func BollingerPosition(price, upper, lower float64) float64 {
	width := upper - lower
	if width <= 0 {
		return 0.5
	}
	return (price - lower) / width
}

// SupportLevel returns the lowest low over the trailing lookback window.
func SupportLevel(lows []float64, lookback int) float64 {
	if len(lows) == 0 {
		return 0
	}
	if lookback > len(lows) {
		lookback = len(lows)
	}
	low := lows[len(lows)-lookback]
	for _, v := range lows[len(lows)-lookback:] {
		if v < low {
			low = v
		}
	}
	return low
}

// ResistanceLevel returns the highest high over the trailing lookback window.
func ResistanceLevel(highs []float64, lookback int) float64 {
	if len(highs) == 0 {
		return 0
	}
	if lookback > len(highs) {
		lookback = len(highs)
	}
	high := highs[len(highs)-lookback]
	for _, v := range highs[len(highs)-lookback:] {
		if v > high {
			high = v
		}
	}
	return high
}

// VolumeRatio returns today's volume relative to the average over the
// trailing lookback window. Reports 1 when history is missing.
func VolumeRatio(volumes []int64, lookback int) float64 {
	if len(volumes) == 0 {
		return 1
	}
	if lookback > len(volumes) {
		lookback = len(volumes)
	}
	var sum float64
	for _, v := range volumes[len(volumes)-lookback:] {
		sum += float64(v)
	}
	avg := sum / float64(lookback)
	if avg == 0 {
		return 1
	}
	return float64(volumes[len(volumes)-1]) / avg
}
