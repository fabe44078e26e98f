package calculator

import (
	"math"

	"github.com/guregu/null/v6"
	"github.com/markcheno/go-talib"
)

// VolatilityWindow is the number of trailing returns in volatility_10d.
const VolatilityWindow = 10

// PctChange returns the one-step percent change. The first index, and any index
// whose previous value is zero, is absent.
func PctChange(values []float64) []null.Float {
	out := make([]null.Float, len(values))
	if len(values) < 2 {
		return out
	}
	roc := talib.Roc(values, 1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 || !finite(roc[i]) {
			continue
		}
		out[i] = null.FloatFrom(roc[i])
	}
	return out
}

// RollingStd returns the sample standard deviation (n-1 denominator) of the
// trailing window values. A window containing an absent value is absent.
func RollingStd(values []null.Float, window int) []null.Float {
	out := make([]null.Float, len(values))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		if std, ok := sampleStd(values[i-window+1 : i+1]); ok {
			out[i] = null.FloatFrom(std)
		}
	}
	return out
}

func sampleStd(window []null.Float) (float64, bool) {
	sum := 0.0
	for _, v := range window {
		if !v.Valid {
			return 0, false
		}
		sum += v.Float64
	}
	mean := sum / float64(len(window))
	ss := 0.0
	for _, v := range window {
		d := v.Float64 - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(window)-1)), true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
