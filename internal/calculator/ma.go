package calculator

import (
	"github.com/guregu/null/v6"
	"github.com/markcheno/go-talib"
)

// SMAWindows are the moving-average lengths stored per bar.
var SMAWindows = []int{20, 50, 200}

// SMASeries returns the rolling SMA for every index. Index i is valid once
// i+1 >= period, i.e. the window includes the current price.
func SMASeries(prices []float64, period int) []null.Float {
	out := make([]null.Float, len(prices))
	if period <= 0 || len(prices) < period {
		return out
	}
	sma := talib.Sma(prices, period)
	for i := period - 1; i < len(prices); i++ {
		out[i] = null.FloatFrom(sma[i])
	}
	return out
}
