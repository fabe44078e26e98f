package calculator

import (
	"github.com/guregu/null/v6"

	"MarketIngest/internal/model"
)

// Enrich fills the IndicatorSet of every bar in place and returns the series.
// Short series are fine: indicators whose window is not yet full stay absent.
func Enrich(s *model.Series) *model.Series {
	if s.Len() == 0 {
		return s
	}
	closes := s.Closes()
	volumes := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		volumes[i] = b.Volume
	}

	sma := make(map[int][]null.Float, len(SMAWindows))
	for _, w := range SMAWindows {
		sma[w] = SMASeries(closes, w)
	}
	returns := PctChange(closes)
	volatility := RollingStd(returns, VolatilityWindow)
	volumeChange := PctChange(volumes)

	for i := range s.Bars {
		ind := model.IndicatorSet{
			SMA20:            sma[20][i],
			SMA50:            sma[50][i],
			SMA200:           sma[200][i],
			DailyReturnPct:   returns[i],
			Volatility10dPct: volatility[i],
			VolumeChangePct:  volumeChange[i],
		}
		if ind.SMA50.Valid && ind.SMA50.Float64 != 0 {
			ind.RS50 = null.FloatFrom(closes[i] / ind.SMA50.Float64)
		}
		s.Bars[i].Indicators = ind
	}
	return s
}
