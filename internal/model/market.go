package model

import (
	"math"
	"sort"
	"time"
)

// Timeframe is the bar size of a series.
type Timeframe string

const (
	Hourly  Timeframe = "hourly"
	Daily   Timeframe = "daily"
	Weekly  Timeframe = "weekly"
	Monthly Timeframe = "monthly"
)

// OHLCV represents a single candlestick bar together with its derived indicators.
type OHLCV struct {
	Symbol     string
	Time       time.Time
	Timeframe  Timeframe
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	Indicators IndicatorSet
}

// Sane reports whether high/low bound open and close. Upstream data violates this
// now and then; callers log it and move on.
func (b OHLCV) Sane() bool {
	return b.High >= math.Max(b.Open, b.Close) && b.Low <= math.Min(b.Open, b.Close) && b.Volume >= 0
}

// Finite reports whether every price and volume field is a real number.
func (b OHLCV) Finite() bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Series holds the bars of one (symbol, timeframe), ascending by time.
type Series struct {
	Symbol    string
	Timeframe Timeframe
	Bars      []OHLCV
}

// Len returns the number of bars.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// Closes extracts the close prices.
func (s *Series) Closes() []float64 {
	closes := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		closes[i] = b.Close
	}
	return closes
}

// Normalize stamps symbol/timeframe on every bar, converts times to UTC, sorts
// ascending and drops duplicate timestamps (the later bar wins).
func (s *Series) Normalize() {
	if s == nil || len(s.Bars) == 0 {
		return
	}
	for i := range s.Bars {
		s.Bars[i].Symbol = s.Symbol
		s.Bars[i].Timeframe = s.Timeframe
		s.Bars[i].Time = s.Bars[i].Time.UTC()
	}
	sort.SliceStable(s.Bars, func(i, j int) bool { return s.Bars[i].Time.Before(s.Bars[j].Time) })
	out := s.Bars[:1]
	for _, b := range s.Bars[1:] {
		if b.Time.Equal(out[len(out)-1].Time) {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	s.Bars = out
}

// TrimBefore drops bars older than cutoff.
func (s *Series) TrimBefore(cutoff time.Time) {
	if s == nil || cutoff.IsZero() {
		return
	}
	idx := sort.Search(len(s.Bars), func(i int) bool { return !s.Bars[i].Time.Before(cutoff) })
	s.Bars = s.Bars[idx:]
}
