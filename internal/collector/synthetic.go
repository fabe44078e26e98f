package collector

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"MarketIngest/internal/model"
)

// SyntheticFetcher generates deterministic bars when no real source is usable.
// Bar i of a symbol is always drawn from the same seed, and timestamps are
// anchored to the current bar boundary, so repeated calls within one bar agree.
type SyntheticFetcher struct {
	Now func() time.Time
}

// NewSyntheticFetcher creates a synthetic fetcher using the wall clock.
func NewSyntheticFetcher() *SyntheticFetcher {
	return &SyntheticFetcher{Now: time.Now}
}

func (f *SyntheticFetcher) Name() string { return "synthetic" }

var basePrices = map[string]float64{
	"AAPL": 150,
	"MSFT": 300,
	"GOOG": 2500,
	"AMZN": 120,
	"META": 450,
	"TSLA": 200,
}

// syntheticPoints decides how many bars to generate for a timeframe and period.
func syntheticPoints(tf model.Timeframe, period string) int {
	switch tf {
	case model.Hourly:
		return 24 * 30
	case model.Weekly:
		return 52 * 5
	case model.Monthly:
		return 12 * 10
	}
	switch period {
	case "1mo":
		return 30
	case "3mo":
		return 90
	case "6mo":
		return 180
	case "1y":
		return 365
	case "5y":
		return 365 * 5
	}
	return 100
}

func symbolSeed(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return h.Sum64()
}

func barTime(anchor time.Time, tf model.Timeframe, back int) time.Time {
	switch tf {
	case model.Hourly:
		return anchor.Add(-time.Duration(back) * time.Hour)
	case model.Weekly:
		return anchor.AddDate(0, 0, -7*back)
	case model.Monthly:
		return anchor.AddDate(0, -back, 0)
	default:
		return anchor.AddDate(0, 0, -back)
	}
}

func anchorTime(now time.Time, tf model.Timeframe) time.Time {
	now = now.UTC()
	switch tf {
	case model.Hourly:
		return now.Truncate(time.Hour)
	case model.Monthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Fetch never fails.
func (f *SyntheticFetcher) Fetch(_ context.Context, symbol string, spec model.TimeframeSpec, period string) (*model.Series, error) {
	if period == "" {
		period = spec.Period
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	points := syntheticPoints(spec.Timeframe, period)
	anchor := anchorTime(now(), spec.Timeframe)
	base, ok := basePrices[symbol]
	if !ok {
		base = 100
	}
	trendScale, cycleScale, cycleLen := 10.0, 5.0, 5.0
	if spec.Timeframe == model.Weekly || spec.Timeframe == model.Monthly {
		trendScale, cycleScale, cycleLen = 20.0, 10.0, 10.0
	}

	seed := symbolSeed(symbol)
	series := &model.Series{Symbol: symbol, Timeframe: spec.Timeframe, Bars: make([]model.OHLCV, 0, points)}
	for i := 0; i < points; i++ {
		rng := rand.New(rand.NewPCG(uint64(i), seed))
		uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }

		trend := trendScale * (1 - float64(i)/float64(points))
		cycle := cycleScale * math.Sin(float64(i)/cycleLen)
		closePrice := base + trend + cycle + uniform(-5, 5)
		openPrice := closePrice - uniform(-2, 2)
		series.Bars = append(series.Bars, model.OHLCV{
			Time:   barTime(anchor, spec.Timeframe, i),
			Open:   openPrice,
			High:   math.Max(openPrice, closePrice) + uniform(0.5, 3),
			Low:    math.Min(openPrice, closePrice) - uniform(0.5, 3),
			Close:  closePrice,
			Volume: math.Floor(uniform(5e6, 2e7)),
		})
	}
	series.Normalize()
	return series, nil
}
