package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"MarketIngest/internal/model"
)

const yahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// maxIntradayDays bounds how far back Yahoo serves sub-daily bars.
const maxIntradayDays = 60

// YahooFetcher implements Fetcher using the Yahoo Finance chart API.
type YahooFetcher struct {
	BaseURL   string
	Client    *http.Client
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(baseURL, proxyURL string, timeout time.Duration) *YahooFetcher {
	if baseURL == "" {
		baseURL = yahooChartURL
	}
	return &YahooFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  newHTTPClient(proxyURL, timeout),
		SymbolMap: map[string]string{
			"SPX500": "^GSPC",
			"SPX":    "^GSPC",
			"SP500":  "^GSPC",
		},
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

func (f *YahooFetcher) yahooSymbol(symbol string) string {
	if mapped, ok := f.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// Probe checks the chart endpoint is reachable. Any HTTP answer counts as reachable.
func (f *YahooFetcher) Probe(ctx context.Context) Capability {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/SPY?interval=1d&range=1d", nil)
	if err != nil {
		return Capability{Reason: err.Error()}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := f.Client.Do(req)
	if err != nil {
		return Capability{Reason: fmt.Sprintf("yahoo unreachable: %v", err)}
	}
	resp.Body.Close()
	return Available
}

// ClampPeriod downgrades periods Yahoo cannot serve for sub-daily intervals.
func ClampPeriod(interval, period string) string {
	if interval != "1h" && interval != "60m" {
		return period
	}
	if model.PeriodDays(period) > maxIntradayDays {
		return fmt.Sprintf("%dd", maxIntradayDays)
	}
	return period
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// at returns vals[i] and whether it is present.
func at(vals []*float64, i int) (float64, bool) {
	if i >= len(vals) || vals[i] == nil {
		return 0, false
	}
	return *vals[i], true
}

func (f *YahooFetcher) Fetch(ctx context.Context, symbol string, spec model.TimeframeSpec, period string) (*model.Series, error) {
	if period == "" {
		period = spec.Period
	}
	rng := ClampPeriod(spec.Interval, period)
	if rng != period {
		log.WithFields(log.Fields{"symbol": symbol, "interval": spec.Interval, "requested": period, "period": rng}).
			Info("adjusted period for intraday data")
	}

	u := fmt.Sprintf("%s/%s?interval=%s&range=%s",
		f.BaseURL, url.PathEscape(f.yahooSymbol(symbol)), url.QueryEscape(spec.Interval), url.QueryEscape(rng))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fetchErr(f.Name(), NetworkError, "build request: %v", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: NetworkError, Source: f.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fetchErr(f.Name(), NetworkError, "read body: %v", err)
	}

	var chart yahooChart
	decodeErr := json.Unmarshal(body, &chart)
	if decodeErr == nil && chart.Chart.Error != nil {
		if strings.EqualFold(chart.Chart.Error.Code, "Not Found") {
			return nil, fetchErr(f.Name(), NotFound, "%s", chart.Chart.Error.Description)
		}
		if resp.StatusCode == http.StatusOK {
			return nil, fetchErr(f.Name(), NetworkError, "api error: %s", chart.Chart.Error.Description)
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fetchErr(f.Name(), statusKind(resp.StatusCode), "status %d, body: %s", resp.StatusCode, truncate(body, 200))
	}
	if decodeErr != nil {
		return nil, fetchErr(f.Name(), NetworkError, "decode: %v", decodeErr)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 ||
		len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fetchErr(f.Name(), Empty, "no data returned for %s", symbol)
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	series := &model.Series{Symbol: symbol, Timeframe: spec.Timeframe}
	for i, ts := range result.Timestamp {
		o, okO := at(quote.Open, i)
		h, okH := at(quote.High, i)
		l, okL := at(quote.Low, i)
		c, okC := at(quote.Close, i)
		if !okO || !okH || !okL || !okC {
			continue // any missing price drops the bar
		}
		v, _ := at(quote.Volume, i) // missing volume counts as zero
		series.Bars = append(series.Bars, model.OHLCV{
			Time:   time.Unix(ts, 0),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: v,
		})
	}
	if len(series.Bars) == 0 {
		return nil, fetchErr(f.Name(), Empty, "only null bars returned for %s", symbol)
	}
	series.Normalize()
	return series, nil
}
