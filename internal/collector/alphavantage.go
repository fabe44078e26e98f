package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"MarketIngest/internal/model"
)

const alphaVantageURL = "https://www.alphavantage.co/query"

// AlphaVantageFetcher implements Fetcher using the key-based Alpha Vantage API.
// The free tier is quota limited, so requests are paced by a limiter.
type AlphaVantageFetcher struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewAlphaVantageFetcher creates a fetcher allowing requestsPerMinute calls
// (5 when <= 0) with optional proxy support.
func NewAlphaVantageFetcher(baseURL, apiKey, proxyURL string, requestsPerMinute int, timeout time.Duration) *AlphaVantageFetcher {
	if baseURL == "" {
		baseURL = alphaVantageURL
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 5
	}
	return &AlphaVantageFetcher{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  newHTTPClient(proxyURL, timeout),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
		now:     time.Now,
	}
}

func (f *AlphaVantageFetcher) Name() string { return "alphavantage" }

// Capability reports the adapter unusable without an API key.
func (f *AlphaVantageFetcher) Capability() Capability {
	if strings.TrimSpace(f.APIKey) == "" {
		return Capability{Reason: "alpha vantage api key not configured"}
	}
	return Available
}

// avFunction maps a timeframe to the provider's function, series key and timestamp layout.
func avFunction(tf model.Timeframe) (function, seriesKey, layout string) {
	switch tf {
	case model.Hourly:
		return "TIME_SERIES_INTRADAY", "Time Series (60min)", "2006-01-02 15:04:05"
	case model.Weekly:
		return "TIME_SERIES_WEEKLY", "Weekly Time Series", "2006-01-02"
	case model.Monthly:
		return "TIME_SERIES_MONTHLY", "Monthly Time Series", "2006-01-02"
	default:
		return "TIME_SERIES_DAILY", "Time Series (Daily)", "2006-01-02"
	}
}

func (f *AlphaVantageFetcher) Fetch(ctx context.Context, symbol string, spec model.TimeframeSpec, period string) (*model.Series, error) {
	function, seriesKey, layout := avFunction(spec.Timeframe)
	params := url.Values{}
	params.Set("function", function)
	params.Set("symbol", symbol)
	params.Set("apikey", f.APIKey)
	if spec.Timeframe == model.Hourly {
		params.Set("interval", "60min")
	}
	if spec.Timeframe == model.Hourly || spec.Timeframe == model.Daily {
		params.Set("outputsize", "full")
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Kind: NetworkError, Source: f.Name(), Err: err}
	}
	body, err := f.get(ctx, f.BaseURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	series, err := f.parse(body, symbol, spec.Timeframe, seriesKey, layout)
	if err != nil {
		return nil, err
	}
	if period == "" {
		period = spec.Period
	}
	if cutoff, err := model.PeriodCutoff(period, f.now()); err == nil {
		series.TrimBefore(cutoff)
	}
	if series.Len() == 0 {
		return nil, fetchErr(f.Name(), Empty, "no rows for %s within %s", symbol, period)
	}
	log.WithFields(log.Fields{"symbol": symbol, "timeframe": spec.Key, "rows": series.Len()}).Debug("alpha vantage fetch ok")
	return series, nil
}

func (f *AlphaVantageFetcher) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fetchErr(f.Name(), NetworkError, "build request: %v", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: NetworkError, Source: f.Name(), Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fetchErr(f.Name(), NetworkError, "read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fetchErr(f.Name(), statusKind(resp.StatusCode), "status %d, body: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func (f *AlphaVantageFetcher) parse(body []byte, symbol string, tf model.Timeframe, seriesKey, layout string) (*model.Series, error) {
	if !gjson.ValidBytes(body) {
		return nil, fetchErr(f.Name(), NetworkError, "malformed response: %s", truncate(body, 200))
	}
	doc := gjson.ParseBytes(body)

	if msg := doc.Get(gjson.Escape("Error Message")).String(); msg != "" {
		if strings.Contains(strings.ToLower(msg), "apikey") {
			return nil, fetchErr(f.Name(), AuthError, "%s", msg)
		}
		return nil, fetchErr(f.Name(), NotFound, "%s", msg)
	}
	for _, key := range []string{"Note", "Information"} {
		msg := doc.Get(key).String()
		if msg == "" {
			continue
		}
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "api key") && strings.Contains(lower, "invalid") {
			return nil, fetchErr(f.Name(), AuthError, "%s", msg)
		}
		return nil, fetchErr(f.Name(), RateLimited, "%s", msg)
	}

	loc := time.UTC
	doc.Get(gjson.Escape("Meta Data")).ForEach(func(k, v gjson.Result) bool {
		if strings.HasSuffix(k.String(), "Time Zone") {
			if l, err := time.LoadLocation(v.String()); err == nil {
				loc = l
			}
			return false
		}
		return true
	})

	ts := doc.Get(gjson.Escape(seriesKey))
	if !ts.Exists() {
		return nil, fetchErr(f.Name(), Empty, "response has no %q", seriesKey)
	}

	series := &model.Series{Symbol: symbol, Timeframe: tf}
	var parseErr error
	ts.ForEach(func(k, v gjson.Result) bool {
		t, err := time.ParseInLocation(layout, k.String(), loc)
		if err != nil {
			parseErr = fmt.Errorf("timestamp %q: %w", k.String(), err)
			return false
		}
		series.Bars = append(series.Bars, model.OHLCV{
			Time:   t,
			Open:   v.Get(gjson.Escape("1. open")).Float(),
			High:   v.Get(gjson.Escape("2. high")).Float(),
			Low:    v.Get(gjson.Escape("3. low")).Float(),
			Close:  v.Get(gjson.Escape("4. close")).Float(),
			Volume: v.Get(gjson.Escape("5. volume")).Float(),
		})
		return true
	})
	if parseErr != nil {
		return nil, &FetchError{Kind: NetworkError, Source: f.Name(), Err: parseErr}
	}
	series.Normalize()
	return series, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
