package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WorkUnit is one independently schedulable ingestion task.
type WorkUnit struct {
	Symbol       string `json:"symbol"`
	TimeframeKey string `json:"timeframe"`
	Period       string `json:"period,omitempty"`
}

func (u WorkUnit) String() string { return u.Symbol + "/" + u.TimeframeKey }

// IngestStatus is the terminal state of a work unit.
type IngestStatus string

const (
	StatusSuccess IngestStatus = "success"
	StatusNoData  IngestStatus = "no_data"
	StatusFailed  IngestStatus = "failed"
)

// IngestResult is produced once per work unit.
type IngestResult struct {
	RunID         string       `json:"run_id"`
	Symbol        string       `json:"symbol"`
	TimeframeKey  string       `json:"timeframe"`
	RowCount      int          `json:"row_count"`
	StoragePath   string       `json:"storage_path,omitempty"`
	Status        IngestStatus `json:"status"`
	Source        string       `json:"source,omitempty"`
	RealData      bool         `json:"real_data"`
	ExecutionDate string       `json:"execution_date"`
	Error         string       `json:"error,omitempty"`
}

// TimeframeSpec maps a timeframe key to the provider interval and retrieval period.
type TimeframeSpec struct {
	Key       string    `yaml:"-"`
	Timeframe Timeframe `yaml:"-"`
	Interval  string    `yaml:"interval"`
	Period    string    `yaml:"period"`
}

// DefaultTimeframes is the canonical key -> (interval, period) table.
func DefaultTimeframes() map[string]TimeframeSpec {
	return map[string]TimeframeSpec{
		"hourly":  {Key: "hourly", Timeframe: Hourly, Interval: "1h", Period: "60d"},
		"daily":   {Key: "daily", Timeframe: Daily, Interval: "1d", Period: "1y"},
		"weekly":  {Key: "weekly", Timeframe: Weekly, Interval: "1wk", Period: "5y"},
		"monthly": {Key: "monthly", Timeframe: Monthly, Interval: "1mo", Period: "10y"},
	}
}

var timeframeAliases = map[string]string{
	"hourly": "hourly", "1h": "hourly", "60min": "hourly",
	"daily": "daily", "1d": "daily",
	"weekly": "weekly", "1wk": "weekly", "1w": "weekly",
	"monthly": "monthly", "1mo": "monthly", "1m": "monthly",
}

// CanonicalKey normalizes a timeframe key or alias. ok is false for unknown input.
func CanonicalKey(key string) (string, bool) {
	k, ok := timeframeAliases[strings.ToLower(strings.TrimSpace(key))]
	return k, ok
}

// PeriodCutoff returns the oldest instant covered by period relative to now.
// "max" and "" yield the zero time (no cutoff).
func PeriodCutoff(period string, now time.Time) (time.Time, error) {
	p := strings.ToLower(strings.TrimSpace(period))
	switch p {
	case "", "max":
		return time.Time{}, nil
	case "ytd":
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()), nil
	}
	for _, unit := range []string{"wk", "mo", "d", "y"} {
		if !strings.HasSuffix(p, unit) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(p, unit))
		if err != nil || n <= 0 {
			return time.Time{}, fmt.Errorf("invalid period %q", period)
		}
		switch unit {
		case "d":
			return now.AddDate(0, 0, -n), nil
		case "wk":
			return now.AddDate(0, 0, -7*n), nil
		case "mo":
			return now.AddDate(0, -n, 0), nil
		default:
			return now.AddDate(-n, 0, 0), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid period %q", period)
}

// PeriodDays approximates the length of period in days. "max" maps to a large value.
func PeriodDays(period string) int {
	if strings.EqualFold(strings.TrimSpace(period), "ytd") {
		return 366
	}
	now := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	cutoff, err := PeriodCutoff(period, now)
	if err != nil {
		return 0
	}
	if cutoff.IsZero() {
		return 1 << 20
	}
	return int(now.Sub(cutoff).Hours() / 24)
}
