package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"MarketIngest/internal/model"
)

var csvHeader = []string{
	"symbol", "timestamp", "timeframe", "open", "high", "low", "close", "volume",
	"sma_20", "sma_50", "sma_200", "daily_return", "volatility_10d", "volume_change", "rs_50",
}

// timestamp layouts accepted when reading staged files, newest format first
var csvTimeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05-07:00", "2006-01-02 15:04:05", "2006-01-02"}

// EncodeCSV renders an enriched series in the staging format. Absent
// indicators are empty cells.
func EncodeCSV(s *model.Series) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, b := range s.Bars {
		ind := b.Indicators
		rec := []string{
			b.Symbol, b.Time.UTC().Format(time.RFC3339), string(b.Timeframe),
			ff(b.Open), ff(b.High), ff(b.Low), ff(b.Close), ff(b.Volume),
			nf(ind.SMA20), nf(ind.SMA50), nf(ind.SMA200),
			nf(ind.DailyReturnPct), nf(ind.Volatility10dPct), nf(ind.VolumeChangePct), nf(ind.RS50),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// DecodeCSV parses a staged file. Columns are matched by header name; symbol
// and timeframe fall back to the given defaults when missing or blank.
func DecodeCSV(data []byte, symbol string, tf model.Timeframe) (*model.Series, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return &model.Series{Symbol: symbol, Timeframe: tf}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, req := range []string{"timestamp", "open", "high", "low", "close"} {
		if _, ok := col[req]; !ok {
			return nil, fmt.Errorf("missing column %q", req)
		}
	}

	get := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	s := &model.Series{Symbol: symbol, Timeframe: tf}
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := parseTime(get(rec, "timestamp"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b := model.OHLCV{Symbol: symbol, Timeframe: tf, Time: ts}
		if v := get(rec, "symbol"); v != "" {
			b.Symbol = v
			s.Symbol = v
		}
		if v := get(rec, "timeframe"); v != "" {
			if key, ok := model.CanonicalKey(v); ok {
				b.Timeframe = model.Timeframe(key)
				s.Timeframe = b.Timeframe
			}
		}
		for name, dst := range map[string]*float64{
			"open": &b.Open, "high": &b.High, "low": &b.Low, "close": &b.Close,
		} {
			if *dst, err = pf(get(rec, name)); err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, name, err)
			}
		}
		// volume alone may be blank
		if v := get(rec, "volume"); v != "" {
			if b.Volume, err = pf(v); err != nil {
				return nil, fmt.Errorf("line %d volume: %w", line, err)
			}
		}
		ind := &b.Indicators
		for name, dst := range map[string]*null.Float{
			"sma_20": &ind.SMA20, "sma_50": &ind.SMA50, "sma_200": &ind.SMA200,
			"daily_return": &ind.DailyReturnPct, "volatility_10d": &ind.Volatility10dPct,
			"volume_change": &ind.VolumeChangePct, "rs_50": &ind.RS50,
		} {
			v := get(rec, name)
			if v == "" || strings.EqualFold(v, "nan") {
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, name, err)
			}
			*dst = null.FloatFrom(f)
		}
		s.Bars = append(s.Bars, b)
	}
	s.Normalize()
	return s, nil
}

func parseTime(v string) (time.Time, error) {
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", v)
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func nf(v null.Float) string {
	if !v.Valid {
		return ""
	}
	return ff(v.Float64)
}

func pf(v string) (float64, error) {
	if v == "" {
		return 0, errors.New("empty value")
	}
	return strconv.ParseFloat(v, 64)
}
