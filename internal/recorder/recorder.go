package recorder

import (
	"context"
	"time"

	"github.com/guregu/null/v6"

	"MarketIngest/internal/model"
)

// LegacyRow is a row of the first-generation table, one bar per (symbol, timestamp).
type LegacyRow struct {
	Symbol    string    `gorm:"column:symbol;primaryKey;size:20" json:"symbol"`
	Timestamp time.Time `gorm:"column:timestamp;primaryKey" json:"timestamp"`
	Open      float64   `gorm:"column:open" json:"open"`
	High      float64   `gorm:"column:high" json:"high"`
	Low       float64   `gorm:"column:low" json:"low"`
	Close     float64   `gorm:"column:close" json:"close"`
	Volume    float64   `gorm:"column:volume" json:"volume"`
	CreatedAt time.Time `gorm:"column:created_at" json:"-"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"-"`
}

func (LegacyRow) TableName() string { return "stock_data" }

// VersionedRow is a row of the timeframe-aware table carrying indicators.
type VersionedRow struct {
	Symbol        string     `gorm:"column:symbol;primaryKey;size:20" json:"symbol"`
	Timestamp     time.Time  `gorm:"column:timestamp;primaryKey" json:"timestamp"`
	Timeframe     string     `gorm:"column:timeframe;primaryKey;size:16;index:idx_stock_data_v2_timeframe" json:"timeframe"`
	Open          float64    `gorm:"column:open" json:"open"`
	High          float64    `gorm:"column:high" json:"high"`
	Low           float64    `gorm:"column:low" json:"low"`
	Close         float64    `gorm:"column:close" json:"close"`
	Volume        float64    `gorm:"column:volume" json:"volume"`
	SMA20         null.Float `gorm:"column:sma_20;type:double precision" json:"sma_20"`
	SMA50         null.Float `gorm:"column:sma_50;type:double precision" json:"sma_50"`
	SMA200        null.Float `gorm:"column:sma_200;type:double precision" json:"sma_200"`
	DailyReturn   null.Float `gorm:"column:daily_return;type:double precision" json:"daily_return"`
	Volatility10d null.Float `gorm:"column:volatility_10d;type:double precision" json:"volatility_10d"`
	VolumeChange  null.Float `gorm:"column:volume_change;type:double precision" json:"volume_change"`
	RS50          null.Float `gorm:"column:rs_50;type:double precision" json:"rs_50"`
	CreatedAt     time.Time  `gorm:"column:created_at" json:"-"`
	UpdatedAt     time.Time  `gorm:"column:updated_at" json:"-"`
}

func (VersionedRow) TableName() string { return "stock_data_v2" }

// Recorder persists enriched series into both table generations and serves reads.
type Recorder interface {
	// Upsert writes every bar of s to both tables in one transaction and
	// returns the number of bars written.
	Upsert(ctx context.Context, s *model.Series) (int, error)
	Versioned(ctx context.Context, symbol, timeframe string, limit int) ([]VersionedRow, error)
	Legacy(ctx context.Context, symbol string, limit int) ([]LegacyRow, error)
	Symbols(ctx context.Context) ([]string, error)
	Count(ctx context.Context, symbol, timeframe string) (int64, error)
	Close() error
}

func legacyRows(s *model.Series, now time.Time) []LegacyRow {
	rows := make([]LegacyRow, len(s.Bars))
	for i, b := range s.Bars {
		rows[i] = LegacyRow{
			Symbol:    b.Symbol,
			Timestamp: b.Time.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return rows
}

func versionedRows(s *model.Series, timeframe string, now time.Time) []VersionedRow {
	rows := make([]VersionedRow, len(s.Bars))
	for i, b := range s.Bars {
		ind := b.Indicators
		rows[i] = VersionedRow{
			Symbol:        b.Symbol,
			Timestamp:     b.Time.UTC(),
			Timeframe:     timeframe,
			Open:          b.Open,
			High:          b.High,
			Low:           b.Low,
			Close:         b.Close,
			Volume:        b.Volume,
			SMA20:         ind.SMA20,
			SMA50:         ind.SMA50,
			SMA200:        ind.SMA200,
			DailyReturn:   ind.DailyReturnPct,
			Volatility10d: ind.Volatility10dPct,
			VolumeChange:  ind.VolumeChangePct,
			RS50:          ind.RS50,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	return rows
}

// NoopRecorder discards writes. Used for dry runs when no database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) Upsert(_ context.Context, s *model.Series) (int, error) { return s.Len(), nil }
func (n *NoopRecorder) Versioned(context.Context, string, string, int) ([]VersionedRow, error) {
	return nil, nil
}
func (n *NoopRecorder) Legacy(context.Context, string, int) ([]LegacyRow, error) { return nil, nil }
func (n *NoopRecorder) Symbols(context.Context) ([]string, error)                { return nil, nil }
func (n *NoopRecorder) Count(context.Context, string, string) (int64, error)     { return 0, nil }
func (n *NoopRecorder) Close() error                                              { return nil }
