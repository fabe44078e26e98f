package recorder

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"MarketIngest/internal/model"
)

const batchSize = 500

// Options selects and configures the relational backend.
type Options struct {
	Driver       string // "postgres" or "sqlite"
	DSN          string
	MaxOpenConns int
}

// GormRecorder persists series through gorm into stock_data and stock_data_v2.
type GormRecorder struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the configured backend and creates missing tables.
func Open(opts Options) (*GormRecorder, error) {
	cfg := &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	}
	var (
		db  *gorm.DB
		err error
	)
	switch opts.Driver {
	case "postgres":
		db, err = openPostgres(opts.DSN, cfg)
	case "sqlite", "":
		db, err = openSQLite(opts.DSN, cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, classify("open", err)
	}
	if opts.MaxOpenConns > 0 && opts.Driver == "postgres" {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
	}
	r, err := NewFromDB(db)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"driver": opts.Driver}).Info("recorder opened")
	return r, nil
}

// NewFromDB wraps an existing gorm handle and migrates both tables.
func NewFromDB(db *gorm.DB) (*GormRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is nil")
	}
	if err := db.AutoMigrate(&LegacyRow{}, &VersionedRow{}); err != nil {
		return nil, classify("migrate", err)
	}
	return &GormRecorder{db: db, now: time.Now}, nil
}

// Upsert merges s into both generations. A bar already present is overwritten
// with the incoming values; nothing is written unless both tables succeed.
func (r *GormRecorder) Upsert(ctx context.Context, s *model.Series) (int, error) {
	if s.Len() == 0 {
		return 0, nil
	}
	for _, b := range s.Bars {
		if !b.Finite() {
			return 0, &StorageError{Kind: SerializationError, Op: "upsert",
				Err: fmt.Errorf("non-finite value for %s at %s", b.Symbol, b.Time.Format(time.RFC3339))}
		}
	}
	key := string(s.Timeframe)
	now := r.now().UTC()
	legacy := legacyRows(s, now)
	versioned := versionedRows(s, key, now)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "timestamp"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "updated_at"}),
		}).CreateInBatches(legacy, batchSize).Error; err != nil {
			return fmt.Errorf("upsert stock_data: %w", err)
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}, {Name: "timestamp"}, {Name: "timeframe"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"open", "high", "low", "close", "volume",
				"sma_20", "sma_50", "sma_200", "daily_return", "volatility_10d", "volume_change", "rs_50",
				"updated_at",
			}),
		}).CreateInBatches(versioned, batchSize).Error; err != nil {
			return fmt.Errorf("upsert stock_data_v2: %w", err)
		}
		return nil
	})
	if err != nil {
		se := classify("upsert", err)
		log.WithFields(log.Fields{"symbol": s.Symbol, "timeframe": key, "rows": s.Len()}).
			WithError(se).Error("upsert rolled back")
		return 0, se
	}
	return s.Len(), nil
}

// Versioned returns the latest limit rows for (symbol, timeframe), ascending by time.
func (r *GormRecorder) Versioned(ctx context.Context, symbol, timeframe string, limit int) ([]VersionedRow, error) {
	var rows []VersionedRow
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("timestamp DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, classify("versioned", err)
	}
	reverse(rows)
	return rows, nil
}

// Legacy returns the latest limit legacy rows for symbol, ascending by time.
func (r *GormRecorder) Legacy(ctx context.Context, symbol string, limit int) ([]LegacyRow, error) {
	var rows []LegacyRow
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("timestamp DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, classify("legacy", err)
	}
	reverse(rows)
	return rows, nil
}

// Symbols lists every symbol present in either table.
func (r *GormRecorder) Symbols(ctx context.Context) ([]string, error) {
	var v2, v1 []string
	db := r.db.WithContext(ctx)
	if err := db.Model(&VersionedRow{}).Distinct("symbol").Pluck("symbol", &v2).Error; err != nil {
		return nil, classify("symbols", err)
	}
	if err := db.Model(&LegacyRow{}).Distinct("symbol").Pluck("symbol", &v1).Error; err != nil {
		return nil, classify("symbols", err)
	}
	seen := make(map[string]bool, len(v2)+len(v1))
	var out []string
	for _, s := range append(v2, v1...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Count returns the number of versioned rows for (symbol, timeframe).
func (r *GormRecorder) Count(ctx context.Context, symbol, timeframe string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&VersionedRow{}).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).Count(&n).Error
	if err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

func (r *GormRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	log.Info("closing recorder")
	return sqlDB.Close()
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
