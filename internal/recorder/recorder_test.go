package recorder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/guregu/null/v6"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"MarketIngest/internal/calculator"
	"MarketIngest/internal/model"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func openMemory(t *testing.T) *GormRecorder {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	r, err := Open(Options{Driver: "sqlite", DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", name)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func series(symbol string, tf model.Timeframe, n int, start float64) *model.Series {
	s := &model.Series{Symbol: symbol, Timeframe: tf}
	for i := 0; i < n; i++ {
		p := start + float64(i)
		s.Bars = append(s.Bars, model.OHLCV{
			Symbol: symbol, Timeframe: tf, Time: base.AddDate(0, 0, i),
			Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 1000 + float64(i),
		})
	}
	return calculator.Enrich(s)
}

func TestUpsert_Idempotent(t *testing.T) {
	r := openMemory(t)
	ctx := context.Background()
	s := series("AAPL", model.Daily, 30, 100)

	n, err := r.Upsert(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	_, err = r.Upsert(ctx, s)
	require.NoError(t, err)

	count, err := r.Count(ctx, "AAPL", "daily")
	require.NoError(t, err)
	assert.Equal(t, int64(30), count)

	legacy, err := r.Legacy(ctx, "AAPL", 1000)
	require.NoError(t, err)
	assert.Len(t, legacy, 30)
}

func TestUpsert_OverwritesOnConflict(t *testing.T) {
	r := openMemory(t)
	ctx := context.Background()
	_, err := r.Upsert(ctx, series("MSFT", model.Daily, 5, 100))
	require.NoError(t, err)
	_, err = r.Upsert(ctx, series("MSFT", model.Daily, 5, 200))
	require.NoError(t, err)

	rows, err := r.Versioned(ctx, "MSFT", "daily", 10)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, 200.5, rows[0].Close)

	legacy, err := r.Legacy(ctx, "MSFT", 10)
	require.NoError(t, err)
	require.Len(t, legacy, 5)
	assert.Equal(t, 200.5, legacy[0].Close)
}

func TestUpsert_GenerationsAgree(t *testing.T) {
	r := openMemory(t)
	ctx := context.Background()
	_, err := r.Upsert(ctx, series("GOOG", model.Daily, 12, 50))
	require.NoError(t, err)

	v2, err := r.Versioned(ctx, "GOOG", "daily", 100)
	require.NoError(t, err)
	v1, err := r.Legacy(ctx, "GOOG", 100)
	require.NoError(t, err)
	require.Equal(t, len(v2), len(v1))
	for i := range v2 {
		assert.True(t, v2[i].Timestamp.Equal(v1[i].Timestamp))
		assert.Equal(t, v2[i].Open, v1[i].Open)
		assert.Equal(t, v2[i].Close, v1[i].Close)
		assert.Equal(t, v2[i].Volume, v1[i].Volume)
	}
}

func TestUpsert_AbsentIndicatorsStoredAsNull(t *testing.T) {
	r := openMemory(t)
	ctx := context.Background()
	_, err := r.Upsert(ctx, series("TSLA", model.Daily, 3, 10))
	require.NoError(t, err)

	rows, err := r.Versioned(ctx, "TSLA", "daily", 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.False(t, rows[0].DailyReturn.Valid)
	assert.False(t, rows[2].SMA20.Valid)
	assert.False(t, rows[2].RS50.Valid)
	require.True(t, rows[1].DailyReturn.Valid)
	assert.InDelta(t, (11.5-10.5)/10.5*100, rows[1].DailyReturn.Float64, 1e-9)
}

func TestUpsert_TimeframesKeptApart(t *testing.T) {
	r := openMemory(t)
	ctx := context.Background()
	_, err := r.Upsert(ctx, series("AMZN", model.Daily, 4, 10))
	require.NoError(t, err)
	_, err = r.Upsert(ctx, series("AMZN", model.Weekly, 4, 10))
	require.NoError(t, err)

	d, _ := r.Count(ctx, "AMZN", "daily")
	w, _ := r.Count(ctx, "AMZN", "weekly")
	assert.Equal(t, int64(4), d)
	assert.Equal(t, int64(4), w)

	syms, err := r.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AMZN"}, syms)
}

func TestVersioned_LatestAscending(t *testing.T) {
	r := openMemory(t)
	ctx := context.Background()
	_, err := r.Upsert(ctx, series("META", model.Daily, 10, 1))
	require.NoError(t, err)

	rows, err := r.Versioned(ctx, "META", "daily", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].Timestamp.Before(rows[2].Timestamp))
	assert.True(t, rows[2].Timestamp.Equal(base.AddDate(0, 0, 9)))
}

func TestUpsert_EmptySeriesIsNoop(t *testing.T) {
	r := openMemory(t)
	n, err := r.Upsert(context.Background(), &model.Series{Symbol: "X", Timeframe: model.Daily})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func mockRecorder(t *testing.T) (*GormRecorder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return &GormRecorder{db: gdb, now: func() time.Time { return base }}, mock
}

func TestUpsert_RollsBackWhenSecondTableFails(t *testing.T) {
	r, mock := mockRecorder(t)
	s := series("AAPL", model.Daily, 2, 100)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "stock_data"`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "stock_data_v2"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	n, err := r.Upsert(context.Background(), s)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.True(t, IsKind(err, ConstraintViolation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_CommitsBothTables(t *testing.T) {
	r, mock := mockRecorder(t)
	s := series("AAPL", model.Daily, 2, 100)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "stock_data"`) + `.*ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "stock_data_v2"`) + `.*ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := r.Upsert(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_NonFiniteRejectedBeforeWrite(t *testing.T) {
	r, mock := mockRecorder(t)
	s := series("AAPL", model.Daily, 2, 100)
	s.Bars[1].Close = math.NaN()

	_, err := r.Upsert(context.Background(), s)
	require.Error(t, err)
	assert.True(t, IsKind(err, SerializationError))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		kind ErrorKind
	}{
		{&pgconn.PgError{Code: "23505"}, ConstraintViolation},
		{&pgconn.PgError{Code: "23503"}, ConstraintViolation},
		{&pgconn.PgError{Code: "08006"}, ConnectionError},
		{&pgconn.PgError{Code: "40001"}, SerializationError},
		{&pgconn.PgError{Code: "22003"}, SerializationError},
		{fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23502"}), ConstraintViolation},
		{errors.New("constraint failed: UNIQUE constraint failed: stock_data.symbol (1555)"), ConstraintViolation},
		{errors.New("dial tcp: connection refused"), ConnectionError},
	}
	for _, tt := range tests {
		err := classify("op", tt.err)
		assert.True(t, IsKind(err, tt.kind), "%v", tt.err)
		assert.ErrorIs(t, err, tt.err)
	}
	assert.Nil(t, classify("op", nil))
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NewNoopRecorder()
	n, err := r.Upsert(context.Background(), series("V", model.Daily, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, r.Close())
}

func TestLegacyRowsCopyPrices(t *testing.T) {
	s := series("BAC", model.Daily, 2, 10)
	s.Bars[0].Indicators.SMA20 = null.FloatFrom(1)
	rows := versionedRows(s, "daily", base)
	assert.Equal(t, null.FloatFrom(1), rows[0].SMA20)
	assert.Equal(t, "daily", rows[0].Timeframe)
	assert.Equal(t, base, legacyRows(s, base)[1].CreatedAt)
}
