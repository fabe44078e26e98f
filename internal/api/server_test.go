package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketIngest/internal/model"
	"MarketIngest/internal/recorder"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeIngestor struct {
	got    []model.WorkUnit
	status model.IngestStatus
}

func (f *fakeIngestor) Ingest(_ context.Context, u model.WorkUnit) model.IngestResult {
	f.got = append(f.got, u)
	return model.IngestResult{Symbol: u.Symbol, TimeframeKey: u.TimeframeKey, Status: f.status, RowCount: 3}
}

type fakeTrigger struct{ busy bool }

func (f *fakeTrigger) Trigger() bool { return !f.busy }

type fakeStore struct {
	*recorder.NoopRecorder
	versioned []recorder.VersionedRow
	legacy    []recorder.LegacyRow
	err       error
}

func (f *fakeStore) Versioned(context.Context, string, string, int) ([]recorder.VersionedRow, error) {
	return f.versioned, f.err
}

func (f *fakeStore) Legacy(context.Context, string, int) ([]recorder.LegacyRow, error) {
	return f.legacy, f.err
}

func (f *fakeStore) Symbols(context.Context) ([]string, error) {
	return []string{"AAPL", "MSFT"}, f.err
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func newTestServer(ing Ingestor, trig BatchTrigger, store recorder.Recorder) http.Handler {
	return NewServer(ing, trig, store, 40).Router()
}

var ts = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeIngestor{}, nil, &fakeStore{NoopRecorder: recorder.NewNoopRecorder()})
	rec, body := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngest(t *testing.T) {
	ing := &fakeIngestor{status: model.StatusSuccess}
	h := newTestServer(ing, nil, recorder.NewNoopRecorder())

	rec, body := do(t, h, http.MethodPost, "/api/v1/ingest", `{"symbol":"AAPL","timeframe":"1wk","period":"2y"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	require.Len(t, ing.got, 1)
	assert.Equal(t, model.WorkUnit{Symbol: "AAPL", TimeframeKey: "1wk", Period: "2y"}, ing.got[0])

	rec, _ = do(t, h, http.MethodPost, "/api/v1/ingest", `{"symbol":"AAPL"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "daily", ing.got[1].TimeframeKey)
}

func TestIngest_BadRequests(t *testing.T) {
	ing := &fakeIngestor{status: model.StatusSuccess}
	h := newTestServer(ing, nil, recorder.NewNoopRecorder())
	for _, body := range []string{
		`not json`,
		`{"timeframe":"daily"}`,
		`{"symbol":"AAPL","timeframe":"2h"}`,
		`{"symbol":"AAPL","period":"forever"}`,
	} {
		rec, _ := do(t, h, http.MethodPost, "/api/v1/ingest", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, ing.got)
}

func TestIngest_FailedUnit(t *testing.T) {
	h := newTestServer(&fakeIngestor{status: model.StatusFailed}, nil, recorder.NewNoopRecorder())
	rec, body := do(t, h, http.MethodPost, "/api/v1/ingest", `{"symbol":"X"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "failed", body["status"])
}

func TestIngestBatch(t *testing.T) {
	store := recorder.NewNoopRecorder()
	rec, body := do(t, newTestServer(&fakeIngestor{}, &fakeTrigger{}, store), http.MethodPost, "/api/v1/ingest/batch", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, float64(40), body["units"])

	rec, _ = do(t, newTestServer(&fakeIngestor{}, &fakeTrigger{busy: true}, store), http.MethodPost, "/api/v1/ingest/batch", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, newTestServer(&fakeIngestor{}, nil, store), http.MethodPost, "/api/v1/ingest/batch", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestStock_PrefersVersioned(t *testing.T) {
	store := &fakeStore{
		NoopRecorder: recorder.NewNoopRecorder(),
		versioned: []recorder.VersionedRow{
			{Symbol: "AAPL", Timestamp: ts, Timeframe: "weekly", Close: 10, SMA20: null.FloatFrom(9.5)},
		},
		legacy: []recorder.LegacyRow{{Symbol: "AAPL", Timestamp: ts, Close: 99}},
	}
	rec, body := do(t, newTestServer(&fakeIngestor{}, nil, store), http.MethodGet, "/api/v1/stocks/aapl?timeframe=1wk", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stock_data_v2", body["table"])
	assert.Equal(t, "weekly", body["timeframe"])
	assert.Equal(t, "AAPL", body["symbol"])
	data := body["data"].([]any)
	require.Len(t, data, 1)
	row := data[0].(map[string]any)
	assert.Equal(t, float64(10), row["close"])
	assert.Equal(t, 9.5, row["sma_20"])
	assert.Nil(t, row["rs_50"])
}

func TestStock_FallsBackToLegacy(t *testing.T) {
	store := &fakeStore{
		NoopRecorder: recorder.NewNoopRecorder(),
		legacy:       []recorder.LegacyRow{{Symbol: "AAPL", Timestamp: ts, Close: 99}},
	}
	rec, body := do(t, newTestServer(&fakeIngestor{}, nil, store), http.MethodGet, "/api/v1/stocks/AAPL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stock_data", body["table"])
	data := body["data"].([]any)
	require.Len(t, data, 1)
	row := data[0].(map[string]any)
	assert.Equal(t, float64(99), row["close"])
	assert.Equal(t, "daily", row["timeframe"])
}

func TestStock_Errors(t *testing.T) {
	store := &fakeStore{NoopRecorder: recorder.NewNoopRecorder()}
	h := newTestServer(&fakeIngestor{}, nil, store)

	rec, _ := do(t, h, http.MethodGet, "/api/v1/stocks/AAPL?timeframe=2h", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/api/v1/stocks/AAPL?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	store.err = &recorder.StorageError{Kind: recorder.ConnectionError, Op: "versioned", Err: errors.New("refused")}
	rec, _ = do(t, h, http.MethodGet, "/api/v1/stocks/AAPL", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSymbols(t *testing.T) {
	store := &fakeStore{NoopRecorder: recorder.NewNoopRecorder()}
	rec, body := do(t, newTestServer(&fakeIngestor{}, nil, store), http.MethodGet, "/api/v1/symbols", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"AAPL", "MSFT"}, body["data"])
}
