package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketIngest/internal/model"
)

func TestSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", "")
	n.BaseURL = srv.URL
	require.NoError(t, n.Send(context.Background(), "hello"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
}

func TestSendWithRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("T", "1", "")
	n.BaseURL = srv.URL
	require.NoError(t, n.sendWithBackoff(context.Background(), "x", 3, time.Millisecond))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	atomic.StoreInt32(&calls, -100)
	err := n.sendWithBackoff(context.Background(), "x", 1, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 retries exhausted")
}

func TestEnabled(t *testing.T) {
	assert.False(t, NewTelegramNotifier("", "1", "").Enabled())
	assert.False(t, NewTelegramNotifier("t", "", "").Enabled())
	assert.True(t, NewTelegramNotifier("t", "1", "").Enabled())
	var nilNotifier *TelegramNotifier
	assert.False(t, nilNotifier.Enabled())
}

func TestStartPolling_DispatchesOwnChatOnly(t *testing.T) {
	var sent []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	polled := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			if atomic.AddInt32(&polled, 1) == 1 {
				w.Write([]byte(`{"ok":true,"result":[
					{"update_id":1,"message":{"text":"/status","chat":{"id":7}}},
					{"update_id":2,"message":{"text":"/status","chat":{"id":99}}}
				]}`))
				return
			}
			cancel()
			w.Write([]byte(`{"ok":true,"result":[]}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			sent = append(sent, body["text"])
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	n := NewTelegramNotifier("T", "7", "")
	n.BaseURL = srv.URL
	var handled []string
	n.StartPolling(ctx, func(_ context.Context, cmd string) string {
		handled = append(handled, cmd)
		return "ok: " + cmd
	})
	assert.Equal(t, []string{"/status"}, handled)
	assert.Equal(t, []string{"ok: /status"}, sent)
}

func TestFormatBatchReport(t *testing.T) {
	results := []model.IngestResult{
		{RunID: "r1", Symbol: "AAPL", TimeframeKey: "daily", Status: model.StatusSuccess, RowCount: 250, RealData: true},
		{RunID: "r1", Symbol: "MSFT", TimeframeKey: "daily", Status: model.StatusSuccess, RowCount: 365},
		{RunID: "r1", Symbol: "ZZZZ", TimeframeKey: "daily", Status: model.StatusNoData},
		{RunID: "r1", Symbol: "X", TimeframeKey: "hourly", Status: model.StatusFailed, Error: "upsert: connection_error: <eof>"},
	}
	out := FormatBatchReport(results, 90*time.Second)
	assert.Contains(t, out, "run: <code>r1</code>")
	assert.Contains(t, out, "success: 2 (615 rows)")
	assert.Contains(t, out, "synthetic: 1")
	assert.Contains(t, out, "no data: 1")
	assert.Contains(t, out, "failed: 1")
	assert.Contains(t, out, "X/hourly: upsert: connection_error: &lt;eof&gt;")
}

func TestFormatUnitResult(t *testing.T) {
	assert.Equal(t, "AAPL/daily: 10 rows (yahoo)",
		FormatUnitResult(model.IngestResult{Symbol: "AAPL", TimeframeKey: "daily", Status: model.StatusSuccess, RowCount: 10, Source: "yahoo", RealData: true}))
	assert.Equal(t, "AAPL/daily: 10 rows (synthetic)",
		FormatUnitResult(model.IngestResult{Symbol: "AAPL", TimeframeKey: "daily", Status: model.StatusSuccess, RowCount: 10, Source: "synthetic"}))
	assert.Equal(t, "Z/weekly: no data",
		FormatUnitResult(model.IngestResult{Symbol: "Z", TimeframeKey: "weekly", Status: model.StatusNoData}))
}
