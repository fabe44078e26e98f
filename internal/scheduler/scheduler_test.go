package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketIngest/internal/model"
)

type countingRunner struct {
	calls atomic.Int32
	block chan struct{}
}

func (r *countingRunner) RunBatch(_ context.Context, units []model.WorkUnit) []model.IngestResult {
	r.calls.Add(1)
	if r.block != nil {
		<-r.block
	}
	out := make([]model.IngestResult, len(units))
	for i, u := range units {
		out[i] = model.IngestResult{RunID: "run", Symbol: u.Symbol, TimeframeKey: u.TimeframeKey, Status: model.StatusSuccess, RowCount: 1}
	}
	return out
}

var units = []model.WorkUnit{{Symbol: "AAPL", TimeframeKey: "daily"}, {Symbol: "MSFT", TimeframeKey: "daily"}}

func TestRunNow_RecordsLast(t *testing.T) {
	r := &countingRunner{}
	s := NewScheduler(context.Background(), r, units, nil)

	_, at := s.Last()
	assert.True(t, at.IsZero())

	results, ran := s.RunNow()
	require.True(t, ran)
	assert.Len(t, results, 2)

	last, at := s.Last()
	assert.Len(t, last, 2)
	assert.False(t, at.IsZero())
}

func TestRunNow_SkipsOverlap(t *testing.T) {
	r := &countingRunner{block: make(chan struct{})}
	s := NewScheduler(context.Background(), r, units, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunNow()
	}()
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, ran := s.RunNow()
	assert.False(t, ran)
	assert.False(t, s.Trigger())
	assert.Equal(t, "a batch is already running", s.HandleCommand(context.Background(), "/ingest"))
	close(r.block)
	wg.Wait()
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestRegister(t *testing.T) {
	s := NewScheduler(context.Background(), &countingRunner{}, units, nil)
	assert.NoError(t, s.Register("0 0 * * * *"))
	assert.Error(t, s.Register("every hour"))
	assert.Len(t, s.Cron.Entries(), 1)
}

func TestHandleCommand(t *testing.T) {
	r := &countingRunner{}
	s := NewScheduler(context.Background(), r, units, nil)
	ctx := context.Background()

	assert.Equal(t, "no batch has run yet", s.HandleCommand(ctx, "/status"))
	assert.Contains(t, s.HandleCommand(ctx, "/help"), "/ingest")

	assert.Equal(t, "started ingest of 2 units", s.HandleCommand(ctx, "/ingest"))
	require.Eventually(t, func() bool {
		_, at := s.Last()
		return !at.IsZero()
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, s.HandleCommand(ctx, "/status"), "success: 2 (2 rows)")
}

func TestTrigger_RunsInBackground(t *testing.T) {
	r := &countingRunner{}
	s := NewScheduler(context.Background(), r, units, nil)
	require.True(t, s.Trigger())
	require.Eventually(t, func() bool {
		_, at := s.Last()
		return !at.IsZero()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), r.calls.Load())
}
