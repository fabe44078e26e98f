package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"MarketIngest/internal/calculator"
	"MarketIngest/internal/model"
)

// Replay re-loads staged CSV objects under prefix into the relational store.
// Object keys look like {symbol}/{timeframe}/{execution}.csv; indicators are
// recomputed from the staged prices.
func (p *Pipeline) Replay(ctx context.Context, prefix string) ([]model.IngestResult, error) {
	keys, err := p.blobs.List(ctx, p.opts.Bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	runID := uuid.NewString()
	log.WithFields(log.Fields{"run_id": runID, "prefix": prefix, "objects": len(keys)}).Info("replaying staged data")

	var results []model.IngestResult
	for i, key := range keys {
		if !strings.HasSuffix(key, ".csv") {
			continue
		}
		parts := strings.Split(key, "/")
		if len(parts) < 2 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		log.WithFields(log.Fields{"run_id": runID, "object": key}).Debugf("processing %d/%d", i+1, len(keys))
		results = append(results, p.replayObject(ctx, runID, key, parts[0], parts[1]))
	}
	return results, nil
}

func (p *Pipeline) replayObject(ctx context.Context, runID, key, symbol, tfKey string) model.IngestResult {
	result := model.IngestResult{
		RunID:         runID,
		Symbol:        symbol,
		TimeframeKey:  tfKey,
		StoragePath:   fmt.Sprintf("s3://%s/%s", p.opts.Bucket, key),
		Source:        "replay",
		ExecutionDate: strings.TrimSuffix(path.Base(key), ".csv"),
	}
	logger := log.WithFields(log.Fields{"run_id": runID, "object": key})

	canonical, ok := model.CanonicalKey(tfKey)
	if !ok {
		err := fmt.Errorf("unknown timeframe %q", tfKey)
		logger.WithError(err).Error("skipping staged object")
		return p.failWith(result, err)
	}
	data, err := p.blobs.Get(ctx, p.opts.Bucket, key)
	if err != nil {
		logger.WithError(err).Error("read staged object failed")
		return p.failWith(result, err)
	}
	series, err := DecodeCSV(data, symbol, model.Timeframe(canonical))
	if err != nil {
		logger.WithError(err).Error("decode staged object failed")
		return p.failWith(result, err)
	}
	result.Symbol, result.TimeframeKey = series.Symbol, string(series.Timeframe)
	if series.Len() == 0 {
		logger.Warn("empty staged object")
		result.Status = model.StatusNoData
		return result
	}
	calculator.Enrich(series)
	rows, err := p.recorder.Upsert(ctx, series)
	if err != nil {
		logger.WithError(err).Error("replay upsert failed")
		return p.failWith(result, err)
	}
	result.RowCount = rows
	result.Status = model.StatusSuccess
	logger.WithField("rows", rows).Info("object replayed")
	return result
}
