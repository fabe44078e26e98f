package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"MarketIngest/internal/blob"
	"MarketIngest/internal/calculator"
	"MarketIngest/internal/collector"
	"MarketIngest/internal/metrics"
	"MarketIngest/internal/model"
	"MarketIngest/internal/recorder"
)

const executionLayout = "2006-01-02_15-04-05"

// SeriesSource resolves a series for a work unit. *collector.Resolver implements it.
type SeriesSource interface {
	Fetch(ctx context.Context, symbol string, spec model.TimeframeSpec, period string) collector.Resolution
	QuotaLimited() bool
}

// Options tunes staging and batch execution.
type Options struct {
	Bucket      string
	Timeframes  map[string]model.TimeframeSpec
	Concurrency int
	BurstSize   int           // units between cooldowns while quota limited
	Cooldown    time.Duration // pause after every BurstSize units while quota limited
}

// Pipeline runs work units end to end: fetch, enrich, stage, upsert.
type Pipeline struct {
	source   SeriesSource
	recorder recorder.Recorder
	blobs    blob.Store
	opts     Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Pipeline. Zero options fall back to defaults.
func New(source SeriesSource, rec recorder.Recorder, blobs blob.Store, opts Options) *Pipeline {
	if opts.Bucket == "" {
		opts.Bucket = "stock-data"
	}
	if opts.Timeframes == nil {
		opts.Timeframes = model.DefaultTimeframes()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.BurstSize <= 0 {
		opts.BurstSize = 5
	}
	return &Pipeline{
		source:   source,
		recorder: rec,
		blobs:    blobs,
		opts:     opts,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Units returns the cross product of symbols and timeframe keys.
func Units(symbols, keys []string) []model.WorkUnit {
	units := make([]model.WorkUnit, 0, len(symbols)*len(keys))
	for _, s := range symbols {
		for _, k := range keys {
			units = append(units, model.WorkUnit{Symbol: s, TimeframeKey: k})
		}
	}
	return units
}

// Ingest runs a single unit under a fresh run ID.
func (p *Pipeline) Ingest(ctx context.Context, unit model.WorkUnit) model.IngestResult {
	return p.ingest(ctx, uuid.NewString(), unit)
}

// RunBatch runs units and returns one result per unit, in input order. While a
// quota-limited source is active units run one at a time with a cooldown after
// every burst; otherwise they run concurrently.
func (p *Pipeline) RunBatch(ctx context.Context, units []model.WorkUnit) []model.IngestResult {
	runID := uuid.NewString()
	results := make([]model.IngestResult, len(units))
	start := time.Now()
	logger := log.WithFields(log.Fields{"run_id": runID, "units": len(units)})

	if p.source.QuotaLimited() {
		logger.WithField("burst", p.opts.BurstSize).Info("quota limited source active, running sequentially")
		for i, u := range units {
			if i > 0 && i%p.opts.BurstSize == 0 && p.opts.Cooldown > 0 && p.source.QuotaLimited() {
				logger.WithField("cooldown", p.opts.Cooldown).Info("cooling down")
				if err := p.sleep(ctx, p.opts.Cooldown); err != nil {
					for j := i; j < len(units); j++ {
						results[j] = p.failed(runID, units[j], "", err)
					}
					break
				}
			}
			results[i] = p.ingest(ctx, runID, u)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.opts.Concurrency)
		for i, u := range units {
			g.Go(func() error {
				results[i] = p.ingest(ctx, runID, u)
				return nil
			})
		}
		_ = g.Wait()
	}

	counts := map[model.IngestStatus]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	logger.WithFields(log.Fields{
		"success":  counts[model.StatusSuccess],
		"no_data":  counts[model.StatusNoData],
		"failed":   counts[model.StatusFailed],
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("batch finished")
	return results
}

func (p *Pipeline) ingest(ctx context.Context, runID string, unit model.WorkUnit) model.IngestResult {
	start := time.Now()
	unit.Symbol = strings.ToUpper(strings.TrimSpace(unit.Symbol))
	res := p.run(ctx, runID, unit)
	metrics.RecordUnit(string(res.Status), res.TimeframeKey, res.RowCount, time.Since(start))
	return res
}

func (p *Pipeline) run(ctx context.Context, runID string, unit model.WorkUnit) model.IngestResult {
	key, ok := model.CanonicalKey(unit.TimeframeKey)
	spec, known := p.opts.Timeframes[key]
	if !ok || !known {
		return p.failed(runID, unit, "", fmt.Errorf("unknown timeframe %q", unit.TimeframeKey))
	}
	unit.TimeframeKey = key
	if unit.Symbol == "" {
		return p.failed(runID, unit, "", fmt.Errorf("empty symbol"))
	}
	if err := ctx.Err(); err != nil {
		return p.failed(runID, unit, "", err)
	}
	period := unit.Period
	if period == "" {
		period = spec.Period
	}
	logger := log.WithFields(log.Fields{"run_id": runID, "symbol": unit.Symbol, "timeframe": key, "period": period})

	resolution := p.source.Fetch(ctx, unit.Symbol, spec, period)
	result := model.IngestResult{
		RunID:         runID,
		Symbol:        unit.Symbol,
		TimeframeKey:  key,
		Source:        resolution.Source,
		RealData:      resolution.Real,
		ExecutionDate: p.now().UTC().Format(executionLayout),
	}
	if resolution.NoData || resolution.Series.Len() == 0 {
		logger.WithField("source", resolution.Source).Warn("no data fetched")
		result.Status = model.StatusNoData
		return result
	}

	series := resolution.Series
	series.Symbol, series.Timeframe = unit.Symbol, spec.Timeframe
	series.Normalize()
	insane := 0
	for _, b := range series.Bars {
		if !b.Sane() {
			insane++
		}
	}
	if insane > 0 {
		logger.WithField("bars", insane).Warn("bars violate high/low bounds")
	}
	calculator.Enrich(series)

	path, err := p.stage(ctx, series, key, result.ExecutionDate)
	if err != nil {
		logger.WithError(err).Error("staging failed")
		return p.failWith(result, err)
	}
	result.StoragePath = path

	rows, err := p.recorder.Upsert(ctx, series)
	if err != nil {
		logger.WithError(err).WithField("storage_path", path).Error("upsert failed")
		return p.failWith(result, err)
	}
	result.RowCount = rows
	result.Status = model.StatusSuccess
	logger.WithFields(log.Fields{"rows": rows, "source": result.Source, "real": result.RealData}).Info("unit ingested")
	return result
}

// stage writes the enriched series to the blob store and returns its s3 path.
func (p *Pipeline) stage(ctx context.Context, s *model.Series, key, executionDate string) (string, error) {
	data, err := EncodeCSV(s)
	if err != nil {
		return "", fmt.Errorf("encode csv: %w", err)
	}
	object := fmt.Sprintf("%s/%s/%s.csv", s.Symbol, key, executionDate)
	if err := p.blobs.Put(ctx, p.opts.Bucket, object, data, "text/csv"); err != nil {
		return "", fmt.Errorf("stage %s: %w", object, err)
	}
	return fmt.Sprintf("s3://%s/%s", p.opts.Bucket, object), nil
}

func (p *Pipeline) failed(runID string, unit model.WorkUnit, source string, err error) model.IngestResult {
	return model.IngestResult{
		RunID:         runID,
		Symbol:        unit.Symbol,
		TimeframeKey:  unit.TimeframeKey,
		Status:        model.StatusFailed,
		Source:        source,
		ExecutionDate: p.now().UTC().Format(executionLayout),
		Error:         err.Error(),
	}
}

func (p *Pipeline) failWith(r model.IngestResult, err error) model.IngestResult {
	r.Status = model.StatusFailed
	r.RowCount = 0
	r.Error = err.Error()
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
