package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"MarketIngest/internal/api"
	"MarketIngest/internal/blob"
	"MarketIngest/internal/collector"
	"MarketIngest/internal/config"
	"MarketIngest/internal/logging"
	"MarketIngest/internal/metrics"
	"MarketIngest/internal/model"
	"MarketIngest/internal/notifier"
	"MarketIngest/internal/pipeline"
	"MarketIngest/internal/recorder"
	"MarketIngest/internal/scheduler"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info("MarketIngest starting...")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver := newResolver(ctx, cfg)

	rec, err := newRecorder(cfg)
	if err != nil {
		log.Fatalf("init recorder: %v", err)
	}
	defer rec.Close()

	blobs, err := newBlobStore(cfg)
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}

	pipe := pipeline.New(resolver, rec, blobs, pipeline.Options{
		Bucket:      cfg.Blob.Bucket,
		Timeframes:  cfg.TimeframeTable(),
		Concurrency: cfg.Pipeline.Concurrency,
		BurstSize:   cfg.Pipeline.BurstSize,
		Cooldown:    cfg.Pipeline.Cooldown,
	})
	units := pipeline.Units(cfg.Symbols, cfg.Pipeline.Timeframes)

	// Replay staged objects and exit
	if prefix, ok := os.LookupEnv("REPLAY_PREFIX"); ok {
		results, err := pipe.Replay(ctx, prefix)
		if err != nil {
			log.Fatalf("replay: %v", err)
		}
		exitWith(results)
		return
	}

	tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
	sched := scheduler.NewScheduler(ctx, pipe, units, tn)

	// Single batch and exit
	if os.Getenv("RUN_ONCE") == "true" {
		results, _ := sched.RunNow()
		exitWith(results)
		return
	}

	if err := sched.Register(cfg.Schedule.Cron); err != nil {
		log.Fatalf("register cron task: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	if cfg.Telegram.Commands && tn.Enabled() {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info("telegram polling started")
	}

	if cfg.Schedule.RunOnStart {
		log.Info("run_on_start enabled, triggering batch now")
		sched.Trigger()
	}

	srv := api.NewServer(pipe, sched, rec, len(units))
	log.WithFields(log.Fields{"symbols": len(cfg.Symbols), "units": len(units), "cron": cfg.Schedule.Cron}).
		Info("MarketIngest is running. Press Ctrl+C to stop.")
	if err := srv.ListenAndServe(ctx, cfg.HTTP.Addr); err != nil {
		log.Errorf("http server: %v", err)
	}
	log.Info("MarketIngest stopped")
}

func newResolver(ctx context.Context, cfg *config.Config) *collector.Resolver {
	ds := cfg.DataSource
	av := collector.NewAlphaVantageFetcher(ds.AlphaVantage.BaseURL, ds.AlphaVantage.APIKey, cfg.Proxy,
		ds.AlphaVantage.RequestsPerMinute, ds.AttemptTimeout)
	yahoo := collector.NewYahooFetcher(ds.Yahoo.BaseURL, cfg.Proxy, ds.AttemptTimeout)
	sources := collector.NewChain(ctx, ds.Provider, av, yahoo, ds.Yahoo.ProbeOnStart)

	r := collector.NewResolver(sources, collector.NewSyntheticFetcher(), ds.AttemptTimeout)
	r.Observe(func(a collector.Attempt) { metrics.RecordAttempt(a.Source, string(a.Kind)) })
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Fetcher.Name())
	}
	log.WithFields(log.Fields{"provider": ds.Provider, "chain": names, "quota_limited": r.QuotaLimited()}).
		Info("data sources ready")
	return r
}

func newRecorder(cfg *config.Config) (recorder.Recorder, error) {
	if cfg.Database.Driver == "none" {
		log.Warn("database disabled, rows will not be persisted")
		return recorder.NewNoopRecorder(), nil
	}
	return recorder.Open(cfg.RecorderOptions())
}

func newBlobStore(cfg *config.Config) (blob.Store, error) {
	switch cfg.Blob.Driver {
	case "minio":
		m := cfg.Blob.Minio
		return blob.NewMinioStore(blob.MinioOptions{
			Endpoint: m.Endpoint, AccessKey: m.AccessKey, SecretKey: m.SecretKey, UseSSL: m.UseSSL, Region: m.Region,
		})
	case "memory":
		return blob.NewMemoryStore(), nil
	default:
		return blob.NewLocalStore(cfg.Blob.LocalDir), nil
	}
}

// exitWith logs each result and exits non-zero when any unit failed.
func exitWith(results []model.IngestResult) {
	failed := 0
	for _, r := range results {
		entry := log.WithFields(log.Fields{"run_id": r.RunID, "status": r.Status})
		if r.Status == model.StatusFailed {
			failed++
			entry.Error(notifier.FormatUnitResult(r))
			continue
		}
		entry.Info(notifier.FormatUnitResult(r))
	}
	if failed > 0 {
		log.Errorf("%d of %d units failed", failed, len(results))
		os.Exit(1)
	}
}
