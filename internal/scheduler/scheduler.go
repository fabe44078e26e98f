package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"MarketIngest/internal/model"
	"MarketIngest/internal/notifier"
)

// BatchRunner runs a batch of work units. *pipeline.Pipeline implements it.
type BatchRunner interface {
	RunBatch(ctx context.Context, units []model.WorkUnit) []model.IngestResult
}

// Scheduler triggers the configured batch on a cron cadence and on demand.
type Scheduler struct {
	Cron     *cron.Cron
	Runner   BatchRunner
	Units    []model.WorkUnit
	Notifier *notifier.TelegramNotifier
	Ctx      context.Context

	running sync.Mutex
	mu      sync.Mutex
	last    []model.IngestResult
	lastAt  time.Time
}

// NewScheduler creates a new Scheduler. Cron specs take a leading seconds field.
func NewScheduler(ctx context.Context, runner BatchRunner, units []model.WorkUnit, tn *notifier.TelegramNotifier) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Runner:   runner,
		Units:    units,
		Notifier: tn,
		Ctx:      ctx,
	}
}

// Register schedules the batch run.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, func() { s.RunNow() }); err != nil {
		return fmt.Errorf("register ingest task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for a running batch to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info("scheduler stopped")
}

// RunNow executes the batch immediately. Overlapping runs are skipped and
// report false.
func (s *Scheduler) RunNow() ([]model.IngestResult, bool) {
	if !s.running.TryLock() {
		log.Warn("previous batch still running, skipping")
		return nil, false
	}
	defer s.running.Unlock()
	return s.run(), true
}

// Trigger starts the batch in the background. It reports false when a batch
// is already running.
func (s *Scheduler) Trigger() bool {
	if !s.running.TryLock() {
		return false
	}
	go func() {
		defer s.running.Unlock()
		s.run()
	}()
	return true
}

func (s *Scheduler) run() []model.IngestResult {
	log.WithField("units", len(s.Units)).Info("running ingest batch")
	start := time.Now()
	results := s.Runner.RunBatch(s.Ctx, s.Units)
	took := time.Since(start)

	s.mu.Lock()
	s.last, s.lastAt = results, time.Now()
	s.mu.Unlock()

	s.trySend(notifier.FormatBatchReport(results, took))
	return results
}

// Last returns the results of the most recent batch and when it finished.
func (s *Scheduler) Last() ([]model.IngestResult, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.IngestResult(nil), s.last...), s.lastAt
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(_ context.Context, command string) string {
	name := ""
	if fields := strings.Fields(command); len(fields) > 0 {
		name = strings.ToLower(fields[0])
	}
	switch name {
	case "/ingest":
		if !s.Trigger() {
			return "a batch is already running"
		}
		return fmt.Sprintf("started ingest of %d units", len(s.Units))
	case "/status":
		results, at := s.Last()
		if at.IsZero() {
			return "no batch has run yet"
		}
		return notifier.FormatBatchReport(results, 0) + "\nfinished: " + at.UTC().Format(time.RFC3339)
	default:
		return "commands:\n• /ingest run the configured batch now\n• /status last batch summary"
	}
}

func (s *Scheduler) trySend(text string) {
	if !s.Notifier.Enabled() {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		log.WithError(err).Error("send notification")
	}
}
