package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SweepSchedule holds the cron specs for the background sweeps.
type SweepSchedule struct {
	// Extraction scans new chunks for durable facts. Default: every 15 min.
	Extraction string

	// Compaction merges aging chunk runs. Default: daily at 03:30.
	Compaction string

	// Deletion removes compacted chunks past retention. Default: weekly,
	// Sunday 04:30.
	Deletion string
}

// DefaultSweepSchedule returns the documented default specs.
func DefaultSweepSchedule() SweepSchedule {
	return SweepSchedule{
		Extraction: "@every 15m",
		Compaction: "30 3 * * *",
		Deletion:   "30 4 * * 0",
	}
}

// SweepScheduler drives the engine's periodic maintenance with cron. Sweeps
// run sequentially within one scheduler; a slow sweep delays — never
// overlaps — its own next run.
type SweepScheduler struct {
	engine *Engine
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweepScheduler registers the three sweeps on their cron specs.
func NewSweepScheduler(engine *Engine, schedule SweepSchedule, logger *slog.Logger) (*SweepScheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultSweepSchedule()
	if schedule.Extraction == "" {
		schedule.Extraction = def.Extraction
	}
	if schedule.Compaction == "" {
		schedule.Compaction = def.Compaction
	}
	if schedule.Deletion == "" {
		schedule.Deletion = def.Deletion
	}

	s := &SweepScheduler{
		engine: engine,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
	}

	jobs := []struct {
		name string
		spec string
		fn   func(context.Context) (int, error)
	}{
		{"extraction", schedule.Extraction, engine.RunExtractionSweep},
		{"compaction", schedule.Compaction, engine.RunCompactionSweep},
		{"deletion", schedule.Deletion, engine.RunDeletionSweep},
	}
	for _, job := range jobs {
		job := job
		_, err := s.cron.AddFunc(job.spec, func() { s.run(job.name, job.fn) })
		if err != nil {
			return nil, fmt.Errorf("sweep: bad %s spec %q: %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

func (s *SweepScheduler) run(name string, fn func(context.Context) (int, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	start := time.Now()
	n, err := fn(ctx)
	if err != nil {
		s.logger.Error("sweep: finished with errors",
			"sweep", name, "processed", n, "elapsed", time.Since(start), "error", err)
		return
	}
	s.logger.Info("sweep: finished",
		"sweep", name, "processed", n, "elapsed", time.Since(start))
}

// Start begins scheduling. Non-blocking.
func (s *SweepScheduler) Start() {
	s.cron.Start()
	s.logger.Info("sweep: scheduler started")
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *SweepScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("sweep: scheduler stopped")
}
