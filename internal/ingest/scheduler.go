package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs Enqueue in the background every interval and whenever Trigger is called.
type Scheduler struct {
	coord    *Coordinator
	interval time.Duration
	trigger  chan struct{}
	logger   *zap.Logger
	onBatch  func(*BatchReport)
}

// NewScheduler creates a scheduler for coord. interval <= 0 uses the coordinator's configured interval.
func NewScheduler(coord *Coordinator, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = coord.cfg.Interval.Std()
	}
	return &Scheduler{
		coord:    coord,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   coord.logger,
	}
}

// OnBatch registers fn to receive every report with at least one claimed document.
// It must be called before Run.
func (s *Scheduler) OnBatch(fn func(*BatchReport)) {
	s.onBatch = fn
}

// Trigger asks the scheduler to run a batch now. It never blocks; triggers that arrive
// while one is already pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run recovers stale documents and then processes batches until ctx is cancelled.
// A full batch is followed immediately by another one.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.coord.Recover(ctx); err != nil {
		s.logger.Warn("stale document recovery failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Trigger()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.trigger:
		}
		for ctx.Err() == nil {
			report, err := s.coord.Enqueue(ctx)
			if err != nil {
				s.logger.Error("ingestion batch failed", zap.Error(err))
				break
			}
			if report.Claimed > 0 && s.onBatch != nil {
				s.onBatch(report)
			}
			if report.Claimed < s.coord.cfg.BatchSize || report.Count(OutcomeCompleted)+report.Count(OutcomeDeduplicated) == 0 {
				break
			}
		}
	}
}
