package application

import (
	"context"
	"log"
	"time"
)

// Scheduler triggers gap-fill batches on a daily schedule.
type Scheduler struct {
	runner  *Runner
	tables  []string
	dailyAt string
	logger  *log.Logger
	onBatch func(runAt time.Time, acc *BatchAccumulator)
}

// NewScheduler constructs a Scheduler.
func NewScheduler(runner *Runner, tables []string, dailyAt string, logger *log.Logger) *Scheduler {
	return &Scheduler{
		runner:  runner,
		tables:  tables,
		dailyAt: dailyAt,
		logger:  logger,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.runner == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now.UTC()) {
				continue
			}
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	hour, minute, err := parseDailyAt(s.dailyAt)
	if err != nil {
		return false
	}
	return now.Hour() == hour && now.Minute() == minute
}

// OnBatch registers a callback invoked after every scheduled batch, for
// flushing batch artifacts like run summaries.
func (s *Scheduler) OnBatch(fn func(runAt time.Time, acc *BatchAccumulator)) {
	s.onBatch = fn
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if len(s.tables) == 0 {
		return
	}
	acc, err := s.runner.RunBatch(ctx, s.tables)
	if err != nil && s.logger != nil {
		s.logger.Printf("gapfill schedule error: %v", err)
	}
	if s.onBatch != nil && acc != nil {
		s.onBatch(time.Now().UTC(), acc)
	}
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
