package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"greenbox-pipeline/internal/cleaning"
	"greenbox-pipeline/internal/gapfill/notify"
	"greenbox-pipeline/internal/observability/metrics"
	series "greenbox-pipeline/internal/series/domain"
)

// SeriesStore is the storage surface the fill pass consumes.
type SeriesStore interface {
	ReadRaw(ctx context.Context, table string) ([]series.Reading, error)
	UpsertFilled(ctx context.Context, table string, data *series.Series, winningModel string) (inserted, updated int64, err error)
}

// Emitter writes the filled series plus metrics out for human review.
type Emitter interface {
	EmitTable(table string, data *series.Series, winningModel string, scores []GapScore) error
}

// Runner executes one gap-fill batch across device tables. Each table is an
// independent unit of work; a fit failure on one table never aborts its
// siblings.
type Runner struct {
	store    SeriesStore
	cfg      Config
	emitter  Emitter
	notifier notify.Notifier
	logger   *log.Logger

	mu        sync.Mutex
	processed int
}

// NewRunner constructs a Runner. emitter and notifier may be nil.
func NewRunner(store SeriesStore, cfg Config, emitter Emitter, notifier notify.Notifier, logger *log.Logger) (*Runner, error) {
	if store == nil {
		return nil, errors.New("gapfill runner: nil store")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{store: store, cfg: cfg, emitter: emitter, notifier: notifier, logger: logger}, nil
}

// RunBatch processes tables with a fixed-size worker pool and returns the
// accumulator holding all per-gap scores and per-table results. Workers
// share no mutable fill state; the counter behind the mutex exists for
// progress logging only.
func (r *Runner) RunBatch(ctx context.Context, tables []string) (*BatchAccumulator, error) {
	acc := NewBatchAccumulator()
	if len(tables) == 0 {
		return acc, nil
	}

	workers := r.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(tables) {
		workers = len(tables)
	}
	r.mu.Lock()
	r.processed = 0
	r.mu.Unlock()

	jobs := make(chan string)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for table := range jobs {
				r.runTable(ctx, table, acc, len(tables))
			}
		}()
	}
	for _, table := range tables {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return acc, ctx.Err()
		case jobs <- table:
		}
	}
	close(jobs)
	wg.Wait()
	return acc, nil
}

func (r *Runner) runTable(ctx context.Context, table string, acc *BatchAccumulator, total int) {
	start := time.Now()
	result, err := r.ProcessTable(ctx, table, acc)
	if err != nil {
		metrics.ObserveFillRun(metrics.ResultError, time.Since(start))
		r.logger.Printf("gapfill: table=%s aborted: %v", table, err)
		if r.notifier != nil {
			if nerr := r.notifier.Notify(ctx, notify.RunAlert{Table: table, Err: err}); nerr != nil {
				r.logger.Printf("gapfill: notify failed: %v", nerr)
			}
		}
	} else {
		metrics.ObserveFillRun(metrics.ResultSuccess, time.Since(start))
		metrics.IncModelWin(result.WinningModel)
		metrics.AddGapsLocated(result.Gaps)
		metrics.AddMinutesFilled(result.FilledMinutes)
		acc.AddResult(result)
	}

	r.mu.Lock()
	r.processed++
	done := r.processed
	r.mu.Unlock()
	r.logger.Printf("gapfill: progress %d/%d table=%s", done, total, table)
}

// ProcessTable runs the full pipeline for one device table: read, clean,
// regularize, fill, write back, emit. Model-fit errors from the regression
// pipelines propagate; the table is retried on the next scheduled run.
func (r *Runner) ProcessTable(ctx context.Context, table string, acc *BatchAccumulator) (TableResult, error) {
	readings, err := r.store.ReadRaw(ctx, table)
	if err != nil {
		return TableResult{}, fmt.Errorf("gapfill: read %s: %w", table, err)
	}
	samples := series.FromReadings(readings)
	if len(samples) == 0 {
		r.logger.Printf("gapfill: table=%s empty, skipping", table)
		return TableResult{Table: table, WinningModel: ModelNA}, nil
	}

	values := make([]float64, len(samples))
	for i, sample := range samples {
		values[i] = sample.Value
	}
	cleaned, err := cleaning.Clean(cleaning.Strategy(r.cfg.CleanStrategy), values, r.cfg.CleanWindow, r.cfg.CleanThreshold)
	if err != nil {
		return TableResult{}, fmt.Errorf("gapfill: clean %s: %w", table, err)
	}
	for i := range samples {
		samples[i].Value = cleaned[i]
	}

	data, err := series.Regularize(table, samples)
	if err != nil {
		return TableResult{}, fmt.Errorf("gapfill: regularize %s: %w", table, err)
	}

	filler, err := NewFiller(r.cfg.FillConfigForTable(table), r.logger)
	if err != nil {
		return TableResult{}, err
	}
	// Scores go through a table-local accumulator first so concurrent tables
	// cannot interleave inside one table's score slice.
	tableAcc := NewBatchAccumulator()
	filled, label, err := filler.Fill(data, tableAcc)
	if err != nil {
		return TableResult{}, err
	}
	if filled == nil {
		r.logger.Printf("gapfill: table=%s has no gaps", table)
		return TableResult{Table: table, WinningModel: label}, nil
	}
	scores := tableAcc.Scores()
	acc.AddScores(scores...)

	inserted, updated, err := r.store.UpsertFilled(ctx, table, filled, label)
	if err != nil {
		return TableResult{}, fmt.Errorf("gapfill: write back %s: %w", table, err)
	}
	r.logger.Printf("gapfill: table=%s model=%s gaps=%d inserted=%d updated=%d", table, label, len(scores), inserted, updated)

	if r.emitter != nil {
		if err := r.emitter.EmitTable(table, filled, label, scores); err != nil {
			r.logger.Printf("gapfill: report emit failed for %s: %v", table, err)
		}
	}

	result := TableResult{
		Table:         table,
		WinningModel:  label,
		Gaps:          len(scores),
		FilledMinutes: data.GapCount(),
		TotalWh:       sum(filled.WH),
	}
	return result, nil
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
