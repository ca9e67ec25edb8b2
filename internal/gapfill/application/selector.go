package application

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"sync"

	gapfill "greenbox-pipeline/internal/gapfill/domain"
)

// GapScore carries the per-gap error metrics for both candidate models.
// Scores are exposed so a stricter per-gap selection strategy can be layered
// on without re-deriving the metrics.
type GapScore struct {
	Table      string
	StartIndex int
	Length     int
	Ridge      gapfill.FillMetrics
	Composite  gapfill.FillMetrics
	Oversized  bool
}

// SelectModel aggregates the per-gap scores of one batch and picks a single
// winning label for the whole batch. When every gap hit the oversized
// short-circuit the label is "median"; otherwise the lower summed score
// (MAE + RMSE + median AE across all gaps) wins, ridge on strict inequality.
func SelectModel(scores []GapScore) string {
	if len(scores) == 0 {
		return ModelNA
	}
	allOversized := true
	var ridgeTotal, compositeTotal float64
	for _, s := range scores {
		if !s.Oversized {
			allOversized = false
		}
		ridgeTotal += s.Ridge.Score()
		compositeTotal += s.Composite.Score()
	}
	if allOversized {
		return ModelMedian
	}
	if ridgeTotal < compositeTotal {
		return ModelRidge
	}
	return ModelComposite
}

// TableResult is the per-table outcome of one batch run.
type TableResult struct {
	Table         string
	WinningModel  string
	Gaps          int
	FilledMinutes int
	TotalWh       float64
}

// BatchAccumulator collects gap scores and table results across one batch
// run. It replaces the hidden module-level accumulator of the original
// system: callers pass it into each table's processing call and flush it
// once with Finalize. Safe for concurrent use by the worker pool.
type BatchAccumulator struct {
	mu      sync.Mutex
	scores  []GapScore
	results []TableResult
}

// NewBatchAccumulator constructs an empty accumulator.
func NewBatchAccumulator() *BatchAccumulator {
	return &BatchAccumulator{}
}

// AddScores appends per-gap scores.
func (a *BatchAccumulator) AddScores(scores ...GapScore) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scores = append(a.scores, scores...)
}

// AddResult appends one table's outcome.
func (a *BatchAccumulator) AddResult(result TableResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, result)
}

// Scores returns a copy of the per-gap scores collected so far.
func (a *BatchAccumulator) Scores() []GapScore {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]GapScore(nil), a.scores...)
}

// Results returns a copy of the table results collected so far.
func (a *BatchAccumulator) Results() []TableResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]TableResult(nil), a.results...)
}

// Finalize flushes the accumulated gap scores as CSV and resets the
// accumulator.
func (a *BatchAccumulator) Finalize(w io.Writer) error {
	if w == nil {
		return errors.New("gapfill: nil writer")
	}
	a.mu.Lock()
	scores := a.scores
	a.scores = nil
	a.results = nil
	a.mu.Unlock()

	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{
		"table",
		"start_index",
		"length",
		"oversized",
		"ridge_mae",
		"ridge_rmse",
		"ridge_median_ae",
		"composite_mae",
		"composite_rmse",
		"composite_median_ae",
	}); err != nil {
		return err
	}
	for _, s := range scores {
		if err := writer.Write([]string{
			s.Table,
			strconv.Itoa(s.StartIndex),
			strconv.Itoa(s.Length),
			strconv.FormatBool(s.Oversized),
			formatFloat(s.Ridge.MAE),
			formatFloat(s.Ridge.RMSE),
			formatFloat(s.Ridge.MedianAE),
			formatFloat(s.Composite.MAE),
			formatFloat(s.Composite.RMSE),
			formatFloat(s.Composite.MedianAE),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
