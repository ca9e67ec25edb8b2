package application

import (
	"errors"
	"fmt"

	gapfill "greenbox-pipeline/internal/gapfill/domain"
	series "greenbox-pipeline/internal/series/domain"
)

// EvaluateHoldout hides the observed minutes listed in mask, runs a fill
// pass over the modified series, and scores both candidates against the
// hidden true values. Unlike the batch metrics, which compare against the
// zero/median-filled baseline for compatibility, this measures real
// recovery accuracy. It is a validation aid only and never influences the
// winning-model label.
func (f *Filler) EvaluateHoldout(data *series.Series, mask []int) (ridge, composite gapfill.FillMetrics, err error) {
	if data == nil || data.Len() == 0 {
		return gapfill.FillMetrics{}, gapfill.FillMetrics{}, errors.New("gapfill: empty series")
	}
	if len(mask) == 0 {
		return gapfill.FillMetrics{}, gapfill.FillMetrics{}, errors.New("gapfill: empty holdout mask")
	}

	truth := make([]float64, 0, len(mask))
	hidden := data.Clone()
	for _, i := range mask {
		if i < 0 || i >= data.Len() {
			return gapfill.FillMetrics{}, gapfill.FillMetrics{}, fmt.Errorf("gapfill: holdout index %d out of range", i)
		}
		if data.WithGap[i] == series.GapMarker {
			return gapfill.FillMetrics{}, gapfill.FillMetrics{}, fmt.Errorf("gapfill: holdout index %d is already a gap", i)
		}
		truth = append(truth, data.WithGap[i])
		hidden.WithGap[i] = series.GapMarker
		hidden.WH[i] = 0
	}

	filled, _, err := f.Fill(hidden, nil)
	if err != nil {
		return gapfill.FillMetrics{}, gapfill.FillMetrics{}, err
	}
	if filled == nil {
		return gapfill.FillMetrics{}, gapfill.FillMetrics{}, errors.New("gapfill: holdout fill produced no result")
	}

	ridgePred := make([]float64, len(mask))
	compositePred := make([]float64, len(mask))
	for j, i := range mask {
		ridgePred[j] = filled.Ridge[i]
		compositePred[j] = filled.Composite[i]
	}
	return gapfill.Measure(ridgePred, truth), gapfill.Measure(compositePred, truth), nil
}
