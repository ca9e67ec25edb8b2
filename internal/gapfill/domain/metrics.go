package gapfill

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FillMetrics holds the error metrics for one candidate fill against the
// baseline column over the gap positions of one segment.
type FillMetrics struct {
	MAE      float64
	RMSE     float64
	MedianAE float64
}

// Score is the scalar used for model selection.
func (m FillMetrics) Score() float64 {
	return m.MAE + m.RMSE + m.MedianAE
}

// Measure computes MAE, RMSE and median absolute error of predicted against
// baseline. The slices must be the same length; an empty input yields zero
// metrics.
func Measure(predicted, baseline []float64) FillMetrics {
	n := len(predicted)
	if n == 0 || n != len(baseline) {
		return FillMetrics{}
	}
	absErrs := make([]float64, n)
	var sumSq float64
	for i := range predicted {
		diff := predicted[i] - baseline[i]
		absErrs[i] = math.Abs(diff)
		sumSq += diff * diff
	}
	mae := floats.Sum(absErrs) / float64(n)
	rmse := math.Sqrt(sumSq / float64(n))
	sort.Float64s(absErrs)
	medAE := stat.Quantile(0.5, stat.Empirical, absErrs, nil)
	return FillMetrics{MAE: mae, RMSE: rmse, MedianAE: medAE}
}
