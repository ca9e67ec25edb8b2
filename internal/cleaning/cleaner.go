// Package cleaning removes implausible points from a minute series before
// gap analysis. Every strategy preserves the series length and leaves
// non-flagged positions untouched.
package cleaning

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Strategy names one of the interchangeable outlier strategies.
type Strategy string

const (
	StrategyZScore             Strategy = "zscore"
	StrategyIQR                Strategy = "iqr"
	StrategyRollingMedian      Strategy = "rolling-median"
	StrategyRollingInterpolate Strategy = "rolling-interpolate"
)

// Defaults used when the caller passes zero values.
const (
	DefaultZScoreThreshold  = 3.0
	DefaultIQRThreshold     = 1.5
	DefaultRollingThreshold = 3.0
	DefaultRollingWindow    = 20
)

// Clean dispatches to the named strategy. window is ignored by the global
// strategies; threshold 0 selects the strategy default.
func Clean(strategy Strategy, values []float64, window int, threshold float64) ([]float64, error) {
	switch strategy {
	case StrategyZScore, "":
		return ZScore(values, threshold), nil
	case StrategyIQR:
		return IQR(values, threshold), nil
	case StrategyRollingMedian:
		return RollingMedian(values, window, threshold), nil
	case StrategyRollingInterpolate:
		return RollingInterpolate(values, window, threshold), nil
	default:
		return nil, fmt.Errorf("cleaning: unknown strategy %q", strategy)
	}
}

// ZScore replaces points more than threshold global standard deviations from
// the global mean with the global mean.
func ZScore(values []float64, threshold float64) []float64 {
	out := append([]float64(nil), values...)
	if len(out) == 0 {
		return out
	}
	if threshold <= 0 {
		threshold = DefaultZScoreThreshold
	}
	mean, std := stat.MeanStdDev(out, nil)
	if std == 0 || math.IsNaN(std) {
		return out
	}
	for i, v := range out {
		if math.Abs(v-mean) > threshold*std {
			out[i] = mean
		}
	}
	return out
}

// IQR replaces points outside [Q1 - t*IQR, Q3 + t*IQR] with the global
// median.
func IQR(values []float64, threshold float64) []float64 {
	out := append([]float64(nil), values...)
	if len(out) == 0 {
		return out
	}
	if threshold <= 0 {
		threshold = DefaultIQRThreshold
	}
	sorted := append([]float64(nil), out...)
	sort.Float64s(sorted)
	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	iqr := q3 - q1
	lo := q1 - threshold*iqr
	hi := q3 + threshold*iqr
	for i, v := range out {
		if v < lo || v > hi {
			out[i] = median
		}
	}
	return out
}

// rollingStats returns the centered rolling median and std at every index.
// Positions whose full window runs past either edge fall back to the global
// median and std, matching the back/forward fill of edge NaNs.
func rollingStats(values []float64, window int) (medians, stds []float64) {
	n := len(values)
	medians = make([]float64, n)
	stds = make([]float64, n)

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	globalMedian := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	_, globalStd := stat.MeanStdDev(values, nil)

	half := window / 2
	buf := make([]float64, 0, window)
	for i := 0; i < n; i++ {
		lo := i - half
		hi := lo + window
		if lo < 0 || hi > n {
			medians[i] = globalMedian
			stds[i] = globalStd
			continue
		}
		buf = append(buf[:0], values[lo:hi]...)
		sort.Float64s(buf)
		medians[i] = stat.Quantile(0.5, stat.Empirical, buf, nil)
		_, stds[i] = stat.MeanStdDev(values[lo:hi], nil)
	}
	return medians, stds
}

// RollingMedian flags points outside rolling_median ± t*rolling_std and
// replaces them with the rolling median at that position.
func RollingMedian(values []float64, window int, threshold float64) []float64 {
	out := append([]float64(nil), values...)
	if len(out) == 0 {
		return out
	}
	if window <= 1 || window > len(out) {
		window = DefaultRollingWindow
		if window > len(out) {
			window = len(out)
		}
	}
	if threshold <= 0 {
		threshold = DefaultRollingThreshold
	}
	medians, stds := rollingStats(out, window)
	for i, v := range out {
		if stds[i] == 0 || math.IsNaN(stds[i]) {
			continue
		}
		if math.Abs(v-medians[i]) > threshold*stds[i] {
			out[i] = medians[i]
		}
	}
	return out
}

// RollingInterpolate flags like RollingMedian but repairs flagged points by
// linear interpolation between the nearest non-flagged neighbors; edges that
// cannot be interpolated are forward/backward filled.
func RollingInterpolate(values []float64, window int, threshold float64) []float64 {
	out := append([]float64(nil), values...)
	if len(out) == 0 {
		return out
	}
	if window <= 1 || window > len(out) {
		window = DefaultRollingWindow
		if window > len(out) {
			window = len(out)
		}
	}
	if threshold <= 0 {
		threshold = DefaultRollingThreshold
	}
	sorted := append([]float64(nil), out...)
	sort.Float64s(sorted)
	globalMedian := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	medians, stds := rollingStats(out, window)
	for i, v := range out {
		if stds[i] == 0 || math.IsNaN(stds[i]) {
			continue
		}
		if math.Abs(v-medians[i]) > threshold*stds[i] {
			out[i] = math.NaN()
		}
	}
	interpolateNaN(out, globalMedian)
	return out
}

// interpolateNaN linearly interpolates interior NaN runs in place, then
// forward/backward fills whatever remains at the edges. A series with no
// finite point at all has nothing to interpolate from and is filled with
// fallback instead.
func interpolateNaN(values []float64, fallback float64) {
	n := len(values)
	i := 0
	for i < n {
		if !math.IsNaN(values[i]) {
			i++
			continue
		}
		start := i
		for i < n && math.IsNaN(values[i]) {
			i++
		}
		// run [start, i)
		switch {
		case start > 0 && i < n:
			left := values[start-1]
			right := values[i]
			span := float64(i - start + 1)
			for k := start; k < i; k++ {
				frac := float64(k-start+1) / span
				values[k] = left + (right-left)*frac
			}
		case start == 0 && i < n:
			for k := start; k < i; k++ {
				values[k] = values[i]
			}
		case start > 0:
			for k := start; k < n; k++ {
				values[k] = values[start-1]
			}
		default: // the whole series is NaN
			for k := start; k < n; k++ {
				values[k] = fallback
			}
		}
	}
}
