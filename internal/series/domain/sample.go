package series

import (
	"errors"
	"math"
	"sort"
	"time"
)

// GapMarker flags minutes introduced by regularization. The value is outside
// the physical domain of every measured quantity, so it can never collide
// with a legitimate reading.
const GapMarker = -100.0

// Cadence is the sampling interval of GreenBox meters.
const Cadence = time.Minute

// Sample is one reading for one device at one minute.
type Sample struct {
	EpochSeconds int64
	Timestamp    time.Time
	Value        float64
}

// Reading is one raw per-minute row as stored in a device table: amperage,
// voltage, power factor and watt-hours across the three phases.
type Reading struct {
	EpochSecs int64
	TS        time.Time

	AmpsP1, AmpsP2, AmpsP3    float64
	VoltsP1, VoltsP2, VoltsP3 float64
	PFP1, PFP2, PFP3          float64
	WhP1, WhP2, WhP3          float64
}

// TotalAbsWh sums absolute watt-hours across the three phases. This is the
// quantity the gap-fill models operate on.
func (r Reading) TotalAbsWh() float64 {
	return math.Abs(r.WhP1) + math.Abs(r.WhP2) + math.Abs(r.WhP3)
}

// Series is a regularized per-device minute series. All column slices share
// the same length and index; Ridge and Composite are nil until a fill pass
// populates them.
type Series struct {
	Table string

	Times   []time.Time
	Epochs  []int64
	WH      []float64
	WithGap []float64

	Ridge     []float64
	Composite []float64
}

// Len returns the number of minutes in the series.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Epochs)
}

// Clone deep-copies the series.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	out := &Series{
		Table:   s.Table,
		Times:   append([]time.Time(nil), s.Times...),
		Epochs:  append([]int64(nil), s.Epochs...),
		WH:      append([]float64(nil), s.WH...),
		WithGap: append([]float64(nil), s.WithGap...),
	}
	if s.Ridge != nil {
		out.Ridge = append([]float64(nil), s.Ridge...)
	}
	if s.Composite != nil {
		out.Composite = append([]float64(nil), s.Composite...)
	}
	return out
}

// GapCount returns the number of minutes still flagged with GapMarker.
func (s *Series) GapCount() int {
	count := 0
	for _, v := range s.WithGap {
		if v == GapMarker {
			count++
		}
	}
	return count
}

// ErrNoSamples is returned when a series is built from zero samples.
var ErrNoSamples = errors.New("series: no samples")

// FromReadings converts raw device rows to samples of the analyzed quantity.
func FromReadings(readings []Reading) []Sample {
	samples := make([]Sample, 0, len(readings))
	for _, r := range readings {
		ts := r.TS
		if ts.IsZero() {
			ts = time.Unix(r.EpochSecs, 0).UTC()
		}
		samples = append(samples, Sample{
			EpochSeconds: r.EpochSecs,
			Timestamp:    ts.UTC(),
			Value:        r.TotalAbsWh(),
		})
	}
	return samples
}

// Regularize reindexes samples to a strict 1-per-minute cadence between the
// observed min and max timestamp. Minutes with no sample get WH = 0 and
// WithGap = GapMarker; observed minutes carry the value in both columns.
// Duplicate minutes keep the last sample. Reindexing an already-regular
// series is a no-op.
func Regularize(table string, samples []Sample) (*Series, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	byMinute := make(map[int64]float64, len(samples))
	minEpoch := int64(math.MaxInt64)
	maxEpoch := int64(math.MinInt64)
	for _, sample := range samples {
		epoch := sample.EpochSeconds - sample.EpochSeconds%60
		byMinute[epoch] = sample.Value
		if epoch < minEpoch {
			minEpoch = epoch
		}
		if epoch > maxEpoch {
			maxEpoch = epoch
		}
	}

	n := int((maxEpoch-minEpoch)/60) + 1
	out := &Series{
		Table:   table,
		Times:   make([]time.Time, n),
		Epochs:  make([]int64, n),
		WH:      make([]float64, n),
		WithGap: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		epoch := minEpoch + int64(i)*60
		out.Epochs[i] = epoch
		out.Times[i] = time.Unix(epoch, 0).UTC()
		if value, ok := byMinute[epoch]; ok {
			out.WH[i] = value
			out.WithGap[i] = value
		} else {
			out.WH[i] = 0
			out.WithGap[i] = GapMarker
		}
	}
	return out, nil
}

// Median returns the median of values, ignoring NaN and Inf. Returns 0 for
// an empty or all-invalid input.
func Median(values []float64) float64 {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0
	}
	sort.Float64s(finite)
	mid := len(finite) / 2
	if len(finite)%2 == 1 {
		return finite[mid]
	}
	return (finite[mid-1] + finite[mid]) / 2
}
