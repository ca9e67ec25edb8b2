package application

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	gapfill "greenbox-pipeline/internal/gapfill/domain"
	"greenbox-pipeline/internal/gapfill/regression"
	series "greenbox-pipeline/internal/series/domain"
)

// Winning-model labels attached to a processed table.
const (
	ModelRidge     = "ridge"
	ModelComposite = "composite"
	ModelMedian    = "median"
	ModelNA        = "N/A"
)

// FillConfig holds the tunables of one fill pass. The buffer multiplier and
// clip range are empirically chosen defaults; override per table via the
// job config rather than assuming they are optimal.
type FillConfig struct {
	MaxModelableGap  int     `yaml:"max_modelable_gap"` // minutes; beyond this the median fallback applies
	WindowCap        int     `yaml:"window_cap"`
	WindowScale      int     `yaml:"window_scale"`
	BufferMultiplier int     `yaml:"buffer_multiplier"`
	ClipLow          float64 `yaml:"clip_low"`
	ClipHigh         float64 `yaml:"clip_high"`
	JitterLow        float64 `yaml:"jitter_low"`
	JitterHigh       float64 `yaml:"jitter_high"`
	RidgeLambda      float64 `yaml:"ridge_lambda"`
	MinGapSize       int     `yaml:"min_gap_size"`
	Seed             int64   `yaml:"seed"`
}

// DefaultFillConfig returns the defaults used by the production pipeline.
func DefaultFillConfig() FillConfig {
	return FillConfig{
		MaxModelableGap:  7200, // 5 days of minutes
		WindowCap:        500,
		WindowScale:      3,
		BufferMultiplier: 5,
		ClipLow:          0.90,
		ClipHigh:         1.00,
		JitterLow:        0.1,
		JitterHigh:       2.0,
		RidgeLambda:      1.0,
		MinGapSize:       1,
		Seed:             1,
	}
}

func (c FillConfig) validate() error {
	if c.MaxModelableGap <= 0 || c.WindowCap <= 0 || c.WindowScale <= 0 || c.BufferMultiplier <= 0 {
		return errors.New("gapfill: non-positive sizing parameter")
	}
	if c.ClipLow <= 0 || c.ClipHigh < c.ClipLow {
		return errors.New("gapfill: invalid clip range")
	}
	if c.JitterHigh < c.JitterLow || c.JitterLow < 0 {
		return errors.New("gapfill: invalid jitter range")
	}
	return nil
}

// windowSize scales the lagged-feature window with gap length and caps it to
// bound compute cost.
func (c FillConfig) windowSize(gapLen int) int {
	if gapLen > 60 {
		size := gapLen * c.WindowScale
		if size > c.WindowCap {
			size = c.WindowCap
		}
		return size
	}
	return gapLen
}

// Filler produces ridge and composite fill candidates for every gap segment
// of a regularized series and splices them into the series.
type Filler struct {
	cfg            FillConfig
	logger         *log.Logger
	diagnosticsDir string
}

// FillerOption configures a Filler.
type FillerOption func(*Filler)

// WithGapDiagnostics writes one CSV per processed gap into dir for human
// review.
func WithGapDiagnostics(dir string) FillerOption {
	return func(f *Filler) { f.diagnosticsDir = dir }
}

// NewFiller constructs a Filler.
func NewFiller(cfg FillConfig, logger *log.Logger, opts ...FillerOption) (*Filler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	f := &Filler{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fill runs one fill pass over data. It returns the filled series and the
// batch winning-model label, or (nil, "N/A") when the series is empty or has
// no gap markers; the input is never modified. Gap scores are appended to
// acc when it is non-nil. Model-fit errors propagate and abort the table.
func (f *Filler) Fill(data *series.Series, acc *BatchAccumulator) (*series.Series, string, error) {
	if data == nil || data.Len() == 0 {
		return nil, ModelNA, nil
	}
	segments := gapfill.Locate(data.WithGap)
	if len(segments) == 0 {
		return nil, ModelNA, nil
	}

	result := data.Clone()
	result.Ridge = append([]float64(nil), result.WH...)
	result.Composite = append([]float64(nil), result.WH...)

	globalMedian := series.Median(data.WH)
	rng := rand.New(rand.NewSource(f.cfg.Seed))

	var scores []GapScore
	for _, seg := range segments {
		if seg.Length() < f.cfg.MinGapSize {
			continue
		}
		score, err := f.fillSegment(result, seg, globalMedian, rng)
		if err != nil {
			if errors.Is(err, errNoGapRows) {
				f.logger.Printf("gapfill: table=%s segment start=%d len=%d produced no gap rows, skipping", data.Table, seg.StartIndex, seg.Length())
				continue
			}
			return nil, ModelNA, err
		}
		score.Table = data.Table
		scores = append(scores, score)
	}
	if len(scores) == 0 {
		return nil, ModelNA, nil
	}
	if acc != nil {
		acc.AddScores(scores...)
	}
	return result, SelectModel(scores), nil
}

// errNoGapRows guards the defensive empty-subset case; Locate's invariants
// make it unreachable in practice.
var errNoGapRows = errors.New("gapfill: no gap rows in subset")

func (f *Filler) fillSegment(result *series.Series, seg gapfill.GapSegment, globalMedian float64, rng *rand.Rand) (GapScore, error) {
	n := result.Len()
	windowSize := f.cfg.windowSize(seg.Length())
	bufferSize := windowSize * f.cfg.BufferMultiplier
	lo := seg.StartIndex - bufferSize
	if lo < 0 {
		lo = 0
	}
	hi := seg.EndIndex + bufferSize
	if hi > n-1 {
		hi = n - 1
	}

	if seg.Length() > f.cfg.MaxModelableGap {
		// Regression windows spanning many days of missing data extrapolate
		// unreliably; the whole extraction window degrades to the global
		// median for both candidates.
		for i := lo; i <= hi; i++ {
			result.Ridge[i] = globalMedian
			result.Composite[i] = globalMedian
		}
		baseline := gapBaseline(result, seg.StartIndex, seg.EndIndex)
		constant := constantSlice(globalMedian, len(baseline))
		m := gapfill.Measure(constant, baseline)
		return GapScore{
			StartIndex: seg.StartIndex,
			Length:     seg.Length(),
			Ridge:      m,
			Composite:  m,
			Oversized:  true,
		}, nil
	}

	vals := append([]float64(nil), result.WH[lo:hi+1]...)
	trainMask := make([]bool, len(vals))
	var gapIdx []int
	for i := range vals {
		if result.WithGap[lo+i] == series.GapMarker {
			gapIdx = append(gapIdx, i)
		} else {
			trainMask[i] = true
		}
	}
	if len(gapIdx) == 0 {
		return GapScore{}, errNoGapRows
	}
	subsetMedian := series.Median(vals)
	subsetMax := math.Inf(-1)
	for i, v := range vals {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			vals[i] = subsetMedian
			v = subsetMedian
		}
		if v > subsetMax {
			subsetMax = v
		}
	}

	ridgeModel := regression.NewLaggedRidge(windowSize, f.cfg.RidgeLambda)
	if err := ridgeModel.Fit(vals, trainMask); err != nil {
		return GapScore{}, fmt.Errorf("gapfill: segment start=%d: ridge pipeline: %w", seg.StartIndex, err)
	}
	compositeModel := regression.NewComposite(windowSize, f.cfg.RidgeLambda)
	if err := compositeModel.Fit(vals, trainMask); err != nil {
		return GapScore{}, fmt.Errorf("gapfill: segment start=%d: composite pipeline: %w", seg.StartIndex, err)
	}

	ridgeFill := make([]float64, len(gapIdx))
	compositeFill := make([]float64, len(gapIdx))
	baseline := make([]float64, len(gapIdx))
	for j, i := range gapIdx {
		ridgeFill[j] = f.postprocess(predictOr(ridgeModel.Predict, vals, i, subsetMedian), subsetMax, rng)
		compositeFill[j] = f.postprocess(predictOr(compositeModel.Predict, vals, i, subsetMedian), subsetMax, rng)
		baseline[j] = vals[i]
		result.Ridge[lo+i] = ridgeFill[j]
		result.Composite[lo+i] = compositeFill[j]
	}

	score := GapScore{
		StartIndex: seg.StartIndex,
		Length:     seg.Length(),
		Ridge:      gapfill.Measure(ridgeFill, baseline),
		Composite:  gapfill.Measure(compositeFill, baseline),
	}
	if f.diagnosticsDir != "" {
		if err := f.writeGapDiagnostics(result, seg, lo, hi); err != nil {
			f.logger.Printf("gapfill: diagnostics write failed: %v", err)
		}
	}
	return score, nil
}

// predictOr recovers non-finite or unavailable predictions with the subset
// median; numeric defects must not abort a multi-device batch.
func predictOr(predict func([]float64, int) (float64, bool), vals []float64, i int, fallback float64) float64 {
	pred, ok := predict(vals, i)
	if !ok || math.IsNaN(pred) || math.IsInf(pred, 0) {
		return fallback
	}
	return pred
}

// postprocess applies the per-row random clip ceiling and replaces negative
// predictions with small positive noise.
func (f *Filler) postprocess(pred, subsetMax float64, rng *rand.Rand) float64 {
	ceiling := (f.cfg.ClipLow + rng.Float64()*(f.cfg.ClipHigh-f.cfg.ClipLow)) * subsetMax
	if pred > ceiling {
		pred = ceiling
	}
	if pred < 0 {
		pred = f.cfg.JitterLow + rng.Float64()*(f.cfg.JitterHigh-f.cfg.JitterLow)
	}
	return pred
}

// gapBaseline returns the zero/median-filled value column over the gap
// positions of [start, end]. Ground truth is unavailable for true gaps, so
// metrics measure agreement with this baseline, not held-out accuracy.
func gapBaseline(s *series.Series, start, end int) []float64 {
	out := make([]float64, 0, end-start+1)
	for i := start; i <= end; i++ {
		if s.WithGap[i] == series.GapMarker {
			out = append(out, s.WH[i])
		}
	}
	return out
}

func constantSlice(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func (f *Filler) writeGapDiagnostics(s *series.Series, seg gapfill.GapSegment, lo, hi int) error {
	if err := os.MkdirAll(f.diagnosticsDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s_gap_%d_%d.csv", s.Table, seg.StartIndex, seg.Length())
	file, err := os.Create(filepath.Join(f.diagnosticsDir, name))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"date", "wh", "with_gap", "ridge", "composite"}); err != nil {
		return err
	}
	for i := lo; i <= hi; i++ {
		if err := writer.Write([]string{
			s.Times[i].Format("2006-01-02 15:04:05"),
			strconv.FormatFloat(s.WH[i], 'f', -1, 64),
			strconv.FormatFloat(s.WithGap[i], 'f', -1, 64),
			strconv.FormatFloat(s.Ridge[i], 'f', -1, 64),
			strconv.FormatFloat(s.Composite[i], 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	return nil
}
