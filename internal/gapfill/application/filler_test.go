package application

import (
	"log"
	"math"
	"os"
	"testing"
	"time"

	gapfill "greenbox-pipeline/internal/gapfill/domain"
	series "greenbox-pipeline/internal/series/domain"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test ", log.LstdFlags)
}

// buildSeries constructs a regular minute series with the given value
// function, then punches the listed gaps into it.
func buildSeries(n int, value func(i int) float64, gaps ...gapfill.GapSegment) *series.Series {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := &series.Series{
		Table:   "gb_test",
		Times:   make([]time.Time, n),
		Epochs:  make([]int64, n),
		WH:      make([]float64, n),
		WithGap: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		s.Times[i] = ts
		s.Epochs[i] = ts.Unix()
		s.WH[i] = value(i)
		s.WithGap[i] = s.WH[i]
	}
	for _, g := range gaps {
		for i := g.StartIndex; i <= g.EndIndex; i++ {
			s.WH[i] = 0
			s.WithGap[i] = series.GapMarker
		}
	}
	return s
}

func sineValue(i int) float64 {
	return 30 + 20*math.Sin(float64(i)*2*math.Pi/240) // smooth, range [10, 50]
}

func TestFillNoGapShortCircuit(t *testing.T) {
	f, err := NewFiller(DefaultFillConfig(), testLogger())
	if err != nil {
		t.Fatalf("new filler: %v", err)
	}
	s := buildSeries(100, sineValue)
	snapshot := s.Clone()

	filled, label, err := f.Fill(s, nil)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if filled != nil || label != ModelNA {
		t.Fatalf("expected (nil, %q), got (%v, %q)", ModelNA, filled, label)
	}
	for i := range s.WithGap {
		if s.WithGap[i] != snapshot.WithGap[i] || s.WH[i] != snapshot.WH[i] {
			t.Fatalf("input modified at index %d", i)
		}
	}
}

func TestFillEmptySeries(t *testing.T) {
	f, _ := NewFiller(DefaultFillConfig(), testLogger())
	filled, label, err := f.Fill(nil, nil)
	if err != nil || filled != nil || label != ModelNA {
		t.Fatalf("expected (nil, N/A, nil), got (%v, %q, %v)", filled, label, err)
	}
}

func TestFillScenarioASingleShortGap(t *testing.T) {
	f, err := NewFiller(DefaultFillConfig(), testLogger())
	if err != nil {
		t.Fatalf("new filler: %v", err)
	}
	gap := gapfill.GapSegment{StartIndex: 700, EndIndex: 714}
	s := buildSeries(1440, sineValue, gap)

	acc := NewBatchAccumulator()
	filled, label, err := f.Fill(s, acc)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if filled == nil {
		t.Fatal("expected a filled series")
	}
	if label != ModelRidge && label != ModelComposite {
		t.Fatalf("expected ridge or composite, got %q", label)
	}
	for i := gap.StartIndex; i <= gap.EndIndex; i++ {
		for _, v := range []float64{filled.Ridge[i], filled.Composite[i]} {
			if v < 0 {
				t.Fatalf("negative fill %f at %d", v, i)
			}
			if v > 50 {
				t.Fatalf("fill %f at %d exceeds observed maximum", v, i)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("non-finite fill at %d", i)
			}
		}
	}
	// Non-gap positions carry the observed value in both candidate columns.
	for _, i := range []int{0, 500, 1000, 1439} {
		if filled.Ridge[i] != s.WH[i] || filled.Composite[i] != s.WH[i] {
			t.Fatalf("candidate columns altered outside gap at %d", i)
		}
	}
	if len(acc.Scores()) != 1 {
		t.Fatalf("expected 1 gap score, got %d", len(acc.Scores()))
	}
}

func TestFillScenarioBOversizedGap(t *testing.T) {
	f, err := NewFiller(DefaultFillConfig(), testLogger())
	if err != nil {
		t.Fatalf("new filler: %v", err)
	}
	gap := gapfill.GapSegment{StartIndex: 1000, EndIndex: 10999} // 10,000 minutes
	s := buildSeries(12000, sineValue, gap)

	filled, label, err := f.Fill(s, nil)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if label != ModelMedian {
		t.Fatalf("expected median label, got %q", label)
	}
	want := series.Median(s.WH)
	for i := gap.StartIndex; i <= gap.EndIndex; i++ {
		if filled.Ridge[i] != want || filled.Composite[i] != want {
			t.Fatalf("index %d: expected exact global median %f, got ridge=%f composite=%f", i, want, filled.Ridge[i], filled.Composite[i])
		}
	}
}

func TestFillScenarioCTwoGapsWindowSizing(t *testing.T) {
	cfg := DefaultFillConfig()
	gapA := gapfill.GapSegment{StartIndex: 100, EndIndex: 104}  // 5 minutes
	gapB := gapfill.GapSegment{StartIndex: 300, EndIndex: 319}  // 20 minutes
	s := buildSeries(1000, sineValue, gapA, gapB)

	segments := gapfill.Locate(s.WithGap)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0] != gapA || segments[1] != gapB {
		t.Fatalf("unexpected segments %+v", segments)
	}
	if wa, wb := cfg.windowSize(segments[0].Length()), cfg.windowSize(segments[1].Length()); wa != 5 || wb != 20 {
		t.Fatalf("expected windows 5 and 20, got %d and %d", wa, wb)
	}

	f, err := NewFiller(cfg, testLogger())
	if err != nil {
		t.Fatalf("new filler: %v", err)
	}
	acc := NewBatchAccumulator()
	filled, label, err := f.Fill(s, acc)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if filled == nil || label == ModelMedian || label == ModelNA {
		t.Fatalf("unexpected result (%v, %q)", filled, label)
	}
	scores := acc.Scores()
	if len(scores) != 2 {
		t.Fatalf("expected 2 gap scores, got %d", len(scores))
	}
	if scores[0].Length != 5 || scores[1].Length != 20 {
		t.Fatalf("unexpected score lengths %+v", scores)
	}
}

func TestWindowSizeFormula(t *testing.T) {
	cfg := DefaultFillConfig()
	cases := []struct {
		gapLen int
		want   int
	}{
		{1, 1},
		{60, 60},
		{61, 183},
		{100, 300},
		{200, 500}, // capped
		{7200, 500},
	}
	for _, tc := range cases {
		if got := cfg.windowSize(tc.gapLen); got != tc.want {
			t.Fatalf("windowSize(%d): expected %d, got %d", tc.gapLen, tc.want, got)
		}
	}
}

func TestFillDeterministicWithSeed(t *testing.T) {
	cfg := DefaultFillConfig()
	gap := gapfill.GapSegment{StartIndex: 400, EndIndex: 429}
	build := func() *series.Series { return buildSeries(1440, sineValue, gap) }

	f1, _ := NewFiller(cfg, testLogger())
	f2, _ := NewFiller(cfg, testLogger())
	a, labelA, err := f1.Fill(build(), nil)
	if err != nil {
		t.Fatalf("fill a: %v", err)
	}
	b, labelB, err := f2.Fill(build(), nil)
	if err != nil {
		t.Fatalf("fill b: %v", err)
	}
	if labelA != labelB {
		t.Fatalf("labels differ: %q vs %q", labelA, labelB)
	}
	for i := range a.Ridge {
		if a.Ridge[i] != b.Ridge[i] || a.Composite[i] != b.Composite[i] {
			t.Fatalf("fills differ at index %d", i)
		}
	}
}

func TestFillRespectsMinGapSize(t *testing.T) {
	cfg := DefaultFillConfig()
	cfg.MinGapSize = 10
	f, err := NewFiller(cfg, testLogger())
	if err != nil {
		t.Fatalf("new filler: %v", err)
	}
	s := buildSeries(500, sineValue, gapfill.GapSegment{StartIndex: 200, EndIndex: 204})

	filled, label, err := f.Fill(s, nil)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if filled != nil || label != ModelNA {
		t.Fatalf("expected short gap to be skipped entirely, got (%v, %q)", filled, label)
	}
}

func TestFillMixedOversizedAndNormal(t *testing.T) {
	cfg := DefaultFillConfig()
	cfg.MaxModelableGap = 100
	f, err := NewFiller(cfg, testLogger())
	if err != nil {
		t.Fatalf("new filler: %v", err)
	}
	big := gapfill.GapSegment{StartIndex: 500, EndIndex: 700}   // 201 > 100
	small := gapfill.GapSegment{StartIndex: 2000, EndIndex: 2014}
	s := buildSeries(4000, sineValue, big, small)

	acc := NewBatchAccumulator()
	_, label, err := f.Fill(s, acc)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	// Not every gap was oversized, so the label must come from the scores.
	if label != ModelRidge && label != ModelComposite {
		t.Fatalf("expected ridge or composite, got %q", label)
	}
	scores := acc.Scores()
	if len(scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(scores))
	}
	if !scores[0].Oversized || scores[1].Oversized {
		t.Fatalf("oversized flags wrong: %+v", scores)
	}
}

func TestEvaluateHoldout(t *testing.T) {
	f, err := NewFiller(DefaultFillConfig(), testLogger())
	if err != nil {
		t.Fatalf("new filler: %v", err)
	}
	s := buildSeries(1440, sineValue)
	mask := []int{600, 601, 602, 603, 604}

	ridge, composite, err := f.EvaluateHoldout(s, mask)
	if err != nil {
		t.Fatalf("holdout: %v", err)
	}
	for _, m := range []gapfill.FillMetrics{ridge, composite} {
		if math.IsNaN(m.MAE) || math.IsNaN(m.RMSE) || math.IsNaN(m.MedianAE) {
			t.Fatalf("non-finite holdout metrics %+v", m)
		}
	}
	// The input must not be mutated by the holdout evaluation.
	if s.WithGap[600] == series.GapMarker {
		t.Fatal("holdout mutated the input series")
	}

	if _, _, err := f.EvaluateHoldout(s, nil); err == nil {
		t.Fatal("expected error for empty mask")
	}
	if _, _, err := f.EvaluateHoldout(s, []int{-1}); err == nil {
		t.Fatal("expected error for out-of-range index")
	}
}
