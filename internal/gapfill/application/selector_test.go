package application

import (
	"bytes"
	"strings"
	"testing"

	gapfill "greenbox-pipeline/internal/gapfill/domain"
)

func metricsWithScore(score float64) gapfill.FillMetrics {
	return gapfill.FillMetrics{MAE: score / 3, RMSE: score / 3, MedianAE: score / 3}
}

func TestSelectModel(t *testing.T) {
	cases := []struct {
		name   string
		scores []GapScore
		want   string
	}{
		{"empty", nil, ModelNA},
		{
			"all oversized",
			[]GapScore{{Oversized: true}, {Oversized: true}},
			ModelMedian,
		},
		{
			"ridge wins on lower total",
			[]GapScore{
				{Ridge: metricsWithScore(1), Composite: metricsWithScore(2)},
				{Ridge: metricsWithScore(1), Composite: metricsWithScore(2)},
			},
			ModelRidge,
		},
		{
			"composite wins otherwise",
			[]GapScore{{Ridge: metricsWithScore(5), Composite: metricsWithScore(2)}},
			ModelComposite,
		},
		{
			"tie goes to composite",
			[]GapScore{{Ridge: metricsWithScore(3), Composite: metricsWithScore(3)}},
			ModelComposite,
		},
		{
			"oversized mixed with normal uses totals",
			[]GapScore{
				{Oversized: true, Ridge: metricsWithScore(1), Composite: metricsWithScore(1)},
				{Ridge: metricsWithScore(1), Composite: metricsWithScore(2)},
			},
			ModelRidge,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SelectModel(tc.scores); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestBatchAccumulatorFinalize(t *testing.T) {
	acc := NewBatchAccumulator()
	acc.AddScores(GapScore{
		Table:      "gb_001",
		StartIndex: 10,
		Length:     5,
		Ridge:      metricsWithScore(3),
		Composite:  metricsWithScore(6),
	})
	acc.AddResult(TableResult{Table: "gb_001", WinningModel: ModelRidge, Gaps: 1})

	var buf bytes.Buffer
	if err := acc.Finalize(&buf); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "table,start_index,length,oversized") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "gb_001,10,5,false") {
		t.Fatalf("unexpected row %q", lines[1])
	}

	// Finalize resets the accumulator.
	if len(acc.Scores()) != 0 || len(acc.Results()) != 0 {
		t.Fatal("accumulator not reset after finalize")
	}
	if err := acc.Finalize(nil); err == nil {
		t.Fatal("expected error for nil writer")
	}
}

func TestBatchAccumulatorCopies(t *testing.T) {
	acc := NewBatchAccumulator()
	acc.AddScores(GapScore{Table: "gb_001"})
	scores := acc.Scores()
	scores[0].Table = "mutated"
	if acc.Scores()[0].Table != "gb_001" {
		t.Fatal("Scores returned the internal slice")
	}
}
