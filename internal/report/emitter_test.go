package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"greenbox-pipeline/internal/gapfill/application"
	gapfill "greenbox-pipeline/internal/gapfill/domain"
	series "greenbox-pipeline/internal/series/domain"
)

func sampleSeries(n int) *series.Series {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := &series.Series{
		Table:     "gb_001",
		Times:     make([]time.Time, n),
		Epochs:    make([]int64, n),
		WH:        make([]float64, n),
		WithGap:   make([]float64, n),
		Ridge:     make([]float64, n),
		Composite: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		s.Times[i] = ts
		s.Epochs[i] = ts.Unix()
		s.WH[i] = float64(20 + i)
		s.WithGap[i] = s.WH[i]
		s.Ridge[i] = s.WH[i]
		s.Composite[i] = s.WH[i]
	}
	return s
}

func TestEmitTableWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	emitter, err := NewEmitter(dir)
	if err != nil {
		t.Fatalf("new emitter: %v", err)
	}

	s := sampleSeries(10)
	s.WithGap[4] = series.GapMarker
	s.Ridge[4] = 23.5
	s.Composite[4] = 24.1
	scores := []application.GapScore{{
		Table:      "gb_001",
		StartIndex: 4,
		Length:     1,
		Ridge:      gapfill.FillMetrics{MAE: 1, RMSE: 1.2, MedianAE: 0.9},
		Composite:  gapfill.FillMetrics{MAE: 1.4, RMSE: 1.6, MedianAE: 1.1},
	}}
	if err := emitter.EmitTable("gb_001", s, application.ModelRidge, scores); err != nil {
		t.Fatalf("emit: %v", err)
	}

	// CSV: header plus one row per minute.
	f, err := os.Open(filepath.Join(dir, "gb_001.csv"))
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 11 {
		t.Fatalf("expected 11 csv records, got %d", len(records))
	}
	if records[0][0] != "date" || records[0][3] != "ridge" {
		t.Fatalf("unexpected csv header %v", records[0])
	}
	if records[5][2] != "-100" {
		t.Fatalf("gap marker missing from with_gap column: %v", records[5])
	}

	// XLSX: reopen and verify the workbook round-trips key cells.
	wb, err := excelize.OpenFile(filepath.Join(dir, "gb_001.xlsx"))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer wb.Close()
	if model, _ := wb.GetCellValue("gap metrics", "B2"); model != application.ModelRidge {
		t.Fatalf("unexpected winning model cell %q", model)
	}
	if start, _ := wb.GetCellValue("gap metrics", "A5"); start != "4" {
		t.Fatalf("unexpected gap start cell %q", start)
	}
	if ridge, _ := wb.GetCellValue("series", "D6"); ridge != "23.5" {
		t.Fatalf("unexpected ridge cell %q", ridge)
	}
}

func TestEmitTableEmptySeries(t *testing.T) {
	emitter, err := NewEmitter(t.TempDir())
	if err != nil {
		t.Fatalf("new emitter: %v", err)
	}
	if err := emitter.EmitTable("gb_001", nil, application.ModelNA, nil); err == nil {
		t.Fatal("expected error for empty series")
	}
}

func TestWriteRunSummary(t *testing.T) {
	dir := t.TempDir()
	emitter, err := NewEmitter(dir)
	if err != nil {
		t.Fatalf("new emitter: %v", err)
	}
	results := []application.TableResult{
		{Table: "gb_001", WinningModel: application.ModelRidge, Gaps: 2, FilledMinutes: 30, TotalWh: 4100.5},
		{Table: "gb_002", WinningModel: application.ModelMedian, Gaps: 1, FilledMinutes: 9000, TotalWh: 310000},
	}
	path, err := emitter.WriteRunSummary(time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC), results)
	if err != nil {
		t.Fatalf("write summary: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat pdf: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("empty pdf written")
	}
}
