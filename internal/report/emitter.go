package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"greenbox-pipeline/internal/gapfill/application"
	"greenbox-pipeline/internal/observability/metrics"
	series "greenbox-pipeline/internal/series/domain"
)

// Emitter writes per-table fill artifacts (XLSX workbook plus CSV dump)
// and per-batch PDF summaries into a report directory.
type Emitter struct {
	dir string
}

// NewEmitter constructs an emitter, creating the directory if needed.
func NewEmitter(dir string) (*Emitter, error) {
	if dir == "" {
		return nil, errors.New("report: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create dir: %w", err)
	}
	return &Emitter{dir: dir}, nil
}

// EmitTable writes one table's filled series and gap metrics.
func (e *Emitter) EmitTable(table string, data *series.Series, winningModel string, scores []application.GapScore) error {
	if data == nil || data.Len() == 0 {
		return errors.New("report: empty series")
	}
	if err := e.writeCSV(table, data); err != nil {
		metrics.IncReportExport("csv", metrics.ResultError)
		return err
	}
	metrics.IncReportExport("csv", metrics.ResultSuccess)
	if err := e.writeXLSX(table, data, winningModel, scores); err != nil {
		metrics.IncReportExport("xlsx", metrics.ResultError)
		return err
	}
	metrics.IncReportExport("xlsx", metrics.ResultSuccess)
	return nil
}

func (e *Emitter) writeCSV(table string, data *series.Series) error {
	f, err := os.Create(filepath.Join(e.dir, table+".csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"date", "wh", "with_gap", "ridge", "composite"}); err != nil {
		return err
	}
	for i := 0; i < data.Len(); i++ {
		record := []string{
			data.Times[i].Format(time.RFC3339),
			formatFloat(data.WH[i]),
			formatFloat(data.WithGap[i]),
			formatFloat(data.Ridge[i]),
			formatFloat(data.Composite[i]),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (e *Emitter) writeXLSX(table string, data *series.Series, winningModel string, scores []application.GapScore) error {
	f := excelize.NewFile()
	seriesSheet := "series"
	metricsSheet := "gap metrics"
	f.SetSheetName("Sheet1", seriesSheet)
	f.NewSheet(metricsSheet)

	headers := []string{"Date", "Wh", "With Gap", "Ridge", "Composite"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(seriesSheet, cell, h)
	}
	for i := 0; i < data.Len(); i++ {
		row := i + 2
		_ = f.SetCellValue(seriesSheet, fmt.Sprintf("A%d", row), data.Times[i].Format(time.RFC3339))
		_ = f.SetCellValue(seriesSheet, fmt.Sprintf("B%d", row), data.WH[i])
		_ = f.SetCellValue(seriesSheet, fmt.Sprintf("C%d", row), data.WithGap[i])
		_ = f.SetCellValue(seriesSheet, fmt.Sprintf("D%d", row), data.Ridge[i])
		_ = f.SetCellValue(seriesSheet, fmt.Sprintf("E%d", row), data.Composite[i])
	}

	_ = f.SetCellValue(metricsSheet, "A1", "Table")
	_ = f.SetCellValue(metricsSheet, "B1", table)
	_ = f.SetCellValue(metricsSheet, "A2", "Winning model")
	_ = f.SetCellValue(metricsSheet, "B2", winningModel)

	_ = f.SetCellValue(metricsSheet, "A4", "Start Index")
	_ = f.SetCellValue(metricsSheet, "B4", "Length")
	_ = f.SetCellValue(metricsSheet, "C4", "Oversized")
	_ = f.SetCellValue(metricsSheet, "D4", "Ridge MAE")
	_ = f.SetCellValue(metricsSheet, "E4", "Ridge RMSE")
	_ = f.SetCellValue(metricsSheet, "F4", "Ridge MedAE")
	_ = f.SetCellValue(metricsSheet, "G4", "Composite MAE")
	_ = f.SetCellValue(metricsSheet, "H4", "Composite RMSE")
	_ = f.SetCellValue(metricsSheet, "I4", "Composite MedAE")
	for i, score := range scores {
		row := i + 5
		_ = f.SetCellValue(metricsSheet, fmt.Sprintf("A%d", row), score.StartIndex)
		_ = f.SetCellValue(metricsSheet, fmt.Sprintf("B%d", row), score.Length)
		_ = f.SetCellValue(metricsSheet, fmt.Sprintf("C%d", row), score.Oversized)
		_ = f.SetCellValue(metricsSheet, fmt.Sprintf("D%d", row), score.Ridge.MAE)
		_ = f.SetCellValue(metricsSheet, fmt.Sprintf("E%d", row), score.Ridge.RMSE)
		_ = f.SetCellValue(metricsSheet, fmt.Sprintf("F%d", row), score.Ridge.MedianAE)
		_ = f.SetCellValue(metricsSheet, fmt.Sprintf("G%d", row), score.Composite.MAE)
		_ = f.SetCellValue(metricsSheet, fmt.Sprintf("H%d", row), score.Composite.RMSE)
		_ = f.SetCellValue(metricsSheet, fmt.Sprintf("I%d", row), score.Composite.MedianAE)
	}

	return f.SaveAs(filepath.Join(e.dir, table+".xlsx"))
}

// WriteRunSummary renders one PDF covering a whole batch.
func (e *Emitter) WriteRunSummary(runAt time.Time, results []application.TableResult) (string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Gap-Fill Run Summary")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Run: %s", runAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Tables processed: %d", len(results)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Table", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Model", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Gaps", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Filled Minutes", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Total Wh", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, res := range results {
		pdf.CellFormat(40, 6, res.Table, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, res.WinningModel, "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, strconv.Itoa(res.Gaps), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, strconv.Itoa(res.FilledMinutes), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%.1f", res.TotalWh), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	path := filepath.Join(e.dir, fmt.Sprintf("run_%s.pdf", runAt.Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := pdf.Output(f); err != nil {
		metrics.IncReportExport("pdf", metrics.ResultError)
		return "", err
	}
	metrics.IncReportExport("pdf", metrics.ResultSuccess)
	return path, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
