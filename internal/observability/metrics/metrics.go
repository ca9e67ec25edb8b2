package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "gapfill_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRows    *prometheus.CounterVec
	ingestErrors  *prometheus.CounterVec
	ingestLatency *prometheus.HistogramVec

	fillRuns       *prometheus.CounterVec
	fillRunLatency *prometheus.HistogramVec
	gapsLocated    prometheus.Counter
	minutesFilled  prometheus.Counter
	modelWins      *prometheus.CounterVec

	reportExports *prometheus.CounterVec
)

// Init registers pipeline metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_rows_total",
				Help: "Total rows pulled from upstream APIs by source and result",
			},
			[]string{"source", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by source",
			},
			[]string{"source"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest pull latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		)

		fillRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fill_runs_total",
				Help: "Total per-table fill runs by result",
			},
			[]string{"result"},
		)
		fillRunLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "fill_run_latency_seconds",
				Help:    "Per-table fill latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"result"},
		)
		gapsLocated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "gaps_located_total",
				Help: "Total gap segments located across all fill runs",
			},
		)
		minutesFilled = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "minutes_filled_total",
				Help: "Total minutes filled across all fill runs",
			},
		)
		modelWins = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "model_wins_total",
				Help: "Per-table winning model counts by label",
			},
			[]string{"model"},
		)

		reportExports = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_exports_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRows,
			ingestErrors,
			ingestLatency,
			fillRuns,
			fillRunLatency,
			gapsLocated,
			minutesFilled,
			modelWins,
			reportExports,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records one upstream pull.
func ObserveIngest(source, result string, rows int64, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRows != nil && rows > 0 {
		ingestRows.WithLabelValues(source, result).Add(float64(rows))
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// IncIngestError increments the ingest error counter.
func IncIngestError(source string) {
	if source == "" {
		source = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(source).Inc()
	}
}

// ObserveFillRun records one per-table fill run.
func ObserveFillRun(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if fillRuns != nil {
		fillRuns.WithLabelValues(result).Inc()
	}
	if fillRunLatency != nil {
		fillRunLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddGapsLocated adds located gap segments to the running total.
func AddGapsLocated(count int) {
	if count <= 0 {
		return
	}
	if gapsLocated != nil {
		gapsLocated.Add(float64(count))
	}
}

// AddMinutesFilled adds filled minutes to the running total.
func AddMinutesFilled(count int) {
	if count <= 0 {
		return
	}
	if minutesFilled != nil {
		minutesFilled.Add(float64(count))
	}
}

// IncModelWin increments the winner counter for one table pass.
func IncModelWin(model string) {
	if model == "" {
		model = "unknown"
	}
	if modelWins != nil {
		modelWins.WithLabelValues(model).Inc()
	}
}

// IncReportExport counts one report artifact write.
func IncReportExport(format, result string) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExports != nil {
		reportExports.WithLabelValues(format, result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
