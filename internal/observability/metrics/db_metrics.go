package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "fill_runs_recorded",
			Help: "Fill run audit rows present in the database",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM fill_runs")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "device_tables",
			Help: "Per-device raw tables present in the database",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM information_schema.tables WHERE table_name LIKE 'gb\\_%' AND table_name NOT LIKE '%\\_filled'")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
