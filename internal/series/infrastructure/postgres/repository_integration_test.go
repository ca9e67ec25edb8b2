package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	series "greenbox-pipeline/internal/series/domain"
	seriespostgres "greenbox-pipeline/internal/series/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestSeriesRepositoryRoundTrip(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	table := "gb_inttest"
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table)
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+"_filled")

	repo := seriespostgres.NewSeriesRepository(db)
	if err := repo.EnsureDeviceTable(ctx, table); err != nil {
		t.Fatalf("ensure table: %v", err)
	}

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	readings := make([]series.Reading, 0, 5)
	for i := 0; i < 5; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		readings = append(readings, series.Reading{
			EpochSecs: ts.Unix(),
			TS:        ts,
			WhP1:      float64(10 + i),
			WhP2:      5,
			WhP3:      2,
		})
	}

	inserted, updated, err := repo.Upsert(ctx, table, readings)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if inserted != 5 || updated != 0 {
		t.Fatalf("expected 5 inserts on empty table, got %d/%d", inserted, updated)
	}

	// Same rows again: every write must count as an update.
	inserted, updated, err = repo.Upsert(ctx, table, readings)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if inserted != 0 || updated != 5 {
		t.Fatalf("expected 5 updates on replay, got %d/%d", inserted, updated)
	}

	got, err := repo.ReadRaw(ctx, table)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(got))
	}
	if got[0].TotalAbsWh() != 17 {
		t.Fatalf("unexpected first row %+v", got[0])
	}

	minEpoch, maxEpoch, ok, err := repo.MinMaxEpoch(ctx, table)
	if err != nil || !ok {
		t.Fatalf("min/max epoch: ok=%v err=%v", ok, err)
	}
	if minEpoch != start.Unix() || maxEpoch != start.Add(4*time.Minute).Unix() {
		t.Fatalf("unexpected epoch bounds %d..%d", minEpoch, maxEpoch)
	}

	samples := series.FromReadings(got)
	data, err := series.Regularize(table, samples)
	if err != nil {
		t.Fatalf("regularize: %v", err)
	}
	data.Ridge = append([]float64(nil), data.WH...)
	data.Composite = append([]float64(nil), data.WH...)

	inserted, updated, err = repo.UpsertFilled(ctx, table, data, "ridge")
	if err != nil {
		t.Fatalf("upsert filled: %v", err)
	}
	if inserted != 5 || updated != 0 {
		t.Fatalf("expected 5 filled inserts, got %d/%d", inserted, updated)
	}

	model, runAt, ok, err := repo.LatestRun(ctx, table)
	if err != nil || !ok {
		t.Fatalf("latest run: ok=%v err=%v", ok, err)
	}
	if model != "ridge" || runAt.IsZero() {
		t.Fatalf("unexpected run record %q %v", model, runAt)
	}
}

func TestSeriesRepositoryRejectsBadTableNames(t *testing.T) {
	repo := seriespostgres.NewSeriesRepository(nil)
	ctx := context.Background()
	for _, name := range []string{"", "gb-001", "gb_001; DROP TABLE x", "GB_001"} {
		if err := repo.EnsureDeviceTable(ctx, name); err == nil {
			t.Fatalf("expected rejection of table name %q", name)
		}
	}
}
