package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	series "greenbox-pipeline/internal/series/domain"
)

// identPattern guards table names interpolated into SQL; device tables are
// generated from meter serials and must stay plain identifiers.
var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SeriesRepository is a Postgres implementation of the per-device series
// store. Each device owns one hypertable of raw minute readings plus one
// `<table>_filled` table written by the gap-fill pass.
type SeriesRepository struct {
	db         *sql.DB
	filledSfx  string
	runsTable  string
	timeColumn string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*SeriesRepository)

// WithFilledSuffix overrides the default "_filled" suffix.
func WithFilledSuffix(suffix string) RepositoryOption {
	return func(r *SeriesRepository) {
		if suffix != "" {
			r.filledSfx = suffix
		}
	}
}

// WithRunsTable overrides the default fill-run audit table.
func WithRunsTable(table string) RepositoryOption {
	return func(r *SeriesRepository) {
		if table != "" {
			r.runsTable = table
		}
	}
}

// NewSeriesRepository constructs a repository.
func NewSeriesRepository(db *sql.DB, opts ...RepositoryOption) *SeriesRepository {
	repo := &SeriesRepository{
		db:        db,
		filledSfx: "_filled",
		runsTable: "fill_runs",
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

func validTable(table string) error {
	if !identPattern.MatchString(table) {
		return fmt.Errorf("seriesstore: invalid table name %q", table)
	}
	return nil
}

// EnsureDeviceTable creates the raw reading table for a device if missing.
func (r *SeriesRepository) EnsureDeviceTable(ctx context.Context, table string) error {
	if err := validTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	ts TIMESTAMPTZ NOT NULL,
	epoch_secs BIGINT NOT NULL,
	a_p1 DOUBLE PRECISION, a_p2 DOUBLE PRECISION, a_p3 DOUBLE PRECISION,
	v_p1 DOUBLE PRECISION, v_p2 DOUBLE PRECISION, v_p3 DOUBLE PRECISION,
	pf_p1 DOUBLE PRECISION, pf_p2 DOUBLE PRECISION, pf_p3 DOUBLE PRECISION,
	wh_p1 DOUBLE PRECISION, wh_p2 DOUBLE PRECISION, wh_p3 DOUBLE PRECISION,
	PRIMARY KEY (ts, epoch_secs)
)`, table)
	_, err := r.db.ExecContext(ctx, query)
	return err
}

// ReadRaw reads one device's raw samples in time order.
func (r *SeriesRepository) ReadRaw(ctx context.Context, table string) ([]series.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("seriesstore: nil db")
	}
	if err := validTable(table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT
	ts,
	epoch_secs,
	a_p1, a_p2, a_p3,
	v_p1, v_p2, v_p3,
	pf_p1, pf_p2, pf_p3,
	wh_p1, wh_p2, wh_p3
FROM %s
ORDER BY ts ASC`, table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []series.Reading
	for rows.Next() {
		var rd series.Reading
		if err := rows.Scan(
			&rd.TS,
			&rd.EpochSecs,
			&rd.AmpsP1, &rd.AmpsP2, &rd.AmpsP3,
			&rd.VoltsP1, &rd.VoltsP2, &rd.VoltsP3,
			&rd.PFP1, &rd.PFP2, &rd.PFP3,
			&rd.WhP1, &rd.WhP2, &rd.WhP3,
		); err != nil {
			return nil, err
		}
		rd.TS = rd.TS.UTC()
		readings = append(readings, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}

// Upsert writes raw readings keyed on (ts, epoch_secs); existing rows are
// overwritten with new column values. The whole call is one transaction and
// is idempotent for identical input.
func (r *SeriesRepository) Upsert(ctx context.Context, table string, readings []series.Reading) (inserted, updated int64, err error) {
	if r == nil || r.db == nil {
		return 0, 0, errors.New("seriesstore: nil db")
	}
	if err := validTable(table); err != nil {
		return 0, 0, err
	}
	if len(readings) == 0 {
		return 0, 0, nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	ts,
	epoch_secs,
	a_p1, a_p2, a_p3,
	v_p1, v_p2, v_p3,
	pf_p1, pf_p2, pf_p3,
	wh_p1, wh_p2, wh_p3
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
)
ON CONFLICT (ts, epoch_secs)
DO UPDATE SET
	a_p1 = EXCLUDED.a_p1, a_p2 = EXCLUDED.a_p2, a_p3 = EXCLUDED.a_p3,
	v_p1 = EXCLUDED.v_p1, v_p2 = EXCLUDED.v_p2, v_p3 = EXCLUDED.v_p3,
	pf_p1 = EXCLUDED.pf_p1, pf_p2 = EXCLUDED.pf_p2, pf_p3 = EXCLUDED.pf_p3,
	wh_p1 = EXCLUDED.wh_p1, wh_p2 = EXCLUDED.wh_p2, wh_p3 = EXCLUDED.wh_p3
RETURNING (xmax = 0)`, table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, err
	}
	defer stmt.Close()

	for _, rd := range readings {
		if rd.TS.IsZero() || rd.EpochSecs == 0 {
			_ = tx.Rollback()
			return 0, 0, errors.New("seriesstore: invalid reading key")
		}
		var wasInsert bool
		if err := stmt.QueryRowContext(
			ctx,
			rd.TS.UTC(),
			rd.EpochSecs,
			rd.AmpsP1, rd.AmpsP2, rd.AmpsP3,
			rd.VoltsP1, rd.VoltsP2, rd.VoltsP3,
			rd.PFP1, rd.PFP2, rd.PFP3,
			rd.WhP1, rd.WhP2, rd.WhP3,
		).Scan(&wasInsert); err != nil {
			_ = tx.Rollback()
			return 0, 0, err
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}

// MinMaxEpoch returns the epoch bounds of one device table; ok is false
// when the table has no rows yet.
func (r *SeriesRepository) MinMaxEpoch(ctx context.Context, table string) (minEpoch, maxEpoch int64, ok bool, err error) {
	if r == nil || r.db == nil {
		return 0, 0, false, errors.New("seriesstore: nil db")
	}
	if err := validTable(table); err != nil {
		return 0, 0, false, err
	}
	query := fmt.Sprintf(`SELECT MIN(epoch_secs), MAX(epoch_secs) FROM %s`, table)
	var lo, hi sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query).Scan(&lo, &hi); err != nil {
		return 0, 0, false, err
	}
	if !lo.Valid || !hi.Valid {
		return 0, 0, false, nil
	}
	return lo.Int64, hi.Int64, true, nil
}

// UpsertFilled writes one fill pass's output: the filled series rows plus
// one audit row in the fill-run table carrying the batch winning model.
func (r *SeriesRepository) UpsertFilled(ctx context.Context, table string, data *series.Series, winningModel string) (inserted, updated int64, err error) {
	if r == nil || r.db == nil {
		return 0, 0, errors.New("seriesstore: nil db")
	}
	if err := validTable(table); err != nil {
		return 0, 0, err
	}
	if data == nil || data.Len() == 0 {
		return 0, 0, errors.New("seriesstore: empty filled series")
	}
	if len(data.Ridge) != data.Len() || len(data.Composite) != data.Len() {
		return 0, 0, errors.New("seriesstore: candidate columns missing")
	}
	filledTable := table + r.filledSfx

	create := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	ts TIMESTAMPTZ NOT NULL,
	epoch_secs BIGINT NOT NULL,
	wh REAL NOT NULL,
	with_gap REAL NOT NULL,
	ridge DOUBLE PRECISION NOT NULL,
	composite DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (ts, epoch_secs)
)`, filledTable)

	upsert := fmt.Sprintf(`
INSERT INTO %s (
	ts,
	epoch_secs,
	wh,
	with_gap,
	ridge,
	composite
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (ts, epoch_secs)
DO UPDATE SET
	wh = EXCLUDED.wh,
	with_gap = EXCLUDED.with_gap,
	ridge = EXCLUDED.ridge,
	composite = EXCLUDED.composite
RETURNING (xmax = 0)`, filledTable)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	if _, err := tx.ExecContext(ctx, create); err != nil {
		_ = tx.Rollback()
		return 0, 0, err
	}

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, err
	}
	defer stmt.Close()

	for i := 0; i < data.Len(); i++ {
		var wasInsert bool
		if err := stmt.QueryRowContext(
			ctx,
			data.Times[i],
			data.Epochs[i],
			data.WH[i],
			data.WithGap[i],
			data.Ridge[i],
			data.Composite[i],
		).Scan(&wasInsert); err != nil {
			_ = tx.Rollback()
			return 0, 0, err
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}

	runsCreate := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	table_name TEXT NOT NULL,
	run_at TIMESTAMPTZ NOT NULL,
	winning_model TEXT NOT NULL,
	rows_written BIGINT NOT NULL,
	PRIMARY KEY (table_name, run_at)
)`, r.runsTable)
	if _, err := tx.ExecContext(ctx, runsCreate); err != nil {
		_ = tx.Rollback()
		return 0, 0, err
	}
	runInsert := fmt.Sprintf(`
INSERT INTO %s (table_name, run_at, winning_model, rows_written)
VALUES ($1, $2, $3, $4)
ON CONFLICT (table_name, run_at) DO UPDATE SET
	winning_model = EXCLUDED.winning_model,
	rows_written = EXCLUDED.rows_written`, r.runsTable)
	if _, err := tx.ExecContext(ctx, runInsert, table, time.Now().UTC(), winningModel, int64(data.Len())); err != nil {
		_ = tx.Rollback()
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}

// LatestRun returns the last recorded fill run for a table; ok is false
// when the table has never been filled.
func (r *SeriesRepository) LatestRun(ctx context.Context, table string) (winningModel string, runAt time.Time, ok bool, err error) {
	if err := validTable(table); err != nil {
		return "", time.Time{}, false, err
	}
	query := fmt.Sprintf(`
SELECT winning_model, run_at
FROM %s
WHERE table_name = $1
ORDER BY run_at DESC
LIMIT 1`, r.runsTable)
	err = r.db.QueryRowContext(ctx, query, table).Scan(&winningModel, &runAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, err
	}
	return winningModel, runAt.UTC(), true, nil
}
