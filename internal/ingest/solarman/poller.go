package solarman

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"greenbox-pipeline/internal/observability/metrics"
	series "greenbox-pipeline/internal/series/domain"
)

// Store is the storage surface the poller writes to.
type Store interface {
	EnsureDeviceTable(ctx context.Context, table string) error
	Upsert(ctx context.Context, table string, readings []series.Reading) (inserted, updated int64, err error)
}

// lookback is the rolling window each sync re-pulls; the upsert makes the
// overlap idempotent.
const lookback = 24 * time.Hour

// Poller pulls station generation for a fixed set of stations. Unlike the
// GreenBox poller it has no incremental cursor; each sync re-pulls the
// lookback window.
type Poller struct {
	client   *Client
	store    Store
	stations []int64
	logger   *log.Logger
}

// NewPoller constructs a poller over the configured station ids.
func NewPoller(client *Client, store Store, stations []int64, logger *log.Logger) (*Poller, error) {
	if client == nil {
		return nil, errors.New("solarman: nil client")
	}
	if store == nil {
		return nil, errors.New("solarman: nil store")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{client: client, store: store, stations: stations, logger: logger}, nil
}

// TableForStation maps a station id to its per-device table name.
func TableForStation(stationID int64) string {
	return "sm_" + strconv.FormatInt(stationID, 10)
}

// SyncStation pulls the lookback window for one station and upserts it. It
// returns the number of rows written (inserted plus updated).
func (p *Poller) SyncStation(ctx context.Context, stationID int64) (written int64, err error) {
	if stationID == 0 {
		return 0, errors.New("solarman: zero station id")
	}
	start := time.Now()
	defer func() {
		if err != nil {
			metrics.IncIngestError("solarman")
			return
		}
		metrics.ObserveIngest("solarman", metrics.ResultSuccess, written, time.Since(start))
	}()
	table := TableForStation(stationID)
	if err := p.store.EnsureDeviceTable(ctx, table); err != nil {
		return 0, fmt.Errorf("ensure table %s: %w", table, err)
	}

	end := time.Now().UTC()
	readings, err := p.client.FetchStationSeries(ctx, stationID, end.Add(-lookback).Unix(), end.Unix())
	if err != nil {
		return 0, fmt.Errorf("fetch station %d: %w", stationID, err)
	}
	if len(readings) == 0 {
		return 0, nil
	}

	inserted, updated, err := p.store.Upsert(ctx, table, readings)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", table, err)
	}
	p.logger.Printf("solarman sync %d: %d inserted, %d updated", stationID, inserted, updated)
	return inserted + updated, nil
}

// SyncAll syncs every configured station. Failures on one station do not
// stop the rest; the first error is returned after all stations ran.
func (p *Poller) SyncAll(ctx context.Context) error {
	var firstErr error
	for _, stationID := range p.stations {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := p.SyncStation(ctx, stationID); err != nil {
			p.logger.Printf("solarman sync %d failed: %v", stationID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
