package greenbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"greenbox-pipeline/internal/observability/metrics"
	series "greenbox-pipeline/internal/series/domain"
)

// Store is the storage surface the poller writes to.
type Store interface {
	EnsureDeviceTable(ctx context.Context, table string) error
	MinMaxEpoch(ctx context.Context, table string) (minEpoch, maxEpoch int64, ok bool, err error)
	Upsert(ctx context.Context, table string, readings []series.Reading) (inserted, updated int64, err error)
}

// Poller performs incremental pulls: each sync resumes one minute past the
// newest row already stored for the device.
type Poller struct {
	client *Client
	store  Store
	logger *log.Logger
}

// NewPoller constructs a poller.
func NewPoller(client *Client, store Store, logger *log.Logger) (*Poller, error) {
	if client == nil {
		return nil, errors.New("greenbox: nil client")
	}
	if store == nil {
		return nil, errors.New("greenbox: nil store")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{client: client, store: store, logger: logger}, nil
}

// TableForSerial maps a meter serial to its per-device table name.
func TableForSerial(serial string) string {
	return "gb_" + serial
}

// SyncDevice pulls new readings for one serial and upserts them. It returns
// the number of rows written (inserted plus updated).
func (p *Poller) SyncDevice(ctx context.Context, serial string) (written int64, err error) {
	if serial == "" {
		return 0, errors.New("greenbox: empty serial")
	}
	start := time.Now()
	defer func() {
		if err != nil {
			metrics.IncIngestError("greenbox")
			return
		}
		metrics.ObserveIngest("greenbox", metrics.ResultSuccess, written, time.Since(start))
	}()
	table := TableForSerial(serial)
	if err := p.store.EnsureDeviceTable(ctx, table); err != nil {
		return 0, fmt.Errorf("ensure table %s: %w", table, err)
	}

	since := int64(0)
	if _, maxEpoch, ok, err := p.store.MinMaxEpoch(ctx, table); err != nil {
		return 0, fmt.Errorf("epoch bounds %s: %w", table, err)
	} else if ok {
		since = maxEpoch + 60
	}

	readings, err := p.client.FetchDeviceSeries(ctx, serial, since)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", serial, err)
	}
	if len(readings) == 0 {
		return 0, nil
	}

	inserted, updated, err := p.store.Upsert(ctx, table, readings)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", table, err)
	}
	p.logger.Printf("greenbox sync %s: %d inserted, %d updated (since epoch %d)", serial, inserted, updated, since)
	return inserted + updated, nil
}

// SyncAll syncs every serial visible to the API key. Failures on one device
// do not stop the rest; the first error is returned after all devices ran.
func (p *Poller) SyncAll(ctx context.Context) error {
	serials, err := p.client.ListSerials(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, serial := range serials {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := p.SyncDevice(ctx, serial); err != nil {
			p.logger.Printf("greenbox sync %s failed: %v", serial, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
