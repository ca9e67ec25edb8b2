package greenbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	series "greenbox-pipeline/internal/series/domain"
)

// Client is a minimal GreenBox cloud REST client. It pulls per-minute
// electrical readings for one meter serial at a time.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient constructs a GreenBox client.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("greenbox: empty base url")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// readingRow is the wire shape of one reading in the GreenBox API.
type readingRow struct {
	Epoch int64   `json:"epoch_secs"`
	AP1   float64 `json:"a_p1"`
	AP2   float64 `json:"a_p2"`
	AP3   float64 `json:"a_p3"`
	VP1   float64 `json:"v_p1"`
	VP2   float64 `json:"v_p2"`
	VP3   float64 `json:"v_p3"`
	PFP1  float64 `json:"pf_p1"`
	PFP2  float64 `json:"pf_p2"`
	PFP3  float64 `json:"pf_p3"`
	WhP1  float64 `json:"wh_p1"`
	WhP2  float64 `json:"wh_p2"`
	WhP3  float64 `json:"wh_p3"`
}

type readingsPage struct {
	Data    []readingRow `json:"data"`
	HasNext bool         `json:"hasNext"`
}

// ErrDeviceNotFound is returned when the cloud does not know the serial.
var ErrDeviceNotFound = errors.New("greenbox: device not found")

// FetchDeviceSeries pulls all readings for a serial with epoch >= since.
// The API pages at 10k rows; all pages are drained before returning.
func (c *Client) FetchDeviceSeries(ctx context.Context, serial string, since int64) ([]series.Reading, error) {
	if serial == "" {
		return nil, errors.New("greenbox: empty serial")
	}
	var readings []series.Reading
	for page := 0; ; page++ {
		path := fmt.Sprintf("/api/v1/devices/%s/readings?since=%d&page=%d&pageSize=10000", serial, since, page)
		var resp readingsPage
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			if errors.Is(err, errNotFound) {
				return nil, ErrDeviceNotFound
			}
			return nil, err
		}
		for _, row := range resp.Data {
			readings = append(readings, series.Reading{
				EpochSecs: row.Epoch,
				TS:        time.Unix(row.Epoch, 0).UTC(),
				AmpsP1:    row.AP1, AmpsP2: row.AP2, AmpsP3: row.AP3,
				VoltsP1: row.VP1, VoltsP2: row.VP2, VoltsP3: row.VP3,
				PFP1: row.PFP1, PFP2: row.PFP2, PFP3: row.PFP3,
				WhP1: row.WhP1, WhP2: row.WhP2, WhP3: row.WhP3,
			})
		}
		if !resp.HasNext {
			break
		}
	}
	return readings, nil
}

// ListSerials returns the meter serials visible to the API key.
func (c *Client) ListSerials(ctx context.Context) ([]string, error) {
	var resp struct {
		Data []struct {
			Serial string `json:"serial"`
		} `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/devices", nil, &resp); err != nil {
		return nil, err
	}
	serials := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.Serial != "" {
			serials = append(serials, d.Serial)
		}
	}
	return serials, nil
}

var errNotFound = errors.New("greenbox: not found")

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("greenbox: http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
