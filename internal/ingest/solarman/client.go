package solarman

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	series "greenbox-pipeline/internal/series/domain"
)

// Client is a Solarman business API client. Solarman issues JWT bearer
// tokens; the client refreshes its token shortly before the embedded
// expiry instead of waiting for a 401.
type Client struct {
	baseURL      string
	appID        string
	appSecret    string
	username     string
	passwordHash string

	client *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// refreshMargin is how early the token is renewed before its exp claim.
const refreshMargin = 5 * time.Minute

// NewClient constructs a Solarman client.
func NewClient(baseURL, appID, appSecret, username, passwordHash string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("solarman: empty base url")
	}
	if appID == "" || appSecret == "" {
		return nil, errors.New("solarman: missing app credentials")
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		appID:        appID,
		appSecret:    appSecret,
		username:     username,
		passwordHash: passwordHash,
		client:       &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Success     bool   `json:"success"`
	Msg         string `json:"msg"`
}

func (c *Client) login(ctx context.Context) error {
	body := map[string]any{
		"appSecret": c.appSecret,
		"username":  c.username,
		"password":  c.passwordHash,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/account/v1.0/token?appId=%s", c.baseURL, c.appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("solarman: login http %d", resp.StatusCode)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return err
	}
	if tr.AccessToken == "" {
		return fmt.Errorf("solarman: login rejected: %s", tr.Msg)
	}

	c.token = tr.AccessToken
	c.tokenExp = tokenExpiry(tr.AccessToken)
	return nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// vendor signs with its own key and we only need the lifetime. Tokens
// without a readable exp get a conservative one-hour lifetime.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(time.Hour)
}

func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Until(c.tokenExp) > refreshMargin {
		return nil
	}
	return c.login(ctx)
}

func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

type stationPoint struct {
	Epoch        int64   `json:"dateTime"`
	GenerationWh float64 `json:"generationValue"`
}

type stationDataResponse struct {
	Success bool           `json:"success"`
	Msg     string         `json:"msg"`
	Data    []stationPoint `json:"stationDataItems"`
}

// FetchStationSeries pulls 5-minute station generation between two epochs.
// Generation is mapped onto the first watt-hour phase so downstream code
// sees the same row shape as GreenBox meters.
func (c *Client) FetchStationSeries(ctx context.Context, stationID int64, startEpoch, endEpoch int64) ([]series.Reading, error) {
	if stationID == 0 {
		return nil, errors.New("solarman: zero station id")
	}
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	body := map[string]any{
		"stationId": stationID,
		"timeType":  2, // 5-minute granularity
		"startTime": startEpoch,
		"endTime":   endEpoch,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := c.baseURL + "/station/v1.0/history"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.bearer())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("solarman: http %d", resp.StatusCode)
	}
	var sr stationDataResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, err
	}
	if !sr.Success {
		return nil, fmt.Errorf("solarman: api error: %s", sr.Msg)
	}

	readings := make([]series.Reading, 0, len(sr.Data))
	for _, point := range sr.Data {
		readings = append(readings, series.Reading{
			EpochSecs: point.Epoch,
			TS:        time.Unix(point.Epoch, 0).UTC(),
			WhP1:      point.GenerationWh,
		})
	}
	return readings, nil
}
