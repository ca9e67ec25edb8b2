package solarman

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("vendor-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func stationServer(t *testing.T, tokenExp time.Time, logins *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/account/v1.0/token":
			atomic.AddInt32(logins, 1)
			_ = json.NewEncoder(w).Encode(tokenResponse{
				AccessToken: signedToken(t, tokenExp),
				Success:     true,
			})
		case "/station/v1.0/history":
			if r.Header.Get("Authorization") == "Bearer " {
				t.Error("history call without bearer token")
			}
			_ = json.NewEncoder(w).Encode(stationDataResponse{
				Success: true,
				Data: []stationPoint{
					{Epoch: 1_700_000_000, GenerationWh: 125.5},
					{Epoch: 1_700_000_300, GenerationWh: 130.0},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestFetchStationSeries(t *testing.T) {
	var logins int32
	srv := stationServer(t, time.Now().Add(2*time.Hour), &logins)
	defer srv.Close()

	client, err := NewClient(srv.URL, "app", "secret", "user@example.com", "hash")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	readings, err := client.FetchStationSeries(context.Background(), 42, 1_700_000_000, 1_700_003_600)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings))
	}
	if readings[0].WhP1 != 125.5 || readings[0].EpochSecs != 1_700_000_000 {
		t.Fatalf("unexpected reading %+v", readings[0])
	}
	if readings[0].TS.Unix() != readings[0].EpochSecs {
		t.Fatal("timestamp not derived from epoch")
	}
}

func TestTokenReusedWhileFresh(t *testing.T) {
	var logins int32
	srv := stationServer(t, time.Now().Add(2*time.Hour), &logins)
	defer srv.Close()

	client, _ := NewClient(srv.URL, "app", "secret", "user@example.com", "hash")
	for i := 0; i < 3; i++ {
		if _, err := client.FetchStationSeries(context.Background(), 42, 0, 3600); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&logins); got != 1 {
		t.Fatalf("expected a single login for fresh token, got %d", got)
	}
}

func TestTokenRefreshedNearExpiry(t *testing.T) {
	var logins int32
	// Token expires inside the refresh margin, so every call re-logs in.
	srv := stationServer(t, time.Now().Add(time.Minute), &logins)
	defer srv.Close()

	client, _ := NewClient(srv.URL, "app", "secret", "user@example.com", "hash")
	for i := 0; i < 2; i++ {
		if _, err := client.FetchStationSeries(context.Background(), 42, 0, 3600); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&logins); got != 2 {
		t.Fatalf("expected a login per call for expiring token, got %d", got)
	}
}

func TestTokenExpiryFallback(t *testing.T) {
	exp := tokenExpiry("not-a-jwt")
	if until := time.Until(exp); until < 50*time.Minute || until > 70*time.Minute {
		t.Fatalf("expected ~1h fallback lifetime, got %v", until)
	}
}
