package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"greenbox-pipeline/internal/gapfill/application"
	gapfillhttp "greenbox-pipeline/internal/gapfill/interfaces/http"
	"greenbox-pipeline/internal/gapfill/notify"
	"greenbox-pipeline/internal/ingest/greenbox"
	"greenbox-pipeline/internal/ingest/solarman"
	"greenbox-pipeline/internal/observability/metrics"
	"greenbox-pipeline/internal/report"
	seriespostgres "greenbox-pipeline/internal/series/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)

	gapCfg, err := application.LoadConfig()
	if err != nil {
		logger.Fatalf("gapfill config error: %v", err)
	}

	repo := seriespostgres.NewSeriesRepository(db)

	emitter, err := report.NewEmitter(gapCfg.ReportDir)
	if err != nil {
		logger.Fatalf("report emitter error: %v", err)
	}

	var notifier notify.Notifier
	if gapCfg.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(gapCfg.WebhookURL)
	}

	runner, err := application.NewRunner(repo, gapCfg, emitter, notifier, logger)
	if err != nil {
		logger.Fatalf("gapfill runner error: %v", err)
	}

	ctx := context.Background()

	scheduler := application.NewScheduler(runner, gapCfg.Schedule.Tables, gapCfg.Schedule.DailyAt, logger)
	scheduler.OnBatch(func(runAt time.Time, acc *application.BatchAccumulator) {
		if path, err := emitter.WriteRunSummary(runAt, acc.Results()); err != nil {
			logger.Printf("run summary error: %v", err)
		} else {
			logger.Printf("run summary written: %s", path)
		}
		scoresPath := filepath.Join(gapCfg.ReportDir, "scores_"+runAt.Format("20060102_150405")+".csv")
		f, err := os.Create(scoresPath)
		if err != nil {
			logger.Printf("score flush error: %v", err)
			return
		}
		defer f.Close()
		if err := acc.Finalize(f); err != nil {
			logger.Printf("score flush error: %v", err)
		}
	})
	go scheduler.Start(ctx)

	if cfg.GreenBoxBaseURL != "" {
		client, err := greenbox.NewClient(cfg.GreenBoxBaseURL, cfg.GreenBoxAPIKey)
		if err != nil {
			logger.Fatalf("greenbox client error: %v", err)
		}
		poller, err := greenbox.NewPoller(client, repo, logger)
		if err != nil {
			logger.Fatalf("greenbox poller error: %v", err)
		}
		go func() {
			ticker := time.NewTicker(cfg.IngestInterval)
			defer ticker.Stop()
			for range ticker.C {
				if err := poller.SyncAll(ctx); err != nil {
					logger.Printf("greenbox sync error: %v", err)
				}
			}
		}()
	}

	if cfg.SolarmanBaseURL != "" {
		client, err := solarman.NewClient(cfg.SolarmanBaseURL, cfg.SolarmanAppID, cfg.SolarmanAppSecret, cfg.SolarmanUsername, cfg.SolarmanPassword)
		if err != nil {
			logger.Fatalf("solarman client error: %v", err)
		}
		poller, err := solarman.NewPoller(client, repo, cfg.SolarmanStations, logger)
		if err != nil {
			logger.Fatalf("solarman poller error: %v", err)
		}
		go func() {
			ticker := time.NewTicker(cfg.IngestInterval)
			defer ticker.Stop()
			for range ticker.C {
				if err := poller.SyncAll(ctx); err != nil {
					logger.Printf("solarman sync error: %v", err)
				}
			}
		}()
	}

	handler, err := gapfillhttp.NewHandler(runner, repo)
	if err != nil {
		logger.Fatalf("gapfill handler error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/gapfill/run", handler)
	mux.Handle("/api/v1/gapfill/runs", handler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL string
	HTTPAddr    string

	GreenBoxBaseURL string
	GreenBoxAPIKey  string

	SolarmanBaseURL   string
	SolarmanAppID     string
	SolarmanAppSecret string
	SolarmanUsername  string
	SolarmanPassword  string
	SolarmanStations  []int64

	IngestInterval time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		GreenBoxBaseURL:   getenvDefault("GREENBOX_BASE_URL", ""),
		GreenBoxAPIKey:    getenvDefault("GREENBOX_API_KEY", ""),
		SolarmanBaseURL:   getenvDefault("SOLARMAN_BASE_URL", ""),
		SolarmanAppID:     getenvDefault("SOLARMAN_APP_ID", ""),
		SolarmanAppSecret: getenvDefault("SOLARMAN_APP_SECRET", ""),
		SolarmanUsername:  getenvDefault("SOLARMAN_USERNAME", ""),
		SolarmanPassword:  getenvDefault("SOLARMAN_PASSWORD_SHA256", ""),
		IngestInterval:    getenvDuration("INGEST_INTERVAL", 5*time.Minute),
	}
	for _, part := range getenvList("SOLARMAN_STATION_IDS") {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Fatalf("invalid SOLARMAN_STATION_IDS entry %q", part)
		}
		cfg.SolarmanStations = append(cfg.SolarmanStations, id)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var parts []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
