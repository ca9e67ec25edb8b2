package application

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"greenbox-pipeline/internal/cleaning"
)

// Config defines the gap-fill job configuration.
type Config struct {
	Defaults FillConfig            `yaml:"defaults"`
	Tables   map[string]FillConfig `yaml:"tables"`
	Schedule ScheduleConfig        `yaml:"schedule"`

	Workers        int     `yaml:"workers"`
	ReportDir      string  `yaml:"report_dir"`
	WebhookURL     string  `yaml:"webhook_url"`
	CleanStrategy  string  `yaml:"clean_strategy"`
	CleanWindow    int     `yaml:"clean_window"`
	CleanThreshold float64 `yaml:"clean_threshold"`
}

// ScheduleConfig defines the daily fill schedule.
type ScheduleConfig struct {
	DailyAt string   `yaml:"daily_at"`
	Tables  []string `yaml:"tables"`
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Defaults:       DefaultFillConfig(),
		Workers:        getenvIntDefault("GAPFILL_WORKERS", 4),
		ReportDir:      getenvDefault("GAPFILL_REPORT_DIR", filepath.FromSlash("var/reports/gapfill")),
		WebhookURL:     os.Getenv("GAPFILL_WEBHOOK_URL"),
		CleanStrategy:  getenvDefault("GAPFILL_CLEAN_STRATEGY", string(cleaning.StrategyRollingMedian)),
		CleanWindow:    getenvIntDefault("GAPFILL_CLEAN_WINDOW", cleaning.DefaultRollingWindow),
		CleanThreshold: getenvFloatDefault("GAPFILL_CLEAN_THRESHOLD", cleaning.DefaultRollingThreshold),
	}

	if path := os.Getenv("GAPFILL_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Schedule.DailyAt == "" {
		cfg.Schedule.DailyAt = getenvDefault("GAPFILL_DAILY_AT", "03:00")
	}
	if len(cfg.Schedule.Tables) == 0 {
		cfg.Schedule.Tables = splitCSV(getenvDefault("GAPFILL_TABLES", ""))
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ReportDir == "" {
		return cfg, errors.New("gapfill: report dir required")
	}
	if err := cfg.Defaults.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FillConfigForTable returns the fill config for a table, merging any
// per-table override over the defaults.
func (c Config) FillConfigForTable(table string) FillConfig {
	if c.Tables != nil {
		if override, ok := c.Tables[table]; ok {
			return mergeFillConfig(c.Defaults, override)
		}
	}
	return c.Defaults
}

func mergeFillConfig(base, override FillConfig) FillConfig {
	if override.MaxModelableGap != 0 {
		base.MaxModelableGap = override.MaxModelableGap
	}
	if override.WindowCap != 0 {
		base.WindowCap = override.WindowCap
	}
	if override.WindowScale != 0 {
		base.WindowScale = override.WindowScale
	}
	if override.BufferMultiplier != 0 {
		base.BufferMultiplier = override.BufferMultiplier
	}
	if override.ClipLow != 0 {
		base.ClipLow = override.ClipLow
	}
	if override.ClipHigh != 0 {
		base.ClipHigh = override.ClipHigh
	}
	if override.JitterLow != 0 {
		base.JitterLow = override.JitterLow
	}
	if override.JitterHigh != 0 {
		base.JitterHigh = override.JitterHigh
	}
	if override.RidgeLambda != 0 {
		base.RidgeLambda = override.RidgeLambda
	}
	if override.MinGapSize != 0 {
		base.MinGapSize = override.MinGapSize
	}
	if override.Seed != 0 {
		base.Seed = override.Seed
	}
	return base
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
