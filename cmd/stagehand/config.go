package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stagehand-live/stagehand/internal/timer"
)

// Config is the file-based configuration, overridable per key through the
// environment.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		DBPath          string `yaml:"db_path"`
		MediaDir        string `yaml:"media_dir"`
		MediaQuotaBytes int64  `yaml:"media_quota_bytes"`
	} `yaml:"storage"`
	Sync struct {
		TickIntervalMS      int `yaml:"tick_interval_ms"`
		SnapshotIntervalSec int `yaml:"snapshot_interval_sec"`
	} `yaml:"sync"`
	Timers struct {
		StopAtZero   bool `yaml:"stop_at_zero"`
		OverrunFloor int  `yaml:"overrun_floor"`
		ElapsedCap   int  `yaml:"elapsed_cap"`
	} `yaml:"timers"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.Server.Port = 8080
	cfg.Storage.DBPath = "stagehand.db"
	cfg.Storage.MediaDir = "uploads"
	cfg.Storage.MediaQuotaBytes = 2 << 30
	cfg.Sync.TickIntervalMS = 1000
	cfg.Sync.SnapshotIntervalSec = 30
	policy := timer.DefaultPolicy()
	cfg.Timers.StopAtZero = policy.StopAtZero
	cfg.Timers.OverrunFloor = policy.OverrunFloor
	cfg.Timers.ElapsedCap = policy.ElapsedCap
	return cfg
}

// loadConfig reads the YAML config at path, falling back to defaults when
// the file does not exist, then applies environment overrides.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.Server.Port = getEnvAsInt("PORT", cfg.Server.Port)
	cfg.Storage.DBPath = getEnv("DB_PATH", cfg.Storage.DBPath)
	cfg.Storage.MediaDir = getEnv("MEDIA_DIR", cfg.Storage.MediaDir)
	return cfg, nil
}

// TimerPolicy translates the config into the engine's policy.
func (c Config) TimerPolicy() timer.Policy {
	return timer.Policy{
		StopAtZero:   c.Timers.StopAtZero,
		OverrunFloor: c.Timers.OverrunFloor,
		ElapsedCap:   c.Timers.ElapsedCap,
	}
}

// TickInterval returns the hub tick period.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Sync.TickIntervalMS) * time.Millisecond
}

// SnapshotInterval returns the persistence period.
func (c Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Sync.SnapshotIntervalSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
