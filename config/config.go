// Package config defines the service configuration: YAML file, then
// environment overrides, validated before use. A watcher republishes a
// safe subset on file changes without a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Race     RaceConfig     `yaml:"race"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Health   HealthConfig   `yaml:"health"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Journal  JournalConfig  `yaml:"journal"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr              string `yaml:"addr"`
	StaleConnectionMs int    `yaml:"staleConnectionMs"`
	ShutdownGraceMs   int    `yaml:"shutdownGraceMs"`
}

type RaceConfig struct {
	TickHz               int `yaml:"tickHz"`
	MaxParticipants      int `yaml:"maxParticipants"`
	MaxQueueSize         int `yaml:"maxQueueSize"`
	MaxCommandsPerSecond int `yaml:"maxCommandsPerSecond"`
}

type SnapshotConfig struct {
	PeriodMs   int `yaml:"periodMs"`
	MaxPerRace int `yaml:"maxPerRace"`
	TTLSec     int `yaml:"ttlSec"`
}

type HealthConfig struct {
	IntervalMs    int     `yaml:"intervalMs"`
	MemoryWarnPct float64 `yaml:"memoryWarnPct"`
	MemoryCritPct float64 `yaml:"memoryCritPct"`
	CPUWarnPct    float64 `yaml:"cpuWarnPct"`
	CPUCritPct    float64 `yaml:"cpuCritPct"`
}

type PostgresConfig struct {
	// URL empty runs the service on the in-memory store.
	URL string `yaml:"url"`
}

type RedisConfig struct {
	// URL empty degrades snapshots to the in-memory backend.
	URL string `yaml:"url"`
}

type JournalConfig struct {
	Dir           string `yaml:"dir"`
	RecordingsDir string `yaml:"recordingsDir"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			StaleConnectionMs: 120000,
			ShutdownGraceMs:   1000,
		},
		Race: RaceConfig{
			TickHz:               10,
			MaxParticipants:      20,
			MaxQueueSize:         10,
			MaxCommandsPerSecond: 5,
		},
		Snapshot: SnapshotConfig{
			PeriodMs:   10000,
			MaxPerRace: 50,
			TTLSec:     3600,
		},
		Health: HealthConfig{
			IntervalMs:    30000,
			MemoryWarnPct: 75,
			MemoryCritPct: 90,
			CPUWarnPct:    75,
			CPUCritPct:    90,
		},
		Journal: JournalConfig{
			Dir: "data/journal",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path loads defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv lets deployment secrets and addresses override the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RACER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RACER_POSTGRES_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("RACER_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("RACER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate rejects configurations the engines cannot run with.
func (c Config) Validate() error {
	if c.Race.TickHz < 1 || c.Race.TickHz > 100 {
		return fmt.Errorf("race.tickHz must be 1..100, got %d", c.Race.TickHz)
	}
	if c.Race.MaxParticipants < 1 || c.Race.MaxParticipants > 20 {
		return fmt.Errorf("race.maxParticipants must be 1..20, got %d", c.Race.MaxParticipants)
	}
	if c.Race.MaxQueueSize < 1 {
		return fmt.Errorf("race.maxQueueSize must be positive, got %d", c.Race.MaxQueueSize)
	}
	if c.Race.MaxCommandsPerSecond < 1 {
		return fmt.Errorf("race.maxCommandsPerSecond must be positive, got %d", c.Race.MaxCommandsPerSecond)
	}
	if c.Snapshot.PeriodMs < 1000 {
		return fmt.Errorf("snapshot.periodMs must be at least 1000, got %d", c.Snapshot.PeriodMs)
	}
	if c.Snapshot.MaxPerRace < 1 {
		return fmt.Errorf("snapshot.maxPerRace must be positive, got %d", c.Snapshot.MaxPerRace)
	}
	if c.Health.MemoryWarnPct >= c.Health.MemoryCritPct {
		return fmt.Errorf("health.memoryWarnPct %.0f must be below memoryCritPct %.0f",
			c.Health.MemoryWarnPct, c.Health.MemoryCritPct)
	}
	if c.Health.CPUWarnPct >= c.Health.CPUCritPct {
		return fmt.Errorf("health.cpuWarnPct %.0f must be below cpuCritPct %.0f",
			c.Health.CPUWarnPct, c.Health.CPUCritPct)
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not a zerolog level", c.Log.Level)
	}
	return nil
}

// Save writes the configuration as YAML.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// TickPeriod converts tickHz to the engine's tick duration.
func (c Config) TickPeriod() time.Duration {
	return time.Second / time.Duration(c.Race.TickHz)
}

// SnapshotPeriod is the sampler interval.
func (c Config) SnapshotPeriod() time.Duration {
	return time.Duration(c.Snapshot.PeriodMs) * time.Millisecond
}

// SnapshotTTL is the cache retention for snapshot blobs.
func (c Config) SnapshotTTL() time.Duration {
	return time.Duration(c.Snapshot.TTLSec) * time.Second
}

// StaleAfter is how long a silent socket survives.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Server.StaleConnectionMs) * time.Millisecond
}

// ShutdownGrace is the drain window before sockets close.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownGraceMs) * time.Millisecond
}

// HealthInterval is the probe cycle period.
func (c Config) HealthInterval() time.Duration {
	return time.Duration(c.Health.IntervalMs) * time.Millisecond
}
