package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Race.TickHz)
	assert.Equal(t, 100*time.Millisecond, cfg.TickPeriod())
	assert.Equal(t, 10*time.Second, cfg.SnapshotPeriod())
	assert.Equal(t, time.Hour, cfg.SnapshotTTL())
	assert.Equal(t, 2*time.Minute, cfg.StaleAfter())
	assert.Equal(t, 30*time.Second, cfg.HealthInterval())
	assert.Equal(t, 20, cfg.Race.MaxParticipants)
	assert.Equal(t, 5, cfg.Race.MaxCommandsPerSecond)
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "racer.yaml")
	body := `
server:
  addr: ":9090"
race:
  tickHz: 20
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 20, cfg.Race.TickHz)
	assert.Equal(t, 50*time.Millisecond, cfg.TickPeriod())
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 10, cfg.Race.MaxQueueSize)
	assert.Equal(t, 10000, cfg.Snapshot.PeriodMs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "racer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("postgres:\n  url: file-url\n"), 0o600))

	t.Setenv("RACER_POSTGRES_URL", "postgres://env/racer")
	t.Setenv("RACER_REDIS_URL", "redis://env:6379")
	t.Setenv("RACER_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/racer", cfg.Postgres.URL)
	assert.Equal(t, "redis://env:6379", cfg.Redis.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero_tick_hz", func(c *Config) { c.Race.TickHz = 0 }},
		{"tick_hz_too_high", func(c *Config) { c.Race.TickHz = 500 }},
		{"too_many_participants", func(c *Config) { c.Race.MaxParticipants = 21 }},
		{"zero_queue", func(c *Config) { c.Race.MaxQueueSize = 0 }},
		{"zero_command_rate", func(c *Config) { c.Race.MaxCommandsPerSecond = 0 }},
		{"snapshot_too_frequent", func(c *Config) { c.Snapshot.PeriodMs = 100 }},
		{"memory_warn_above_crit", func(c *Config) { c.Health.MemoryWarnPct = 95 }},
		{"cpu_warn_above_crit", func(c *Config) { c.Health.CPUWarnPct = 95 }},
		{"unknown_log_level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "racer.yaml")

	cfg := Default()
	cfg.Server.Addr = ":7000"
	cfg.Redis.URL = "redis://localhost:6379"
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestWatcherRepublishesSafeSubset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "racer.yaml")
	boot := Default()
	require.NoError(t, Save(boot, path))

	applied := make(chan Config, 1)
	w, err := Watch(path, boot, func(c Config) { applied <- c }, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	next := Default()
	next.Server.Addr = ":1" // structural, must not follow the file
	next.Log.Level = "debug"
	next.Health.MemoryWarnPct = 50
	require.NoError(t, Save(next, path))

	select {
	case got := <-applied:
		assert.Equal(t, "debug", got.Log.Level)
		assert.Equal(t, float64(50), got.Health.MemoryWarnPct)
		assert.Equal(t, boot.Server.Addr, got.Server.Addr)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload never applied")
	}

	assert.Equal(t, "debug", w.Current().Log.Level)
}
