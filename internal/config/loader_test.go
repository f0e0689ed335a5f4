package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Scrape.Interval)
	assert.Equal(t, 30*time.Second, cfg.Scrape.Budget)
	assert.Equal(t, 2, cfg.Scrape.MinResults)
	assert.Equal(t, 120*time.Second, cfg.Scrape.HardTimeout)
	assert.Equal(t, 3, cfg.Scrape.MaxRetries)
	assert.Equal(t, time.Second, cfg.Scrape.BackoffBase)
	assert.Equal(t, 10*time.Second, cfg.Scrape.BackoffCap)
	assert.True(t, cfg.Scrape.Headless)
	assert.Empty(t, cfg.Scrape.Providers)
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, 3, cfg.Retention.CleanupHour)
	assert.Equal(t, 100, cfg.API.RateLimit)
	assert.Equal(t, 15*time.Minute, cfg.API.RateWindow)
	assert.Equal(t, 10, cfg.API.RefreshLimit)
	assert.Equal(t, "libsql", cfg.Store.Driver)
	assert.Equal(t, "cambiowatch.db", filepath.Base(cfg.Store.Path))
	assert.False(t, cfg.Kafka.Enabled)
	assert.Same(t, cfg, GetConfig())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	v := newViper(t)
	v.SetEnvPrefix("CAMBIOWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(newKeyReplacer())

	t.Setenv("CAMBIOWATCH_SCRAPE_BUDGET", "45s")
	t.Setenv("CAMBIOWATCH_SCRAPE_PROVIDERS", "kambista, rextie")
	t.Setenv("CAMBIOWATCH_API_ADMIN_KEY", "s3cret")
	t.Setenv("CAMBIOWATCH_SERVER_PORT", "8081")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Scrape.Budget)
	assert.Equal(t, []string{"kambista", "rextie"}, cfg.Scrape.Providers)
	assert.Equal(t, "s3cret", cfg.API.AdminKey)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestPrepareReadsConfigFileAndDotEnv(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
scrape:
  interval: 10m
  min_results: 3
kafka:
  enabled: true
  brokers: ["kafka-1:9092"]
  topic: rates
`), 0o600))

	oldWD, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(oldWD) })
	require.NoError(t, os.Chdir(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CAMBIOWATCH_RETENTION_DAYS=14\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CAMBIOWATCH_RETENTION_DAYS") })

	v := viper.New()
	used, err := Prepare(v, cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfgPath, used)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Scrape.Interval)
	assert.Equal(t, 3, cfg.Scrape.MinResults)
	assert.Equal(t, 14, cfg.Retention.Days)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.Kafka.Brokers)
}

func TestPrepareWithoutConfigFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(oldWD) })
	require.NoError(t, os.Chdir(t.TempDir()))

	used, err := Prepare(viper.New(), "")
	require.NoError(t, err)
	assert.Empty(t, used)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(newViper(t))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver: must be one of"},
		{"postgres without url", func(c *Config) { c.Store.Driver = "postgres"; c.Store.URL = "" }, "store.url: is required"},
		{"cleanup hour", func(c *Config) { c.Retention.CleanupHour = 24 }, "retention.cleanup_hour: must be at most 23"},
		{"kafka without topic", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Topic = "" }, "kafka.topic: is required"},
		{"kafka bad broker", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = []string{"no-port"} }, "kafka.brokers[0]: must be host:port"},
		{"negative hard timeout", func(c *Config) { c.Scrape.HardTimeout = -time.Second }, "scrape.hard_timeout: must be at least"},
		{"zero budget", func(c *Config) { c.Scrape.Budget = 0 }, "scrape.budget: must be greater than"},
		{"min results", func(c *Config) { c.Scrape.MinResults = 0 }, "scrape.min_results: must be at least 1"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level: must be one of"},
		{"port range", func(c *Config) { c.Server.Port = 70000 }, "server.port: must be at most 65535"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bad := *cfg
			tc.mutate(&bad)
			assert.ErrorContains(t, Validate(&bad), tc.want)
		})
	}

	ok := *cfg
	ok.Scrape.HardTimeout = 0
	assert.NoError(t, Validate(&ok), "zero hard timeout selects the engine default")
}

func TestLoadNormalizesDriverAndLogging(t *testing.T) {
	v := newViper(t)
	v.Set("store.driver", "PGX")
	v.Set("store.url", "postgres://rates@localhost/cambiowatch")
	v.Set("logging.profile", "SIMPLE")
	v.Set("logging.level", "Debug")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "simple", cfg.Logging.Profile)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	v := newViper(t)
	v.Set("scrape.hard_timeout", "-5s")
	v.Set("retention.cleanup_hour", 25)

	_, err := Load(v)
	require.Error(t, err)
	assert.ErrorContains(t, err, "scrape.hard_timeout")
	assert.ErrorContains(t, err, "retention.cleanup_hour")
}
