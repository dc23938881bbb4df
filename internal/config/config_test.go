package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quotefeed/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quotefeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, int64(100<<20), cfg.Cache.MaxBytes)
	require.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL())
	require.Equal(t, []string{"alphavantage", "finnhub", "yahoo"}, cfg.Fetch.PriorityOrder)
	require.Equal(t, 2, cfg.Fetch.MaxSecondarySources)
	require.Equal(t, 1000, cfg.Fetch.MinIntervalMs)
	require.Equal(t, 40.0, cfg.Fetch.Scoring.PrimaryTierPoints)
	require.Equal(t, 5*time.Minute, cfg.Maintenance.SweepInterval())
	require.Equal(t, 7, cfg.Maintenance.BackupRetentionDays)
	require.True(t, cfg.Sources["yahoo"].Enabled)
	require.Equal(t, "backup", cfg.Sources["yahoo"].Tier)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
cache:
  default_ttl_seconds: 60
  ttl_by_category:
    crypto: 30
fetch:
  priority_order: [finnhub, yahoo]
  max_secondary_sources: 1
sources:
  finnhub:
    api_key: sekrit
    min_interval_ms: 2500
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, time.Minute, cfg.Cache.DefaultTTL())
	require.Equal(t, 30*time.Second, cfg.Cache.TTLs()["crypto"])
	require.Equal(t, []string{"finnhub", "yahoo"}, cfg.Fetch.PriorityOrder)
	require.Equal(t, 1, cfg.Fetch.MaxSecondarySources)
	require.Equal(t, "sekrit", cfg.Sources["finnhub"].APIKey)
	require.Equal(t, 2500, cfg.Sources["finnhub"].MinIntervalMs)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("QUOTEFEED_SERVER_PORT", "7070")
	t.Setenv("QUOTEFEED_LOG_LEVEL", "debug")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "7070", cfg.Server.Port)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_UnknownSourceInPriorityOrder(t *testing.T) {
	path := writeConfig(t, `
fetch:
  priority_order: [alphavantage, bloomberg]
`)
	_, err := config.Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bloomberg")
}

func TestValidate_RejectsNonPositiveCacheBudget(t *testing.T) {
	path := writeConfig(t, `
cache:
  max_bytes: -5
`)
	_, err := config.Load(path)
	require.Error(t, err)
}
