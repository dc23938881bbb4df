// Package config loads the runtime configuration: a YAML file with
// environment-variable overrides, plus an optional local .env for secrets
// during development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"quotefeed/internal/fetch"
)

// SourceConfig configures one upstream quote provider.
type SourceConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	APIKey        string `mapstructure:"api_key"`
	BaseURL       string `mapstructure:"base_url"`
	Tier          string `mapstructure:"tier"`
	TimeoutMs     int    `mapstructure:"timeout_ms"`      // 0 => tier default
	MinIntervalMs int    `mapstructure:"min_interval_ms"` // 0 => global default
}

type ServerConfig struct {
	Port              string `mapstructure:"port"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_sec"`
}

type CacheConfig struct {
	MaxBytes          int64          `mapstructure:"max_bytes"`
	Path              string         `mapstructure:"path"`
	DefaultTTLSeconds int            `mapstructure:"default_ttl_seconds"`
	TTLByCategory     map[string]int `mapstructure:"ttl_by_category"`
}

type FetchConfig struct {
	PriorityOrder       []string            `mapstructure:"priority_order"`
	MaxSecondarySources int                 `mapstructure:"max_secondary_sources"`
	MinIntervalMs       int                 `mapstructure:"min_interval_ms"`
	Scoring             fetch.ScoringConfig `mapstructure:"scoring"`
}

type MaintenanceConfig struct {
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds"`
	BackupRetentionDays  int    `mapstructure:"backup_retention_days"`
	BackupDir            string `mapstructure:"backup_dir"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"` // empty => stderr only
	Console bool   `mapstructure:"console"`
}

type Config struct {
	Server      ServerConfig            `mapstructure:"server"`
	Cache       CacheConfig             `mapstructure:"cache"`
	Fetch       FetchConfig             `mapstructure:"fetch"`
	Maintenance MaintenanceConfig       `mapstructure:"maintenance"`
	Log         LogConfig               `mapstructure:"log"`
	Sources     map[string]SourceConfig `mapstructure:"sources"`
}

// DefaultTTL returns the cache TTL for a category.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// TTLs converts the per-category TTL map to durations.
func (c CacheConfig) TTLs() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.TTLByCategory))
	for k, v := range c.TTLByCategory {
		out[k] = time.Duration(v) * time.Second
	}
	return out
}

func (m MaintenanceConfig) SweepInterval() time.Duration {
	return time.Duration(m.SweepIntervalSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.request_timeout_sec", 15)

	v.SetDefault("cache.max_bytes", 100<<20)
	v.SetDefault("cache.path", "data/cache.db")
	v.SetDefault("cache.default_ttl_seconds", 300)

	v.SetDefault("fetch.priority_order", []string{"alphavantage", "finnhub", "yahoo"})
	v.SetDefault("fetch.max_secondary_sources", 2)
	v.SetDefault("fetch.min_interval_ms", 1000)
	v.SetDefault("fetch.scoring.primary_tier_points", 40)
	v.SetDefault("fetch.scoring.backup_tier_points", 25)
	v.SetDefault("fetch.scoring.secondary_points", 15)
	v.SetDefault("fetch.scoring.live_bonus", 10)

	v.SetDefault("maintenance.sweep_interval_seconds", 300)
	v.SetDefault("maintenance.backup_retention_days", 7)
	v.SetDefault("maintenance.backup_dir", "data/backups")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)

	v.SetDefault("sources.alphavantage.enabled", true)
	v.SetDefault("sources.alphavantage.base_url", "https://www.alphavantage.co/query")
	v.SetDefault("sources.alphavantage.tier", "primary")

	v.SetDefault("sources.finnhub.enabled", true)
	v.SetDefault("sources.finnhub.base_url", "https://finnhub.io/api/v1")
	v.SetDefault("sources.finnhub.tier", "primary")

	v.SetDefault("sources.yahoo.enabled", true)
	v.SetDefault("sources.yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("sources.yahoo.tier", "backup")
}

// Load reads configuration from the given YAML file (empty path means search
// for quotefeed.yaml in the working directory), layered under environment
// overrides of the form QUOTEFEED_SECTION_KEY. A missing file is fine; the
// defaults are a working setup except for source API keys.
func Load(path string) (Config, error) {
	// Best effort: a local .env is a development convenience, not required.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("QUOTEFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("quotefeed")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("config: cache.max_bytes must be positive")
	}
	if c.Fetch.MaxSecondarySources < 0 {
		return fmt.Errorf("config: fetch.max_secondary_sources must not be negative")
	}
	if len(c.Fetch.PriorityOrder) == 0 {
		return fmt.Errorf("config: fetch.priority_order must name at least one source")
	}
	for _, name := range c.Fetch.PriorityOrder {
		if _, ok := c.Sources[name]; !ok {
			return fmt.Errorf("config: fetch.priority_order names unknown source %q", name)
		}
	}
	return nil
}
