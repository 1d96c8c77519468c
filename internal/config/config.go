// Package config provides configuration management functionality.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML file named by FOLIO_CONFIG, and FOLIO_* environment variables (a .env
// file in the working directory is loaded first).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aristath/folio/internal/modules/currency"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// KnownProviders lists the provider names the chain can be built from.
var KnownProviders = []string{"exchangerate", "yahoo", "eodhd"}

// Config holds application configuration
type Config struct {
	DataDir      string          `mapstructure:"data_dir"` // always absolute after Load
	LogLevel     string          `mapstructure:"log_level"`
	LogPretty    bool            `mapstructure:"log_pretty"`
	Port         int             `mapstructure:"port"`
	BaseCurrency string          `mapstructure:"base_currency"`
	Providers    ProvidersConfig `mapstructure:"providers"`
	Engine       EngineConfig    `mapstructure:"engine"`
	Work         WorkConfig      `mapstructure:"work"`
	Schedule     ScheduleConfig  `mapstructure:"schedule"`
}

// ProvidersConfig configures the provider chain and its HTTP clients.
type ProvidersConfig struct {
	Order            []string      `mapstructure:"order"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
	EODHDAPIKey      string        `mapstructure:"eodhd_api_key"`
	ExchangeRateURL  string        `mapstructure:"exchangerate_url"`
	YahooURL         string        `mapstructure:"yahoo_url"`
	EODHDURL         string        `mapstructure:"eodhd_url"`
}

// EngineConfig tunes valuation and FX lookups.
type EngineConfig struct {
	QuoteFreshness    time.Duration `mapstructure:"quote_freshness"`
	FXLookbackDays    int           `mapstructure:"fx_lookback_days"`
	PriceLookbackDays int           `mapstructure:"price_lookback_days"`
	RebuildBatchDays  int           `mapstructure:"rebuild_batch_days"`
	RefreshRecentDays int           `mapstructure:"refresh_recent_days"`
}

// WorkConfig tunes the background work processor.
type WorkConfig struct {
	Workers      int           `mapstructure:"workers"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// ScheduleConfig holds cron schedules (six fields, seconds first). An empty
// schedule disables the job.
type ScheduleConfig struct {
	Refresh           string        `mapstructure:"refresh"`
	RefreshTimeout    time.Duration `mapstructure:"refresh_timeout"`
	RefreshParallel   int           `mapstructure:"refresh_parallel"`
	ClientDataCleanup string        `mapstructure:"client_data_cleanup"`
	WALCheckpoint     string        `mapstructure:"wal_checkpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("port", 8001)
	v.SetDefault("base_currency", "EUR")

	v.SetDefault("providers.order", KnownProviders)
	v.SetDefault("providers.timeout", 10*time.Second)
	v.SetDefault("providers.breaker_threshold", 5)
	v.SetDefault("providers.breaker_cooldown", 2*time.Minute)
	v.SetDefault("providers.eodhd_api_key", "")
	v.SetDefault("providers.exchangerate_url", "")
	v.SetDefault("providers.yahoo_url", "")
	v.SetDefault("providers.eodhd_url", "")

	v.SetDefault("engine.quote_freshness", 15*time.Minute)
	v.SetDefault("engine.fx_lookback_days", 7)
	v.SetDefault("engine.price_lookback_days", 7)
	v.SetDefault("engine.rebuild_batch_days", 31)
	v.SetDefault("engine.refresh_recent_days", 7)

	v.SetDefault("work.workers", 4)
	v.SetDefault("work.timeout", 5*time.Minute)
	v.SetDefault("work.max_retries", 5)
	v.SetDefault("work.retry_backoff", 2*time.Second)

	v.SetDefault("schedule.refresh", "0 30 22 * * *")
	v.SetDefault("schedule.refresh_timeout", 30*time.Minute)
	v.SetDefault("schedule.refresh_parallel", 4)
	v.SetDefault("schedule.client_data_cleanup", "0 0 3 * * *")
	v.SetDefault("schedule.wal_checkpoint", "0 0 */6 * * *")
}

// Load reads configuration from the environment and the optional YAML file.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("FOLIO_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	// Comma-separated lists from the environment arrive as one element.
	if len(cfg.Providers.Order) == 1 && strings.Contains(cfg.Providers.Order[0], ",") {
		cfg.Providers.Order = strings.Split(cfg.Providers.Order[0], ",")
	}
	for i, name := range cfg.Providers.Order {
		cfg.Providers.Order[i] = strings.ToLower(strings.TrimSpace(name))
	}

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure directory exists
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
// It upper-cases BaseCurrency.
func (c *Config) Validate() error {
	if len(c.Providers.Order) == 0 {
		return fmt.Errorf("providers.order must name at least one provider")
	}
	seen := map[string]bool{}
	for _, name := range c.Providers.Order {
		if !isKnownProvider(name) {
			return fmt.Errorf("unknown provider %q (known: %s)", name, strings.Join(KnownProviders, ", "))
		}
		if seen[name] {
			return fmt.Errorf("provider %q listed twice", name)
		}
		seen[name] = true
	}
	if c.Providers.Timeout <= 0 {
		return fmt.Errorf("providers.timeout must be positive")
	}

	n, err := currency.Normalize(c.BaseCurrency)
	if err != nil {
		return fmt.Errorf("base_currency: %w", err)
	}
	if !n.Factor.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("base_currency %s is a minor unit of %s", c.BaseCurrency, n.Code)
	}
	c.BaseCurrency = n.Code

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Engine.FXLookbackDays < 0 || c.Engine.PriceLookbackDays < 0 {
		return fmt.Errorf("lookback days must not be negative")
	}
	if c.Engine.RebuildBatchDays <= 0 {
		return fmt.Errorf("engine.rebuild_batch_days must be positive")
	}
	if c.Work.Workers <= 0 {
		return fmt.Errorf("work.workers must be positive")
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"schedule.refresh":             c.Schedule.Refresh,
		"schedule.client_data_cleanup": c.Schedule.ClientDataCleanup,
		"schedule.wal_checkpoint":      c.Schedule.WALCheckpoint,
	} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func isKnownProvider(name string) bool {
	for _, k := range KnownProviders {
		if k == name {
			return true
		}
	}
	return false
}
