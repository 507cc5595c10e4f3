// Package config loads fundamentals settings from config.yaml and
// FUNDAMENTALS_* environment variables.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/fundamentals/internal/gap"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig controls reuse of stored snapshots.
type CacheConfig struct {
	TTLHours      int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days"`
}

// TTL returns the snapshot reuse window. Zero disables the cache.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// ReconcileConfig configures the phase triggers.
type ReconcileConfig struct {
	gap.Config `yaml:",inline" mapstructure:",squash"`

	EfficiencyMode    bool   `yaml:"efficiency_mode" mapstructure:"efficiency_mode"`
	// PriorityOverrides is an optional YAML file replacing per-field source
	// priorities.
	PriorityOverrides string `yaml:"priority_overrides" mapstructure:"priority_overrides"`
}

// ProviderConfig configures one data provider.
type ProviderConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// Timeout returns the per-request timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// ProvidersConfig holds settings for every provider.
type ProvidersConfig struct {
	Yahoo        ProviderConfig `yaml:"yahoo" mapstructure:"yahoo"`
	EDGAR        ProviderConfig `yaml:"edgar" mapstructure:"edgar"`
	Finnhub      ProviderConfig `yaml:"finnhub" mapstructure:"finnhub"`
	FMP          ProviderConfig `yaml:"fmp" mapstructure:"fmp"`
	AlphaVantage ProviderConfig `yaml:"alphavantage" mapstructure:"alphavantage"`
}

// RetryConfig configures provider request retries.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures per-provider circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentCompanies int `yaml:"max_concurrent_companies" mapstructure:"max_concurrent_companies"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background health checker started by
// serve.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DLQDepthThreshold    int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	GapRateThreshold     float64 `yaml:"gap_rate_threshold" mapstructure:"gap_rate_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FUNDAMENTALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "fundamentals.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)

	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.retention_days", 90)

	gaps := gap.DefaultConfig()
	v.SetDefault("reconcile.efficiency_mode", false)
	v.SetDefault("reconcile.min_history_years", gaps.MinHistoryYears)
	v.SetDefault("reconcile.deep_phase_enabled", gaps.DeepPhaseEnabled)
	v.SetDefault("reconcile.fallback_phase_enabled", gaps.FallbackPhaseEnabled)
	v.SetDefault("reconcile.fetch_on_missing_valuation", gaps.FetchOnMissingValuation)
	v.SetDefault("reconcile.fetch_on_missing_estimates", gaps.FetchOnMissingEstimates)
	v.SetDefault("reconcile.fetch_on_shallow_history", gaps.FetchOnShallowHistory)
	v.SetDefault("reconcile.fetch_on_missing_ebitda", gaps.FetchOnMissingEBITDA)
	v.SetDefault("reconcile.priority_overrides", "")

	for name, p := range map[string]struct {
		baseURL string
		rate    float64
	}{
		"yahoo":        {"https://query2.finance.yahoo.com", 2},
		"edgar":        {"https://data.sec.gov", 8},
		"finnhub":      {"https://finnhub.io/api/v1", 1},
		"fmp":          {"https://financialmodelingprep.com/api/v3", 4},
		"alphavantage": {"https://www.alphavantage.co", 0.2},
	} {
		v.SetDefault("providers."+name+".enabled", true)
		v.SetDefault("providers."+name+".key", "")
		v.SetDefault("providers."+name+".base_url", p.baseURL)
		v.SetDefault("providers."+name+".rate_per_sec", p.rate)
		v.SetDefault("providers."+name+".timeout_secs", 30)
	}
	v.SetDefault("providers.edgar.user_agent", "")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)

	v.SetDefault("batch.max_concurrent_companies", 4)
	v.SetDefault("server.port", 8080)

	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.dlq_depth_threshold", 50)
	v.SetDefault("monitoring.gap_rate_threshold", 0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
}

// Validate checks the settings a command mode depends on. Every mode checks
// the store and EDGAR; "batch" and "serve" add their own. Keyed providers
// without a key are not an error: the registry leaves them out.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "postgres":
		if !strings.HasPrefix(c.Store.DatabaseURL, "postgres") {
			errs = append(errs, "store.database_url must be a postgres DSN")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.Providers.EDGAR.Enabled && c.Providers.EDGAR.UserAgent == "" {
		errs = append(errs, "providers.edgar.user_agent is required when edgar is enabled")
	}
	if c.Reconcile.MinHistoryYears < 0 {
		errs = append(errs, "reconcile.min_history_years must not be negative")
	}

	switch mode {
	case "batch":
		if c.Batch.MaxConcurrentCompanies < 1 {
			errs = append(errs, "batch.max_concurrent_companies must be at least 1")
		}
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
		if c.Monitoring.Enabled && (c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1) {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
