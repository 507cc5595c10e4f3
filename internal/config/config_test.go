package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "fundamentals.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL())
	assert.Equal(t, 90, cfg.Cache.RetentionDays)

	assert.False(t, cfg.Reconcile.EfficiencyMode)
	assert.Equal(t, 4, cfg.Reconcile.MinHistoryYears)
	assert.True(t, cfg.Reconcile.DeepPhaseEnabled)
	assert.True(t, cfg.Reconcile.FallbackPhaseEnabled)
	assert.True(t, cfg.Reconcile.FetchOnMissingValuation)
	assert.True(t, cfg.Reconcile.FetchOnMissingEstimates)
	assert.True(t, cfg.Reconcile.FetchOnShallowHistory)
	assert.True(t, cfg.Reconcile.FetchOnMissingEBITDA)

	assert.True(t, cfg.Providers.Yahoo.Enabled)
	assert.Equal(t, "https://data.sec.gov", cfg.Providers.EDGAR.BaseURL)
	assert.Equal(t, "https://financialmodelingprep.com/api/v3", cfg.Providers.FMP.BaseURL)
	assert.InDelta(t, 0.2, cfg.Providers.AlphaVantage.RatePerSec, 0.001)
	assert.Equal(t, 30*time.Second, cfg.Providers.Finnhub.Timeout())

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500, cfg.Retry.InitialBackoffMs)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentCompanies)
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.False(t, cfg.Monitoring.Enabled)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 50, cfg.Monitoring.DLQDepthThreshold)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/fundamentals
log:
  level: debug
  format: console
reconcile:
  efficiency_mode: true
  min_history_years: 5
  fetch_on_missing_ebitda: false
providers:
  fmp:
    key: fmp-key
    rate_per_sec: 2
  edgar:
    user_agent: Research admin@example.com
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Reconcile.EfficiencyMode)
	assert.Equal(t, 5, cfg.Reconcile.MinHistoryYears)
	assert.False(t, cfg.Reconcile.FetchOnMissingEBITDA)
	assert.True(t, cfg.Reconcile.FetchOnMissingValuation, "defaults still apply")
	assert.Equal(t, "fmp-key", cfg.Providers.FMP.Key)
	assert.InDelta(t, 2, cfg.Providers.FMP.RatePerSec, 0.001)
	assert.Equal(t, "https://financialmodelingprep.com/api/v3", cfg.Providers.FMP.BaseURL)
	assert.Equal(t, "Research admin@example.com", cfg.Providers.EDGAR.UserAgent)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("FUNDAMENTALS_STORE_DRIVER", "postgres")
	t.Setenv("FUNDAMENTALS_LOG_LEVEL", "warn")
	t.Setenv("FUNDAMENTALS_PROVIDERS_FINNHUB_KEY", "fh-key")
	t.Setenv("FUNDAMENTALS_RECONCILE_EFFICIENCY_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "fh-key", cfg.Providers.Finnhub.Key)
	assert.True(t, cfg.Reconcile.EfficiencyMode)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{"console", LogConfig{Level: "debug", Format: "console"}, false},
		{"json", LogConfig{Level: "info", Format: "json"}, false},
		{"invalid level", LogConfig{Level: "invalid", Format: "json"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InitLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, zap.L())
		})
	}
}

// validDefaults returns a Config that passes validation in every mode.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "fundamentals.db"
	cfg.Providers.EDGAR.Enabled = true
	cfg.Providers.EDGAR.UserAgent = "Research admin@example.com"
	cfg.Reconcile.MinHistoryYears = 4
	cfg.Batch.MaxConcurrentCompanies = 4
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mode    string
		mutate  func(*Config)
		wantErr []string
	}{
		{"defaults reconcile", "reconcile", func(*Config) {}, nil},
		{"defaults serve", "serve", func(*Config) {}, nil},
		{"postgres dsn", "reconcile", func(c *Config) {
			c.Store.Driver = "postgres"
			c.Store.DatabaseURL = "postgres://localhost/fundamentals"
		}, nil},
		{"postgres without dsn", "reconcile", func(c *Config) {
			c.Store.Driver = "postgres"
			c.Store.DatabaseURL = "fundamentals.db"
		}, []string{"store.database_url must be a postgres DSN"}},
		{"unknown driver", "reconcile", func(c *Config) { c.Store.Driver = "mysql" }, []string{`store.driver "mysql"`}},
		{"edgar without user agent", "reconcile", func(c *Config) { c.Providers.EDGAR.UserAgent = "" }, []string{"providers.edgar.user_agent is required"}},
		{"edgar disabled", "reconcile", func(c *Config) {
			c.Providers.EDGAR.Enabled = false
			c.Providers.EDGAR.UserAgent = ""
		}, nil},
		{"batch concurrency", "batch", func(c *Config) { c.Batch.MaxConcurrentCompanies = 0 }, []string{"batch.max_concurrent_companies"}},
		{"serve port", "serve", func(c *Config) { c.Server.Port = 0 }, []string{"server.port 0 is out of range"}},
		{"monitoring threshold", "serve", func(c *Config) {
			c.Monitoring.Enabled = true
			c.Monitoring.FailureRateThreshold = 25
		}, []string{"monitoring.failure_rate_threshold"}},
		{"several problems", "serve", func(c *Config) {
			c.Store.DatabaseURL = ""
			c.Server.Port = 70000
		}, []string{"store.database_url is required", "server.port 70000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}
