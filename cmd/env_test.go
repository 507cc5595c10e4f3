//go:build !integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fundamentals/internal/config"
	"github.com/sells-group/fundamentals/internal/gap"
	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/provider"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "test.db"),
		},
		Cache:     config.CacheConfig{TTLHours: 24, RetentionDays: 90},
		Reconcile: config.ReconcileConfig{Config: gap.DefaultConfig()},
		Providers: config.ProvidersConfig{
			Yahoo:        config.ProviderConfig{Enabled: true, BaseURL: "http://127.0.0.1:1"},
			EDGAR:        config.ProviderConfig{Enabled: true, BaseURL: "http://127.0.0.1:1", UserAgent: "test admin@example.com"},
			Finnhub:      config.ProviderConfig{Enabled: true, BaseURL: "http://127.0.0.1:1", Key: "fh"},
			FMP:          config.ProviderConfig{Enabled: true, BaseURL: "http://127.0.0.1:1"},
			AlphaVantage: config.ProviderConfig{Enabled: false, Key: "av"},
		},
		Retry:   config.RetryConfig{MaxAttempts: 1},
		Circuit: config.CircuitConfig{FailureThreshold: 5, ResetTimeoutSecs: 30},
		Batch:   config.BatchConfig{MaxConcurrentCompanies: 2},
		Server:  config.ServerConfig{Port: 8080},
	}
}

func TestInitStore_SQLite(t *testing.T) {
	cfg = testConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = testConfig(t)
	cfg.Store.Driver = "mysql"

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestBuildRegistry(t *testing.T) {
	reg := buildRegistry(testConfig(t))

	assert.Equal(t, []model.Source{model.SourceFinnhub, model.SourceEDGAR, model.SourceYahoo}, reg.List(),
		"fmp has no key and alphavantage is disabled")

	_, ok := provider.Lookup[provider.Primary](reg, model.SourceYahoo)
	assert.True(t, ok)
	_, ok = provider.Lookup[provider.Statements](reg, model.SourceEDGAR)
	assert.True(t, ok)
	_, ok = provider.Lookup[provider.Insights](reg, model.SourceFinnhub)
	assert.True(t, ok)
}

func TestReconcileOptions(t *testing.T) {
	c := testConfig(t)
	c.Reconcile.EfficiencyMode = true

	opts, err := reconcileOptions(c)
	require.NoError(t, err)
	assert.True(t, opts.EfficiencyMode)
	assert.Nil(t, opts.Priorities)
	assert.Equal(t, gap.DefaultMinHistoryYears, opts.Gaps.MinHistoryYears)

	path := filepath.Join(t.TempDir(), "priorities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("statement:\n  revenue: [sec_edgar, yahoo]\n"), 0o600))
	c.Reconcile.PriorityOverrides = path
	opts, err = reconcileOptions(c)
	require.NoError(t, err)
	require.NotNil(t, opts.Priorities)
	assert.Equal(t, []model.Source{model.SourceEDGAR, model.SourceYahoo}, opts.Priorities.StatementPriority(model.Revenue))

	c.Reconcile.PriorityOverrides = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = reconcileOptions(c)
	require.Error(t, err)
}

func TestInitEnv(t *testing.T) {
	cfg = testConfig(t)

	env, err := initEnv(context.Background(), "reconcile")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Store)
	assert.NotNil(t, env.Service)
	assert.Len(t, env.Providers.List(), 3)
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	cfg = testConfig(t)
	cfg.Providers.EDGAR.UserAgent = ""

	_, err := initEnv(context.Background(), "reconcile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_agent")
}

func TestAppEnv_Close_Nil(t *testing.T) {
	assert.NotPanics(t, func() {
		(&appEnv{}).Close()
	})
}
