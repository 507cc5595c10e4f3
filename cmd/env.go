package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals/internal/config"
	"github.com/sells-group/fundamentals/internal/fetcher"
	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/provider"
	"github.com/sells-group/fundamentals/internal/provider/alphavantage"
	"github.com/sells-group/fundamentals/internal/provider/edgar"
	"github.com/sells-group/fundamentals/internal/provider/finnhub"
	"github.com/sells-group/fundamentals/internal/provider/fmp"
	"github.com/sells-group/fundamentals/internal/provider/yahoo"
	"github.com/sells-group/fundamentals/internal/reconcile"
	"github.com/sells-group/fundamentals/internal/resilience"
	"github.com/sells-group/fundamentals/internal/store"
)

// appEnv holds the store, provider registry and reconciliation service
// shared by the reconcile/batch/gaps/serve commands.
type appEnv struct {
	Store      store.Store
	Providers  *provider.Registry
	Reconciler *reconcile.Reconciler
	Service    *reconcile.Service
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode, opens and migrates the store, and
// builds the reconciler. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	opts, err := reconcileOptions(cfg)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg := buildRegistry(cfg)
	r := reconcile.New(reg, opts)
	return &appEnv{
		Store:      st,
		Providers:  reg,
		Reconciler: r,
		Service:    reconcile.NewService(r, st, cfg.Cache.TTL()),
	}, nil
}

func reconcileOptions(c *config.Config) (reconcile.Options, error) {
	opts := reconcile.Options{
		EfficiencyMode: c.Reconcile.EfficiencyMode,
		Gaps:           c.Reconcile.Config,
	}
	if path := c.Reconcile.PriorityOverrides; path != "" {
		table, err := model.LoadPriorityOverrides(path)
		if err != nil {
			return opts, err
		}
		opts.Priorities = table
	}
	return opts, nil
}

// buildRegistry registers every enabled provider. All clients share one set
// of circuit breakers and one retry policy. Keyed providers without a key
// are left out.
func buildRegistry(c *config.Config) *provider.Registry {
	breakers := resilience.NewBreakers(resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs))
	retry := resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)

	httpFor := func(src model.Source, p config.ProviderConfig) *fetcher.Client {
		return fetcher.New(fetcher.Options{
			Name:       string(src),
			UserAgent:  p.UserAgent,
			Timeout:    p.Timeout(),
			RatePerSec: p.RatePerSec,
			Retry:      retry,
			Breakers:   breakers,
		})
	}
	keyed := func(src model.Source, p config.ProviderConfig) bool {
		if !p.Enabled {
			return false
		}
		if p.Key == "" {
			zap.L().Warn("provider enabled without an API key, skipping", zap.String("provider", string(src)))
			return false
		}
		return true
	}

	reg := provider.NewRegistry()
	p := c.Providers
	if p.Yahoo.Enabled {
		reg.Register(yahoo.New(httpFor(model.SourceYahoo, p.Yahoo), p.Yahoo.BaseURL))
	}
	if p.EDGAR.Enabled {
		reg.Register(edgar.New(httpFor(model.SourceEDGAR, p.EDGAR), p.EDGAR.BaseURL, ""))
	}
	if keyed(model.SourceFinnhub, p.Finnhub) {
		reg.Register(finnhub.New(httpFor(model.SourceFinnhub, p.Finnhub), p.Finnhub.BaseURL, p.Finnhub.Key))
	}
	if keyed(model.SourceFMP, p.FMP) {
		reg.Register(fmp.New(httpFor(model.SourceFMP, p.FMP), p.FMP.BaseURL, p.FMP.Key))
	}
	if keyed(model.SourceAlphaVantage, p.AlphaVantage) {
		reg.Register(alphavantage.New(httpFor(model.SourceAlphaVantage, p.AlphaVantage), p.AlphaVantage.BaseURL, p.AlphaVantage.Key))
	}

	zap.L().Debug("providers registered", zap.Any("sources", reg.List()))
	return reg
}
