package reconcile

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fundamentals/internal/merge"
	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/provider"
)

// pipeline holds the state of a single run. Every phase fetches all of its
// data before touching the record, so a failed fetch leaves no partial merge.
type pipeline struct {
	symbol    string
	providers *provider.Registry
	merger    *merge.Merger
}

type statementSet map[model.StatementType][]model.Statement

// base seeds the record from the primary provider. Its output replaces the
// record wholesale.
func (p *pipeline) base(ctx context.Context, _ *model.Record) (*model.Record, error) {
	c, ok := provider.Lookup[provider.Primary](p.providers, model.SourceYahoo)
	if !ok {
		return nil, nil
	}
	fetched, err := optional(c.FetchAll(ctx, p.symbol))
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: fetch base record from %s", c.Name())
	}
	if fetched == nil {
		return nil, nil
	}

	out := fetched.Clone()
	out.Symbol = p.symbol
	out.MergeLog = nil
	if out.Profile != nil && out.Profile.Symbol == "" {
		out.Profile.Symbol = p.symbol
	}
	copyForwardMetrics(out)
	return out, nil
}

// official merges statements from regulatory filings.
func (p *pipeline) official(ctx context.Context, rec *model.Record) (*model.Record, error) {
	c, ok := provider.Lookup[provider.Statements](p.providers, model.SourceEDGAR)
	if !ok {
		return nil, nil
	}
	set, err := fetchStatements(ctx, c, p.symbol)
	if err != nil {
		return nil, err
	}

	out := rec.Clone()
	for _, t := range model.StatementTypes {
		if len(set[t]) == 0 {
			continue
		}
		out.SetStatements(t, p.merger.Statements(t, out.Statements(t), set[t], nil, nil))
	}
	return out, nil
}

// forecast merges estimates and profile data, and attaches news, sentiment
// and peers when the record has none yet.
func (p *pipeline) forecast(ctx context.Context, rec *model.Record) (*model.Record, error) {
	var (
		forecast  *model.Forecast
		profile   *model.Profile
		news      []model.NewsItem
		sentiment *model.Sentiment
		peers     []string
		err       error
	)
	if c, ok := provider.Lookup[provider.Forecasts](p.providers, model.SourceFinnhub); ok {
		if forecast, err = optional(c.FetchForecast(ctx, p.symbol)); err != nil {
			return nil, eris.Wrapf(err, "reconcile: fetch forecast from %s", c.Name())
		}
	}
	if c, ok := provider.Lookup[provider.Profiles](p.providers, model.SourceFinnhub); ok {
		if profile, err = optional(c.FetchProfile(ctx, p.symbol)); err != nil {
			return nil, eris.Wrapf(err, "reconcile: fetch profile from %s", c.Name())
		}
	}
	if c, ok := provider.Lookup[provider.Insights](p.providers, model.SourceFinnhub); ok {
		if news, err = optional(c.FetchNews(ctx, p.symbol)); err != nil {
			return nil, eris.Wrapf(err, "reconcile: fetch news from %s", c.Name())
		}
		if sentiment, err = optional(c.FetchSentiment(ctx, p.symbol)); err != nil {
			return nil, eris.Wrapf(err, "reconcile: fetch sentiment from %s", c.Name())
		}
		if peers, err = optional(c.FetchPeers(ctx, p.symbol)); err != nil {
			return nil, eris.Wrapf(err, "reconcile: fetch peers from %s", c.Name())
		}
	}

	out := rec.Clone()
	p.applyForecast(out, forecast)
	if profile != nil {
		out.Profile = p.merger.Profiles(out.Profile, profile)
	}
	if len(out.News) == 0 {
		out.News = news
	}
	if out.Sentiment == nil {
		out.Sentiment = sentiment
	}
	if len(out.Peers) == 0 {
		out.Peers = peers
	}
	return out, nil
}

// deep merges statements, supplementary profiles and forecasts from the
// deep-financials provider.
func (p *pipeline) deep(ctx context.Context, rec *model.Record) (*model.Record, error) {
	var (
		set            statementSet
		ratios, growth *model.Profile
		profile        *model.Profile
		forecast       *model.Forecast
		err            error
	)
	if c, ok := provider.Lookup[provider.Statements](p.providers, model.SourceFMP); ok {
		if set, err = fetchStatements(ctx, c, p.symbol); err != nil {
			return nil, err
		}
	}
	if c, ok := provider.Lookup[provider.Supplements](p.providers, model.SourceFMP); ok {
		if ratios, err = optional(c.FetchRatios(ctx, p.symbol)); err != nil {
			return nil, eris.Wrapf(err, "reconcile: fetch ratios from %s", c.Name())
		}
		if growth, err = optional(c.FetchGrowth(ctx, p.symbol)); err != nil {
			return nil, eris.Wrapf(err, "reconcile: fetch growth from %s", c.Name())
		}
	}
	if c, ok := provider.Lookup[provider.Profiles](p.providers, model.SourceFMP); ok {
		if profile, err = optional(c.FetchProfile(ctx, p.symbol)); err != nil {
			return nil, eris.Wrapf(err, "reconcile: fetch profile from %s", c.Name())
		}
	}
	if c, ok := provider.Lookup[provider.Forecasts](p.providers, model.SourceFMP); ok {
		if forecast, err = optional(c.FetchForecast(ctx, p.symbol)); err != nil {
			return nil, eris.Wrapf(err, "reconcile: fetch forecast from %s", c.Name())
		}
	}

	out := rec.Clone()
	for _, t := range model.StatementTypes {
		if len(set[t]) == 0 {
			continue
		}
		out.SetStatements(t, p.merger.Statements(t, out.Statements(t), nil, set[t], nil))
	}
	for _, supp := range []*model.Profile{ratios, profile, growth} {
		if supp != nil {
			out.Profile = p.merger.Profiles(out.Profile, supp)
		}
	}
	p.applyForecast(out, forecast)
	return out, nil
}

// fallback fills remaining statement gaps, and the profile when the record
// still has no market cap.
func (p *pipeline) fallback(ctx context.Context, rec *model.Record) (*model.Record, error) {
	var (
		set     statementSet
		profile *model.Profile
		err     error
	)
	if c, ok := provider.Lookup[provider.Statements](p.providers, model.SourceAlphaVantage); ok {
		if set, err = fetchStatements(ctx, c, p.symbol); err != nil {
			return nil, err
		}
	}
	if rec.Profile.Get(model.MarketCap).Empty() {
		if c, ok := provider.Lookup[provider.Profiles](p.providers, model.SourceAlphaVantage); ok {
			if profile, err = optional(c.FetchProfile(ctx, p.symbol)); err != nil {
				return nil, eris.Wrapf(err, "reconcile: fetch profile from %s", c.Name())
			}
		}
	}

	out := rec.Clone()
	for _, t := range model.StatementTypes {
		if len(set[t]) == 0 {
			continue
		}
		out.SetStatements(t, p.merger.Statements(t, out.Statements(t), nil, nil, set[t]))
	}
	if profile != nil {
		out.Profile = p.merger.Profiles(out.Profile, profile)
	}
	return out, nil
}

// applyForecast merges f into rec and, when the record has no analyst
// targets yet, derives them from the merged forecast.
func (p *pipeline) applyForecast(rec *model.Record, f *model.Forecast) {
	if f == nil {
		return
	}
	rec.Forecast = p.merger.Forecasts(rec.Forecast, f)
	if rec.AnalystTargets == nil {
		rec.AnalystTargets = model.TargetsFromForecast(rec.Forecast)
	}
}

func fetchStatements(ctx context.Context, c provider.Statements, symbol string) (statementSet, error) {
	fetchers := map[model.StatementType]func(context.Context, string) ([]model.Statement, error){
		model.IncomeStatement: c.FetchIncomeStatements,
		model.BalanceSheet:    c.FetchBalanceSheets,
		model.CashFlow:        c.FetchCashFlows,
	}
	set := make(statementSet, len(fetchers))
	for _, t := range model.StatementTypes {
		list, err := optional(fetchers[t](ctx, symbol))
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: fetch %s statements from %s", t, c.Name())
		}
		set[t] = list
	}
	return set, nil
}

// copyForwardMetrics copies forward EPS and P/E from the profile into the
// forecast when the forecast lacks them.
func copyForwardMetrics(rec *model.Record) {
	for _, name := range []string{model.ForwardEPS, model.ForwardPE} {
		v := rec.Profile.Get(name)
		if v.IsNull() || !rec.Forecast.Get(name).IsNull() {
			continue
		}
		if rec.Forecast == nil {
			rec.Forecast = model.NewForecast()
		}
		rec.Forecast.Fields[name] = v
	}
}

// optional treats provider.ErrNotAvailable as an empty result.
func optional[T any](v T, err error) (T, error) {
	if errors.Is(err, provider.ErrNotAvailable) {
		var zero T
		return zero, nil
	}
	return v, err
}
