// Package provider defines the contracts the reconciliation phases consume
// and a registry of enabled provider clients.
package provider

import (
	"context"
	"slices"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fundamentals/internal/model"
)

// ErrNotAvailable is returned when a provider has no data for a symbol, or
// the account plan does not cover it.
var ErrNotAvailable = eris.New("provider: data not available")

// Named identifies the provider that tags every value it returns.
type Named interface {
	Name() model.Source
}

// Primary returns a complete base record in a single call.
type Primary interface {
	Named
	FetchAll(ctx context.Context, symbol string) (*model.Record, error)
}

// Statements returns financial statement lists.
type Statements interface {
	Named
	FetchIncomeStatements(ctx context.Context, symbol string) ([]model.Statement, error)
	FetchBalanceSheets(ctx context.Context, symbol string) ([]model.Statement, error)
	FetchCashFlows(ctx context.Context, symbol string) ([]model.Statement, error)
}

// Profiles returns company profile data.
type Profiles interface {
	Named
	FetchProfile(ctx context.Context, symbol string) (*model.Profile, error)
}

// Forecasts returns analyst forecast data.
type Forecasts interface {
	Named
	FetchForecast(ctx context.Context, symbol string) (*model.Forecast, error)
}

// Insights returns news, insider sentiment and peer lists.
type Insights interface {
	Named
	FetchNews(ctx context.Context, symbol string) ([]model.NewsItem, error)
	FetchSentiment(ctx context.Context, symbol string) (*model.Sentiment, error)
	FetchPeers(ctx context.Context, symbol string) ([]string, error)
}

// Supplements returns profile-shaped ratio and growth payloads.
type Supplements interface {
	Named
	FetchRatios(ctx context.Context, symbol string) (*model.Profile, error)
	FetchGrowth(ctx context.Context, symbol string) (*model.Profile, error)
}

// Registry holds the enabled provider clients keyed by source.
type Registry struct {
	mu        sync.RWMutex
	providers map[model.Source]Named
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[model.Source]Named),
	}
}

// Register adds p, replacing any client already registered for its source.
func (r *Registry) Register(p Named) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the client for src, or nil.
func (r *Registry) Get(src model.Source) Named {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[src]
}

// List returns the registered sources in sorted order.
func (r *Registry) List() []model.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Source, 0, len(r.providers))
	for src := range r.providers {
		out = append(out, src)
	}
	slices.Sort(out)
	return out
}

// Lookup returns the client for src if it is registered and implements T.
func Lookup[T Named](r *Registry, src model.Source) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	p, ok := r.Get(src).(T)
	if !ok {
		return zero, false
	}
	return p, true
}
