package provider

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/fundamentals/internal/model"
)

type profileOnly struct{ src model.Source }

func (p *profileOnly) Name() model.Source { return p.src }
func (p *profileOnly) FetchProfile(_ context.Context, symbol string) (*model.Profile, error) {
	return model.NewProfile(symbol), nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Empty(t, r.List())

	r.Register(&profileOnly{src: model.SourceFinnhub})
	got := r.Get(model.SourceFinnhub)
	assert.NotNil(t, got)
	assert.Equal(t, model.SourceFinnhub, got.Name())
	assert.Nil(t, r.Get(model.SourceFMP))
}

func TestRegistry_ListSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&profileOnly{src: model.SourceYahoo})
	r.Register(&profileOnly{src: model.SourceAlphaVantage})
	r.Register(&profileOnly{src: model.SourceFMP})
	assert.Equal(t, []model.Source{model.SourceAlphaVantage, model.SourceFMP, model.SourceYahoo}, r.List())
}

func TestLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&profileOnly{src: model.SourceFinnhub})

	p, ok := Lookup[Profiles](r, model.SourceFinnhub)
	assert.True(t, ok)
	assert.NotNil(t, p)

	_, ok = Lookup[Forecasts](r, model.SourceFinnhub)
	assert.False(t, ok, "client does not implement Forecasts")

	_, ok = Lookup[Profiles](r, model.SourceFMP)
	assert.False(t, ok, "not registered")

	_, ok = Lookup[Profiles](nil, model.SourceFinnhub)
	assert.False(t, ok)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	sources := []model.Source{model.SourceYahoo, model.SourceEDGAR, model.SourceFinnhub, model.SourceFMP}
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register(&profileOnly{src: src})
		}()
		go func() {
			defer wg.Done()
			_ = r.List()
		}()
	}
	wg.Wait()
	assert.Len(t, r.List(), len(sources))
}
