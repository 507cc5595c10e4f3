package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fundamentals/internal/model"
)

func text(t *testing.T, f model.Field) string {
	t.Helper()
	s, ok := f.Str()
	require.True(t, ok, "expected text field")
	return s
}

func TestProfiles_IntrinsicPriority(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	base := model.NewProfile("AAPL")
	base.Fields[model.Sector] = model.Text("Technology", model.SourceYahoo)
	base.Fields[model.PERatio] = model.Num(30, model.SourceAlphaVantage)

	supp := model.NewProfile("aapl")
	supp.Fields[model.Sector] = model.Text("Information Technology", model.SourceFMP)
	supp.Fields[model.PERatio] = model.Num(31, model.SourceFMP)
	supp.Fields[model.CEO] = model.Text("Tim Cook", model.SourceFMP)

	out := m.Profiles(base, supp)
	assert.Equal(t, "AAPL", out.Symbol)
	assert.Equal(t, "Technology", text(t, out.Get(model.Sector)))
	assert.InDelta(t, 31, num(t, out.Get(model.PERatio)), 0.001, "fmp outranks alphavantage regardless of side")
	assert.Equal(t, "Tim Cook", text(t, out.Get(model.CEO)))

	stats := m.Stats()
	assert.Equal(t, 1, stats[model.SourceYahoo])
	assert.Equal(t, 2, stats[model.SourceFMP])
}

func TestProfiles_SameSourceSupplementWins(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	base := model.NewProfile("AAPL")
	base.Fields[model.MarketCap] = model.Num(3.0e12, model.SourceYahoo)
	supp := model.NewProfile("AAPL")
	supp.Fields[model.MarketCap] = model.Num(3.1e12, model.SourceYahoo)

	out := m.Profiles(base, supp)
	assert.InDelta(t, 3.1e12, num(t, out.Get(model.MarketCap)), 1)
}

func TestProfiles_FinnhubFillsGaps(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	base := model.NewProfile("AAPL")
	base.Fields[model.Industry] = model.Text("Consumer Electronics", model.SourceYahoo)
	supp := model.NewProfile("AAPL")
	supp.Fields[model.Industry] = model.Text("Technology Hardware", model.SourceFinnhub)
	supp.Fields[model.Sector] = model.Text("Technology", model.SourceFinnhub)

	out := m.Profiles(base, supp)
	assert.Equal(t, "Consumer Electronics", text(t, out.Get(model.Industry)))
	assert.Equal(t, model.SourceFinnhub, out.Get(model.Sector).Source())
}

func TestProfiles_UntaggedValues(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	base := model.NewProfile("AAPL")
	base.Fields[model.Website] = model.Text("apple.com", "")
	supp := model.NewProfile("AAPL")
	supp.Fields[model.Website] = model.Text("www.apple.com", "")
	supp.Fields[model.Description] = model.Text("Phones", "")
	supp.Fields[model.Beta] = model.Num(1.2, model.SourceFMP)
	base.Fields[model.Beta] = model.Num(1.1, "")

	out := m.Profiles(base, supp)
	assert.Equal(t, "apple.com", text(t, out.Get(model.Website)), "base wins between untagged values")
	assert.Equal(t, "Phones", text(t, out.Get(model.Description)))
	assert.InDelta(t, 1.2, num(t, out.Get(model.Beta)), 0.001, "tagged values outrank untagged ones")
}

func TestProfiles_UnknownSourceDropped(t *testing.T) {
	t.Parallel()

	pt := model.DefaultPriorities()
	pt.Profile[model.Sector] = []model.Source{model.SourceYahoo}
	m := New("AAPL", pt)

	supp := model.NewProfile("AAPL")
	supp.Fields[model.Sector] = model.Text("Technology", model.SourceFinnhub)

	out := m.Profiles(model.NewProfile("AAPL"), supp)
	assert.True(t, out.Get(model.Sector).IsNull())
}

func TestProfiles_NilSides(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	out := m.Profiles(nil, nil)
	require.NotNil(t, out)
	assert.Equal(t, "AAPL", out.Symbol)

	p := model.NewProfile("AAPL")
	p.Fields[model.Sector] = model.Text("Technology", model.SourceYahoo)
	assert.Equal(t, p, m.Profiles(nil, p))
	assert.Equal(t, p, m.Profiles(p, nil))
	assert.NotSame(t, p, m.Profiles(p, nil))
}

func TestForecasts(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	base := model.NewForecast()
	base.Fields[model.ForwardEPS] = model.Num(7.0, model.SourceFinnhub)
	base.Fields[model.PriceTargetAvg] = model.Num(230, model.SourceYahoo)
	base.SurpriseHistory = []model.EarningsSurprise{{Period: "2024-06-30", Actual: 1.4}}
	base.SurpriseSource = model.SourceFinnhub

	supp := model.NewForecast()
	supp.Fields[model.ForwardEPS] = model.Num(7.2, model.SourceFMP)
	supp.Fields[model.PriceTargetAvg] = model.Num(240, model.SourceFMP)
	supp.SurpriseHistory = []model.EarningsSurprise{{Period: "2024-06-30", Actual: 9}}
	supp.SurpriseSource = model.SourceFMP

	out := m.Forecasts(base, supp)
	assert.InDelta(t, 7.2, num(t, out.Get(model.ForwardEPS)), 0.001)
	assert.InDelta(t, 240, num(t, out.Get(model.PriceTargetAvg)), 0.001)
	require.Len(t, out.SurpriseHistory, 1)
	assert.InDelta(t, 1.4, out.SurpriseHistory[0].Actual, 0.001, "surprise history only comes from finnhub")
	assert.Equal(t, model.SourceFinnhub, out.SurpriseSource)
}

func TestForecasts_SurpriseHistoryExclusive(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	base := model.NewForecast()
	base.SurpriseHistory = []model.EarningsSurprise{{Period: "2024-06-30"}}
	base.SurpriseSource = model.SourceYahoo

	out := m.Forecasts(base, nil)
	assert.Empty(t, out.SurpriseHistory)
	assert.Nil(t, m.Forecasts(nil, nil))
}
