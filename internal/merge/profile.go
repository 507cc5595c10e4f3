package merge

import (
	"slices"

	"github.com/sells-group/fundamentals/internal/model"
)

// Profiles merges supplement into base. Unlike statement merges, every field
// is resolved by the provenance tag the value itself carries. When both sides
// carry the same tag the supplement wins. Untagged values rank after all
// tagged ones, base first. Symbol always comes from base when set.
func (m *Merger) Profiles(base, supplement *model.Profile) *model.Profile {
	switch {
	case base == nil && supplement == nil:
		return model.NewProfile(m.symbol)
	case base == nil:
		return supplement.Clone()
	case supplement == nil:
		return base.Clone()
	}

	out := model.NewProfile(base.Symbol)
	if out.Symbol == "" {
		out.Symbol = supplement.Symbol
	}

	winners := make(map[string]model.Source)
	for _, name := range unionNames(base.Fields, supplement.Fields) {
		v, ok := pickIntrinsic(m.priorities.ProfilePriority(name), base.Get(name), supplement.Get(name))
		if !ok {
			continue
		}
		out.Fields[name] = v
		if v.Tagged() {
			winners[name] = v.Source()
		}
	}
	m.record(model.ScopeProfile, "", winners)
	return out
}

// Forecasts merges supplement into base over the forecast priority lists.
// Earnings surprise history is never field-merged: it is kept only when it
// came from Finnhub, preferring the supplement's copy.
func (m *Merger) Forecasts(base, supplement *model.Forecast) *model.Forecast {
	if base == nil && supplement == nil {
		return nil
	}
	if base == nil {
		base = model.NewForecast()
	}
	if supplement == nil {
		supplement = model.NewForecast()
	}

	out := model.NewForecast()
	winners := make(map[string]model.Source)
	for _, name := range unionNames(base.Fields, supplement.Fields) {
		v, ok := pickIntrinsic(m.priorities.ForecastPriority(name), base.Get(name), supplement.Get(name))
		if !ok {
			continue
		}
		out.Fields[name] = v
		if v.Tagged() {
			winners[name] = v.Source()
		}
	}

	for _, f := range []*model.Forecast{supplement, base} {
		if f.SurpriseSource == model.SourceFinnhub && len(f.SurpriseHistory) > 0 {
			out.SurpriseHistory = slices.Clone(f.SurpriseHistory)
			out.SurpriseSource = model.SourceFinnhub
			winners["earnings_surprise_history"] = model.SourceFinnhub
			break
		}
	}

	m.record(model.ScopeForecast, "", winners)
	return out
}

// pickIntrinsic chooses between two values by their own tags. Tagged values
// whose source is absent from order are dropped.
func pickIntrinsic(order []model.Source, base, supp model.Field) (model.Field, bool) {
	candidates := make(map[model.Source]model.Field, 2)
	for _, f := range []model.Field{base, supp} {
		if !f.IsNull() && f.Tagged() {
			candidates[f.Source()] = f // supplement overwrites base on a shared tag
		}
	}
	for _, src := range order {
		if v, ok := candidates[src]; ok {
			return v, true
		}
	}
	for _, f := range []model.Field{base, supp} {
		if !f.IsNull() && !f.Tagged() {
			return f, true
		}
	}
	return model.Null(), false
}

func unionNames(a, b model.FieldSet) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var names []string
	for _, set := range []model.FieldSet{a, b} {
		for name := range set {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	slices.Sort(names)
	return names
}
