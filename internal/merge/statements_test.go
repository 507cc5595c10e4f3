package merge

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fundamentals/internal/model"
)

func income(period string, kind model.PeriodKind, fields model.FieldSet) model.Statement {
	s := model.NewStatement(model.IncomeStatement, period, kind)
	for k, v := range fields {
		s.Fields[k] = v
	}
	return s
}

func num(t *testing.T, f model.Field) float64 {
	t.Helper()
	v, ok := f.Float()
	require.True(t, ok, "expected numeric field")
	return v
}

func TestStatements_SeedThenMerge(t *testing.T) {
	t.Parallel()

	pt := model.DefaultPriorities()
	pt.Statement[model.Revenue] = []model.Source{model.SourceYahoo, model.SourceEDGAR}
	m := New("AAPL", pt)

	seeded := []model.Statement{income("2024-12-31", model.PeriodFY, model.FieldSet{
		model.Revenue: model.Num(100, model.SourceYahoo),
	})}
	filings := []model.Statement{income("2024-12-28", model.PeriodFY, model.FieldSet{
		model.Revenue:          model.Num(105, model.SourceEDGAR),
		model.IncomeTaxExpense: model.Num(10, model.SourceEDGAR),
	})}

	merged := m.Statements(model.IncomeStatement, seeded, filings, nil, nil)
	require.Len(t, merged, 1)

	got := merged[0]
	assert.Equal(t, "2024-12-31", got.Period)
	assert.InDelta(t, 100, num(t, got.Get(model.Revenue)), 0.001)
	assert.Equal(t, model.SourceYahoo, got.Get(model.Revenue).Source())
	assert.InDelta(t, 10, num(t, got.Get(model.IncomeTaxExpense)), 0.001)
	assert.Equal(t, model.SourceEDGAR, got.Get(model.IncomeTaxExpense).Source())

	log := m.Log()
	require.Len(t, log, 1)
	assert.Equal(t, model.ScopeIncome, log[0].Scope)
	assert.Equal(t, model.SourceYahoo, log[0].FieldSources[model.Revenue])
	assert.Equal(t, model.SourceEDGAR, log[0].FieldSources[model.IncomeTaxExpense])
}

// The accumulated list always occupies the primary slot, so a value that
// originally came from a low-priority provider still beats a higher-priority
// slot on later merges. The value keeps its own provenance tag.
func TestStatements_AccumulatedSlotBeatsLaterSlots(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	accumulated := []model.Statement{income("2023-12-31", model.PeriodFY, model.FieldSet{
		model.Revenue: model.Num(90, model.SourceAlphaVantage),
	})}
	deep := []model.Statement{income("2023-12-31", model.PeriodFY, model.FieldSet{
		model.Revenue: model.Num(95, model.SourceFMP),
	})}

	merged := m.Statements(model.IncomeStatement, accumulated, nil, deep, nil)
	require.Len(t, merged, 1)
	assert.InDelta(t, 90, num(t, merged[0].Get(model.Revenue)), 0.001)
	assert.Equal(t, model.SourceAlphaVantage, merged[0].Get(model.Revenue).Source())
	assert.Equal(t, model.SourceYahoo, m.Log()[0].FieldSources[model.Revenue], "log records the winning slot")
}

func TestStatements_PriorityFallsThroughNulls(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	official := []model.Statement{income("2024-06-30", model.PeriodQ, model.FieldSet{
		model.EBITDA: model.Num(7, model.SourceEDGAR),
	})}
	fallback := []model.Statement{income("2024-06-30", model.PeriodQ, model.FieldSet{
		model.EBITDA:    model.Num(8, model.SourceAlphaVantage),
		model.NetIncome: model.Num(3, model.SourceAlphaVantage),
	})}

	merged := m.Statements(model.IncomeStatement, nil, official, nil, fallback)
	require.Len(t, merged, 1)
	assert.Equal(t, model.SourceEDGAR, merged[0].Get(model.EBITDA).Source())
	assert.Equal(t, model.SourceAlphaVantage, merged[0].Get(model.NetIncome).Source())
	assert.Equal(t, model.PeriodQ, merged[0].Kind)
}

func TestStatements_PrefersAnnualWithinSlot(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	acc := []model.Statement{
		income("2024-09-28", model.PeriodQ, model.FieldSet{model.Revenue: model.Num(95, model.SourceYahoo)}),
		income("2024-09-28", model.PeriodFY, model.FieldSet{model.Revenue: model.Num(391, model.SourceYahoo)}),
	}

	merged := m.Statements(model.IncomeStatement, acc, nil, nil, nil)
	require.Len(t, merged, 1)
	assert.Equal(t, model.PeriodFY, merged[0].Kind)
	assert.InDelta(t, 391, num(t, merged[0].Get(model.Revenue)), 0.001)
}

func TestStatements_KindFollowsSlotOrder(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	official := []model.Statement{income("2024-12-31", model.PeriodFY, nil)}
	deep := []model.Statement{income("2024-12-30", model.PeriodQ, nil)}

	merged := m.Statements(model.IncomeStatement, nil, official, deep, nil)
	require.Len(t, merged, 1)
	assert.Equal(t, model.PeriodQ, merged[0].Kind, "deep slot outranks official for period kind")
	assert.Equal(t, "2024-12-31", merged[0].Period)
}

func TestStatements_OrderAndCap(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	start := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	var acc []model.Statement
	for i := range 40 {
		d := start.AddDate(0, -3*i, 0).Format("2006-01-02")
		acc = append(acc, income(d, model.PeriodQ, model.FieldSet{model.Revenue: model.Num(float64(i), model.SourceYahoo)}))
	}
	// Reverse so input order does not already match output order.
	for i, j := 0, len(acc)-1; i < j; i, j = i+1, j-1 {
		acc[i], acc[j] = acc[j], acc[i]
	}

	merged := m.Statements(model.IncomeStatement, acc, nil, nil, nil)
	require.Len(t, merged, maxWindows)
	assert.Equal(t, "2024-12-31", merged[0].Period)
	for i := 1; i < len(merged); i++ {
		assert.Greater(t, merged[i-1].Period, merged[i].Period)
	}
}

func TestStatements_UndatedPeriodsGroupByLabel(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	acc := []model.Statement{income("2023-FY", model.PeriodFY, model.FieldSet{model.Revenue: model.Num(1, model.SourceYahoo)})}
	fallback := []model.Statement{
		income("2023-FY", model.PeriodFY, model.FieldSet{model.NetIncome: model.Num(2, model.SourceAlphaVantage)}),
		income("2024-12-31", model.PeriodFY, model.FieldSet{model.Revenue: model.Num(3, model.SourceAlphaVantage)}),
	}

	merged := m.Statements(model.IncomeStatement, acc, nil, nil, fallback)
	require.Len(t, merged, 2)
	assert.Equal(t, "2024-12-31", merged[0].Period, "dated periods sort ahead of labels")
	assert.Equal(t, "2023-FY", merged[1].Period)
	assert.Len(t, merged[1].Fields, 2)
}

func TestStatements_Empty(t *testing.T) {
	t.Parallel()

	m := New("AAPL", nil)
	assert.Nil(t, m.Statements(model.BalanceSheet, nil, nil, nil, nil))
	assert.Empty(t, m.Log())
}

func randomLists(r *rand.Rand) [4][]model.Statement {
	var lists [4][]model.Statement
	base := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	srcs := []model.Source{model.SourceYahoo, model.SourceEDGAR, model.SourceFMP, model.SourceAlphaVantage}
	for slot := range lists {
		n := r.IntN(12)
		for range n {
			d := base.AddDate(0, 0, -r.IntN(900)).Format("2006-01-02")
			kind := model.PeriodQ
			if r.IntN(3) == 0 {
				kind = model.PeriodFY
			}
			fs := model.FieldSet{}
			for _, f := range model.IncomeStatement.Schema() {
				if r.IntN(2) == 0 {
					fs[f] = model.Num(float64(r.IntN(1000)), srcs[slot])
				}
			}
			lists[slot] = append(lists[slot], income(d, kind, fs))
		}
	}
	return lists
}

func TestStatements_NoDuplicateWindows(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(7, 7))
	for range 200 {
		l := randomLists(r)
		merged := New("X", nil).Statements(model.IncomeStatement, l[0], l[1], l[2], l[3])
		for i := range merged {
			di, ok := model.ParsePeriod(merged[i].Period)
			require.True(t, ok)
			for j := i + 1; j < len(merged); j++ {
				dj, _ := model.ParsePeriod(merged[j].Period)
				assert.Greater(t, di.Sub(dj), windowSpan, "%s and %s share a window", merged[i].Period, merged[j].Period)
			}
		}
	}
}

func TestStatements_Deterministic(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(11, 3))
	for range 100 {
		l := randomLists(r)
		m1, m2 := New("X", nil), New("X", nil)
		a := m1.Statements(model.IncomeStatement, l[0], l[1], l[2], l[3])
		b := m2.Statements(model.IncomeStatement, l[0], l[1], l[2], l[3])
		assert.Equal(t, a, b)
		assert.Equal(t, m1.Log(), m2.Log())
	}
}

func TestStatements_SingleSourcePerField(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(5, 9))
	for range 100 {
		l := randomLists(r)
		m := New("X", nil)
		merged := m.Statements(model.IncomeStatement, l[0], l[1], l[2], l[3])
		log := m.Log()
		require.Len(t, log, len(merged))
		for i, s := range merged {
			for _, name := range s.Fields.Names() {
				_, ok := log[i].FieldSources[name]
				assert.True(t, ok, "field %s has no recorded winner", name)
			}
			assert.Len(t, log[i].FieldSources, len(s.Fields))
		}
	}
}
