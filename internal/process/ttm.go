package process

import (
	"cmp"
	"slices"

	"go.uber.org/zap"

	"github.com/sells-group/fundamentals/internal/model"
)

const (
	quartersPerYear = 4
	minQuarterGap   = 80  // days
	maxQuarterGap   = 100 // days
)

// ttmFlowFields are summed across the trailing four quarters.
var ttmFlowFields = []string{
	model.Revenue, model.CostOfRevenue, model.GrossProfit, model.OperatingExpense,
	model.OperatingIncome, model.PretaxIncome, model.InterestExpense,
	model.IncomeTaxExpense, model.NetIncome, model.EBITDA,
	model.EPS, model.EPSDiluted,
}

// SynthesizeTTM derives a trailing twelve-month income statement from the
// four most recent quarters and inserts it first. The record is returned
// unchanged when a TTM statement already exists, when fewer than four
// quarters are available, or when the quarters are not consecutive.
func SynthesizeTTM(rec *model.Record) *model.Record {
	for _, s := range rec.Income {
		if s.IsTTM() {
			return rec
		}
	}

	var quarters []model.Statement
	for _, s := range rec.Income {
		if s.Kind == model.PeriodQ {
			quarters = append(quarters, s)
		}
	}
	slices.SortStableFunc(quarters, func(a, b model.Statement) int {
		return cmp.Compare(b.Period, a.Period)
	})

	if len(quarters) < quartersPerYear {
		zap.L().Warn("process: ttm synthesis skipped, not enough quarters",
			zap.String("symbol", rec.Symbol),
			zap.Int("quarters", len(quarters)),
		)
		return rec
	}
	recent := quarters[:quartersPerYear]
	if !consecutive(recent) {
		zap.L().Warn("process: ttm synthesis skipped, quarters not consecutive",
			zap.String("symbol", rec.Symbol),
			zap.String("latest", recent[0].Period),
			zap.String("earliest", recent[quartersPerYear-1].Period),
		)
		return rec
	}

	ttm := model.NewStatement(model.IncomeStatement, "TTM-"+recent[0].Period, model.PeriodTTM)
	for _, field := range ttmFlowFields {
		if v, ok := sumAll(recent, field); ok {
			ttm.Fields[field] = model.Num(v, model.SourceNormalized)
		}
	}
	// Share count is a point-in-time figure.
	if so := recent[0].Get(model.SharesOutstanding); !so.IsNull() {
		ttm.Fields[model.SharesOutstanding] = so
	}

	out := rec.Clone()
	out.Income = append([]model.Statement{ttm}, out.Income...)
	zap.L().Debug("process: synthesized ttm",
		zap.String("symbol", rec.Symbol),
		zap.String("period", ttm.Period),
		zap.Int("fields", len(ttm.Fields)),
	)
	return out
}

// sumAll sums field across quarters. Partial sums are never produced: any
// quarter without a numeric value voids the total.
func sumAll(quarters []model.Statement, field string) (float64, bool) {
	var total float64
	for _, q := range quarters {
		v, ok := q.Get(field).Float()
		if !ok {
			return 0, false
		}
		total += v
	}
	return total, true
}

// consecutive reports whether adjacent quarters are 80 to 100 days apart.
// Unparseable periods are assumed consecutive.
func consecutive(quarters []model.Statement) bool {
	for i := 0; i+1 < len(quarters); i++ {
		newer, ok1 := model.ParsePeriod(quarters[i].Period)
		older, ok2 := model.ParsePeriod(quarters[i+1].Period)
		if !ok1 || !ok2 {
			return true
		}
		days := newer.Sub(older).Hours() / 24
		if days < minQuarterGap || days > maxQuarterGap {
			return false
		}
	}
	return true
}
