package edgar

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/provider"
)

// CompanyFacts is the EDGAR company facts document.
type CompanyFacts struct {
	CIK        int               `json:"cik"`
	EntityName string            `json:"entityName"`
	Facts      map[string]FactNS `json:"facts"`
}

// FactNS groups facts by namespace ("us-gaap", "dei").
type FactNS map[string]Fact

// Fact is one XBRL concept with its values per unit.
type Fact struct {
	Label string                 `json:"label"`
	Units map[string][]FactValue `json:"units"`
}

// FactValue is one reported data point. Start is empty for instant
// (balance sheet) concepts.
type FactValue struct {
	Start string  `json:"start,omitempty"`
	End   string  `json:"end"`
	Val   float64 `json:"val"`
	Accn  string  `json:"accn"`
	FY    int     `json:"fy"`
	FP    string  `json:"fp"`
	Form  string  `json:"form"`
	Filed string  `json:"filed"`
}

// concept maps a statement field onto candidate us-gaap concepts, tried in
// order. negate flips payments reported as positive outflows.
type concept struct {
	names  []string
	unit   string
	negate bool
}

var taxonomy = map[model.StatementType]map[string]concept{
	model.IncomeStatement: {
		model.Revenue:           {names: []string{"RevenueFromContractWithCustomerExcludingAssessedTax", "Revenues", "SalesRevenueNet"}},
		model.CostOfRevenue:     {names: []string{"CostOfGoodsAndServicesSold", "CostOfRevenue"}},
		model.GrossProfit:       {names: []string{"GrossProfit"}},
		model.OperatingExpense:  {names: []string{"OperatingExpenses"}},
		model.OperatingIncome:   {names: []string{"OperatingIncomeLoss"}},
		model.PretaxIncome:      {names: []string{"IncomeLossFromContinuingOperationsBeforeIncomeTaxesExtraordinaryItemsNoncontrollingInterest"}},
		model.InterestExpense:   {names: []string{"InterestExpense", "InterestExpenseNonoperating"}},
		model.IncomeTaxExpense:  {names: []string{"IncomeTaxExpenseBenefit"}},
		model.NetIncome:         {names: []string{"NetIncomeLoss"}},
		model.EPS:               {names: []string{"EarningsPerShareBasic"}, unit: "USD/shares"},
		model.EPSDiluted:        {names: []string{"EarningsPerShareDiluted"}, unit: "USD/shares"},
		model.SharesOutstanding: {names: []string{"WeightedAverageNumberOfSharesOutstandingBasic"}, unit: "shares"},
	},
	model.BalanceSheet: {
		model.TotalAssets:        {names: []string{"Assets"}},
		model.CurrentAssets:      {names: []string{"AssetsCurrent"}},
		model.Cash:               {names: []string{"CashAndCashEquivalentsAtCarryingValue"}},
		model.AccountsReceivable: {names: []string{"AccountsReceivableNetCurrent"}},
		model.Inventory:          {names: []string{"InventoryNet"}},
		model.TotalLiabilities:   {names: []string{"Liabilities"}},
		model.CurrentLiabilities: {names: []string{"LiabilitiesCurrent"}},
		model.TotalDebt:          {names: []string{"LongTermDebt", "DebtInstrumentCarryingAmount"}},
		model.ShareholderEquity:  {names: []string{"StockholdersEquity"}},
	},
	model.CashFlow: {
		model.OperatingCashFlow:      {names: []string{"NetCashProvidedByUsedInOperatingActivities"}},
		model.InvestingCashFlow:      {names: []string{"NetCashProvidedByUsedInInvestingActivities"}},
		model.FinancingCashFlow:      {names: []string{"NetCashProvidedByUsedInFinancingActivities"}},
		model.Capex:                  {names: []string{"PaymentsToAcquirePropertyPlantAndEquipment"}, negate: true},
		model.StockBasedCompensation: {names: []string{"ShareBasedCompensation", "AllocatedShareBasedCompensationExpense"}},
		model.DividendsPaid:          {names: []string{"PaymentsOfDividends", "PaymentsOfDividendsCommonStock"}, negate: true},
		model.RepurchaseOfStock:      {names: []string{"PaymentsForRepurchaseOfCommonStock"}, negate: true},
	},
}

// Duration windows in days for annual and quarterly flow values.
const (
	minYearDays    = 350
	maxYearDays    = 380
	minQuarterDays = 80
	maxQuarterDays = 100
)

type periodKey struct {
	end  string
	kind model.PeriodKind
}

// statementsFromFacts builds FY statements from 10-K values and Q
// statements from 10-Q values. Flow concepts must span a year or a quarter;
// year-to-date 10-Q values are skipped. Earlier candidate concepts win over
// later ones for the same period, then the latest filing wins.
func statementsFromFacts(facts *CompanyFacts, t model.StatementType) []model.Statement {
	if facts == nil {
		return nil
	}
	gaap := facts.Facts["us-gaap"]
	instant := t == model.BalanceSheet

	type picked struct {
		val   float64
		filed string
		rank  int
	}
	values := make(map[periodKey]map[string]picked)

	for field, c := range taxonomy[t] {
		unit := cmp.Or(c.unit, "USD")
		for rank, name := range c.names {
			for _, v := range gaap[name].Units[unit] {
				kind, ok := classify(v, instant)
				if !ok {
					continue
				}
				key := periodKey{end: v.End, kind: kind}
				if values[key] == nil {
					values[key] = make(map[string]picked)
				}
				if prev, seen := values[key][field]; seen && (prev.rank < rank || prev.rank == rank && prev.filed >= v.Filed) {
					continue
				}
				val := v.Val
				if c.negate {
					val = -math.Abs(val)
				}
				values[key][field] = picked{val: val, filed: v.Filed, rank: rank}
			}
		}
	}

	out := make([]model.Statement, 0, len(values))
	for key, fields := range values {
		f := provider.NewFields(src)
		for name, p := range fields {
			f.Scaled(name, p.val, 1)
		}
		st := model.NewStatement(t, key.end, key.kind)
		st.Fields = f.Set()
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b model.Statement) int {
		if c := strings.Compare(b.Period, a.Period); c != 0 {
			return c
		}
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
	return out
}

// classify maps a fact value onto a period kind.
func classify(v FactValue, instant bool) (model.PeriodKind, bool) {
	var kind model.PeriodKind
	switch strings.TrimSuffix(v.Form, "/A") {
	case "10-K", "20-F", "40-F":
		kind = model.PeriodFY
	case "10-Q":
		kind = model.PeriodQ
	default:
		return "", false
	}
	if v.End == "" {
		return "", false
	}
	if instant {
		return kind, v.Start == ""
	}
	days, ok := spanDays(v.Start, v.End)
	if !ok {
		return "", false
	}
	switch {
	case kind == model.PeriodFY && days >= minYearDays && days <= maxYearDays:
		return model.PeriodFY, true
	case kind == model.PeriodQ && days >= minQuarterDays && days <= maxQuarterDays:
		return model.PeriodQ, true
	}
	return "", false
}

func spanDays(start, end string) (int, bool) {
	s, err := time.Parse(time.DateOnly, start)
	if err != nil {
		return 0, false
	}
	e, err := time.Parse(time.DateOnly, end)
	if err != nil {
		return 0, false
	}
	return int(e.Sub(s).Hours()/24) + 1, true
}
