package model

import (
	"strings"
	"time"
)

// PeriodKind classifies the span a statement covers.
type PeriodKind string

const (
	PeriodFY  PeriodKind = "FY"
	PeriodQ   PeriodKind = "Q"
	PeriodTTM PeriodKind = "TTM"
)

// StatementType names one of the three financial statements.
type StatementType string

const (
	IncomeStatement StatementType = "income"
	BalanceSheet    StatementType = "balance"
	CashFlow        StatementType = "cash_flow"
)

// StatementTypes lists every statement type in reporting order.
var StatementTypes = []StatementType{IncomeStatement, BalanceSheet, CashFlow}

// Income statement fields.
const (
	Revenue           = "revenue"
	CostOfRevenue     = "cost_of_revenue"
	GrossProfit       = "gross_profit"
	OperatingExpense  = "operating_expenses"
	OperatingIncome   = "operating_income"
	PretaxIncome      = "pretax_income"
	InterestExpense   = "interest_expense"
	IncomeTaxExpense  = "income_tax_expense"
	NetIncome         = "net_income"
	EPS               = "eps"
	EPSDiluted        = "eps_diluted"
	SharesOutstanding = "shares_outstanding"
	EBITDA            = "ebitda"
)

// Balance sheet fields.
const (
	TotalAssets        = "total_assets"
	CurrentAssets      = "current_assets"
	Cash               = "cash"
	AccountsReceivable = "accounts_receivable"
	Inventory          = "inventory"
	TotalLiabilities   = "total_liabilities"
	CurrentLiabilities = "current_liabilities"
	TotalDebt          = "total_debt"
	ShareholderEquity  = "shareholder_equity"
)

// Cash flow fields.
const (
	OperatingCashFlow      = "operating_cash_flow"
	InvestingCashFlow      = "investing_cash_flow"
	FinancingCashFlow      = "financing_cash_flow"
	Capex                  = "capex"
	FreeCashFlow           = "free_cash_flow"
	StockBasedCompensation = "stock_based_compensation"
	DividendsPaid          = "dividends_paid"
	RepurchaseOfStock      = "repurchase_of_stock"
)

var statementSchemas = map[StatementType][]string{
	IncomeStatement: {
		Revenue, CostOfRevenue, GrossProfit, OperatingExpense, OperatingIncome,
		PretaxIncome, InterestExpense, IncomeTaxExpense, NetIncome,
		EPS, EPSDiluted, SharesOutstanding, EBITDA,
	},
	BalanceSheet: {
		TotalAssets, CurrentAssets, Cash, AccountsReceivable, Inventory,
		TotalLiabilities, CurrentLiabilities, TotalDebt, ShareholderEquity,
	},
	CashFlow: {
		OperatingCashFlow, InvestingCashFlow, FinancingCashFlow, Capex,
		FreeCashFlow, StockBasedCompensation, DividendsPaid, RepurchaseOfStock,
	},
}

// Schema returns the declared field names for the statement type.
func (t StatementType) Schema() []string {
	return statementSchemas[t]
}

// Statement is one reporting period of a financial statement.
type Statement struct {
	Type   StatementType `json:"type"`
	Period string        `json:"period"`
	Kind   PeriodKind    `json:"kind"`
	Fields FieldSet      `json:"fields"`
}

// NewStatement returns an empty statement for the given period.
func NewStatement(t StatementType, period string, kind PeriodKind) Statement {
	return Statement{Type: t, Period: period, Kind: kind, Fields: FieldSet{}}
}

// Get returns the named field, or a null field.
func (s Statement) Get(name string) Field {
	return s.Fields.Get(name)
}

// With returns a copy of s with the named field replaced.
func (s Statement) With(name string, f Field) Statement {
	s.Fields = s.Fields.With(name, f)
	return s
}

// Clone returns a deep copy of s.
func (s Statement) Clone() Statement {
	s.Fields = s.Fields.Clone()
	return s
}

// IsTTM reports whether the statement covers a trailing twelve-month span,
// either by kind or by its period label.
func (s Statement) IsTTM() bool {
	return s.Kind == PeriodTTM || strings.Contains(strings.ToUpper(s.Period), "TTM")
}

var periodLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

// ParsePeriod parses a period label into a date. A "TTM-" prefix is ignored.
func ParsePeriod(period string) (time.Time, bool) {
	p := strings.TrimSpace(period)
	p = strings.TrimPrefix(p, "TTM-")
	for _, layout := range periodLayouts {
		if t, err := time.Parse(layout, p); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CloneStatements deep-copies a statement list.
func CloneStatements(in []Statement) []Statement {
	if in == nil {
		return nil
	}
	out := make([]Statement, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// CountKind returns how many statements in list have the given kind.
func CountKind(list []Statement, kind PeriodKind) int {
	n := 0
	for _, s := range list {
		if s.Kind == kind {
			n++
		}
	}
	return n
}
