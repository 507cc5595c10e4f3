// Package gap inspects a partially reconciled record and reports which
// critical data is still missing.
package gap

import (
	"strings"

	"github.com/sells-group/fundamentals/internal/model"
)

// Config toggles which gaps may trigger further fetch phases.
type Config struct {
	MinHistoryYears         int  `yaml:"min_history_years" mapstructure:"min_history_years"`
	DeepPhaseEnabled        bool `yaml:"deep_phase_enabled" mapstructure:"deep_phase_enabled"`
	FallbackPhaseEnabled    bool `yaml:"fallback_phase_enabled" mapstructure:"fallback_phase_enabled"`
	FetchOnMissingValuation bool `yaml:"fetch_on_missing_valuation" mapstructure:"fetch_on_missing_valuation"`
	FetchOnMissingEstimates bool `yaml:"fetch_on_missing_estimates" mapstructure:"fetch_on_missing_estimates"`
	FetchOnShallowHistory   bool `yaml:"fetch_on_shallow_history" mapstructure:"fetch_on_shallow_history"`
	FetchOnMissingEBITDA    bool `yaml:"fetch_on_missing_ebitda" mapstructure:"fetch_on_missing_ebitda"`
}

// DefaultMinHistoryYears is the number of annual statements a list needs
// before its history is considered deep enough.
const DefaultMinHistoryYears = 4

// DefaultConfig enables every trigger.
func DefaultConfig() Config {
	return Config{
		MinHistoryYears:         DefaultMinHistoryYears,
		DeepPhaseEnabled:        true,
		FallbackPhaseEnabled:    true,
		FetchOnMissingValuation: true,
		FetchOnMissingEstimates: true,
		FetchOnShallowHistory:   true,
		FetchOnMissingEBITDA:    true,
	}
}

// CriticalNoProfile is reported when the record has no profile at all.
const CriticalNoProfile = "no profile data"

// History counts annual statements per list.
type History struct {
	Shallow       bool `json:"is_shallow"`
	IncomeYears   int  `json:"income_years"`
	BalanceYears  int  `json:"balance_years"`
	CashFlowYears int  `json:"cashflow_years"`
}

// Financial describes critical fields missing from the latest income statement.
type Financial struct {
	Incomplete bool     `json:"is_incomplete"`
	Missing    []string `json:"missing,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Report is a snapshot of missing data. It is recomputed from scratch on
// every call to Analyze.
type Report struct {
	CriticalError          string    `json:"critical_error,omitempty"`
	MissingValuation       bool      `json:"missing_valuation"`
	MissingBasic           bool      `json:"missing_basic"`
	MissingEstimates       bool      `json:"missing_estimates"`
	MissingSurpriseHistory bool      `json:"missing_surprise_history"`
	MissingEBITDA          bool      `json:"missing_ebitda"`
	History                History   `json:"history_gaps"`
	Financial              Financial `json:"financial_gaps"`
	NeedsDeepPhase         bool      `json:"needs_deep_phase"`
	NeedsFallbackPhase     bool      `json:"needs_fallback_phase"`
}

// Critical reports whether analysis could not run.
func (r Report) Critical() bool { return r.CriticalError != "" }

// Gaps names every gap present, in a fixed order.
func (r Report) Gaps() []string {
	if r.Critical() {
		return []string{"critical: " + r.CriticalError}
	}
	var gaps []string
	if r.MissingValuation {
		gaps = append(gaps, "valuation")
	}
	if r.MissingBasic {
		gaps = append(gaps, "basic")
	}
	if r.MissingEstimates {
		gaps = append(gaps, "estimates")
	}
	if r.MissingEBITDA {
		gaps = append(gaps, "ebitda")
	}
	if r.History.Shallow {
		gaps = append(gaps, "history")
	}
	if r.Financial.Incomplete {
		gaps = append(gaps, "financials")
	}
	return gaps
}

// String renders the gaps for logs, or "None".
func (r Report) String() string {
	gaps := r.Gaps()
	if len(gaps) == 0 {
		return "None"
	}
	return strings.Join(gaps, ", ")
}

// Analyze computes a Report for rec. It only reads rec. Absent values
// include nulls, numeric zero and empty strings.
func Analyze(rec *model.Record, cfg Config) Report {
	if rec == nil || rec.Profile == nil {
		return Report{CriticalError: CriticalNoProfile}
	}
	p := rec.Profile

	r := Report{
		MissingValuation: anyEmpty(p.Get(model.PERatio), p.Get(model.PBRatio), p.Get(model.PSRatio)),
		MissingBasic:     anyEmpty(p.Get(model.Sector), p.Get(model.Industry), p.Get(model.MarketCap)),
		MissingEstimates: rec.AnalystTargets == nil && forwardPEMissing(rec),
		MissingEBITDA:    true,
		History:          history(rec, cfg.MinHistoryYears),
		Financial:        financial(rec),
	}
	r.MissingSurpriseHistory = rec.Forecast == nil || len(rec.Forecast.SurpriseHistory) == 0
	if latest, ok := rec.Latest(model.IncomeStatement); ok {
		r.MissingEBITDA = latest.Get(model.EBITDA).Empty()
	}

	if cfg.DeepPhaseEnabled {
		r.NeedsDeepPhase = (r.MissingValuation && cfg.FetchOnMissingValuation) ||
			(r.MissingEstimates && cfg.FetchOnMissingEstimates) ||
			(r.History.Shallow && cfg.FetchOnShallowHistory) ||
			(r.MissingEBITDA && cfg.FetchOnMissingEBITDA)
	}
	if cfg.FallbackPhaseEnabled {
		r.NeedsFallbackPhase = r.Financial.Incomplete || r.MissingBasic
	}
	return r
}

// forwardPEMissing checks the profile first, then forecast data.
func forwardPEMissing(rec *model.Record) bool {
	return rec.Profile.Get(model.ForwardPE).Empty() && rec.Forecast.Get(model.ForwardPE).Empty()
}

func anyEmpty(fields ...model.Field) bool {
	for _, f := range fields {
		if f.Empty() {
			return true
		}
	}
	return false
}

func history(rec *model.Record, minYears int) History {
	if minYears <= 0 {
		minYears = DefaultMinHistoryYears
	}
	h := History{
		IncomeYears:   model.CountKind(rec.Income, model.PeriodFY),
		BalanceYears:  model.CountKind(rec.Balance, model.PeriodFY),
		CashFlowYears: model.CountKind(rec.CashFlow, model.PeriodFY),
	}
	h.Shallow = h.IncomeYears < minYears || h.BalanceYears < minYears || h.CashFlowYears < minYears
	return h
}

var criticalIncomeFields = []struct {
	label string
	field string
}{
	{"tax", model.IncomeTaxExpense},
	{"interest", model.InterestExpense},
	{"op_income", model.OperatingIncome},
}

func financial(rec *model.Record) Financial {
	latest, ok := rec.Latest(model.IncomeStatement)
	if !ok {
		return Financial{Incomplete: true, Reason: "no income statements"}
	}
	var f Financial
	for _, c := range criticalIncomeFields {
		if latest.Get(c.field).Empty() {
			f.Missing = append(f.Missing, c.label)
		}
	}
	f.Incomplete = len(f.Missing) > 0
	return f
}
