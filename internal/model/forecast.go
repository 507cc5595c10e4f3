package model

import "slices"

// Forecast and analyst target fields.
const (
	ForwardRevenue             = "forward_revenue"
	PriceTargetLow             = "price_target_low"
	PriceTargetHigh            = "price_target_high"
	PriceTargetAvg             = "price_target_avg"
	PriceTargetConsensus       = "price_target_consensus"
	NumberOfAnalysts           = "number_of_analysts"
	RatingStrongBuy            = "analyst_rating_strong_buy"
	RatingBuy                  = "analyst_rating_buy"
	RatingHold                 = "analyst_rating_hold"
	RatingSell                 = "analyst_rating_sell"
	RatingStrongSell           = "analyst_rating_strong_sell"
	EPSEstimateCurrentYear     = "eps_estimate_current_year"
	EPSEstimateNextYear        = "eps_estimate_next_year"
	RevenueEstimateCurrentYear = "revenue_estimate_current_year"
	RevenueEstimateNextYear    = "revenue_estimate_next_year"
	EBITDAEstimateNextYear     = "ebitda_estimate_next_year"
	EarningsGrowthCurrentYear  = "earnings_growth_current_year"
	EarningsGrowthNextYear     = "earnings_growth_next_year"
	RevenueGrowthNextYear      = "revenue_growth_next_year"
)

// ForecastSchema lists the field-merged forecast fields.
var ForecastSchema = []string{
	ForwardEPS, ForwardPE, ForwardRevenue,
	PriceTargetLow, PriceTargetHigh, PriceTargetAvg, PriceTargetConsensus, NumberOfAnalysts,
	RatingStrongBuy, RatingBuy, RatingHold, RatingSell, RatingStrongSell,
	EPSEstimateCurrentYear, EPSEstimateNextYear,
	RevenueEstimateCurrentYear, RevenueEstimateNextYear, EBITDAEstimateNextYear,
	EarningsGrowthCurrentYear, EarningsGrowthNextYear, RevenueGrowthNextYear,
}

// TargetSchema lists the analyst target fields.
var TargetSchema = []string{
	PriceTargetLow, PriceTargetHigh, PriceTargetAvg, PriceTargetConsensus, NumberOfAnalysts,
}

// EarningsSurprise is one reported quarter against its consensus estimate.
type EarningsSurprise struct {
	Period          string  `json:"period"`
	Actual          float64 `json:"actual"`
	Estimate        float64 `json:"estimate"`
	Surprise        float64 `json:"surprise"`
	SurprisePercent float64 `json:"surprise_percent"`
}

// Forecast holds forward-looking analyst data.
type Forecast struct {
	Fields          FieldSet           `json:"fields"`
	SurpriseHistory []EarningsSurprise `json:"earnings_surprise_history,omitempty"`
	SurpriseSource  Source             `json:"earnings_surprise_source,omitempty"`
}

// NewForecast returns an empty forecast.
func NewForecast() *Forecast {
	return &Forecast{Fields: FieldSet{}}
}

// Get returns the named field. A nil forecast yields a null field.
func (f *Forecast) Get(name string) Field {
	if f == nil {
		return Null()
	}
	return f.Fields.Get(name)
}

// Clone returns a deep copy of f.
func (f *Forecast) Clone() *Forecast {
	if f == nil {
		return nil
	}
	return &Forecast{
		Fields:          f.Fields.Clone(),
		SurpriseHistory: slices.Clone(f.SurpriseHistory),
		SurpriseSource:  f.SurpriseSource,
	}
}

// HasTargets reports whether any price target field is populated.
func (f *Forecast) HasTargets() bool {
	if f == nil {
		return false
	}
	for _, name := range TargetSchema {
		if !f.Fields.Get(name).IsNull() {
			return true
		}
	}
	return false
}

// AnalystTargets is the consensus price target summary.
type AnalystTargets struct {
	Fields FieldSet `json:"fields"`
}

// Get returns the named field. Nil targets yield a null field.
func (a *AnalystTargets) Get(name string) Field {
	if a == nil {
		return Null()
	}
	return a.Fields.Get(name)
}

// Clone returns a deep copy of a.
func (a *AnalystTargets) Clone() *AnalystTargets {
	if a == nil {
		return nil
	}
	return &AnalystTargets{Fields: a.Fields.Clone()}
}

// TargetsFromForecast builds analyst targets from the forecast's target
// fields. It returns nil when the forecast carries none.
func TargetsFromForecast(f *Forecast) *AnalystTargets {
	if !f.HasTargets() {
		return nil
	}
	out := &AnalystTargets{Fields: FieldSet{}}
	for _, name := range TargetSchema {
		if v := f.Fields.Get(name); !v.IsNull() {
			out.Fields[name] = v
		}
	}
	return out
}
