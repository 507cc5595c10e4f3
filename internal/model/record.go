package model

import (
	"slices"
	"time"
)

// PricePoint is one daily bar of price history.
type PricePoint struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adjusted_close"`
	Volume   float64   `json:"volume"`
	Source   Source    `json:"source"`
}

// NewsItem is a single company news headline.
type NewsItem struct {
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary,omitempty"`
	Publisher string    `json:"publisher,omitempty"`
	URL       string    `json:"url"`
	Category  string    `json:"category,omitempty"`
	Published time.Time `json:"published"`
	Source    Source    `json:"source"`
}

// InsiderSentiment is the monthly share purchase ratio for insiders.
type InsiderSentiment struct {
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	MSPR   float64 `json:"mspr"`
	Change float64 `json:"change"`
}

// InsiderTransaction is a single reported insider trade.
type InsiderTransaction struct {
	Name            string  `json:"name"`
	Share           float64 `json:"share"`
	Change          float64 `json:"change"`
	Price           float64 `json:"transaction_price"`
	Code            string  `json:"transaction_code"`
	FilingDate      string  `json:"filing_date"`
	TransactionDate string  `json:"transaction_date"`
}

// Sentiment groups insider activity signals.
type Sentiment struct {
	Insider      []InsiderSentiment   `json:"insider_sentiment,omitempty"`
	Transactions []InsiderTransaction `json:"insider_transactions,omitempty"`
	Source       Source               `json:"source"`
}

// Clone returns a deep copy of s.
func (s *Sentiment) Clone() *Sentiment {
	if s == nil {
		return nil
	}
	return &Sentiment{
		Insider:      slices.Clone(s.Insider),
		Transactions: slices.Clone(s.Transactions),
		Source:       s.Source,
	}
}

// Record is the reconciled view of one company. Statement lists are ordered
// most recent first once the record has been processed.
type Record struct {
	Symbol         string          `json:"symbol"`
	Profile        *Profile        `json:"profile,omitempty"`
	Income         []Statement     `json:"income_statements"`
	Balance        []Statement     `json:"balance_sheets"`
	CashFlow       []Statement     `json:"cash_flows"`
	AnalystTargets *AnalystTargets `json:"analyst_targets,omitempty"`
	Forecast       *Forecast       `json:"forecast,omitempty"`
	PriceHistory   []PricePoint    `json:"price_history,omitempty"`
	News           []NewsItem      `json:"news,omitempty"`
	Sentiment      *Sentiment      `json:"sentiment,omitempty"`
	Peers          []string        `json:"peers,omitempty"`
	MergeLog       []MergeEntry    `json:"merge_log,omitempty"`
	ReconciledAt   time.Time       `json:"reconciled_at"`
}

// NewRecord returns an empty record for symbol.
func NewRecord(symbol string) *Record {
	return &Record{Symbol: symbol}
}

// Clone returns a deep copy. Phases derive their output from a clone so the
// previous record is never modified.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Profile = r.Profile.Clone()
	out.Income = CloneStatements(r.Income)
	out.Balance = CloneStatements(r.Balance)
	out.CashFlow = CloneStatements(r.CashFlow)
	out.AnalystTargets = r.AnalystTargets.Clone()
	out.Forecast = r.Forecast.Clone()
	out.PriceHistory = slices.Clone(r.PriceHistory)
	out.News = slices.Clone(r.News)
	out.Sentiment = r.Sentiment.Clone()
	out.Peers = slices.Clone(r.Peers)
	out.MergeLog = cloneMergeLog(r.MergeLog)
	return &out
}

// Statements returns the list for the given statement type.
func (r *Record) Statements(t StatementType) []Statement {
	switch t {
	case IncomeStatement:
		return r.Income
	case BalanceSheet:
		return r.Balance
	case CashFlow:
		return r.CashFlow
	}
	return nil
}

// SetStatements replaces the list for the given statement type.
func (r *Record) SetStatements(t StatementType, list []Statement) {
	switch t {
	case IncomeStatement:
		r.Income = list
	case BalanceSheet:
		r.Balance = list
	case CashFlow:
		r.CashFlow = list
	}
}

// Latest returns the first statement of the given type, if any.
func (r *Record) Latest(t StatementType) (Statement, bool) {
	list := r.Statements(t)
	if len(list) == 0 {
		return Statement{}, false
	}
	return list[0], true
}
