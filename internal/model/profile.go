package model

// Profile fields.
const (
	CompanyName            = "company_name"
	Industry               = "industry"
	Sector                 = "sector"
	MarketCap              = "market_cap"
	Description            = "description"
	Website                = "website"
	CEO                    = "ceo"
	Beta                   = "beta"
	ForwardEPS             = "forward_eps"
	TrailingEPS            = "trailing_eps"
	ForwardPE              = "forward_pe"
	PEGRatio               = "peg_ratio"
	EarningsGrowth         = "earnings_growth"
	PERatio                = "pe_ratio"
	PBRatio                = "pb_ratio"
	PSRatio                = "ps_ratio"
	BookValuePerShare      = "book_value_per_share"
	DividendYield          = "dividend_yield"
	FinancialCurrency      = "financial_currency"
	ListingCurrency        = "listing_currency"
	HeldPercentInsiders    = "held_percent_insiders"
	HeldPercentInstitution = "held_percent_institutions"
	ShortRatio             = "short_ratio"
	EnterpriseValue        = "enterprise_value"
	EnterpriseToEBITDA     = "enterprise_to_ebitda"
	RecommendationKey      = "recommendation_key"
	CurrentRatio           = "current_ratio"
	QuickRatio             = "quick_ratio"
	RevenuePerShare        = "revenue_per_share"
)

// ProfileSchema lists the provenance-tagged profile fields. EPS and
// SharesOutstanding are shared with the income statement schema.
var ProfileSchema = []string{
	CompanyName, Industry, Sector, MarketCap, Description, Website, CEO, Beta,
	SharesOutstanding, ForwardEPS, TrailingEPS, ForwardPE, PEGRatio, EarningsGrowth,
	PERatio, PBRatio, PSRatio, EPS, BookValuePerShare, DividendYield,
	FinancialCurrency, ListingCurrency, HeldPercentInsiders, HeldPercentInstitution,
	ShortRatio, EnterpriseValue, EnterpriseToEBITDA, RecommendationKey,
	CurrentRatio, QuickRatio, RevenuePerShare,
}

// Profile describes the company. Symbol is a plain scalar; every other
// attribute carries its own provenance.
type Profile struct {
	Symbol string   `json:"symbol"`
	Fields FieldSet `json:"fields"`
}

// NewProfile returns an empty profile for symbol.
func NewProfile(symbol string) *Profile {
	return &Profile{Symbol: symbol, Fields: FieldSet{}}
}

// Get returns the named field. A nil profile yields a null field.
func (p *Profile) Get(name string) Field {
	if p == nil {
		return Null()
	}
	return p.Fields.Get(name)
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	return &Profile{Symbol: p.Symbol, Fields: p.Fields.Clone()}
}
