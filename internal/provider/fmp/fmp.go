// Package fmp is the Financial Modeling Prep client used by the deep phase:
// statements, profile, TTM ratios, growth and analyst estimates.
package fmp

import (
	"context"
	"errors"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fundamentals/internal/fetcher"
	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/provider"
)

const src = model.SourceFMP

var (
	_ provider.Statements  = (*Client)(nil)
	_ provider.Profiles    = (*Client)(nil)
	_ provider.Supplements = (*Client)(nil)
	_ provider.Forecasts   = (*Client)(nil)
)

// Client talks to the FMP v3 API.
type Client struct {
	http    *fetcher.Client
	baseURL string
	key     string
	limit   int
	now     func() time.Time
}

// New creates a Client. baseURL is usually
// https://financialmodelingprep.com/api/v3.
func New(http *fetcher.Client, baseURL, key string) *Client {
	return &Client{
		http:    http,
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		limit:   10,
		now:     time.Now,
	}
}

func (c *Client) Name() model.Source { return src }

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("apikey", c.key)
	return c.http.GetJSON(ctx, c.baseURL+path, q, out)
}

// row is one element of an FMP statement array.
type row map[string]any

func (r row) str(key string) string {
	s, _ := r[key].(string)
	return s
}

func (r row) num(key string) *float64 {
	switch v := r[key].(type) {
	case float64:
		return &v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

var statementPaths = map[model.StatementType]string{
	model.IncomeStatement: "/income-statement/",
	model.BalanceSheet:    "/balance-sheet-statement/",
	model.CashFlow:        "/cash-flow-statement/",
}

var statementFields = map[model.StatementType]map[string]string{
	model.IncomeStatement: {
		"revenue":               model.Revenue,
		"costOfRevenue":         model.CostOfRevenue,
		"grossProfit":           model.GrossProfit,
		"operatingExpenses":     model.OperatingExpense,
		"operatingIncome":       model.OperatingIncome,
		"incomeBeforeTax":       model.PretaxIncome,
		"interestExpense":       model.InterestExpense,
		"incomeTaxExpense":      model.IncomeTaxExpense,
		"netIncome":             model.NetIncome,
		"eps":                   model.EPS,
		"epsdiluted":            model.EPSDiluted,
		"weightedAverageShsOut": model.SharesOutstanding,
		"ebitda":                model.EBITDA,
	},
	model.BalanceSheet: {
		"totalAssets":             model.TotalAssets,
		"totalCurrentAssets":      model.CurrentAssets,
		"cashAndCashEquivalents":  model.Cash,
		"netReceivables":          model.AccountsReceivable,
		"inventory":               model.Inventory,
		"totalLiabilities":        model.TotalLiabilities,
		"totalCurrentLiabilities": model.CurrentLiabilities,
		"totalDebt":               model.TotalDebt,
		"totalStockholdersEquity": model.ShareholderEquity,
	},
	model.CashFlow: {
		"operatingCashFlow":                        model.OperatingCashFlow,
		"netCashUsedForInvestingActivites":         model.InvestingCashFlow,
		"netCashUsedProvidedByFinancingActivities": model.FinancingCashFlow,
		"capitalExpenditure":                       model.Capex,
		"freeCashFlow":                             model.FreeCashFlow,
		"stockBasedCompensation":                   model.StockBasedCompensation,
		"dividendsPaid":                            model.DividendsPaid,
		"commonStockRepurchased":                   model.RepurchaseOfStock,
	},
}

func (c *Client) FetchIncomeStatements(ctx context.Context, symbol string) ([]model.Statement, error) {
	return c.statements(ctx, model.IncomeStatement, symbol)
}

func (c *Client) FetchBalanceSheets(ctx context.Context, symbol string) ([]model.Statement, error) {
	return c.statements(ctx, model.BalanceSheet, symbol)
}

func (c *Client) FetchCashFlows(ctx context.Context, symbol string) ([]model.Statement, error) {
	return c.statements(ctx, model.CashFlow, symbol)
}

// statements fetches annual and quarterly rows. Quarterly data needs a paid
// plan; when it is refused the annual rows are returned alone.
func (c *Client) statements(ctx context.Context, t model.StatementType, symbol string) ([]model.Statement, error) {
	var out []model.Statement
	available := false
	for _, period := range []string{"annual", "quarter"} {
		var rows []row
		err := c.get(ctx, statementPaths[t]+url.PathEscape(symbol),
			url.Values{"period": {period}, "limit": {strconv.Itoa(c.limit)}}, &rows)
		if errors.Is(err, provider.ErrNotAvailable) {
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "fmp: fetch %s %s statements for %s", period, t, symbol)
		}
		available = true
		out = append(out, convertStatements(t, rows)...)
	}
	if !available {
		return nil, eris.Wrapf(provider.ErrNotAvailable, "fmp: %s statements for %s", t, symbol)
	}
	return out, nil
}

func convertStatements(t model.StatementType, rows []row) []model.Statement {
	out := make([]model.Statement, 0, len(rows))
	for _, r := range rows {
		date := r.str("date")
		if date == "" {
			continue
		}
		kind := model.PeriodQ
		if p := r.str("period"); p == "FY" || p == "" {
			kind = model.PeriodFY
		}
		f := provider.NewFields(src)
		for key, name := range statementFields[t] {
			f.Num(name, r.num(key))
		}
		st := model.NewStatement(t, date, kind)
		st.Fields = f.Set()
		out = append(out, st)
	}
	return out
}

type profileResponse struct {
	CompanyName string   `json:"companyName"`
	Industry    string   `json:"industry"`
	Sector      string   `json:"sector"`
	MktCap      *float64 `json:"mktCap"`
	Description string   `json:"description"`
	Website     string   `json:"website"`
	CEO         string   `json:"ceo"`
	Beta        *float64 `json:"beta"`
	Currency    string   `json:"currency"`
}

func (c *Client) FetchProfile(ctx context.Context, symbol string) (*model.Profile, error) {
	var resp []profileResponse
	if err := c.get(ctx, "/profile/"+url.PathEscape(symbol), nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "fmp: fetch profile for %s", symbol)
	}
	if len(resp) == 0 {
		return nil, eris.Wrapf(provider.ErrNotAvailable, "fmp: profile for %s", symbol)
	}
	p := resp[0]
	f := provider.NewFields(src).
		Text(model.CompanyName, p.CompanyName).
		Text(model.Industry, p.Industry).
		Text(model.Sector, p.Sector).
		Num(model.MarketCap, p.MktCap).
		Text(model.Description, p.Description).
		Text(model.Website, p.Website).
		Text(model.CEO, p.CEO).
		Num(model.Beta, p.Beta).
		Text(model.ListingCurrency, p.Currency)
	return &model.Profile{Symbol: symbol, Fields: f.Set()}, nil
}

var ratioFields = map[string]string{
	"peRatioTTM":                 model.PERatio,
	"priceToBookRatioTTM":        model.PBRatio,
	"priceToSalesRatioTTM":       model.PSRatio,
	"pegRatioTTM":                model.PEGRatio,
	"currentRatioTTM":            model.CurrentRatio,
	"quickRatioTTM":              model.QuickRatio,
	"dividendYieldTTM":           model.DividendYield,
	"enterpriseValueMultipleTTM": model.EnterpriseToEBITDA,
}

// FetchRatios returns trailing valuation and liquidity ratios as a profile.
func (c *Client) FetchRatios(ctx context.Context, symbol string) (*model.Profile, error) {
	var rows []row
	if err := c.get(ctx, "/ratios-ttm/"+url.PathEscape(symbol), nil, &rows); err != nil {
		return nil, eris.Wrapf(err, "fmp: fetch ratios for %s", symbol)
	}
	if len(rows) == 0 {
		return nil, eris.Wrapf(provider.ErrNotAvailable, "fmp: ratios for %s", symbol)
	}
	f := provider.NewFields(src)
	for key, name := range ratioFields {
		f.Num(name, rows[0].num(key))
	}
	return &model.Profile{Symbol: symbol, Fields: f.Set()}, nil
}

// FetchGrowth returns the latest annual growth figures as a profile.
func (c *Client) FetchGrowth(ctx context.Context, symbol string) (*model.Profile, error) {
	var rows []row
	if err := c.get(ctx, "/financial-growth/"+url.PathEscape(symbol), url.Values{"limit": {"1"}}, &rows); err != nil {
		return nil, eris.Wrapf(err, "fmp: fetch growth for %s", symbol)
	}
	if len(rows) == 0 {
		return nil, eris.Wrapf(provider.ErrNotAvailable, "fmp: growth for %s", symbol)
	}
	f := provider.NewFields(src).Num(model.EarningsGrowth, rows[0].num("epsgrowth"))
	return &model.Profile{Symbol: symbol, Fields: f.Set()}, nil
}

type estimate struct {
	Date                string   `json:"date"`
	EstimatedRevenueAvg *float64 `json:"estimatedRevenueAvg"`
	EstimatedEbitdaAvg  *float64 `json:"estimatedEbitdaAvg"`
	EstimatedEpsAvg     *float64 `json:"estimatedEpsAvg"`
	NumberAnalysts      *float64 `json:"numberAnalystsEstimatedEps"`
}

type surprise struct {
	Date     string  `json:"date"`
	Actual   float64 `json:"actualEarningResult"`
	Estimate float64 `json:"estimatedEarning"`
}

// FetchForecast builds a forecast from annual analyst estimates and the
// earnings surprise history.
func (c *Client) FetchForecast(ctx context.Context, symbol string) (*model.Forecast, error) {
	var estimates []estimate
	if err := c.get(ctx, "/analyst-estimates/"+url.PathEscape(symbol), url.Values{"period": {"annual"}}, &estimates); err != nil {
		return nil, eris.Wrapf(err, "fmp: fetch estimates for %s", symbol)
	}
	var surprises []surprise
	if err := c.get(ctx, "/earnings-surprises/"+url.PathEscape(symbol), nil, &surprises); err != nil &&
		!errors.Is(err, provider.ErrNotAvailable) {
		return nil, eris.Wrapf(err, "fmp: fetch earnings surprises for %s", symbol)
	}
	if len(estimates) == 0 && len(surprises) == 0 {
		return nil, eris.Wrapf(provider.ErrNotAvailable, "fmp: forecast for %s", symbol)
	}

	fc := model.NewForecast()
	year := c.now().Year()
	cur, next := estimateFor(estimates, year), estimateFor(estimates, year+1)
	f := provider.NewFields(src)
	if cur != nil {
		f.Num(model.EPSEstimateCurrentYear, cur.EstimatedEpsAvg).
			Num(model.RevenueEstimateCurrentYear, cur.EstimatedRevenueAvg).
			Num(model.NumberOfAnalysts, cur.NumberAnalysts)
	}
	if next != nil {
		f.Num(model.EPSEstimateNextYear, next.EstimatedEpsAvg).
			Num(model.RevenueEstimateNextYear, next.EstimatedRevenueAvg).
			Num(model.ForwardRevenue, next.EstimatedRevenueAvg).
			Num(model.EBITDAEstimateNextYear, next.EstimatedEbitdaAvg)
	}
	if cur != nil && next != nil {
		if g, ok := growth(cur.EstimatedEpsAvg, next.EstimatedEpsAvg); ok {
			f.Scaled(model.EarningsGrowthNextYear, g, 1)
		}
		if g, ok := growth(cur.EstimatedRevenueAvg, next.EstimatedRevenueAvg); ok {
			f.Scaled(model.RevenueGrowthNextYear, g, 1)
		}
	}
	fc.Fields = f.Set()

	for _, s := range surprises {
		es := model.EarningsSurprise{Period: s.Date, Actual: s.Actual, Estimate: s.Estimate, Surprise: s.Actual - s.Estimate}
		if s.Estimate != 0 {
			es.SurprisePercent = es.Surprise / math.Abs(s.Estimate) * 100
		}
		fc.SurpriseHistory = append(fc.SurpriseHistory, es)
	}
	if len(fc.SurpriseHistory) > 0 {
		fc.SurpriseSource = src
	}
	return fc, nil
}

// estimateFor returns the estimate whose fiscal year ends in year.
func estimateFor(list []estimate, year int) *estimate {
	i := slices.IndexFunc(list, func(e estimate) bool {
		return strings.HasPrefix(e.Date, strconv.Itoa(year)+"-")
	})
	if i < 0 {
		return nil
	}
	return &list[i]
}

func growth(from, to *float64) (float64, bool) {
	if from == nil || to == nil || *from == 0 {
		return 0, false
	}
	return (*to - *from) / math.Abs(*from), true
}
