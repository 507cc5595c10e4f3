// Package alphavantage is the fallback statement and profile client.
package alphavantage

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/fundamentals/internal/fetcher"
	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/provider"
	"github.com/sells-group/fundamentals/internal/resilience"
)

const src = model.SourceAlphaVantage

var (
	_ provider.Statements = (*Client)(nil)
	_ provider.Profiles   = (*Client)(nil)
)

// ErrThrottled is returned when the API answers 200 with a rate limit note
// instead of data.
var ErrThrottled = eris.New("alphavantage: throttled")

// Client talks to the Alpha Vantage query API.
type Client struct {
	http    *fetcher.Client
	baseURL string
	key     string
}

// New creates a Client. baseURL is usually https://www.alphavantage.co.
func New(http *fetcher.Client, baseURL, key string) *Client {
	return &Client{http: http, baseURL: strings.TrimRight(baseURL, "/"), key: key}
}

func (c *Client) Name() model.Source { return src }

// query calls function for symbol and decodes into a generic object,
// translating the in-band error and throttle notes.
func (c *Client) query(ctx context.Context, function, symbol string) (map[string]any, error) {
	var out map[string]any
	q := url.Values{"function": {function}, "symbol": {symbol}, "apikey": {c.key}}
	if err := c.http.GetJSON(ctx, c.baseURL+"/query", q, &out); err != nil {
		return nil, eris.Wrapf(err, "alphavantage: %s %s", function, symbol)
	}
	for _, k := range []string{"Note", "Information"} {
		if msg, ok := out[k].(string); ok {
			return nil, resilience.NewTransientError(eris.Wrapf(ErrThrottled, "%s %s: %s", function, symbol, msg), 429)
		}
	}
	if msg, ok := out["Error Message"].(string); ok {
		return nil, eris.Wrapf(provider.ErrNotAvailable, "alphavantage: %s %s: %s", function, symbol, msg)
	}
	if len(out) == 0 {
		return nil, eris.Wrapf(provider.ErrNotAvailable, "alphavantage: %s %s: empty response", function, symbol)
	}
	return out, nil
}

var functions = map[model.StatementType]string{
	model.IncomeStatement: "INCOME_STATEMENT",
	model.BalanceSheet:    "BALANCE_SHEET",
	model.CashFlow:        "CASH_FLOW",
}

var statementFields = map[model.StatementType]map[string]string{
	model.IncomeStatement: {
		"totalRevenue":      model.Revenue,
		"costOfRevenue":     model.CostOfRevenue,
		"grossProfit":       model.GrossProfit,
		"operatingExpenses": model.OperatingExpense,
		"operatingIncome":   model.OperatingIncome,
		"incomeBeforeTax":   model.PretaxIncome,
		"interestExpense":   model.InterestExpense,
		"incomeTaxExpense":  model.IncomeTaxExpense,
		"netIncome":         model.NetIncome,
		"ebitda":            model.EBITDA,
	},
	model.BalanceSheet: {
		"totalAssets":                           model.TotalAssets,
		"totalCurrentAssets":                    model.CurrentAssets,
		"cashAndCashEquivalentsAtCarryingValue": model.Cash,
		"currentNetReceivables":                 model.AccountsReceivable,
		"inventory":                             model.Inventory,
		"totalLiabilities":                      model.TotalLiabilities,
		"totalCurrentLiabilities":               model.CurrentLiabilities,
		"shortLongTermDebtTotal":                model.TotalDebt,
		"totalShareholderEquity":                model.ShareholderEquity,
		"commonStockSharesOutstanding":          model.SharesOutstanding,
	},
	model.CashFlow: {
		"operatingCashflow":                  model.OperatingCashFlow,
		"cashflowFromInvestment":             model.InvestingCashFlow,
		"cashflowFromFinancing":              model.FinancingCashFlow,
		"capitalExpenditures":                model.Capex,
		"dividendPayout":                     model.DividendsPaid,
		"paymentsForRepurchaseOfCommonStock": model.RepurchaseOfStock,
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

func (c *Client) statements(ctx context.Context, t model.StatementType, symbol string) ([]model.Statement, error) {
	resp, err := c.query(ctx, functions[t], symbol)
	if err != nil {
		return nil, err
	}
	var out []model.Statement
	for key, kind := range map[string]model.PeriodKind{"annualReports": model.PeriodFY, "quarterlyReports": model.PeriodQ} {
		reports, _ := resp[key].([]any)
		for _, r := range reports {
			report, ok := r.(map[string]any)
			if !ok {
				continue
			}
			if st, ok := convertReport(t, kind, report); ok {
				out = append(out, st)
			}
		}
	}
	// Newest first, annual before quarterly on a shared date.
	slices.SortFunc(out, func(a, b model.Statement) int {
		if c := strings.Compare(b.Period, a.Period); c != 0 {
			return c
		}
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
	return out, nil
}

func convertReport(t model.StatementType, kind model.PeriodKind, report map[string]any) (model.Statement, bool) {
	date, _ := report["fiscalDateEnding"].(string)
	if date == "" {
		return model.Statement{}, false
	}
	f := provider.NewFields(src)
	for key, name := range statementFields[t] {
		raw, _ := report[key].(string)
		f.Parse(name, raw)
	}
	st := model.NewStatement(t, date, kind)
	st.Fields = f.Set()
	return st, true
}

var overviewNumbers = map[string]string{
	"MarketCapitalization": model.MarketCap,
	"Beta":                 model.Beta,
	"PERatio":              model.PERatio,
	"PEGRatio":             model.PEGRatio,
	"ForwardPE":            model.ForwardPE,
	"PriceToBookRatio":     model.PBRatio,
	"PriceToSalesRatioTTM": model.PSRatio,
	"BookValue":            model.BookValuePerShare,
	"DividendYield":        model.DividendYield,
	"EPS":                  model.TrailingEPS,
	"EVToEBITDA":           model.EnterpriseToEBITDA,
	"SharesOutstanding":    model.SharesOutstanding,
	"RevenuePerShareTTM":   model.RevenuePerShare,
}

var overviewText = map[string]string{
	"Name":         model.CompanyName,
	"Description":  model.Description,
	"Sector":       model.Sector,
	"Industry":     model.Industry,
	"Currency":     model.FinancialCurrency,
	"OfficialSite": model.Website,
}

func (c *Client) FetchProfile(ctx context.Context, symbol string) (*model.Profile, error) {
	resp, err := c.query(ctx, "OVERVIEW", symbol)
	if err != nil {
		return nil, err
	}
	f := provider.NewFields(src)
	for key, name := range overviewNumbers {
		raw, _ := resp[key].(string)
		f.Parse(name, raw)
	}
	for key, name := range overviewText {
		raw, _ := resp[key].(string)
		if name == model.Sector || name == model.Industry {
			raw = titleUpper(raw)
		}
		f.Text(name, raw)
	}
	return &model.Profile{Symbol: symbol, Fields: f.Set()}, nil
}

// titleUpper rewrites an all-caps name such as "ELECTRONIC COMPUTERS" in
// title case, matching how the other providers spell sectors.
func titleUpper(s string) string {
	if s == "" || s != strings.ToUpper(s) {
		return s
	}
	return cases.Title(language.English).String(strings.ToLower(s))
}
