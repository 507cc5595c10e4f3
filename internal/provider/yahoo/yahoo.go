// Package yahoo is the primary provider: one quoteSummary call seeds the
// whole record and a chart call adds daily price history.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals/internal/fetcher"
	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/provider"
)

const src = model.SourceYahoo

var _ provider.Primary = (*Client)(nil)

var summaryModules = []string{
	"price", "assetProfile", "summaryDetail", "defaultKeyStatistics", "financialData",
	"earningsTrend", "recommendationTrend",
	"incomeStatementHistory", "incomeStatementHistoryQuarterly",
	"balanceSheetHistory", "balanceSheetHistoryQuarterly",
	"cashflowStatementHistory", "cashflowStatementHistoryQuarterly",
}

// Client reads the unofficial Yahoo Finance JSON endpoints.
type Client struct {
	http         *fetcher.Client
	baseURL      string
	historyRange string
}

// New creates a Client. baseURL is usually https://query2.finance.yahoo.com.
func New(http *fetcher.Client, baseURL string) *Client {
	return &Client{
		http:         http,
		baseURL:      strings.TrimRight(baseURL, "/"),
		historyRange: "5y",
	}
}

func (c *Client) Name() model.Source { return src }

// FetchAll builds a base record: profile, FY and quarterly statements,
// forecast, analyst targets and price history. Missing price history is
// not an error.
func (c *Client) FetchAll(ctx context.Context, symbol string) (*model.Record, error) {
	summary, err := c.quoteSummary(ctx, symbol)
	if err != nil {
		return nil, err
	}

	rec := model.NewRecord(symbol)
	rec.Profile = summary.profile(symbol)
	for _, t := range model.StatementTypes {
		rec.SetStatements(t, summary.statements(t))
	}
	rec.Forecast = summary.forecast()
	rec.AnalystTargets = model.TargetsFromForecast(rec.Forecast)

	history, err := c.priceHistory(ctx, symbol)
	switch {
	case errors.Is(err, provider.ErrNotAvailable):
		zap.L().Debug("yahoo: no price history", zap.String("symbol", symbol))
	case err != nil:
		return nil, err
	default:
		rec.PriceHistory = history
	}

	zap.L().Debug("yahoo: base record",
		zap.String("symbol", symbol),
		zap.Int("income", len(rec.Income)),
		zap.Int("balance", len(rec.Balance)),
		zap.Int("cash_flow", len(rec.CashFlow)),
		zap.Int("prices", len(rec.PriceHistory)),
	)
	return rec, nil
}

// value is a quoteSummary scalar. Yahoo wraps numbers as {"raw":..,"fmt":..}
// and sends {} for missing values; other shapes decode to an empty value.
type value struct {
	num *float64
	str string
}

func (v *value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case float64:
		v.num = &x
	case string:
		v.str = x
	case map[string]any:
		if n, ok := x["raw"].(float64); ok {
			v.num = &n
		}
		if s, ok := x["fmt"].(string); ok {
			v.str = s
		}
	}
	return nil
}

type module map[string]value

type trendEntry struct {
	Period           string `json:"period"`
	Growth           value  `json:"growth"`
	EarningsEstimate struct {
		Avg value `json:"avg"`
	} `json:"earningsEstimate"`
	RevenueEstimate struct {
		Avg    value `json:"avg"`
		Growth value `json:"growth"`
	} `json:"revenueEstimate"`
}

type ratingEntry struct {
	Period     string `json:"period"`
	StrongBuy  value  `json:"strongBuy"`
	Buy        value  `json:"buy"`
	Hold       value  `json:"hold"`
	Sell       value  `json:"sell"`
	StrongSell value  `json:"strongSell"`
}

type summaryResult struct {
	Price                module `json:"price"`
	AssetProfile         module `json:"assetProfile"`
	SummaryDetail        module `json:"summaryDetail"`
	DefaultKeyStatistics module `json:"defaultKeyStatistics"`
	FinancialData        module `json:"financialData"`

	EarningsTrend struct {
		Trend []trendEntry `json:"trend"`
	} `json:"earningsTrend"`
	RecommendationTrend struct {
		Trend []ratingEntry `json:"trend"`
	} `json:"recommendationTrend"`

	IncomeAnnual struct {
		Rows []module `json:"incomeStatementHistory"`
	} `json:"incomeStatementHistory"`
	IncomeQuarterly struct {
		Rows []module `json:"incomeStatementHistory"`
	} `json:"incomeStatementHistoryQuarterly"`
	BalanceAnnual struct {
		Rows []module `json:"balanceSheetStatements"`
	} `json:"balanceSheetHistory"`
	BalanceQuarterly struct {
		Rows []module `json:"balanceSheetStatements"`
	} `json:"balanceSheetHistoryQuarterly"`
	CashFlowAnnual struct {
		Rows []module `json:"cashflowStatements"`
	} `json:"cashflowStatementHistory"`
	CashFlowQuarterly struct {
		Rows []module `json:"cashflowStatements"`
	} `json:"cashflowStatementHistoryQuarterly"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (c *Client) quoteSummary(ctx context.Context, symbol string) (*summaryResult, error) {
	var resp struct {
		QuoteSummary struct {
			Result []summaryResult `json:"result"`
			Error  *apiError       `json:"error"`
		} `json:"quoteSummary"`
	}
	u := c.baseURL + "/v10/finance/quoteSummary/" + url.PathEscape(symbol)
	q := url.Values{"modules": {strings.Join(summaryModules, ",")}}
	if err := c.http.GetJSON(ctx, u, q, &resp); err != nil {
		return nil, eris.Wrapf(err, "yahoo: quote summary for %s", symbol)
	}
	if e := resp.QuoteSummary.Error; e != nil {
		return nil, eris.Wrapf(provider.ErrNotAvailable, "yahoo: quote summary for %s: %s", symbol, e.Description)
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, eris.Wrapf(provider.ErrNotAvailable, "yahoo: empty quote summary for %s", symbol)
	}
	return &resp.QuoteSummary.Result[0], nil
}

type profileField struct {
	module string
	key    string
	field  string
	text   bool
}

var profileFields = []profileField{
	{"price", "longName", model.CompanyName, true},
	{"price", "marketCap", model.MarketCap, false},
	{"price", "currency", model.ListingCurrency, true},
	{"assetProfile", "industry", model.Industry, true},
	{"assetProfile", "sector", model.Sector, true},
	{"assetProfile", "longBusinessSummary", model.Description, true},
	{"assetProfile", "website", model.Website, true},
	{"summaryDetail", "beta", model.Beta, false},
	{"summaryDetail", "trailingPE", model.PERatio, false},
	{"summaryDetail", "priceToSalesTrailing12Months", model.PSRatio, false},
	{"summaryDetail", "dividendYield", model.DividendYield, false},
	{"summaryDetail", "forwardPE", model.ForwardPE, false},
	{"defaultKeyStatistics", "forwardEps", model.ForwardEPS, false},
	{"defaultKeyStatistics", "trailingEps", model.TrailingEPS, false},
	{"defaultKeyStatistics", "trailingEps", model.EPS, false},
	{"defaultKeyStatistics", "pegRatio", model.PEGRatio, false},
	{"defaultKeyStatistics", "priceToBook", model.PBRatio, false},
	{"defaultKeyStatistics", "bookValue", model.BookValuePerShare, false},
	{"defaultKeyStatistics", "sharesOutstanding", model.SharesOutstanding, false},
	{"defaultKeyStatistics", "heldPercentInsiders", model.HeldPercentInsiders, false},
	{"defaultKeyStatistics", "heldPercentInstitutions", model.HeldPercentInstitution, false},
	{"defaultKeyStatistics", "shortRatio", model.ShortRatio, false},
	{"defaultKeyStatistics", "enterpriseValue", model.EnterpriseValue, false},
	{"defaultKeyStatistics", "enterpriseToEbitda", model.EnterpriseToEBITDA, false},
	{"financialData", "earningsGrowth", model.EarningsGrowth, false},
	{"financialData", "financialCurrency", model.FinancialCurrency, true},
	{"financialData", "recommendationKey", model.RecommendationKey, true},
	{"financialData", "currentRatio", model.CurrentRatio, false},
	{"financialData", "quickRatio", model.QuickRatio, false},
	{"financialData", "revenuePerShare", model.RevenuePerShare, false},
}

func (r *summaryResult) module(name string) module {
	switch name {
	case "price":
		return r.Price
	case "assetProfile":
		return r.AssetProfile
	case "summaryDetail":
		return r.SummaryDetail
	case "defaultKeyStatistics":
		return r.DefaultKeyStatistics
	case "financialData":
		return r.FinancialData
	}
	return nil
}

func (r *summaryResult) profile(symbol string) *model.Profile {
	f := provider.NewFields(src)
	for _, pf := range profileFields {
		v := r.module(pf.module)[pf.key]
		if pf.text {
			f.Text(pf.field, v.str)
		} else {
			f.Num(pf.field, v.num)
		}
	}
	p := model.NewProfile(symbol)
	p.Fields = f.Set()
	return p
}

var statementFields = map[model.StatementType]map[string]string{
	model.IncomeStatement: {
		"totalRevenue":           model.Revenue,
		"costOfRevenue":          model.CostOfRevenue,
		"grossProfit":            model.GrossProfit,
		"totalOperatingExpenses": model.OperatingExpense,
		"operatingIncome":        model.OperatingIncome,
		"incomeBeforeTax":        model.PretaxIncome,
		"interestExpense":        model.InterestExpense,
		"incomeTaxExpense":       model.IncomeTaxExpense,
		"netIncome":              model.NetIncome,
		"ebitda":                 model.EBITDA,
	},
	model.BalanceSheet: {
		"totalAssets":             model.TotalAssets,
		"totalCurrentAssets":      model.CurrentAssets,
		"cash":                    model.Cash,
		"netReceivables":          model.AccountsReceivable,
		"inventory":               model.Inventory,
		"totalLiab":               model.TotalLiabilities,
		"totalCurrentLiabilities": model.CurrentLiabilities,
		"longTermDebt":            model.TotalDebt,
		"totalStockholderEquity":  model.ShareholderEquity,
	},
	model.CashFlow: {
		"totalCashFromOperatingActivities":      model.OperatingCashFlow,
		"totalCashflowsFromInvestingActivities": model.InvestingCashFlow,
		"totalCashFromFinancingActivities":      model.FinancingCashFlow,
		"capitalExpenditures":                   model.Capex,
		"stockBasedCompensation":                model.StockBasedCompensation,
		"dividendsPaid":                         model.DividendsPaid,
		"repurchaseOfStock":                     model.RepurchaseOfStock,
	},
}

func (r *summaryResult) statements(t model.StatementType) []model.Statement {
	var annual, quarterly []module
	switch t {
	case model.IncomeStatement:
		annual, quarterly = r.IncomeAnnual.Rows, r.IncomeQuarterly.Rows
	case model.BalanceSheet:
		annual, quarterly = r.BalanceAnnual.Rows, r.BalanceQuarterly.Rows
	case model.CashFlow:
		annual, quarterly = r.CashFlowAnnual.Rows, r.CashFlowQuarterly.Rows
	}

	out := make([]model.Statement, 0, len(annual)+len(quarterly))
	for kind, rows := range map[model.PeriodKind][]module{model.PeriodFY: annual, model.PeriodQ: quarterly} {
		for _, row := range rows {
			period, ok := endDate(row["endDate"])
			if !ok {
				continue
			}
			f := provider.NewFields(src)
			for key, field := range statementFields[t] {
				f.Num(field, row[key].num)
			}
			if f.Len() == 0 {
				continue
			}
			st := model.NewStatement(t, period, kind)
			st.Fields = f.Set()
			out = append(out, st)
		}
	}
	slices.SortFunc(out, func(a, b model.Statement) int {
		if c := strings.Compare(b.Period, a.Period); c != 0 {
			return c
		}
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
	return out
}

// endDate prefers the formatted date and falls back to the epoch seconds.
func endDate(v value) (string, bool) {
	if _, err := time.Parse(time.DateOnly, v.str); err == nil {
		return v.str, true
	}
	if v.num != nil {
		return time.Unix(int64(*v.num), 0).UTC().Format(time.DateOnly), true
	}
	return "", false
}

func (r *summaryResult) forecast() *model.Forecast {
	f := provider.NewFields(src)
	stats, detail, fin := r.DefaultKeyStatistics, r.SummaryDetail, r.FinancialData
	f.Num(model.ForwardEPS, stats["forwardEps"].num).
		Num(model.ForwardPE, detail["forwardPE"].num).
		Num(model.PriceTargetLow, fin["targetLowPrice"].num).
		Num(model.PriceTargetHigh, fin["targetHighPrice"].num).
		Num(model.PriceTargetAvg, fin["targetMeanPrice"].num).
		Num(model.PriceTargetConsensus, fin["targetMedianPrice"].num).
		Num(model.NumberOfAnalysts, fin["numberOfAnalystOpinions"].num)

	for _, e := range r.EarningsTrend.Trend {
		switch e.Period {
		case "0y":
			f.Num(model.EPSEstimateCurrentYear, e.EarningsEstimate.Avg.num).
				Num(model.RevenueEstimateCurrentYear, e.RevenueEstimate.Avg.num).
				Num(model.EarningsGrowthCurrentYear, e.Growth.num)
		case "+1y":
			f.Num(model.EPSEstimateNextYear, e.EarningsEstimate.Avg.num).
				Num(model.RevenueEstimateNextYear, e.RevenueEstimate.Avg.num).
				Num(model.ForwardRevenue, e.RevenueEstimate.Avg.num).
				Num(model.EarningsGrowthNextYear, e.Growth.num).
				Num(model.RevenueGrowthNextYear, e.RevenueEstimate.Growth.num)
		}
	}
	for _, e := range r.RecommendationTrend.Trend {
		if e.Period != "0m" {
			continue
		}
		f.Num(model.RatingStrongBuy, e.StrongBuy.num).
			Num(model.RatingBuy, e.Buy.num).
			Num(model.RatingHold, e.Hold.num).
			Num(model.RatingSell, e.Sell.num).
			Num(model.RatingStrongSell, e.StrongSell.num)
	}

	if f.Len() == 0 {
		return nil
	}
	fc := model.NewForecast()
	fc.Fields = f.Set()
	return fc
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"chart"`
}

// priceHistory returns daily bars oldest first. Bars without a close are
// dropped.
func (c *Client) priceHistory(ctx context.Context, symbol string) ([]model.PricePoint, error) {
	var resp chartResponse
	u := c.baseURL + "/v8/finance/chart/" + url.PathEscape(symbol)
	q := url.Values{"range": {c.historyRange}, "interval": {"1d"}}
	if err := c.http.GetJSON(ctx, u, q, &resp); err != nil {
		return nil, eris.Wrapf(err, "yahoo: chart for %s", symbol)
	}
	if resp.Chart.Error != nil || len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, eris.Wrapf(provider.ErrNotAvailable, "yahoo: no chart for %s", symbol)
	}

	res := resp.Chart.Result[0]
	quote := res.Indicators.Quote[0]
	var adj []*float64
	if len(res.Indicators.AdjClose) > 0 {
		adj = res.Indicators.AdjClose[0].AdjClose
	}

	out := make([]model.PricePoint, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		closePx := at(quote.Close, i)
		if closePx == 0 {
			continue
		}
		p := model.PricePoint{
			Date:     time.Unix(ts, 0).UTC(),
			Open:     at(quote.Open, i),
			High:     at(quote.High, i),
			Low:      at(quote.Low, i),
			Close:    closePx,
			AdjClose: at(adj, i),
			Volume:   at(quote.Volume, i),
			Source:   src,
		}
		if p.AdjClose == 0 {
			p.AdjClose = closePx
		}
		out = append(out, p)
	}
	return out, nil
}

func at(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	return *vals[i]
}
