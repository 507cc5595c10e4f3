// Package edgar reads financial statements from SEC EDGAR XBRL company
// facts. It is the official-filings source of the reconciliation.
package edgar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals/internal/fetcher"
	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/provider"
)

const src = model.SourceEDGAR

var _ provider.Statements = (*Client)(nil)

// DefaultTickersURL lists every EDGAR filer with its ticker and CIK.
const DefaultTickersURL = "https://www.sec.gov/files/company_tickers.json"

// factsTTL keeps a company facts document for the three statement calls of
// one reconciliation.
const factsTTL = 10 * time.Minute

// Client fetches company facts from data.sec.gov. EDGAR requires a
// descriptive User-Agent, which the fetcher.Client carries.
type Client struct {
	http       *fetcher.Client
	baseURL    string
	tickersURL string
	now        func() time.Time

	mu    sync.Mutex
	ciks  map[string]int
	facts map[int]cachedFacts
}

type cachedFacts struct {
	facts   *CompanyFacts
	fetched time.Time
}

// New creates a Client. baseURL is usually https://data.sec.gov and
// tickersURL defaults to DefaultTickersURL when empty.
func New(http *fetcher.Client, baseURL, tickersURL string) *Client {
	if tickersURL == "" {
		tickersURL = DefaultTickersURL
	}
	return &Client{
		http:       http,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tickersURL: tickersURL,
		now:        time.Now,
		facts:      make(map[int]cachedFacts),
	}
}

func (c *Client) Name() model.Source { return src }

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
	facts, err := c.companyFacts(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := statementsFromFacts(facts, t)
	zap.L().Debug("edgar: statements from company facts",
		zap.String("symbol", symbol),
		zap.String("statement", string(t)),
		zap.Int("periods", len(out)),
	)
	return out, nil
}

func (c *Client) companyFacts(ctx context.Context, symbol string) (*CompanyFacts, error) {
	cik, err := c.lookupCIK(ctx, symbol)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	cached, ok := c.facts[cik]
	c.mu.Unlock()
	if ok && c.now().Sub(cached.fetched) < factsTTL {
		return cached.facts, nil
	}

	var facts CompanyFacts
	u := fmt.Sprintf("%s/api/xbrl/companyfacts/CIK%010d.json", c.baseURL, cik)
	if err := c.http.GetJSON(ctx, u, nil, &facts); err != nil {
		return nil, eris.Wrapf(err, "edgar: fetch company facts for %s", symbol)
	}

	c.mu.Lock()
	c.facts[cik] = cachedFacts{facts: &facts, fetched: c.now()}
	c.mu.Unlock()
	return &facts, nil
}

type tickerEntry struct {
	CIK    int    `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// lookupCIK resolves a ticker, loading the ticker index on first use.
func (c *Client) lookupCIK(ctx context.Context, symbol string) (int, error) {
	c.mu.Lock()
	ciks := c.ciks
	c.mu.Unlock()

	if ciks == nil {
		var index map[string]tickerEntry
		if err := c.http.GetJSON(ctx, c.tickersURL, nil, &index); err != nil {
			return 0, eris.Wrap(err, "edgar: fetch ticker index")
		}
		ciks = make(map[string]int, len(index))
		for _, e := range index {
			ciks[strings.ToUpper(e.Ticker)] = e.CIK
		}
		c.mu.Lock()
		c.ciks = ciks
		c.mu.Unlock()
	}

	cik, ok := ciks[strings.ToUpper(symbol)]
	if !ok {
		return 0, eris.Wrapf(provider.ErrNotAvailable, "edgar: no CIK for %s", symbol)
	}
	return cik, nil
}
