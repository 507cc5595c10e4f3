// Package finnhub is the forecast-phase client: price targets,
// recommendations, earnings surprises, profile, news, insider activity and
// peers.
package finnhub

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fundamentals/internal/fetcher"
	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/provider"
)

const src = model.SourceFinnhub

var (
	_ provider.Forecasts = (*Client)(nil)
	_ provider.Profiles  = (*Client)(nil)
	_ provider.Insights  = (*Client)(nil)
)

// newsWindow bounds how far back company news and insider data reach.
const newsWindow = 30 * 24 * time.Hour

// Client talks to the Finnhub v1 API.
type Client struct {
	http    *fetcher.Client
	baseURL string
	key     string
	now     func() time.Time
}

// New creates a Client. baseURL is usually https://finnhub.io/api/v1.
func New(http *fetcher.Client, baseURL, key string) *Client {
	return &Client{http: http, baseURL: strings.TrimRight(baseURL, "/"), key: key, now: time.Now}
}

func (c *Client) Name() model.Source { return src }

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("token", c.key)
	return c.http.GetJSON(ctx, c.baseURL+path, q, out)
}

type priceTarget struct {
	TargetHigh   *float64 `json:"targetHigh"`
	TargetLow    *float64 `json:"targetLow"`
	TargetMean   *float64 `json:"targetMean"`
	TargetMedian *float64 `json:"targetMedian"`
}

type recommendation struct {
	Period     string   `json:"period"`
	StrongBuy  *float64 `json:"strongBuy"`
	Buy        *float64 `json:"buy"`
	Hold       *float64 `json:"hold"`
	Sell       *float64 `json:"sell"`
	StrongSell *float64 `json:"strongSell"`
}

type earning struct {
	Period          string   `json:"period"`
	Actual          *float64 `json:"actual"`
	Estimate        *float64 `json:"estimate"`
	Surprise        *float64 `json:"surprise"`
	SurprisePercent *float64 `json:"surprisePercent"`
}

// FetchForecast combines the price target, the latest recommendation
// trend and the earnings surprise history. Endpoints outside the account
// plan are skipped; the forecast is unavailable only when all are.
func (c *Client) FetchForecast(ctx context.Context, symbol string) (*model.Forecast, error) {
	var (
		target  priceTarget
		recs    []recommendation
		history []earning
	)
	g, gctx := errgroup.WithContext(ctx)
	calls := []struct {
		path string
		out  any
	}{
		{"/stock/price-target", &target},
		{"/stock/recommendation", &recs},
		{"/stock/earnings", &history},
	}
	refused := make([]bool, len(calls))
	for i, call := range calls {
		g.Go(func() error {
			err := c.get(gctx, call.path, url.Values{"symbol": {symbol}}, call.out)
			if errors.Is(err, provider.ErrNotAvailable) {
				refused[i] = true
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(err, "finnhub: fetch forecast for %s", symbol)
	}
	if !slices.Contains(refused, false) {
		return nil, eris.Wrapf(provider.ErrNotAvailable, "finnhub: forecast for %s", symbol)
	}

	f := provider.NewFields(src).
		Num(model.PriceTargetHigh, target.TargetHigh).
		Num(model.PriceTargetLow, target.TargetLow).
		Num(model.PriceTargetAvg, target.TargetMean).
		Num(model.PriceTargetConsensus, target.TargetMedian)
	if len(recs) > 0 {
		latest := slices.MaxFunc(recs, func(a, b recommendation) int { return strings.Compare(a.Period, b.Period) })
		f.Num(model.RatingStrongBuy, latest.StrongBuy).
			Num(model.RatingBuy, latest.Buy).
			Num(model.RatingHold, latest.Hold).
			Num(model.RatingSell, latest.Sell).
			Num(model.RatingStrongSell, latest.StrongSell)
		if n := sum(latest.StrongBuy, latest.Buy, latest.Hold, latest.Sell, latest.StrongSell); n > 0 {
			f.Scaled(model.NumberOfAnalysts, n, 1)
		}
	}

	fc := model.NewForecast()
	fc.Fields = f.Set()
	for _, e := range history {
		if e.Actual == nil || e.Estimate == nil {
			continue
		}
		fc.SurpriseHistory = append(fc.SurpriseHistory, model.EarningsSurprise{
			Period:          e.Period,
			Actual:          *e.Actual,
			Estimate:        *e.Estimate,
			Surprise:        deref(e.Surprise),
			SurprisePercent: deref(e.SurprisePercent),
		})
	}
	if len(fc.SurpriseHistory) > 0 {
		fc.SurpriseSource = src
	}
	return fc, nil
}

type profile2 struct {
	Name             string   `json:"name"`
	Industry         string   `json:"finnhubIndustry"`
	MarketCap        *float64 `json:"marketCapitalization"`
	ShareOutstanding *float64 `json:"shareOutstanding"`
	WebURL           string   `json:"weburl"`
	Currency         string   `json:"currency"`
}

// FetchProfile maps /stock/profile2. Finnhub reports market cap and shares
// in millions.
func (c *Client) FetchProfile(ctx context.Context, symbol string) (*model.Profile, error) {
	var p profile2
	if err := c.get(ctx, "/stock/profile2", url.Values{"symbol": {symbol}}, &p); err != nil {
		return nil, eris.Wrapf(err, "finnhub: fetch profile for %s", symbol)
	}
	if p.Name == "" {
		return nil, eris.Wrapf(provider.ErrNotAvailable, "finnhub: profile for %s", symbol)
	}
	f := provider.NewFields(src).
		Text(model.CompanyName, p.Name).
		Text(model.Industry, p.Industry).
		Text(model.Website, p.WebURL).
		Text(model.ListingCurrency, p.Currency)
	if p.MarketCap != nil {
		f.Scaled(model.MarketCap, *p.MarketCap, 1e6)
	}
	if p.ShareOutstanding != nil {
		f.Scaled(model.SharesOutstanding, *p.ShareOutstanding, 1e6)
	}
	return &model.Profile{Symbol: symbol, Fields: f.Set()}, nil
}

type newsItem struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	Category string `json:"category"`
	Datetime int64  `json:"datetime"`
}

func (c *Client) FetchNews(ctx context.Context, symbol string) ([]model.NewsItem, error) {
	var items []newsItem
	if err := c.get(ctx, "/company-news", c.window(symbol), &items); err != nil {
		return nil, eris.Wrapf(err, "finnhub: fetch news for %s", symbol)
	}
	out := make([]model.NewsItem, 0, len(items))
	for _, it := range items {
		if it.Headline == "" || it.URL == "" {
			continue
		}
		out = append(out, model.NewsItem{
			Headline:  it.Headline,
			Summary:   it.Summary,
			Publisher: it.Source,
			URL:       it.URL,
			Category:  it.Category,
			Published: time.Unix(it.Datetime, 0).UTC(),
			Source:    src,
		})
	}
	return out, nil
}

type insiderSentiment struct {
	Data []struct {
		Year   int     `json:"year"`
		Month  int     `json:"month"`
		Change float64 `json:"change"`
		MSPR   float64 `json:"mspr"`
	} `json:"data"`
}

type insiderTransactions struct {
	Data []struct {
		Name            string  `json:"name"`
		Share           float64 `json:"share"`
		Change          float64 `json:"change"`
		Price           float64 `json:"transactionPrice"`
		Code            string  `json:"transactionCode"`
		FilingDate      string  `json:"filingDate"`
		TransactionDate string  `json:"transactionDate"`
	} `json:"data"`
}

// FetchSentiment returns insider sentiment and recent insider trades.
func (c *Client) FetchSentiment(ctx context.Context, symbol string) (*model.Sentiment, error) {
	var sent insiderSentiment
	if err := c.get(ctx, "/stock/insider-sentiment", c.window(symbol), &sent); err != nil {
		return nil, eris.Wrapf(err, "finnhub: fetch insider sentiment for %s", symbol)
	}
	var tx insiderTransactions
	if err := c.get(ctx, "/stock/insider-transactions", url.Values{"symbol": {symbol}}, &tx); err != nil &&
		!errors.Is(err, provider.ErrNotAvailable) {
		return nil, eris.Wrapf(err, "finnhub: fetch insider transactions for %s", symbol)
	}
	if len(sent.Data) == 0 && len(tx.Data) == 0 {
		return nil, nil
	}

	out := &model.Sentiment{Source: src}
	for _, d := range sent.Data {
		out.Insider = append(out.Insider, model.InsiderSentiment{Year: d.Year, Month: d.Month, MSPR: d.MSPR, Change: d.Change})
	}
	for _, d := range tx.Data {
		out.Transactions = append(out.Transactions, model.InsiderTransaction{
			Name:            d.Name,
			Share:           d.Share,
			Change:          d.Change,
			Price:           d.Price,
			Code:            d.Code,
			FilingDate:      d.FilingDate,
			TransactionDate: d.TransactionDate,
		})
	}
	return out, nil
}

// FetchPeers returns peer tickers without the symbol itself.
func (c *Client) FetchPeers(ctx context.Context, symbol string) ([]string, error) {
	var peers []string
	if err := c.get(ctx, "/stock/peers", url.Values{"symbol": {symbol}}, &peers); err != nil {
		return nil, eris.Wrapf(err, "finnhub: fetch peers for %s", symbol)
	}
	return slices.DeleteFunc(peers, func(p string) bool { return strings.EqualFold(p, symbol) }), nil
}

func (c *Client) window(symbol string) url.Values {
	now := c.now().UTC()
	return url.Values{
		"symbol": {symbol},
		"from":   {now.Add(-newsWindow).Format(time.DateOnly)},
		"to":     {now.Format(time.DateOnly)},
	}
}

func sum(vs ...*float64) float64 {
	var total float64
	for _, v := range vs {
		total += deref(v)
	}
	return total
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
