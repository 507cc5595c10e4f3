// Package fetcher is the shared HTTP transport for provider clients: rate
// limited, retried on transient failures and guarded by a circuit breaker.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fundamentals/internal/provider"
	"github.com/sells-group/fundamentals/internal/resilience"
)

// DefaultUserAgent is sent when Options.UserAgent is empty.
const DefaultUserAgent = "fundamentals/1.0"

// maxErrorBody bounds how much of an error response is kept for logs.
const maxErrorBody = 512

// Options configures a Client.
type Options struct {
	// Name identifies the provider in logs and selects its breaker.
	Name       string
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	Retry      resilience.Policy
	// Breakers is shared across clients; nil gives the client its own.
	Breakers *resilience.Breakers
	// HTTPClient replaces the default transport, mainly for tests.
	HTTPClient *http.Client
}

// Client performs GET requests for a single provider.
type Client struct {
	name      string
	userAgent string
	http      *http.Client
	limiter   *AdaptiveLimiter
	retry     resilience.Policy
	breaker   *resilience.Breaker
}

// StatusError is a non-2xx response that is neither retryable nor a
// not-available answer.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return "fetcher: http " + http.StatusText(e.StatusCode) + " from " + e.URL
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Breakers == nil {
		opts.Breakers = resilience.NewBreakers(resilience.DefaultBreakerConfig())
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{
		name:      opts.Name,
		userAgent: opts.UserAgent,
		http:      hc,
		limiter:   NewAdaptiveLimiter(limit, opts.Burst),
		retry:     opts.Retry,
		breaker:   opts.Breakers.Get(opts.Name),
	}
}

// GetJSON fetches baseURL with query and decodes the JSON body into out.
// 402, 403 and 404 responses are reported as provider.ErrNotAvailable.
func (c *Client) GetJSON(ctx context.Context, baseURL string, query url.Values, out any) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return eris.Wrapf(err, "fetcher: parse url %s", baseURL)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	op := c.name + " " + u.Path
	return resilience.Do(ctx, c.retry, op, func(ctx context.Context) error {
		_, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.get(ctx, u, out)
		})
		return err
	})
}

func (c *Client) get(ctx context.Context, u *url.URL, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "fetcher: rate limiter wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error repeats the raw URL, key included.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return eris.Wrapf(err, "fetcher: get %s", redact(u))
	}
	defer resp.Body.Close() //nolint:errcheck

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
	case code == http.StatusTooManyRequests:
		c.limiter.OnRateLimit()
		return resilience.NewTransientError(eris.Errorf("fetcher: http 429 from %s", redact(u)), code)
	case resilience.TransientStatus(code):
		return resilience.NewTransientError(eris.Errorf("fetcher: http %d from %s", code, redact(u)), code)
	case code == http.StatusPaymentRequired, code == http.StatusForbidden, code == http.StatusNotFound:
		return eris.Wrapf(provider.ErrNotAvailable, "fetcher: http %d from %s", code, redact(u))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: code, URL: redact(u), Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return eris.Wrapf(provider.ErrNotAvailable, "fetcher: empty body from %s", redact(u))
		}
		return eris.Wrapf(err, "fetcher: decode %s", redact(u))
	}
	c.limiter.OnSuccess()
	zap.L().Debug("fetcher: ok", zap.String("provider", c.name), zap.String("path", u.Path))
	return nil
}

// redact drops API keys from URLs before they reach logs or errors.
func redact(u *url.URL) string {
	r := *u
	q := r.Query()
	for _, k := range []string{"apikey", "apiKey", "token", "api_key"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	r.RawQuery = q.Encode()
	return r.String()
}
