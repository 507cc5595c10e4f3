package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/fundamentals/internal/provider"
	"github.com/sells-group/fundamentals/internal/resilience"
)

func newTestClient(name string) *Client {
	return New(Options{
		Name:      name,
		UserAgent: "test-agent admin@example.com",
		Timeout:   5 * time.Second,
		Retry:     resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	})
}

func TestGetJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent admin@example.com", r.Header.Get("User-Agent"))
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"AAPL","price":227.5}`))
	}))
	defer srv.Close()

	var out struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	err := newTestClient("fmp").GetJSON(context.Background(), srv.URL+"/quote", url.Values{"symbol": {"AAPL"}, "apikey": {"secret"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", out.Symbol)
	assert.InDelta(t, 227.5, out.Price, 0.001)
}

func TestGetJSON_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	var out []int
	require.NoError(t, newTestClient("finnhub").GetJSON(context.Background(), srv.URL, nil, &out))
	assert.Equal(t, []int{1, 2, 3}, out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetJSON_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		status       int
		body         string
		notAvailable bool
		wantCalls    int32
	}{
		{"not found", http.StatusNotFound, "", true, 1},
		{"plan does not cover symbol", http.StatusPaymentRequired, `{"error":"premium"}`, true, 1},
		{"forbidden", http.StatusForbidden, "", true, 1},
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, false, 1},
		{"server error exhausts retries", http.StatusBadGateway, "", false, 3},
		{"empty body", http.StatusOK, "", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			var out map[string]any
			err := newTestClient(tt.name).GetJSON(context.Background(), srv.URL, url.Values{"apikey": {"secret"}}, &out)
			require.Error(t, err)
			assert.Equal(t, tt.notAvailable, errors.Is(err, provider.ErrNotAvailable))
			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.NotContains(t, err.Error(), "secret")
		})
	}
}

func TestGetJSON_UnauthorizedIsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid API KEY"}`))
	}))
	defer srv.Close()

	var out map[string]any
	err := newTestClient("alphavantage").GetJSON(context.Background(), srv.URL, nil, &out)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Contains(t, se.Body, "Invalid API KEY")
}

func TestGetJSON_CircuitOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Options{
		Name:     "yahoo",
		Retry:    resilience.Policy{MaxAttempts: 1},
		Breakers: resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}),
	})
	var out map[string]any
	for range 2 {
		require.Error(t, c.GetJSON(context.Background(), srv.URL, nil, &out))
	}
	err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAdaptiveLimiter(t *testing.T) {
	t.Parallel()

	a := NewAdaptiveLimiter(10, 1)
	a.OnRateLimit()
	assert.InDelta(t, 5, float64(a.Limit()), 0.001)
	for range 10 {
		a.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(a.Limit()), 0.001, "floor is a quarter")
	for range 50 {
		a.OnSuccess()
	}
	assert.InDelta(t, 20, float64(a.Limit()), 0.001, "ceiling is double")

	inf := NewAdaptiveLimiter(rate.Inf, 1)
	inf.OnRateLimit()
	assert.Equal(t, rate.Inf, inf.Limit())
	require.NoError(t, inf.Wait(context.Background()))
}

func TestRedact(t *testing.T) {
	t.Parallel()

	u, err := url.Parse("https://financialmodelingprep.com/api/v3/profile/AAPL?apikey=abc&limit=5")
	require.NoError(t, err)
	got := redact(u)
	assert.NotContains(t, got, "abc")
	assert.Contains(t, got, "limit=5")
}
