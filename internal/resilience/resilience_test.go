package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped explicit", fmt.Errorf("fmp: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"eris wrapped", eris.Wrap(NewTransientError(errors.New("bad gateway"), 502), "finnhub: get"), true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, true},
		{"message", errors.New("read tcp 10.0.0.1: i/o timeout"), true},
		{"permanent", errors.New("http 404 from yahoo"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransientStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, TransientStatus(code), "%d", code)
	}
	for _, code := range []int{200, 400, 401, 402, 403, 404, 501} {
		assert.False(t, TransientStatus(code), "%d", code)
	}
}

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()
		calls := 0
		v, err := Retry(context.Background(), fastPolicy(3), "test", func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, NewTransientError(errors.New("busy"), 503)
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Do(context.Background(), fastPolicy(5), "test", func(context.Context) error {
			calls++
			return errors.New("invalid symbol")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Do(context.Background(), fastPolicy(3), "test", func(context.Context) error {
			calls++
			return NewTransientError(errors.New("down"), 500)
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Do(ctx, Policy{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}, "test", func(context.Context) error {
			calls++
			cancel()
			return NewTransientError(errors.New("down"), 500)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestPolicy_Backoff(t *testing.T) {
	t.Parallel()

	p := Policy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(2))
	assert.Equal(t, time.Second, p.Backoff(10))

	p.Jitter = 0.5
	for range 50 {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestFromRetryConfig(t *testing.T) {
	t.Parallel()

	p := FromRetryConfig(5, 200, 0)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, p.InitialBackoff)
	assert.Equal(t, DefaultPolicy().MaxBackoff, p.MaxBackoff)
}

func TestBreaker(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("fmp", BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	b.now = func() time.Time { return now }

	fail := func(context.Context) (int, error) { return 0, NewTransientError(errors.New("down"), 503) }
	ok := func(context.Context) (int, error) { return 1, nil }
	ctx := context.Background()

	_, _ = Call(ctx, b, fail)
	assert.Equal(t, Closed, b.State())
	_, _ = Call(ctx, b, fail)
	assert.Equal(t, Open, b.State())

	_, err := Call(ctx, b, ok)
	require.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(time.Minute)
	assert.Equal(t, HalfOpen, b.State())
	_, _ = Call(ctx, b, fail)
	assert.Equal(t, Open, b.State(), "failed probe reopens")

	now = now.Add(time.Minute)
	v, err := Call(ctx, b, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	b := NewBreaker("yahoo", BreakerConfig{FailureThreshold: 1})
	for range 5 {
		_, err := Call(context.Background(), b, func(context.Context) (int, error) {
			return 0, errors.New("http 404")
		})
		require.Error(t, err)
	}
	assert.Equal(t, Closed, b.State())
}

func TestBreakers(t *testing.T) {
	t.Parallel()

	s := NewBreakers(FromCircuitConfig(3, 10))
	a := s.Get("finnhub")
	assert.Same(t, a, s.Get("finnhub"))
	assert.NotSame(t, a, s.Get("fmp"))
	assert.Equal(t, map[string]State{"finnhub": Closed, "fmp": Closed}, s.States())
	assert.Equal(t, 10*time.Second, a.cfg.ResetTimeout)
}

func TestDLQEntry(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	e := NewDLQEntry("NVDA", NewTransientError(errors.New("http 503"), 503), now)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "NVDA", e.Symbol)
	assert.Equal(t, ErrorTypeTransient, e.ErrorType)
	assert.Equal(t, now.Add(time.Minute), e.NextRetryAt)
	assert.True(t, e.CanRetry())

	e.RetryCount = 2
	assert.Equal(t, now.Add(4*time.Minute), e.NextRetry(now))
	e.RetryCount = DefaultMaxRetries
	assert.False(t, e.CanRetry())

	assert.Equal(t, ErrorTypePermanent, NewDLQEntry("X", errors.New("disk full"), now).ErrorType)
}
