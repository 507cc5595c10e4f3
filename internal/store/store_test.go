package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/reconcile"
	"github.com/sells-group/fundamentals/internal/resilience"
)

var (
	_ Store                   = (*SQLiteStore)(nil)
	_ Store                   = (*PostgresStore)(nil)
	_ reconcile.SnapshotStore = (Store)(nil)
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testSnapshot(symbol string, at time.Time) *model.Snapshot {
	rec := model.NewRecord(symbol)
	rec.Profile = model.NewProfile(symbol)
	rec.Profile.Fields[model.MarketCap] = model.Num(3.4e12, model.SourceYahoo)
	rec.Income = []model.Statement{
		model.NewStatement(model.IncomeStatement, "2024-09-28", model.PeriodFY).
			With(model.Revenue, model.Num(391035e6, model.SourceEDGAR)),
	}
	rec.ReconciledAt = at
	return &model.Snapshot{
		Symbol:    symbol,
		Record:    rec,
		Gaps:      []string{"missing_estimates"},
		Phases:    []model.PhaseOutcome{{Name: "base", Ran: true}, {Name: "deep", Skipped: "no deep gaps"}},
		CreatedAt: at,
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SaveAndGetSnapshot", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)

		snap := testSnapshot("AAPL", now)
		require.NoError(t, s.SaveSnapshot(ctx, snap))
		require.NotEmpty(t, snap.ID)

		got, err := s.GetSnapshot(ctx, snap.ID)
		require.NoError(t, err)
		assert.Equal(t, "AAPL", got.Symbol)
		assert.True(t, now.Equal(got.CreatedAt))
		assert.Equal(t, []string{"missing_estimates"}, got.Gaps)
		require.Len(t, got.Phases, 2)
		assert.Equal(t, "no deep gaps", got.Phases[1].Skipped)
		require.NotNil(t, got.Record)
		rev := got.Record.Income[0].Get(model.Revenue)
		v, _ := rev.Float()
		assert.InDelta(t, 391035e6, v, 1)
		assert.Equal(t, model.SourceEDGAR, rev.Source())
		assert.Equal(t, model.SourceYahoo, got.Record.Profile.Get(model.MarketCap).Source())
	})

	t.Run("GetSnapshotNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetSnapshot(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("LatestSnapshot", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		old := testSnapshot("MSFT", now.Add(-48*time.Hour))
		fresh := testSnapshot("MSFT", now.Add(-time.Hour))
		require.NoError(t, s.SaveSnapshot(ctx, old))
		require.NoError(t, s.SaveSnapshot(ctx, fresh))

		got, err := s.LatestSnapshot(ctx, "MSFT", 24*time.Hour)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, fresh.ID, got.ID)
		assert.NotNil(t, got.Record)

		got, err = s.LatestSnapshot(ctx, "MSFT", 30*time.Minute)
		require.NoError(t, err)
		assert.Nil(t, got, "nothing younger than the max age")

		got, err = s.LatestSnapshot(ctx, "MSFT", 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, fresh.ID, got.ID)

		got, err = s.LatestSnapshot(ctx, "GOOG", 0)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("ListSnapshots", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		for i, sym := range []string{"AAPL", "AAPL", "NVDA"} {
			require.NoError(t, s.SaveSnapshot(ctx, testSnapshot(sym, now.Add(time.Duration(i)*time.Minute))))
		}

		all, err := s.ListSnapshots(ctx, SnapshotFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "NVDA", all[0].Symbol, "newest first")
		assert.Nil(t, all[0].Record, "headers only")
		assert.Equal(t, []string{"missing_estimates"}, all[0].Gaps)

		aapl, err := s.ListSnapshots(ctx, SnapshotFilter{Symbol: "AAPL", Limit: 1})
		require.NoError(t, err)
		require.Len(t, aapl, 1)
		assert.Equal(t, "AAPL", aapl[0].Symbol)

		page, err := s.ListSnapshots(ctx, SnapshotFilter{Symbol: "AAPL", Limit: 10, Offset: 1})
		require.NoError(t, err)
		assert.Len(t, page, 1)
	})

	t.Run("Provenance", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)

		snap := testSnapshot("AAPL", now)
		require.NoError(t, s.SaveSnapshot(ctx, snap))

		rows := []model.FieldProvenance{
			{SnapshotID: snap.ID, Symbol: "AAPL", Scope: model.ScopeProfile, FieldKey: model.MarketCap, Winner: model.SourceYahoo, CreatedAt: now},
			{SnapshotID: snap.ID, Symbol: "AAPL", Scope: model.ScopeIncome, Period: "2024-09-28", FieldKey: model.Revenue, Winner: model.SourceEDGAR, CreatedAt: now},
		}
		require.NoError(t, s.SaveProvenance(ctx, rows))
		require.NoError(t, s.SaveProvenance(ctx, nil))

		got, err := s.GetProvenance(ctx, snap.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, model.ScopeIncome, got[0].Scope)
		assert.Equal(t, model.SourceEDGAR, got[0].Winner)
		assert.Equal(t, "2024-09-28", got[0].Period)
		assert.Equal(t, model.ScopeProfile, got[1].Scope)
		assert.True(t, now.Equal(got[1].CreatedAt))

		none, err := s.GetProvenance(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("PruneSnapshots", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		old := testSnapshot("AAPL", now.Add(-40*24*time.Hour))
		fresh := testSnapshot("AAPL", now)
		require.NoError(t, s.SaveSnapshot(ctx, old))
		require.NoError(t, s.SaveSnapshot(ctx, fresh))
		require.NoError(t, s.SaveProvenance(ctx, []model.FieldProvenance{
			{SnapshotID: old.ID, Symbol: "AAPL", Scope: model.ScopeProfile, FieldKey: model.MarketCap, Winner: model.SourceYahoo, CreatedAt: old.CreatedAt},
		}))

		n, err := s.PruneSnapshots(ctx, now.Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.GetSnapshot(ctx, old.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		prov, err := s.GetProvenance(ctx, old.ID)
		require.NoError(t, err)
		assert.Empty(t, prov)

		_, err = s.GetSnapshot(ctx, fresh.ID)
		assert.NoError(t, err)
	})

	t.Run("DeadLetterQueue", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		due := resilience.NewDLQEntry("AAPL", resilience.NewTransientError(errors.New("http 503"), 503), now.Add(-time.Hour))
		later := resilience.NewDLQEntry("MSFT", errors.New("save failed"), now)
		later.NextRetryAt = now.Add(time.Hour)
		require.NoError(t, s.EnqueueDLQ(ctx, due))
		require.NoError(t, s.EnqueueDLQ(ctx, later))

		count, err := s.CountDLQ(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		entries, err := s.DequeueDLQ(ctx, resilience.DLQFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "AAPL", entries[0].Symbol)
		assert.Equal(t, resilience.ErrorTypeTransient, entries[0].ErrorType)

		entries, err = s.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: resilience.ErrorTypePermanent})
		require.NoError(t, err)
		assert.Empty(t, entries)

		require.NoError(t, s.IncrementDLQRetry(ctx, due.ID, now.Add(-time.Minute), "http 502"))
		entries, err = s.DequeueDLQ(ctx, resilience.DLQFilter{Limit: 10})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, 1, entries[0].RetryCount)
		assert.Equal(t, "http 502", entries[0].Error)

		err = s.IncrementDLQRetry(ctx, "missing", now, "x")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.RemoveDLQ(ctx, due.ID))
		count, err = s.CountDLQ(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("DeadLetterOneRowPerSymbol", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Add(-time.Hour)

		first := resilience.NewDLQEntry("NVDA", errors.New("http 503"), now)
		first.RetryCount = 2
		require.NoError(t, s.EnqueueDLQ(ctx, first))
		again := resilience.NewDLQEntry("NVDA", errors.New("save failed"), now)
		require.NoError(t, s.EnqueueDLQ(ctx, again))

		count, err := s.CountDLQ(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		entries, err := s.DequeueDLQ(ctx, resilience.DLQFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, first.ID, entries[0].ID)
		assert.Equal(t, 2, entries[0].RetryCount)
		assert.Equal(t, "save failed", entries[0].Error)
	})

	t.Run("DeadLetterExhausted", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := resilience.NewDLQEntry("TSLA", errors.New("boom"), time.Now().Add(-time.Hour))
		e.RetryCount = e.MaxRetries
		require.NoError(t, s.EnqueueDLQ(ctx, e))

		entries, err := s.DequeueDLQ(ctx, resilience.DLQFilter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestSQLiteStore_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}
