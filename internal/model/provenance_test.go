package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenMergeLog(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	log := []MergeEntry{
		{Scope: ScopeIncome, Period: "2024-12-31", FieldSources: map[string]Source{
			Revenue:          SourceYahoo,
			IncomeTaxExpense: SourceEDGAR,
		}},
		{Scope: ScopeProfile, FieldSources: map[string]Source{Sector: SourceYahoo}},
		// A later merge of the same period overrides the earlier winner.
		{Scope: ScopeIncome, Period: "2024-12-31", FieldSources: map[string]Source{
			IncomeTaxExpense: SourceFMP,
		}},
	}

	rows := FlattenMergeLog("snap-1", "AAPL", log, now)
	require.Len(t, rows, 3)

	byField := make(map[string]FieldProvenance)
	for _, r := range rows {
		assert.Equal(t, "snap-1", r.SnapshotID)
		assert.Equal(t, "AAPL", r.Symbol)
		assert.Equal(t, now, r.CreatedAt)
		byField[string(r.Scope)+"/"+r.FieldKey] = r
	}
	assert.Equal(t, SourceFMP, byField["income/income_tax_expense"].Winner)
	assert.Equal(t, SourceYahoo, byField["income/revenue"].Winner)
	assert.Equal(t, "", byField["profile/sector"].Period)
}
