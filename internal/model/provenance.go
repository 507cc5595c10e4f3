package model

import (
	"maps"
	"slices"
	"time"
)

// MergeScope names what a merge call operated on.
type MergeScope string

const (
	ScopeIncome   MergeScope = "income"
	ScopeBalance  MergeScope = "balance"
	ScopeCashFlow MergeScope = "cash_flow"
	ScopeProfile  MergeScope = "profile"
	ScopeForecast MergeScope = "forecast"
)

// ScopeFor maps a statement type to its merge scope.
func ScopeFor(t StatementType) MergeScope {
	return MergeScope(t)
}

// MergeEntry records which source won each field of one merged period or
// profile. For statement merges the recorded source is the nominal provider
// of the winning slot, not the value's own tag.
type MergeEntry struct {
	Scope        MergeScope        `json:"scope"`
	Period       string            `json:"period,omitempty"`
	FieldSources map[string]Source `json:"field_sources"`
}

// FieldProvenance is one persisted winner row for a stored snapshot.
type FieldProvenance struct {
	SnapshotID string     `json:"snapshot_id"`
	Symbol     string     `json:"symbol"`
	Scope      MergeScope `json:"scope"`
	Period     string     `json:"period,omitempty"`
	FieldKey   string     `json:"field_key"`
	Winner     Source     `json:"winner_source"`
	CreatedAt  time.Time  `json:"created_at"`
}

// FlattenMergeLog expands merge entries into per-field provenance rows. Later
// entries for the same scope, period and field replace earlier ones.
func FlattenMergeLog(snapshotID, symbol string, log []MergeEntry, at time.Time) []FieldProvenance {
	type key struct {
		scope  MergeScope
		period string
		field  string
	}
	index := make(map[key]int)
	var out []FieldProvenance
	for _, e := range log {
		for _, field := range sortedKeys(e.FieldSources) {
			k := key{e.Scope, e.Period, field}
			row := FieldProvenance{
				SnapshotID: snapshotID,
				Symbol:     symbol,
				Scope:      e.Scope,
				Period:     e.Period,
				FieldKey:   field,
				Winner:     e.FieldSources[field],
				CreatedAt:  at,
			}
			if i, ok := index[k]; ok {
				out[i] = row
				continue
			}
			index[k] = len(out)
			out = append(out, row)
		}
	}
	return out
}

func cloneMergeLog(in []MergeEntry) []MergeEntry {
	if in == nil {
		return nil
	}
	out := make([]MergeEntry, len(in))
	for i, e := range in {
		out[i] = MergeEntry{Scope: e.Scope, Period: e.Period, FieldSources: maps.Clone(e.FieldSources)}
	}
	return out
}

func sortedKeys(m map[string]Source) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
