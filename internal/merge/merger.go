// Package merge resolves, field by field, which provider's value survives when
// several providers report the same company data.
package merge

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/fundamentals/internal/model"
)

// Merger combines statements, profiles and forecasts from several providers
// and records every field-level decision. A Merger belongs to a single
// reconciliation run and is not safe for concurrent use.
type Merger struct {
	symbol     string
	priorities *model.PriorityTable
	log        []model.MergeEntry
}

// New creates a Merger for symbol. A nil table selects the built-in priorities.
func New(symbol string, priorities *model.PriorityTable) *Merger {
	if priorities == nil {
		priorities = model.DefaultPriorities()
	}
	return &Merger{symbol: symbol, priorities: priorities}
}

// Log returns a copy of the merge decisions recorded so far.
func (m *Merger) Log() []model.MergeEntry {
	out := make([]model.MergeEntry, len(m.log))
	for i, e := range m.log {
		out[i] = model.MergeEntry{Scope: e.Scope, Period: e.Period, FieldSources: maps.Clone(e.FieldSources)}
	}
	return out
}

// Stats counts winning fields per source across every recorded merge.
func (m *Merger) Stats() map[model.Source]int {
	stats := make(map[model.Source]int)
	for _, e := range m.log {
		for _, src := range e.FieldSources {
			stats[src]++
		}
	}
	return stats
}

func (m *Merger) record(scope model.MergeScope, period string, winners map[string]model.Source) {
	m.log = append(m.log, model.MergeEntry{Scope: scope, Period: period, FieldSources: winners})
	if len(winners) == 0 {
		return
	}
	zap.L().Debug("merge: sources",
		zap.String("symbol", m.symbol),
		zap.String("scope", string(scope)),
		zap.String("period", period),
		zap.String("sources", summarize(winners)),
	)
}

// summarize renders winners as "fmp(2), yahoo(10)".
func summarize(winners map[string]model.Source) string {
	counts := make(map[model.Source]int)
	for _, src := range winners {
		counts[src]++
	}
	srcs := make([]string, 0, len(counts))
	for src := range counts {
		srcs = append(srcs, string(src))
	}
	slices.Sort(srcs)
	parts := make([]string, len(srcs))
	for i, src := range srcs {
		parts[i] = fmt.Sprintf("%s(%d)", src, counts[model.Source(src)])
	}
	return strings.Join(parts, ", ")
}
