// Package process finishes a merged record: it orders statements, derives a
// trailing twelve-month income statement and normalizes sector names.
package process

import (
	"cmp"
	"slices"

	"github.com/sells-group/fundamentals/internal/model"
)

// Run applies Sanitize, SynthesizeTTM and NormalizeSector in that order.
func Run(rec *model.Record) *model.Record {
	return NormalizeSector(SynthesizeTTM(Sanitize(rec)))
}

// Sanitize returns a copy of rec with every statement list sorted most recent
// first by period label. Sorting is stable, so applying it twice yields the
// same order as applying it once.
func Sanitize(rec *model.Record) *model.Record {
	out := rec.Clone()
	for _, t := range model.StatementTypes {
		list := out.Statements(t)
		slices.SortStableFunc(list, func(a, b model.Statement) int {
			return cmp.Compare(b.Period, a.Period)
		})
		out.SetStatements(t, list)
	}
	return out
}
