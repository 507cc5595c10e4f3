package process

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/fundamentals/internal/model"
)

// gicsSectors maps provider sector names onto GICS sector names. Keys are
// case-folded.
var gicsSectors = map[string]string{
	"financial services":         "Financials",
	"basic materials":            "Materials",
	"telecommunication services": "Communication Services",
	"consumer cyclical":          "Consumer Discretionary",
	"consumer defensive":         "Consumer Staples",
}

// GICSSector returns the GICS name for a provider sector name, or the input
// unchanged when no mapping applies.
func GICSSector(name string) string {
	if gics, ok := gicsSectors[cases.Fold().String(strings.TrimSpace(name))]; ok {
		return gics
	}
	return name
}

// NormalizeSector rewrites the profile sector to its GICS name, keeping the
// original provenance tag.
func NormalizeSector(rec *model.Record) *model.Record {
	sector := rec.Profile.Get(model.Sector)
	name, ok := sector.Str()
	if !ok {
		return rec
	}
	gics := GICSSector(name)
	if gics == name {
		return rec
	}
	out := rec.Clone()
	out.Profile.Fields[model.Sector] = model.Text(gics, sector.Source())
	return out
}
