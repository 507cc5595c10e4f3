package model

// Source identifies the provider that supplied a value.
type Source string

const (
	SourceYahoo        Source = "yahoo"
	SourceEDGAR        Source = "sec_edgar"
	SourceFMP          Source = "fmp"
	SourceAlphaVantage Source = "alphavantage"
	SourceFinnhub      Source = "finnhub"
	SourceManual       Source = "manual"
	SourceNormalized   Source = "normalized" // derived by the engine, e.g. synthetic TTM sums
)

var knownSources = map[Source]bool{
	SourceYahoo:        true,
	SourceEDGAR:        true,
	SourceFMP:          true,
	SourceAlphaVantage: true,
	SourceFinnhub:      true,
	SourceManual:       true,
	SourceNormalized:   true,
}

// ParseSource converts a raw tag into a Source. The second return is false for
// tags the engine does not recognize.
func ParseSource(s string) (Source, bool) {
	src := Source(s)
	return src, knownSources[src]
}

// Known reports whether s is a recognized provider tag.
func (s Source) Known() bool {
	return knownSources[s]
}
