package model

import (
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

var (
	defaultStatementPriority = []Source{SourceYahoo, SourceFMP, SourceEDGAR, SourceAlphaVantage}
	defaultProfilePriority   = []Source{SourceYahoo, SourceFMP, SourceEDGAR, SourceAlphaVantage, SourceFinnhub}
	defaultForecastPriority  = []Source{SourceYahoo, SourceFMP, SourceFinnhub}
	targetPriority           = []Source{SourceFMP, SourceYahoo, SourceFinnhub}
)

// PriorityTable maps each unified field to the ordered providers allowed to
// supply it. Fields without an explicit entry use the table's default list.
type PriorityTable struct {
	Statement map[string][]Source `yaml:"statement"`
	Profile   map[string][]Source `yaml:"profile"`
	Forecast  map[string][]Source `yaml:"forecast"`
}

// DefaultPriorities returns the built-in table.
func DefaultPriorities() *PriorityTable {
	t := &PriorityTable{
		Statement: map[string][]Source{},
		Profile:   map[string][]Source{},
		Forecast:  map[string][]Source{},
	}
	for _, name := range TargetSchema {
		t.Forecast[name] = targetPriority
	}
	return t
}

// StatementPriority returns the provider order for a statement field.
func (t *PriorityTable) StatementPriority(field string) []Source {
	if p, ok := t.Statement[field]; ok && len(p) > 0 {
		return p
	}
	return defaultStatementPriority
}

// ProfilePriority returns the provider order for a profile field.
func (t *PriorityTable) ProfilePriority(field string) []Source {
	if p, ok := t.Profile[field]; ok && len(p) > 0 {
		return p
	}
	return defaultProfilePriority
}

// ForecastPriority returns the provider order for a forecast field.
func (t *PriorityTable) ForecastPriority(field string) []Source {
	if p, ok := t.Forecast[field]; ok && len(p) > 0 {
		return p
	}
	return defaultForecastPriority
}

// LoadPriorityOverrides reads a YAML file of per-field provider orders and
// layers it over the defaults. Unknown provider tags are rejected.
func LoadPriorityOverrides(path string) (*PriorityTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read priority file %s", path)
	}

	var over PriorityTable
	if err := yaml.Unmarshal(data, &over); err != nil {
		return nil, eris.Wrap(err, "model: parse priority file")
	}

	t := DefaultPriorities()
	for _, layer := range []struct {
		dst map[string][]Source
		src map[string][]Source
	}{
		{t.Statement, over.Statement},
		{t.Profile, over.Profile},
		{t.Forecast, over.Forecast},
	} {
		for field, order := range layer.src {
			for _, s := range order {
				if !s.Known() {
					return nil, eris.Errorf("model: unknown source %q for field %s", s, field)
				}
			}
			layer.dst[field] = slices.Clone(order)
		}
	}
	return t, nil
}
