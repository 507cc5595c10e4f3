package provider

import (
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/fundamentals/internal/model"
)

// Fields builds a FieldSet whose values all carry one provider's tag.
// Missing, NaN and placeholder values are left out.
type Fields struct {
	src model.Source
	set model.FieldSet
}

// NewFields starts an empty set tagged with src.
func NewFields(src model.Source) *Fields {
	return &Fields{src: src, set: model.FieldSet{}}
}

// Num sets name when v is a finite number.
func (f *Fields) Num(name string, v *float64) *Fields {
	if v == nil {
		return f
	}
	return f.Scaled(name, *v, 1)
}

// Scaled sets name to v*scale when v is finite. Providers that report in
// millions use a scale of 1e6.
func (f *Fields) Scaled(name string, v, scale float64) *Fields {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return f
	}
	f.set[name] = model.Num(v*scale, f.src)
	return f
}

// Parse sets name from a numeric string. "None", "-" and "" are missing.
func (f *Fields) Parse(name, raw string) *Fields {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "", "-", "None", "null", "N/A":
		return f
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
	if err != nil {
		return f
	}
	return f.Scaled(name, v, 1)
}

// Text sets name when s is not blank.
func (f *Fields) Text(name, s string) *Fields {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" {
		return f
	}
	f.set[name] = model.Text(s, f.src)
	return f
}

// Len returns the number of values set.
func (f *Fields) Len() int { return len(f.set) }

// Set returns the collected fields.
func (f *Fields) Set() model.FieldSet { return f.set }
