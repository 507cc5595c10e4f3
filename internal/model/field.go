package model

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/rotisserie/eris"
)

// Field is a value paired with the provider that supplied it. A Field is
// immutable; the zero value is a null field with no source.
type Field struct {
	num    float64
	text   string
	kind   fieldKind
	source Source
}

type fieldKind uint8

const (
	kindNull fieldKind = iota
	kindNum
	kindText
)

// Num returns a numeric field tagged with src.
func Num(v float64, src Source) Field {
	return Field{num: v, kind: kindNum, source: src}
}

// Text returns a text field tagged with src.
func Text(s string, src Source) Field {
	return Field{text: s, kind: kindText, source: src}
}

// Null returns a field with no value.
func Null() Field {
	return Field{}
}

// IsNull reports whether the field carries no value.
func (f Field) IsNull() bool { return f.kind == kindNull }

// Empty reports whether the field is null, numeric zero, or an empty string.
// Completeness checks treat all three as absent.
func (f Field) Empty() bool {
	switch f.kind {
	case kindNum:
		return f.num == 0
	case kindText:
		return f.text == ""
	default:
		return true
	}
}

// Float returns the numeric value and true, or 0 and false for null and text fields.
func (f Field) Float() (float64, bool) {
	if f.kind != kindNum {
		return 0, false
	}
	return f.num, true
}

// Str returns the text value and true, or "" and false for null and numeric fields.
func (f Field) Str() (string, bool) {
	if f.kind != kindText {
		return "", false
	}
	return f.text, true
}

// Value returns the raw value: float64, string, or nil.
func (f Field) Value() any {
	switch f.kind {
	case kindNum:
		return f.num
	case kindText:
		return f.text
	default:
		return nil
	}
}

// Source returns the provider tag, or "" when the value is untagged.
func (f Field) Source() Source { return f.source }

// Tagged reports whether the field carries a provenance tag.
func (f Field) Tagged() bool { return f.source != "" }

// WithValue returns a new field holding v under the same source.
func (f Field) WithValue(v float64) Field {
	return Num(v, f.source)
}

type fieldJSON struct {
	Value  any    `json:"value"`
	Source Source `json:"source,omitempty"`
}

// MarshalJSON encodes the field as {"value": ..., "source": ...} or null.
func (f Field) MarshalJSON() ([]byte, error) {
	if f.IsNull() {
		return []byte("null"), nil
	}
	return json.Marshal(fieldJSON{Value: f.Value(), Source: f.source})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (f *Field) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Field{}
		return nil
	}
	var raw fieldJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: decode field")
	}
	switch v := raw.Value.(type) {
	case nil:
		*f = Field{source: raw.Source}
	case float64:
		*f = Num(v, raw.Source)
	case string:
		*f = Text(v, raw.Source)
	default:
		return eris.Errorf("model: unsupported field value type %T", raw.Value)
	}
	return nil
}

// FieldSet maps unified field names to values.
type FieldSet map[string]Field

// Get returns the named field, or a null field when absent.
func (s FieldSet) Get(name string) Field {
	return s[name]
}

// With returns a copy of s with name set to f. Null fields are dropped.
func (s FieldSet) With(name string, f Field) FieldSet {
	out := s.Clone()
	if f.IsNull() {
		delete(out, name)
		return out
	}
	out[name] = f
	return out
}

// Clone returns a shallow copy. Fields are values, so the copy is independent.
func (s FieldSet) Clone() FieldSet {
	out := make(FieldSet, len(s))
	maps.Copy(out, s)
	return out
}

// Names returns the populated field names in sorted order.
func (s FieldSet) Names() []string {
	names := make([]string, 0, len(s))
	for k, f := range s {
		if !f.IsNull() {
			names = append(names, k)
		}
	}
	slices.Sort(names)
	return names
}
