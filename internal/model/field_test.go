package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestField_Accessors(t *testing.T) {
	t.Parallel()

	n := Num(42.5, SourceYahoo)
	v, ok := n.Float()
	assert.True(t, ok)
	assert.InDelta(t, 42.5, v, 0.0001)
	assert.Equal(t, SourceYahoo, n.Source())
	assert.False(t, n.IsNull())
	assert.True(t, n.Tagged())

	_, ok = n.Str()
	assert.False(t, ok)

	s := Text("Technology", SourceFMP)
	str, ok := s.Str()
	assert.True(t, ok)
	assert.Equal(t, "Technology", str)
	assert.Equal(t, "Technology", s.Value())

	null := Null()
	assert.True(t, null.IsNull())
	assert.Nil(t, null.Value())
	assert.False(t, null.Tagged())
}

func TestField_Empty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		field Field
		want  bool
	}{
		{"null", Null(), true},
		{"zero", Num(0, SourceYahoo), true},
		{"empty text", Text("", SourceYahoo), true},
		{"negative", Num(-3, SourceYahoo), false},
		{"text", Text("x", SourceYahoo), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.field.Empty())
		})
	}
}

func TestField_JSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Num(100, SourceEDGAR))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":100,"source":"sec_edgar"}`, string(data))

	data, err = json.Marshal(Null())
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	var f Field
	require.NoError(t, json.Unmarshal([]byte(`{"value":"Apple Inc.","source":"yahoo"}`), &f))
	str, ok := f.Str()
	assert.True(t, ok)
	assert.Equal(t, "Apple Inc.", str)
	assert.Equal(t, SourceYahoo, f.Source())

	require.NoError(t, json.Unmarshal([]byte(`null`), &f))
	assert.True(t, f.IsNull())

	assert.Error(t, json.Unmarshal([]byte(`{"value":[1,2]}`), &f))
}

func TestFieldSet_WithDoesNotMutate(t *testing.T) {
	t.Parallel()

	orig := FieldSet{Revenue: Num(1, SourceYahoo)}
	next := orig.With(NetIncome, Num(2, SourceFMP))

	assert.Len(t, orig, 1)
	assert.Len(t, next, 2)

	dropped := next.With(Revenue, Null())
	assert.Equal(t, []string{NetIncome}, dropped.Names())
	assert.Equal(t, []string{NetIncome, Revenue}, next.Names())
}

func TestParsePeriod(t *testing.T) {
	t.Parallel()

	d, ok := ParsePeriod("2024-03-31")
	require.True(t, ok)
	assert.Equal(t, 2024, d.Year())

	d, ok = ParsePeriod("TTM-2024-06-30")
	require.True(t, ok)
	assert.Equal(t, 6, int(d.Month()))

	_, ok = ParsePeriod("2024-FY")
	assert.False(t, ok)
}

func TestStatement_IsTTM(t *testing.T) {
	t.Parallel()

	assert.True(t, NewStatement(IncomeStatement, "2024-06-30", PeriodTTM).IsTTM())
	assert.True(t, NewStatement(IncomeStatement, "TTM-2024-06-30", PeriodQ).IsTTM())
	assert.False(t, NewStatement(IncomeStatement, "2024-06-30", PeriodQ).IsTTM())
}
