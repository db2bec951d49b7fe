package serialization

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	type provenance struct {
		Level int    `json:"level"`
		Agent string `json:"collector_agent"`
	}

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "null", value: nil, want: `null`},
		{name: "bools", value: []any{true, false}, want: `[true, false]`},
		{name: "int", value: 42, want: `42`},
		{name: "negative int64", value: int64(-7), want: `-7`},
		{name: "float", value: 6.5, want: `6.5`},
		{name: "integral float", value: 1.0, want: `1.0`},
		{name: "negative zero", value: math.Copysign(0, -1), want: `-0.0`},
		{name: "small float uses exponent", value: 0.00001, want: `1e-05`},
		{name: "small float boundary", value: 0.0001, want: `0.0001`},
		{name: "large float uses exponent", value: 1e16, want: `1e+16`},
		{name: "large float below boundary", value: 1e15, want: `1000000000000000.0`},
		{name: "json number int", value: json.Number("12"), want: `12`},
		{name: "json number float", value: json.Number("6.50"), want: `6.5`},
		{name: "json number exponent", value: json.Number("1E2"), want: `100.0`},
		{name: "empty object", value: map[string]any{}, want: `{}`},
		{name: "empty array", value: []any{}, want: `[]`},
		{name: "sorted keys", value: map[string]any{"b": 1, "a": 2, "B": 3}, want: `{"B": 3, "a": 2, "b": 1}`},
		{name: "nested", value: map[string]any{"z": []any{map[string]any{"y": nil, "x": "v"}}}, want: `{"z": [{"x": "v", "y": null}]}`},
		{name: "escapes", value: "a\"b\\c\nd\te\x01\x7f", want: `"a\"b\\c\nd\te\u0001\u007f"`},
		{name: "non ascii", value: "血常规", want: `"\u8840\u5e38\u89c4"`},
		{name: "astral plane", value: "😀", want: `"\ud83d\ude00"`},
		{name: "struct via json tags", value: provenance{Level: 1, Agent: "lab"}, want: `{"collector_agent": "lab", "level": 1}`},
		{name: "typed map", value: map[string]string{"k": "v"}, want: `{"k": "v"}`},
		{name: "raw message", value: json.RawMessage(`{"b":1.0,"a":[1,2]}`), want: `{"a": [1, 2], "b": 1.0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonical(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonical_SignedPayloadFormat(t *testing.T) {
	payload := map[string]any{
		"raw_data":     map[string]any{"wbc": 6.5},
		"summary_data": "normal",
		"gene_data":    map[string]any{"level": 1},
	}
	got, err := Canonical(payload)
	require.NoError(t, err)
	assert.Equal(t, `{"gene_data": {"level": 1}, "raw_data": {"wbc": 6.5}, "summary_data": "normal"}`, got)
}

func TestCanonical_Unsupported(t *testing.T) {
	for _, v := range []any{math.NaN(), math.Inf(1), make(chan int), func() {}} {
		_, err := Canonical(v)
		assert.ErrorIs(t, err, ErrUnsupportedValue)
	}
}

func TestDecode(t *testing.T) {
	v, err := Decode([]byte(`{"count": 3, "ratio": 3.0}`))
	require.NoError(t, err)

	got, err := Canonical(v)
	require.NoError(t, err)
	assert.Equal(t, `{"count": 3, "ratio": 3.0}`, got)

	_, err = Decode([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{`))
	assert.Error(t, err)
}
