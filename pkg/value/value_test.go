package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare_CrossTypeOrder(t *testing.T) {
	// One representative per kind, in ascending kind order.
	ladder := []any{
		nil,
		true,
		float64(42),
		"hello",
		[]byte{0x01},
		[]any{float64(1)},
		map[string]any{"a": float64(1)},
	}

	for i := range ladder {
		for j := range ladder {
			got := Compare(ladder[i], ladder[j])
			switch {
			case i < j:
				assert.Equal(t, -1, got, "expected %v < %v", ladder[i], ladder[j])
			case i > j:
				assert.Equal(t, 1, got, "expected %v > %v", ladder[i], ladder[j])
			default:
				assert.Equal(t, 0, got, "expected %v == %v", ladder[i], ladder[j])
			}
		}
	}
}

func TestCompare_WithinType(t *testing.T) {
	cases := []struct {
		name string
		a, b any
		want int
	}{
		{"bool false<true", false, true, -1},
		{"numbers", float64(1), float64(2), -1},
		{"numbers equal", float64(3), float64(3), 0},
		{"nan first", math.NaN(), float64(-1e300), -1},
		{"nan equals nan", math.NaN(), math.NaN(), 0},
		{"neg inf", math.Inf(-1), float64(0), -1},
		{"strings", "abc", "abd", -1},
		{"string prefix", "ab", "abc", -1},
		{"bytes", []byte{0x01, 0x02}, []byte{0x01, 0x03}, -1},
		{"array elementwise", []any{float64(1), float64(2)}, []any{float64(1), float64(3)}, -1},
		{"array prefix shorter", []any{float64(1)}, []any{float64(1), float64(0)}, -1},
		{"record by field name", map[string]any{"a": float64(1)}, map[string]any{"b": float64(0)}, -1},
		{"record by field value", map[string]any{"a": float64(1)}, map[string]any{"a": float64(2)}, -1},
		{"record fewer fields", map[string]any{"a": float64(1)}, map[string]any{"a": float64(1), "b": nil}, -1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Compare(tc.a, tc.b))
			assert.Equal(t, -tc.want, Compare(tc.b, tc.a))
		})
	}
}

func TestCanonicalize(t *testing.T) {
	got, err := Canonicalize(map[string]any{
		"n":    7,
		"list": []any{int64(1), float32(2.5)},
	})
	require.NoError(t, err)

	want := map[string]any{
		"n":    float64(7),
		"list": []any{float64(1), float64(2.5)},
	}
	assert.True(t, Equal(want, got))

	_, err = Canonicalize(struct{}{})
	assert.Error(t, err)
}

func TestCursorRoundTrip(t *testing.T) {
	values := []any{
		nil,
		false,
		true,
		float64(0),
		float64(-12.75),
		float64(1e300),
		math.Inf(1),
		math.Inf(-1),
		math.NaN(),
		"",
		"with \"quotes\" and ünicode",
		[]byte{},
		[]byte{0x00, 0xff, 0x10},
		[]any{},
		[]any{nil, true, "x", []byte{0x7f}},
		map[string]any{},
		map[string]any{"b": float64(2), "a": float64(1)},
		map[string]any{"$bytes": "not really bytes"},
		map[string]any{"nested": map[string]any{"$record": []any{"deep"}}},
	}

	for _, v := range values {
		enc := Encode(v)
		dec, err := Decode(enc)
		require.NoError(t, err, "decoding %q", enc)
		assert.True(t, Equal(v, dec), "round trip of %v via %q gave %v", v, enc, dec)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	a := map[string]any{"x": float64(1), "y": "two", "z": []any{nil}}
	b := map[string]any{"z": []any{nil}, "y": "two", "x": float64(1)}
	assert.Equal(t, Encode(a), Encode(b))
}

func TestDecode_Rejects(t *testing.T) {
	bad := []string{
		"",
		"{",
		"1 2",
		`{"$num":"huge"}`,
		`{"$bytes":42}`,
		`{"$bytes":"%%%"}`,
	}
	for _, s := range bad {
		_, err := Decode(s)
		assert.Error(t, err, "expected decode of %q to fail", s)
	}
}
