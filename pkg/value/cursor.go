package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// The cursor codec is a canonical JSON rendering of the value domain.
// Record fields are emitted in sorted order so equal values encode to
// equal strings, and the parts of the domain JSON cannot express are
// wrapped in single-key tag objects:
//
//	[]byte            -> {"$bytes": "<base64>"}
//	NaN, +Inf, -Inf   -> {"$num": "nan" | "inf" | "-inf"}
//	record with a "$" -> {"$record": {...}}
//	prefixed field
//
// Decode(Encode(v)) always compares equal to v.

// Encode renders a canonical value as its cursor string.
func Encode(v any) string {
	var b strings.Builder
	encodeTo(&b, v)
	return b.String()
}

func encodeTo(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case float64:
		switch {
		case math.IsNaN(x):
			b.WriteString(`{"$num":"nan"}`)
		case math.IsInf(x, 1):
			b.WriteString(`{"$num":"inf"}`)
		case math.IsInf(x, -1):
			b.WriteString(`{"$num":"-inf"}`)
		default:
			b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		}
	case string:
		enc, _ := json.Marshal(x)
		b.Write(enc)
	case []byte:
		b.WriteString(`{"$bytes":"`)
		b.WriteString(base64.StdEncoding.EncodeToString(x))
		b.WriteString(`"}`)
	case []any:
		b.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeTo(b, e)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := sortedKeys(x)
		if needsRecordTag(keys) {
			b.WriteString(`{"$record":`)
			encodeRecord(b, x, keys)
			b.WriteByte('}')
			return
		}
		encodeRecord(b, x, keys)
	default:
		panic(fmt.Sprintf("value: cannot encode %T", v))
	}
}

func encodeRecord(b *strings.Builder, m map[string]any, keys []string) {
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		enc, _ := json.Marshal(k)
		b.Write(enc)
		b.WriteByte(':')
		encodeTo(b, m[k])
	}
	b.WriteByte('}')
}

func needsRecordTag(keys []string) bool {
	for _, k := range keys {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// Decode parses a cursor string back into a canonical value.
func Decode(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("value: bad cursor: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("value: bad cursor: trailing data")
	}
	return fromJSON(raw)
}

func fromJSON(raw any) (any, error) {
	switch x := raw.(type) {
	case nil, bool, string:
		return x, nil
	case json.Number:
		f, err := strconv.ParseFloat(x.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("value: bad cursor number %q: %w", x.String(), err)
		}
		return f, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			v, err := fromJSON(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		if tagged, v, err := decodeTag(x); tagged || err != nil {
			return v, err
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			v, err := fromJSON(e)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value: bad cursor element %T", raw)
	}
}

func decodeTag(m map[string]any) (bool, any, error) {
	if len(m) != 1 {
		return false, nil, nil
	}
	var key string
	for k := range m {
		key = k
	}
	switch key {
	case "$bytes":
		s, ok := m[key].(string)
		if !ok {
			return true, nil, fmt.Errorf("value: bad cursor: $bytes payload is %T", m[key])
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return true, nil, fmt.Errorf("value: bad cursor: %w", err)
		}
		return true, raw, nil
	case "$num":
		s, _ := m[key].(string)
		switch s {
		case "nan":
			return true, math.NaN(), nil
		case "inf":
			return true, math.Inf(1), nil
		case "-inf":
			return true, math.Inf(-1), nil
		default:
			return true, nil, fmt.Errorf("value: bad cursor: unknown $num %q", s)
		}
	case "$record":
		inner, ok := m[key].(map[string]any)
		if !ok {
			return true, nil, fmt.Errorf("value: bad cursor: $record payload is %T", m[key])
		}
		out := make(map[string]any, len(inner))
		for k, e := range inner {
			v, err := fromJSON(e)
			if err != nil {
				return true, nil, err
			}
			out[k] = v
		}
		return true, out, nil
	default:
		return false, nil, nil
	}
}
