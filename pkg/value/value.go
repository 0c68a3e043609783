// Package value defines the structured value domain used for index keys
// and namespaces, a total order over that domain, and a lossless textual
// encoding used for pagination cursors.
package value

import (
	"fmt"
)

// Kind identifies the type of a structured value. The numeric ordering of
// the constants is the cross-type ordering: values of a lower kind sort
// before values of a higher kind.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindBytes
	KindArray
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindOf reports the kind of a canonical value. Non-canonical values
// (for example int instead of float64) are not recognized; run them
// through Canonicalize first.
func KindOf(v any) (Kind, error) {
	switch v.(type) {
	case nil:
		return KindNull, nil
	case bool:
		return KindBool, nil
	case float64:
		return KindNumber, nil
	case string:
		return KindString, nil
	case []byte:
		return KindBytes, nil
	case []any:
		return KindArray, nil
	case map[string]any:
		return KindRecord, nil
	default:
		return 0, fmt.Errorf("value: unsupported type %T", v)
	}
}

// Canonicalize converts a value into the canonical representation of the
// domain: nil, bool, float64, string, []byte, []any and map[string]any.
// Integer and float types collapse into float64; nested containers are
// canonicalized recursively. An error is returned for any type outside
// the domain.
func Canonicalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, float64, string, []byte:
		return x, nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			c, err := Canonicalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			c, err := Canonicalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value: unsupported type %T", v)
	}
}

// MustCanonicalize is Canonicalize for values known to be in the domain.
// It panics on unsupported types and is intended for literals in tests
// and command wiring.
func MustCanonicalize(v any) any {
	c, err := Canonicalize(v)
	if err != nil {
		panic(err)
	}
	return c
}

// Equal reports whether two canonical values compare equal under the
// domain order.
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}
