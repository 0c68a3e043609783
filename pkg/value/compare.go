package value

import (
	"bytes"
	"math"
	"sort"
	"strings"
)

// Compare imposes a total order over canonical values and returns -1, 0
// or 1. Values of different kinds order by kind (null < bool < number <
// string < bytes < array < record); within a kind the order is natural:
// false < true, numeric order for numbers (NaN first), lexicographic for
// strings and byte sequences, elementwise for arrays, and sorted
// field-wise for records.
//
// Compare panics when handed a value outside the canonical domain; the
// engine only ever stores canonical values.
func Compare(a, b any) int {
	ka := mustKind(a)
	kb := mustKind(b)
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}
	switch ka {
	case KindNull:
		return 0
	case KindBool:
		return compareBool(a.(bool), b.(bool))
	case KindNumber:
		return compareNumber(a.(float64), b.(float64))
	case KindString:
		return strings.Compare(a.(string), b.(string))
	case KindBytes:
		return bytes.Compare(a.([]byte), b.([]byte))
	case KindArray:
		return compareArray(a.([]any), b.([]any))
	default:
		return compareRecord(a.(map[string]any), b.(map[string]any))
	}
}

func mustKind(v any) Kind {
	k, err := KindOf(v)
	if err != nil {
		panic(err)
	}
	return k
}

func compareBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func compareNumber(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareArray(a, b []any) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// compareRecord orders records as their field lists sorted by field
// name, comparing name then value pairwise.
func compareRecord(a, b map[string]any) int {
	ak := sortedKeys(a)
	bk := sortedKeys(b)
	n := len(ak)
	if len(bk) < n {
		n = len(bk)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := Compare(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	switch {
	case len(ak) < len(bk):
		return -1
	case len(ak) > len(bk):
		return 1
	default:
		return 0
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
