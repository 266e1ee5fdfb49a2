package formula

import (
	"math"
	"strconv"
	"strings"
)

// DefaultEpsilon is the tolerance used for truthiness, equality and
// division checks when no other value is configured.
const DefaultEpsilon = 1e-9

// Converter normalizes Values for arithmetic and logical contexts. all
// conversions are pure; Epsilon only affects the numeric truthiness rule.
type Converter struct {
	Epsilon float64
}

var defaultConverter = Converter{Epsilon: DefaultEpsilon}

// ToBool converts using the default epsilon
func ToBool(v Value) bool { return defaultConverter.ToBool(v) }

// ToFloat converts using the default epsilon
func ToFloat(v Value) float64 { return defaultConverter.ToFloat(v) }

// ForReference converts using the default epsilon
func ForReference(v Value) Value { return defaultConverter.ForReference(v) }

// ToBool coerces v for logical operators.
//   - null: false
//   - bool: unchanged
//   - number: |x| > epsilon
//   - text: parsed as bool, then as number, otherwise false
func (c Converter) ToBool(v Value) bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return c.truthy(v.num)
	case KindText:
		if b, ok := parseBool(v.text); ok {
			return b
		}
		if f, ok := parseFloat(v.text); ok {
			return c.truthy(f)
		}
		return false
	default:
		return false
	}
}

// ToFloat coerces v for arithmetic and comparison operators.
//   - null: 0
//   - number: unchanged
//   - bool: 1 or 0
//   - text: parsed as number, otherwise 0
func (c Converter) ToFloat(v Value) float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	case KindText:
		if f, ok := parseFloat(v.text); ok {
			return f
		}
		return 0
	default:
		return 0
	}
}

// ForReference normalizes a provider result while keeping its semantic type:
// bools stay bools so && and || see real booleans. text is tried as a bool
// first, then as a number; anything else becomes 0.
func (c Converter) ForReference(v Value) Value {
	switch v.kind {
	case KindBool, KindNumber:
		return v
	case KindText:
		if b, ok := parseBool(v.text); ok {
			return Bool(b)
		}
		if f, ok := parseFloat(v.text); ok {
			return Number(f)
		}
		return Number(0)
	default:
		return Number(0)
	}
}

func (c Converter) truthy(f float64) bool {
	return math.Abs(f) > c.Epsilon
}

// equal compares two floats within epsilon
func (c Converter) equal(a, b float64) bool {
	return math.Abs(a-b) < c.Epsilon
}

func parseBool(s string) (bool, bool) {
	s = strings.TrimSpace(s)
	switch {
	case strings.EqualFold(s, "true"):
		return true, true
	case strings.EqualFold(s, "false"):
		return false, true
	}
	return false, false
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
