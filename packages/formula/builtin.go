package formula

import (
	"math"
	"sort"
	"strings"
)

// namespacePrefix is the dotted alias accepted in front of every function
// name, e.g. MATH.CLAMP(C0, 0, 1)
const namespacePrefix = "MATH."

// arity holds the accepted argument count range of a builtin
type arity struct {
	min, max int
}

type builtin struct {
	name  string
	arity arity
	fn    func(bf *BuiltInFunctions, args []float64) (float64, error)
}

var builtins = map[string]builtin{
	"IF":          {"IF", arity{3, 3}, (*BuiltInFunctions).IF},
	"ABS":         {"ABS", arity{1, 1}, (*BuiltInFunctions).ABS},
	"MIN":         {"MIN", arity{2, 2}, (*BuiltInFunctions).MIN},
	"MAX":         {"MAX", arity{2, 2}, (*BuiltInFunctions).MAX},
	"CLAMP":       {"CLAMP", arity{3, 3}, (*BuiltInFunctions).CLAMP},
	"SQRT":        {"SQRT", arity{1, 1}, (*BuiltInFunctions).SQRT},
	"POW":         {"POW", arity{2, 2}, (*BuiltInFunctions).POW},
	"ROUND":       {"ROUND", arity{1, 2}, (*BuiltInFunctions).ROUND},
	"CEILING":     {"CEILING", arity{1, 1}, (*BuiltInFunctions).CEILING},
	"CEIL":        {"CEILING", arity{1, 1}, (*BuiltInFunctions).CEILING},
	"FLOOR":       {"FLOOR", arity{1, 1}, (*BuiltInFunctions).FLOOR},
	"LERP":        {"LERP", arity{3, 3}, (*BuiltInFunctions).LERP},
	"INVERSELERP": {"INVERSELERP", arity{3, 3}, (*BuiltInFunctions).INVERSELERP},
	"SMOOTHSTEP":  {"SMOOTHSTEP", arity{3, 3}, (*BuiltInFunctions).SMOOTHSTEP},
}

const maxRoundPlaces = 15

// BuiltInFunctions contains the formula builtin functions. all of them
// operate on float-coerced arguments and return a number.
type BuiltInFunctions struct {
	conv Converter
}

// NewDefaultBuiltInFunctions creates a BuiltInFunctions using DefaultEpsilon
func NewDefaultBuiltInFunctions() *BuiltInFunctions {
	return NewBuiltInFunctions(DefaultEpsilon)
}

// NewBuiltInFunctions creates a BuiltInFunctions with the given tolerance
func NewBuiltInFunctions(epsilon float64) *BuiltInFunctions {
	return &BuiltInFunctions{conv: Converter{Epsilon: epsilon}}
}

// Names returns the canonical function names, sorted
func (bf *BuiltInFunctions) Names() []string {
	seen := make(map[string]struct{})
	for _, b := range builtins {
		seen[b.name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name resolves to a builtin
func (bf *BuiltInFunctions) Has(name string) bool {
	_, ok := lookupBuiltin(name)
	return ok
}

func lookupBuiltin(name string) (builtin, bool) {
	key := strings.ToUpper(name)
	key = strings.TrimPrefix(key, namespacePrefix)
	b, ok := builtins[key]
	return b, ok
}

// Call invokes a built-in function by name with the given arguments
func (bf *BuiltInFunctions) Call(name string, args ...Value) (Value, error) {
	b, err := bf.resolve(name, len(args))
	if err != nil {
		return Null(), err
	}

	nums := make([]float64, len(args))
	for i, arg := range args {
		nums[i] = bf.conv.ToFloat(arg)
	}

	result, err := b.fn(bf, nums)
	if err != nil {
		return Null(), err
	}
	return Number(result), nil
}

// resolve finds the function and checks the argument count
func (bf *BuiltInFunctions) resolve(name string, argc int) (builtin, error) {
	b, ok := lookupBuiltin(name)
	if !ok {
		return builtin{}, NewFormulaError(ErrUnknownFunction, "Unknown function: %s", name)
	}
	if argc < b.arity.min || argc > b.arity.max {
		if b.arity.min == b.arity.max {
			return builtin{}, NewFormulaError(ErrArity,
				"Function %s requires %d argument(s), got %d", b.name, b.arity.min, argc)
		}
		return builtin{}, NewFormulaError(ErrArity,
			"Function %s requires %d to %d arguments, got %d", b.name, b.arity.min, b.arity.max, argc)
	}
	return b, nil
}

func (bf *BuiltInFunctions) IF(args []float64) (float64, error) {
	if bf.conv.truthy(args[0]) {
		return args[1], nil
	}
	return args[2], nil
}

func (bf *BuiltInFunctions) ABS(args []float64) (float64, error) {
	return math.Abs(args[0]), nil
}

func (bf *BuiltInFunctions) MIN(args []float64) (float64, error) {
	return math.Min(args[0], args[1]), nil
}

func (bf *BuiltInFunctions) MAX(args []float64) (float64, error) {
	return math.Max(args[0], args[1]), nil
}

func (bf *BuiltInFunctions) CLAMP(args []float64) (float64, error) {
	return clamp(args[0], args[1], args[2]), nil
}

func (bf *BuiltInFunctions) SQRT(args []float64) (float64, error) {
	if args[0] < 0 {
		return 0, NewFormulaError(ErrDomain, "Function SQRT: cannot take square root of negative number %g", args[0])
	}
	return math.Sqrt(args[0]), nil
}

func (bf *BuiltInFunctions) POW(args []float64) (float64, error) {
	return math.Pow(args[0], args[1]), nil
}

// ROUND rounds half away from zero, optionally to n decimal places
func (bf *BuiltInFunctions) ROUND(args []float64) (float64, error) {
	if len(args) == 1 {
		return math.Round(args[0]), nil
	}
	places := args[1]
	if places < 0 || math.IsNaN(places) {
		return 0, NewFormulaError(ErrDomain, "Function ROUND: decimal places must be non-negative, got %g", places)
	}
	// a float64 carries no more than maxRoundPlaces fractional digits
	if places > maxRoundPlaces {
		return args[0], nil
	}
	multiplier := math.Pow(10, math.Trunc(places))
	scaled := args[0] * multiplier
	if math.IsInf(scaled, 0) {
		return args[0], nil
	}
	return math.Round(scaled) / multiplier, nil
}

func (bf *BuiltInFunctions) CEILING(args []float64) (float64, error) {
	return math.Ceil(args[0]), nil
}

func (bf *BuiltInFunctions) FLOOR(args []float64) (float64, error) {
	return math.Floor(args[0]), nil
}

// LERP interpolates from a to b, t clamped to [0, 1]
func (bf *BuiltInFunctions) LERP(args []float64) (float64, error) {
	a, b, t := args[0], args[1], clamp(args[2], 0, 1)
	return a + (b-a)*t, nil
}

// INVERSELERP returns where v sits between a and b, clamped to [0, 1]
func (bf *BuiltInFunctions) INVERSELERP(args []float64) (float64, error) {
	a, b, v := args[0], args[1], args[2]
	if bf.conv.equal(a, b) {
		return 0, nil
	}
	return clamp((v-a)/(b-a), 0, 1), nil
}

// SMOOTHSTEP is the Hermite step of t between the min and max edges
func (bf *BuiltInFunctions) SMOOTHSTEP(args []float64) (float64, error) {
	lo, hi, t := args[0], args[1], args[2]
	if bf.conv.equal(lo, hi) {
		if t < lo {
			return 0, nil
		}
		return 1, nil
	}
	x := clamp((t-lo)/(hi-lo), 0, 1)
	return x * x * (3 - 2*x), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
