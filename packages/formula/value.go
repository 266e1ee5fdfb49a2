package formula

import (
	"fmt"
	"strconv"
)

// Kind identifies which member of the Value union is populated.
// kinds:
//   - KindNull: empty or missing value
//   - KindNumber: all numeric values (integers are converted to float64)
//   - KindBool: boolean values
//   - KindText: raw text, only seen as provider input
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindBool
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Value is a dynamically typed scalar flowing through the evaluator
type Value struct {
	kind Kind
	num  float64
	b    bool
	text string
}

func Null() Value { return Value{kind: KindNull} }
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Text(s string) Value { return Value{kind: KindText, text: s} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsBool() bool { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }

// Float returns the number payload and whether the value is a number
func (v Value) Float() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Boolean returns the bool payload and whether the value is a bool
func (v Value) Boolean() (bool, bool) {
	return v.b, v.kind == KindBool
}

// Str returns the text payload and whether the value is text
func (v Value) Str() (string, bool) {
	return v.text, v.kind == KindText
}

// Interface returns the payload as a plain Go value (nil, float64, bool or
// string), which is what hosts usually want to render or store.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindText:
		return v.text
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindText:
		return v.text
	default:
		return ""
	}
}

// ValueOf maps a plain Go value onto the Value union. Unsupported types are
// rendered to text with fmt so they still go through string coercion.
func ValueOf(x any) Value {
	switch v := x.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case float64:
		return Number(v)
	case float32:
		return Number(float64(v))
	case int:
		return Number(float64(v))
	case int8:
		return Number(float64(v))
	case int16:
		return Number(float64(v))
	case int32:
		return Number(float64(v))
	case int64:
		return Number(float64(v))
	case uint:
		return Number(float64(v))
	case uint8:
		return Number(float64(v))
	case uint16:
		return Number(float64(v))
	case uint32:
		return Number(float64(v))
	case uint64:
		return Number(float64(v))
	case bool:
		return Bool(v)
	case string:
		return Text(v)
	default:
		return Text(fmt.Sprint(v))
	}
}

// Provider returns the current value of a reference. it is called lazily,
// only when the evaluator reaches the reference.
type Provider func() Value

// Constant returns a provider that always yields v
func Constant(v any) Provider {
	val := ValueOf(v)
	return func() Value { return val }
}

// Scope bundles the reference providers for one evaluation, e.g. one row of
// a grid. Both maps are keyed by reference name ("C0", "V3").
type Scope struct {
	Columns   map[string]Provider
	Variables map[string]Provider
}

// NewScope creates an empty scope
func NewScope() *Scope {
	return &Scope{
		Columns:   make(map[string]Provider),
		Variables: make(map[string]Provider),
	}
}

// SetColumn registers the provider for column reference C<index>
func (s *Scope) SetColumn(index int, p Provider) *Scope {
	if s.Columns == nil {
		s.Columns = make(map[string]Provider)
	}
	s.Columns[ColumnRef(index)] = p
	return s
}

// SetVariable registers the provider for variable reference V<index>
func (s *Scope) SetVariable(index int, p Provider) *Scope {
	if s.Variables == nil {
		s.Variables = make(map[string]Provider)
	}
	s.Variables[VariableRef(index)] = p
	return s
}

// lookup resolves a reference name, columns first
func (s *Scope) lookup(name string) (Provider, bool) {
	if s == nil {
		return nil, false
	}
	if p, ok := s.Columns[name]; ok && p != nil {
		return p, true
	}
	if p, ok := s.Variables[name]; ok && p != nil {
		return p, true
	}
	return nil, false
}
