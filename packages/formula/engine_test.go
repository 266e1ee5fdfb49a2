package formula

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	engine, err := NewEngine(opts...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

// rowScope is C0=5, C1=10, C2="abc", C3=true, V0=2
func rowScope() *Scope {
	return NewScope().
		SetColumn(0, Constant(5)).
		SetColumn(1, Constant(10)).
		SetColumn(2, Constant("abc")).
		SetColumn(3, Constant(true)).
		SetVariable(0, Constant(2))
}

func TestEngineEvaluate(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		formula  string
		expected Value
	}{
		// arithmetic and precedence
		{"2 + 3 * 4", Number(14)},
		{"(2 + 3) * 4", Number(20)},
		{"10 - 4 - 3", Number(3)},
		{"12 / 4 / 3", Number(1)},
		{"-5 + 2", Number(-3)},
		{"-(2 + 3)", Number(-5)},
		{"2 * -3", Number(-6)},
		{"--2", Number(2)},
		{".5 * 4", Number(2)},
		{"", Number(0)},
		{"   ", Number(0)},

		// references
		{"C0 + C1", Number(15)},
		{"C0 * V0", Number(10)},
		{"C2 + 1", Number(1)},
		{"C3 + 1", Number(2)},
		{"C3", Bool(true)},

		// comparisons produce 1 or 0
		{"C0 > 1", Number(1)},
		{"C0 < 1", Number(0)},
		{"(C0 > 1) + (C1 < 20)", Number(2)},
		{"0.1 + 0.2 == 0.3", Number(1)},
		{"C0 >= 5", Number(1)},
		{"C0 <= 4.9", Number(0)},
		{"C0 != 5", Number(0)},
		{"1 < 2 < 3", Number(1)},

		// logic produces bools
		{"C0 > 1 && C1 > 1", Bool(true)},
		{"C0 > 100 || C1 > 100", Bool(false)},
		{"true && false", Bool(false)},
		{"0 || 3", Bool(true)},
		{"C3 && C0", Bool(true)},

		// ternary
		{"C0 > 3 ? 100 : 200", Number(100)},
		{"C0 > 30 ? 100 : 200", Number(200)},
		{"C0 > 3 ? (C1 > 3 ? 1 : 2) : 3", Number(1)},
		{"C0 > 30 ? 1 : (C1 > 3 ? 2 : 3)", Number(2)},
		{"false ? 1 : true", Bool(true)},

		// functions
		{"MAX(C0, C1)", Number(10)},
		{"CLAMP(15, 0, 10)", Number(10)},
		{"ROUND(3.14159, 2)", Number(3.14)},
		{"IF(C0 > 3, 1, 2)", Number(1)},
		{"MATH.LERP(0, C1, 0.5)", Number(5)},
		{"ABS(MIN(-3, -7))", Number(7)},
		{"POW(2, 3) + SQRT(16)", Number(12)},
	}

	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			got, err := engine.Evaluate(tt.formula, rowScope())
			if err != nil {
				t.Fatalf("Evaluate(%q) failed: %v", tt.formula, err)
			}
			if got.Kind() != tt.expected.Kind() {
				t.Fatalf("Evaluate(%q) = %v (%s), expected %v (%s)", tt.formula, got, got.Kind(), tt.expected, tt.expected.Kind())
			}
			if gf, ok := got.Float(); ok {
				ef, _ := tt.expected.Float()
				if math.Abs(gf-ef) > 1e-9 {
					t.Errorf("Evaluate(%q) = %v, expected %v", tt.formula, gf, ef)
				}
				return
			}
			if got != tt.expected {
				t.Errorf("Evaluate(%q) = %v, expected %v", tt.formula, got, tt.expected)
			}
		})
	}
}

func TestEngineEvaluateErrors(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		formula string
		cause   error
		message string
	}{
		{"5 / 0", ErrDivideByZero, "Division by zero"},
		{"C0 / (C1 - 10)", ErrDivideByZero, "Division by zero"},
		{"SQRT(-1)", ErrDomain, "SQRT"},
		{"C9 + 1", ErrUnknownReference, "Unknown reference: C9"},
		{"Cost + 1", ErrUnknownReference, "Unknown reference: Cost"},
		{"SUM(1, 2)", ErrUnknownFunction, "Unknown function: SUM"},
		{"ABS(1, 2)", ErrArity, "ABS"},
		{"1.2.3 + 1", ErrInvalidNumber, "Invalid number '1.2.3'"},
		{"2 +", ErrSyntax, "Invalid formula"},
		{"(1 + 2", ErrSyntax, "Invalid formula"},
		{"1 2", ErrSyntax, "Invalid formula"},
		{"1 # 2", ErrSyntax, "Invalid formula"},
		{"C0 ? C1 ? 1 : 2 : 3", ErrSyntax, "Expected ':'"},
	}

	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			_, err := engine.Evaluate(tt.formula, rowScope())
			if err == nil {
				t.Fatalf("expected error for %q", tt.formula)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("got %v, expected cause %v", err, tt.cause)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.message)
			}
			var fe *FormulaError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FormulaError, got %T", err)
			}
			if fe.Formula != tt.formula {
				t.Errorf("error formula = %q, expected %q", fe.Formula, tt.formula)
			}
		})
	}
}

func TestEngineEvaluatesBothBranches(t *testing.T) {
	engine := newTestEngine(t)

	calls := 0
	scope := NewScope().
		SetColumn(0, Constant(0)).
		SetColumn(1, func() Value {
			calls++
			return Number(1)
		})

	tests := []struct {
		formula  string
		expected Value
	}{
		{"false ? C1 : 2", Number(2)},
		{"true ? 1 : C1", Number(1)},
		{"false && C1 > 0", Bool(false)},
		{"true || C1 > 0", Bool(true)},
	}

	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			got, err := engine.Evaluate(tt.formula, scope)
			if err != nil {
				t.Fatalf("Evaluate(%q) failed: %v", tt.formula, err)
			}
			if got != tt.expected {
				t.Errorf("Evaluate(%q) = %v, expected %v", tt.formula, got, tt.expected)
			}
		})
	}
	if calls != len(tests) {
		t.Errorf("provider called %d times, expected %d", calls, len(tests))
	}

	faults := []string{
		"0 ? 5/0 : 1",
		"true ? 1 : 1 / C0",
		"false && 1/0 > 0",
		"true || 1/0 > 0",
		"C0 != 0 && 1 / C0 > 1",
		"IF(1, 2, 5/0)",
	}
	for _, formula := range faults {
		t.Run(formula, func(t *testing.T) {
			if _, err := engine.Evaluate(formula, scope); !errors.Is(err, ErrDivideByZero) {
				t.Errorf("Evaluate(%q) expected division by zero, got %v", formula, err)
			}
		})
	}

	if _, err := engine.Evaluate("true ? 1 : C7", scope); !errors.Is(err, ErrUnknownReference) {
		t.Errorf("expected unknown reference error, got %v", err)
	}
}

func TestEngineEvaluateIsRepeatable(t *testing.T) {
	engine := newTestEngine(t)
	scope := rowScope()
	formula := "C0 * 2 + MAX(C1, V0) > 15 ? 1 : 0"

	first, err := engine.Evaluate(formula, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := engine.Evaluate(formula, scope)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != first {
			t.Fatalf("evaluation %d = %v, expected %v", i, got, first)
		}
	}
}

func TestEngineCompile(t *testing.T) {
	engine := newTestEngine(t)

	program, err := engine.Compile("C0 * 2")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if program.Text() != "C0 * 2" || len(program.Tokens()) != 3 {
		t.Errorf("unexpected program: %q %v", program.Text(), program.Tokens())
	}

	for i := 0; i < 5; i++ {
		got, err := program.Evaluate(NewScope().SetColumn(0, Constant(i)))
		if err != nil {
			t.Fatalf("row %d: %v", i, err)
		}
		if got != Number(float64(i*2)) {
			t.Errorf("row %d: got %v, expected %d", i, got, i*2)
		}
	}

	if _, err := engine.Compile("1 +"); !errors.Is(err, ErrSyntax) {
		t.Errorf("expected syntax error, got %v", err)
	}

	blank, err := engine.Compile("")
	if err != nil {
		t.Fatalf("blank Compile failed: %v", err)
	}
	if got, _ := blank.Evaluate(nil); got != Number(0) {
		t.Errorf("blank program = %v, expected 0", got)
	}
}

func TestEngineReferences(t *testing.T) {
	engine := newTestEngine(t)

	columns, err := engine.ColumnReferences("C2 + C0 * C2 - V1 + MAX(C10, V0)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"C0", "C10", "C2"}
	if strings.Join(columns, ",") != strings.Join(expected, ",") {
		t.Errorf("ColumnReferences = %v, expected %v", columns, expected)
	}

	variables, err := engine.VariableReferences("C2 + V1 + V0 + V1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(variables, ",") != "V0,V1" {
		t.Errorf("VariableReferences = %v", variables)
	}

	ids, err := engine.ColumnIDs("C10 + C2 + C2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 10 {
		t.Errorf("ColumnIDs = %v, expected [2 10]", ids)
	}

	// each reference built with ColumnRef is found again
	for _, i := range []int{0, 3, 99} {
		refs, err := engine.ColumnReferences(ColumnRef(i) + " + 1")
		if err != nil || len(refs) != 1 || refs[0] != ColumnRef(i) {
			t.Errorf("round trip of %s failed: %v %v", ColumnRef(i), refs, err)
		}
	}

	if refs, err := engine.ColumnReferences(""); err != nil || len(refs) != 0 {
		t.Errorf("blank formula should have no references: %v %v", refs, err)
	}
	if _, err := engine.ColumnReferences("C0 # 1"); !errors.Is(err, ErrUnexpectedCharacter) {
		t.Errorf("expected tokenize error, got %v", err)
	}
}

func TestEngineOptions(t *testing.T) {
	loose := newTestEngine(t, WithEpsilon(0.01))
	got, err := loose.Evaluate("1.001 == 1", nil)
	if err != nil || got != Number(1) {
		t.Errorf("expected equality within epsilon, got %v %v", got, err)
	}
	if _, err := loose.Evaluate("1 / 0.001", nil); !errors.Is(err, ErrDivideByZero) {
		t.Errorf("expected division by zero below epsilon, got %v", err)
	}

	shallow := newTestEngine(t, WithMaxDepth(3))
	if _, err := shallow.Evaluate("((((1))))", nil); !errors.Is(err, ErrMaxDepth) {
		t.Errorf("expected max depth error, got %v", err)
	}

	deep := newTestEngine(t)
	formula := strings.Repeat("(", 200) + "1" + strings.Repeat(")", 200)
	if _, err := deep.Evaluate(formula, nil); !errors.Is(err, ErrMaxDepth) {
		t.Errorf("expected max depth error for 200 levels, got %v", err)
	}

	if _, err := NewEngine(WithEpsilon(0)); err == nil {
		t.Error("expected error for zero epsilon")
	}
	if _, err := NewEngine(WithMaxDepth(0)); err == nil {
		t.Error("expected error for zero depth")
	}
	if _, err := NewEngine(WithFunctions(nil)); err == nil {
		t.Error("expected error for nil functions")
	}

	functions := NewBuiltInFunctions(0.5)
	custom := newTestEngine(t, WithFunctions(functions))
	if custom.Functions() != functions {
		t.Error("WithFunctions was not applied")
	}
}
