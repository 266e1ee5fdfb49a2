package formula

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Option configures an Engine
type Option func(*Engine) error

// WithEpsilon sets the tolerance used for truthiness, equality and the
// division-by-zero check
func WithEpsilon(epsilon float64) Option {
	return func(e *Engine) error {
		if epsilon <= 0 {
			return fmt.Errorf("epsilon must be positive: %g", epsilon)
		}
		e.conv = Converter{Epsilon: epsilon}
		return nil
	}
}

// WithMaxDepth bounds how deeply parentheses, calls and unary minus may nest
func WithMaxDepth(depth int) Option {
	return func(e *Engine) error {
		if depth < 1 {
			return fmt.Errorf("max depth must be at least 1: %d", depth)
		}
		e.maxDepth = depth
		return nil
	}
}

// WithFunctions replaces the builtin function library
func WithFunctions(functions *BuiltInFunctions) Option {
	return func(e *Engine) error {
		if functions == nil {
			return errors.New("functions must not be nil")
		}
		e.functions = functions
		return nil
	}
}

// Engine is the entry point for evaluating and inspecting formulas. it holds
// no per-evaluation state; references are supplied with each call.
type Engine struct {
	conv      Converter
	maxDepth  int
	functions *BuiltInFunctions
	validator *Validator
}

// NewEngine creates an engine. options are applied in order and the first
// failing option aborts construction.
func NewEngine(setters ...Option) (*Engine, error) {
	e := &Engine{
		conv:     Converter{Epsilon: DefaultEpsilon},
		maxDepth: DefaultMaxDepth,
	}
	for _, setter := range setters {
		if err := setter(e); err != nil {
			return nil, err
		}
	}
	if e.functions == nil {
		e.functions = NewBuiltInFunctions(e.conv.Epsilon)
	}
	e.validator = NewValidator(e.functions)
	return e, nil
}

// Validator returns the validator sharing this engine's function library
func (e *Engine) Validator() *Validator {
	return e.validator
}

// Functions returns the engine's function library
func (e *Engine) Functions() *BuiltInFunctions {
	return e.functions
}

// Converter returns the engine's value converter
func (e *Engine) Converter() Converter {
	return e.conv
}

// Evaluate validates, tokenizes and evaluates text against scope. blank
// text evaluates to 0. the text is tokenized on every call.
func (e *Engine) Evaluate(text string, scope *Scope) (Value, error) {
	program, err := e.Compile(text)
	if err != nil {
		return Null(), err
	}
	return program.Evaluate(scope)
}

// Program is a validated, tokenized formula that can be evaluated many
// times, e.g. once per row
type Program struct {
	engine *Engine
	text   string
	tokens []Token
}

// Compile validates and tokenizes text once
func (e *Engine) Compile(text string) (*Program, error) {
	if strings.TrimSpace(text) == "" {
		return &Program{engine: e, text: text}, nil
	}

	if r := e.validator.ValidateSyntax(text); !r.IsValid {
		return nil, &FormulaError{
			Message: fmt.Sprintf("Invalid formula '%s': %s. %s", text, r.ErrorMessage, r.DetailedDescription),
			Formula: text,
			Pos:     -1,
			Cause:   ErrSyntax,
		}
	}

	tokens, err := Tokenize(text)
	if err != nil {
		return nil, e.wrap(text, err)
	}
	return &Program{engine: e, text: text, tokens: tokens}, nil
}

// Text returns the formula source
func (p *Program) Text() string {
	return p.text
}

// Tokens returns a copy of the formula tokens
func (p *Program) Tokens() []Token {
	return slicesClone(p.tokens)
}

// Evaluate runs the program against scope with a fresh evaluator
func (p *Program) Evaluate(scope *Scope) (Value, error) {
	if len(p.tokens) == 0 {
		return Number(0), nil
	}
	ev := NewEvaluator(p.tokens, scope, p.engine.functions, p.engine.conv, p.engine.maxDepth)
	v, err := ev.Evaluate()
	if err != nil {
		return Null(), p.engine.wrap(p.text, err)
	}
	return v, nil
}

// wrap attaches the formula text. FormulaErrors pass through with their
// message intact; anything else becomes a FormulaError with context.
func (e *Engine) wrap(text string, err error) error {
	var fe *FormulaError
	if errors.As(err, &fe) {
		if fe.Formula == "" {
			fe.Formula = text
		}
		return fe
	}
	return &FormulaError{
		Message: fmt.Sprintf("Error evaluating formula '%s': %s", text, err.Error()),
		Formula: text,
		Pos:     -1,
		Cause:   err,
	}
}

// ColumnReferences returns the distinct C<n> references in text, sorted
func (e *Engine) ColumnReferences(text string) ([]string, error) {
	return references(text, IsColumnRef)
}

// VariableReferences returns the distinct V<n> references in text, sorted
func (e *Engine) VariableReferences(text string) ([]string, error) {
	return references(text, IsVariableRef)
}

// ColumnIDs returns the distinct column indices referenced by text, sorted
func (e *Engine) ColumnIDs(text string) ([]int, error) {
	refs, err := e.ColumnReferences(text)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(refs))
	for _, ref := range refs {
		if id, ok := ParseColumnRef(ref); ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func references(text string, keep func(string) bool) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	tokens, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, tok := range tokens {
		if tok.Type == TokenIdentifier && keep(tok.Value) {
			seen[tok.Value] = struct{}{}
		}
	}
	refs := make([]string, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs, nil
}

func slicesClone(tokens []Token) []Token {
	if tokens == nil {
		return nil
	}
	out := make([]Token, len(tokens))
	copy(out, tokens)
	return out
}
