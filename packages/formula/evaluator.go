package formula

import (
	"math"
	"strconv"
)

// DefaultMaxDepth bounds parenthesis, function call and unary minus nesting
const DefaultMaxDepth = 128

// Evaluator walks a token slice with a cursor and computes the result
// directly, one method per precedence level. no AST is built.
//
// grammar, lowest to highest precedence:
//
//	ternary    := logicalOr ('?' logicalOr ':' logicalOr)?
//	logicalOr  := logicalAnd ('||' logicalAnd)*
//	logicalAnd := comparison ('&&' comparison)*
//	comparison := arithmetic (('>'|'<'|'>='|'<='|'=='|'!=') arithmetic)*
//	arithmetic := term (('+'|'-') term)*
//	term       := factor (('*'|'/') factor)*
//	factor     := '-' factor | NUMBER | BOOLEAN | IDENTIFIER | FUNCTION '(' args ')' | '(' ternary ')'
type Evaluator struct {
	tokens    []Token
	pos       int
	scope     *Scope
	functions *BuiltInFunctions
	conv      Converter
	maxDepth  int
	depth     int
}

// NewEvaluator creates an evaluator over tokens. a nil functions uses the
// default library, maxDepth <= 0 uses DefaultMaxDepth.
func NewEvaluator(tokens []Token, scope *Scope, functions *BuiltInFunctions, conv Converter, maxDepth int) *Evaluator {
	if functions == nil {
		functions = NewBuiltInFunctions(conv.Epsilon)
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Evaluator{
		tokens:    tokens,
		scope:     scope,
		functions: functions,
		conv:      conv,
		maxDepth:  maxDepth,
	}
}

// Evaluate computes the value of the whole token slice
func (e *Evaluator) Evaluate() (Value, error) {
	e.pos = 0
	e.depth = 0

	v, err := e.parseTernary()
	if err != nil {
		return Null(), err
	}
	if tok, ok := e.peek(); ok {
		return Null(), newPositionedError(ErrSyntax, tok.Pos,
			"Unexpected token '%s' at position %d", tok.Value, tok.Pos)
	}
	return v, nil
}

func (e *Evaluator) peek() (Token, bool) {
	if e.pos >= len(e.tokens) {
		return Token{}, false
	}
	return e.tokens[e.pos], true
}

// matchOperator consumes the next token if it is one of the operators
func (e *Evaluator) matchOperator(ops ...string) (string, bool) {
	tok, ok := e.peek()
	if !ok || tok.Type != TokenOperator {
		return "", false
	}
	for _, op := range ops {
		if tok.Value == op {
			e.pos++
			return op, true
		}
	}
	return "", false
}

func (e *Evaluator) match(t TokenType) bool {
	tok, ok := e.peek()
	if ok && tok.Type == t {
		e.pos++
		return true
	}
	return false
}

func (e *Evaluator) enter() error {
	e.depth++
	if e.depth > e.maxDepth {
		return NewFormulaError(ErrMaxDepth, "Formula nesting exceeds maximum depth of %d", e.maxDepth)
	}
	return nil
}

func (e *Evaluator) leave() {
	e.depth--
}

func (e *Evaluator) endPos() int {
	if len(e.tokens) == 0 {
		return 0
	}
	last := e.tokens[len(e.tokens)-1]
	return last.Pos + len([]rune(last.Value))
}

// parseTernary handles cond ? a : b (lowest precedence). both branches are
// evaluated so a fault in either one is reported, the same as IF.
func (e *Evaluator) parseTernary() (Value, error) {
	if err := e.enter(); err != nil {
		return Null(), err
	}
	defer e.leave()

	cond, err := e.parseLogicalOr()
	if err != nil {
		return Null(), err
	}
	if !e.match(TokenQuestion) {
		return cond, nil
	}

	takeFirst := e.conv.truthy(e.conv.ToFloat(cond))

	whenTrue, err := e.parseLogicalOr()
	if err != nil {
		return Null(), err
	}
	if !e.match(TokenColon) {
		return Null(), newPositionedError(ErrSyntax, e.endPos(), "Expected ':' in conditional expression")
	}
	whenFalse, err := e.parseLogicalOr()
	if err != nil {
		return Null(), err
	}

	if takeFirst {
		return whenTrue, nil
	}
	return whenFalse, nil
}

// parseLogicalOr handles ||. the right operand is always evaluated
func (e *Evaluator) parseLogicalOr() (Value, error) {
	left, err := e.parseLogicalAnd()
	if err != nil {
		return Null(), err
	}
	for {
		if _, ok := e.matchOperator("||"); !ok {
			return left, nil
		}
		right, err := e.parseLogicalAnd()
		if err != nil {
			return Null(), err
		}
		left = Bool(e.conv.ToBool(left) || e.conv.ToBool(right))
	}
}

// parseLogicalAnd handles &&. the right operand is always evaluated
func (e *Evaluator) parseLogicalAnd() (Value, error) {
	left, err := e.parseComparison()
	if err != nil {
		return Null(), err
	}
	for {
		if _, ok := e.matchOperator("&&"); !ok {
			return left, nil
		}
		right, err := e.parseComparison()
		if err != nil {
			return Null(), err
		}
		left = Bool(e.conv.ToBool(left) && e.conv.ToBool(right))
	}
}

// parseComparison handles relational operators. results are the numbers
// 1 and 0, not bools, so comparisons can be summed.
func (e *Evaluator) parseComparison() (Value, error) {
	left, err := e.parseArithmetic()
	if err != nil {
		return Null(), err
	}
	for {
		op, ok := e.matchOperator(">", "<", ">=", "<=", "==", "!=")
		if !ok {
			return left, nil
		}
		right, err := e.parseArithmetic()
		if err != nil {
			return Null(), err
		}

		a, b := e.conv.ToFloat(left), e.conv.ToFloat(right)
		var result bool
		switch op {
		case ">":
			result = a > b
		case "<":
			result = a < b
		case ">=":
			result = a >= b || e.conv.equal(a, b)
		case "<=":
			result = a <= b || e.conv.equal(a, b)
		case "==":
			result = e.conv.equal(a, b)
		case "!=":
			result = !e.conv.equal(a, b)
		}
		left = numericBool(result)
	}
}

// parseArithmetic handles addition and subtraction
func (e *Evaluator) parseArithmetic() (Value, error) {
	left, err := e.parseTerm()
	if err != nil {
		return Null(), err
	}
	for {
		op, ok := e.matchOperator("+", "-")
		if !ok {
			return left, nil
		}
		right, err := e.parseTerm()
		if err != nil {
			return Null(), err
		}
		a, b := e.conv.ToFloat(left), e.conv.ToFloat(right)
		if op == "+" {
			left = Number(a + b)
		} else {
			left = Number(a - b)
		}
	}
}

// parseTerm handles multiplication and division
func (e *Evaluator) parseTerm() (Value, error) {
	left, err := e.parseFactor()
	if err != nil {
		return Null(), err
	}
	for {
		opPos := e.pos
		op, ok := e.matchOperator("*", "/")
		if !ok {
			return left, nil
		}
		right, err := e.parseFactor()
		if err != nil {
			return Null(), err
		}
		a, b := e.conv.ToFloat(left), e.conv.ToFloat(right)
		if op == "*" {
			left = Number(a * b)
			continue
		}
		if math.Abs(b) < e.conv.Epsilon {
			return Null(), newPositionedError(ErrDivideByZero, e.tokens[opPos].Pos, "Division by zero")
		}
		left = Number(a / b)
	}
}

// parseFactor handles literals, references, calls, groups and unary minus
func (e *Evaluator) parseFactor() (Value, error) {
	tok, ok := e.peek()
	if !ok {
		return Null(), newPositionedError(ErrSyntax, e.endPos(), "Unexpected end of expression")
	}

	switch tok.Type {
	case TokenOperator:
		if tok.Value != "-" {
			return Null(), newPositionedError(ErrSyntax, tok.Pos,
				"Unknown operator '%s' at position %d", tok.Value, tok.Pos)
		}
		e.pos++
		if err := e.enter(); err != nil {
			return Null(), err
		}
		defer e.leave()
		operand, err := e.parseFactor()
		if err != nil {
			return Null(), err
		}
		return Number(-e.conv.ToFloat(operand)), nil

	case TokenNumber:
		e.pos++
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return Null(), newPositionedError(ErrInvalidNumber, tok.Pos, "Invalid number '%s'", tok.Value)
		}
		return Number(val), nil

	case TokenBoolean:
		e.pos++
		return Bool(tok.Value == "true"), nil

	case TokenIdentifier:
		e.pos++
		provider, found := e.scope.lookup(tok.Value)
		if !found {
			return Null(), newPositionedError(ErrUnknownReference, tok.Pos, "Unknown reference: %s", tok.Value)
		}
		return e.conv.ForReference(provider()), nil

	case TokenFunction:
		return e.parseFunctionCall()

	case TokenLeftParen:
		e.pos++
		v, err := e.parseTernary()
		if err != nil {
			return Null(), err
		}
		if !e.match(TokenRightParen) {
			return Null(), newPositionedError(ErrSyntax, tok.Pos,
				"Missing closing parenthesis for '(' at position %d", tok.Pos)
		}
		return v, nil

	default:
		return Null(), newPositionedError(ErrSyntax, tok.Pos,
			"Unexpected token '%s' at position %d", tok.Value, tok.Pos)
	}
}

// parseFunctionCall parses NAME( arg, arg, ... ) and invokes the builtin
func (e *Evaluator) parseFunctionCall() (Value, error) {
	funcTok := e.tokens[e.pos]
	e.pos++

	if !e.match(TokenLeftParen) {
		return Null(), newPositionedError(ErrSyntax, funcTok.Pos,
			"Expected '(' after function name %s", funcTok.Value)
	}

	args := []Value{}
	if !e.match(TokenRightParen) {
		for {
			arg, err := e.parseTernary()
			if err != nil {
				return Null(), err
			}
			args = append(args, arg)

			if e.match(TokenRightParen) {
				break
			}
			if !e.match(TokenComma) {
				return Null(), newPositionedError(ErrSyntax, funcTok.Pos,
					"Expected ',' or ')' in arguments of %s", funcTok.Value)
			}
		}
	}

	return e.functions.Call(funcTok.Value, args...)
}

func numericBool(b bool) Value {
	if b {
		return Number(1)
	}
	return Number(0)
}
