package formula

import (
	"context"
	"fmt"
	"strings"

	"go.alis.build/alog"
)

// ValidationResult is the user-facing outcome of a validation. failures
// always carry a short title, a longer explanation and a suggestion.
type ValidationResult struct {
	IsValid             bool
	ErrorMessage        string
	DetailedDescription string
	Suggestion          string
}

// Success returns a passing result with all strings empty
func Success() ValidationResult {
	return ValidationResult{IsValid: true}
}

// Failure returns a failing result. an empty message is replaced so a
// failure is never silent.
func Failure(message, detail, suggestion string) ValidationResult {
	if message == "" {
		message = "Invalid formula"
	}
	return ValidationResult{
		IsValid:             false,
		ErrorMessage:        message,
		DetailedDescription: detail,
		Suggestion:          suggestion,
	}
}

func (r ValidationResult) String() string {
	if r.IsValid {
		return "valid"
	}
	return r.ErrorMessage
}

// Column is the metadata the validator needs about a grid column
type Column struct {
	ID        int
	Name      string
	IsFormula bool
}

// Validator performs static checks on formula text without evaluating it.
// validation never returns an error: unexpected internal faults are turned
// into a generic failure.
type Validator struct {
	functions *BuiltInFunctions
}

// NewValidator creates a validator. functions is used only to make
// suggestions more precise and may be nil.
func NewValidator(functions *BuiltInFunctions) *Validator {
	if functions == nil {
		functions = NewDefaultBuiltInFunctions()
	}
	return &Validator{functions: functions}
}

// Validate runs syntax checks then reference checks, stopping at the first
// failure
func (v *Validator) Validate(text string, columns []Column, currentColumnID int) ValidationResult {
	if r := v.ValidateSyntax(text); !r.IsValid {
		return r
	}
	return v.ValidateReferences(text, columns, currentColumnID)
}

// ValidateSyntax checks token legality, parenthesis balance and that the
// expression converts to postfix. blank text is valid.
func (v *Validator) ValidateSyntax(text string) (result ValidationResult) {
	defer v.recoverInto(&result, text)

	if strings.TrimSpace(text) == "" {
		return Success()
	}

	tokens, err := Tokenize(text)
	if err != nil {
		return tokenizeFailure(text, err)
	}
	if r := v.validateTokenSequence(tokens); !r.IsValid {
		return r
	}
	if r := v.validateParentheses(tokens); !r.IsValid {
		return r
	}
	return v.validatePostfix(tokens)
}

// ValidateReferences checks every C<n> reference against the known columns.
// a formula may never reference the column it belongs to.
func (v *Validator) ValidateReferences(text string, columns []Column, currentColumnID int) (result ValidationResult) {
	defer v.recoverInto(&result, text)

	if strings.TrimSpace(text) == "" {
		return Success()
	}

	tokens, err := Tokenize(text)
	if err != nil {
		return tokenizeFailure(text, err)
	}

	known := make(map[int]Column, len(columns))
	for _, c := range columns {
		known[c.ID] = c
	}

	// a self-reference wins over any other bad reference in the formula
	for _, tok := range tokens {
		if id, ok := ParseColumnRef(tok.Value); tok.Type == TokenIdentifier && ok && id == currentColumnID {
			name := tok.Value
			if col, exists := known[id]; exists {
				name = col.Name
			}
			return Failure(
				"Self-referencing formula",
				fmt.Sprintf("The formula of column '%s' references its own value through %s.", name, tok.Value),
				"A formula can not read the column it computes. Reference a different column instead.",
			)
		}
	}

	for _, tok := range tokens {
		if tok.Type != TokenIdentifier || !strings.HasPrefix(tok.Value, string(columnPrefix)) {
			continue
		}
		id, ok := ParseColumnRef(tok.Value)
		if !ok {
			return Failure(
				"Invalid column reference format",
				fmt.Sprintf("'%s' at position %d looks like a column reference but is not 'C' followed by a number.", tok.Value, tok.Pos),
				"Column references are written as C followed by the column number, for example C0 or C12.",
			)
		}
		if _, exists := known[id]; !exists {
			return Failure(
				"Undefined column reference",
				fmt.Sprintf("The formula references %s, but no column with id %d exists.", tok.Value, id),
				fmt.Sprintf("Use one of the existing columns: %s.", describeColumns(columns)),
			)
		}
	}
	return Success()
}

// ValidateDependencies reports whether making columnID read referencedIDs
// would close a dependency cycle in graph
func (v *Validator) ValidateDependencies(graph *DependencyGraph, columnID int, referencedIDs []int) (result ValidationResult) {
	defer v.recoverInto(&result, ColumnRef(columnID))

	if graph == nil {
		return Success()
	}
	for _, ref := range referencedIDs {
		if !graph.WillCreateCycle(columnID, ref) {
			continue
		}
		return Failure(
			"Circular reference",
			fmt.Sprintf("%s reads %s, which already depends on %s directly or through other formulas.",
				ColumnRef(columnID), ColumnRef(ref), ColumnRef(columnID)),
			fmt.Sprintf("Remove the reference to %s or change the formulas that depend on %s.", ColumnRef(ref), ColumnRef(columnID)),
		)
	}
	return Success()
}

// recoverInto converts a panic during validation into a generic failure
func (v *Validator) recoverInto(result *ValidationResult, text string) {
	r := recover()
	if r == nil {
		return
	}
	alog.Errorf(context.Background(), "formula validation panicked for %q: %v", text, r)
	*result = Failure(
		"Unexpected validation error",
		fmt.Sprintf("Validating '%s' failed unexpectedly: %v", text, r),
		"This may indicate a bug, please report it together with the formula.",
	)
}

func tokenizeFailure(text string, err error) ValidationResult {
	return Failure(
		"Invalid character",
		fmt.Sprintf("%s in formula '%s'.", err.Error(), text),
		"Formulas may contain numbers, column (C0) and variable (V0) references, functions, true/false, parentheses and the operators + - * / > < >= <= == != && || ? :.",
	)
}

func describeColumns(columns []Column) string {
	if len(columns) == 0 {
		return "none defined"
	}
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		if c.Name != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", ColumnRef(c.ID), c.Name))
		} else {
			parts = append(parts, ColumnRef(c.ID))
		}
	}
	return strings.Join(parts, ", ")
}

func isValue(tok Token) bool {
	switch tok.Type {
	case TokenNumber, TokenIdentifier, TokenBoolean:
		return true
	default:
		return false
	}
}

// validateTokenSequence checks each token against its neighbours
func (v *Validator) validateTokenSequence(tokens []Token) ValidationResult {
	for i, tok := range tokens {
		var prev, next *Token
		if i > 0 {
			prev = &tokens[i-1]
		}
		if i+1 < len(tokens) {
			next = &tokens[i+1]
		}

		switch tok.Type {
		case TokenOperator:
			afterOpen := prev == nil || prev.Type == TokenLeftParen || prev.Type == TokenComma ||
				prev.Type == TokenQuestion || prev.Type == TokenColon
			if afterOpen && tok.Value != "-" {
				if prev == nil {
					return Failure(
						"Formula starts with an operator",
						fmt.Sprintf("The operator '%s' at position %d has no left operand.", tok.Value, tok.Pos),
						"Add a value before the operator or remove it.",
					)
				}
				return Failure(
					"Missing operand",
					fmt.Sprintf("The operator '%s' at position %d directly follows '%s' and has no left operand.", tok.Value, tok.Pos, prev.Value),
					"Add a value before the operator. Only '-' may be used as a sign here.",
				)
			}
			if next == nil {
				return Failure(
					"Formula ends with an operator",
					fmt.Sprintf("The operator '%s' at position %d has no right operand.", tok.Value, tok.Pos),
					"Add a value after the operator or remove it.",
				)
			}
			if prev != nil && prev.Type == TokenOperator {
				return Failure(
					"Consecutive operators",
					fmt.Sprintf("The operator '%s' at position %d directly follows '%s'.", tok.Value, tok.Pos, prev.Value),
					"Put a value between the operators. A negative value after an operator must be wrapped in parentheses, for example 2 * (-C0).",
				)
			}
			if next.Type == TokenRightParen {
				return Failure(
					"Operator before closing parenthesis",
					fmt.Sprintf("The operator '%s' at position %d is followed by ')'.", tok.Value, tok.Pos),
					"Add a value after the operator or remove it.",
				)
			}
			if next.Type == TokenComma || next.Type == TokenQuestion || next.Type == TokenColon {
				return Failure(
					"Missing operand",
					fmt.Sprintf("The operator '%s' at position %d is followed by '%s'.", tok.Value, tok.Pos, next.Value),
					"Add a value after the operator or remove it.",
				)
			}

		case TokenNumber, TokenIdentifier, TokenBoolean:
			if prev != nil && (isValue(*prev) || prev.Type == TokenRightParen) {
				return Failure(
					"Missing operator",
					fmt.Sprintf("'%s' at position %d directly follows '%s'.", tok.Value, tok.Pos, prev.Value),
					"Insert an operator such as + or * between the two values.",
				)
			}

		case TokenFunction:
			if prev != nil && (isValue(*prev) || prev.Type == TokenRightParen) {
				return Failure(
					"Missing operator",
					fmt.Sprintf("The function %s at position %d directly follows '%s'.", tok.Value, tok.Pos, prev.Value),
					"Insert an operator such as + or * before the function call.",
				)
			}

		case TokenLeftParen:
			if prev != nil && (isValue(*prev) || prev.Type == TokenRightParen) {
				suggestion := "Insert an operator before the parenthesis; use * for multiplication, for example 2 * (C0 + 1)."
				if prev.Type == TokenIdentifier && !IsColumnRef(prev.Value) && !IsVariableRef(prev.Value) {
					suggestion = fmt.Sprintf("If '%s' is meant to be a function, check its spelling. Known functions: %s.",
						prev.Value, strings.Join(v.functions.Names(), ", "))
				}
				return Failure(
					"Missing operator before parenthesis",
					fmt.Sprintf("'(' at position %d directly follows '%s'.", tok.Pos, prev.Value),
					suggestion,
				)
			}

		case TokenRightParen:
			if prev != nil && prev.Type == TokenLeftParen {
				before := i - 2
				if before < 0 || tokens[before].Type != TokenFunction {
					return Failure(
						"Empty parentheses",
						fmt.Sprintf("The parentheses at position %d contain no expression.", prev.Pos),
						"Put an expression inside the parentheses or remove them.",
					)
				}
			}
			if prev != nil && prev.Type == TokenOperator {
				return Failure(
					"Operator before closing parenthesis",
					fmt.Sprintf("')' at position %d follows the operator '%s'.", tok.Pos, prev.Value),
					"Add a value after the operator or remove it.",
				)
			}
		}
	}
	return Success()
}

// validateParentheses matches parens with a stack of open positions
func (v *Validator) validateParentheses(tokens []Token) ValidationResult {
	var stack []int
	for i, tok := range tokens {
		switch tok.Type {
		case TokenLeftParen:
			stack = append(stack, i)
		case TokenRightParen:
			if len(stack) == 0 {
				return Failure(
					"Unmatched closing parenthesis",
					fmt.Sprintf("The ')' at token %d (position %d) has no matching '('.", i, tok.Pos),
					"Remove the extra ')' or add the missing '('.",
				)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		open := stack[len(stack)-1]
		return Failure(
			"Unclosed parenthesis",
			fmt.Sprintf("The '(' at token %d (position %d) is never closed.", open, tokens[open].Pos),
			"Add the missing ')'.",
		)
	}
	return Success()
}

// operator precedence used by the trial postfix conversion
var postfixPrecedence = map[string]int{
	"?":  1,
	":":  1,
	"||": 2,
	"&&": 3,
	">":  4,
	"<":  4,
	">=": 4,
	"<=": 4,
	"==": 4,
	"!=": 4,
	"+":  5,
	"-":  5,
	"*":  6,
	"/":  6,
}

// validatePostfix runs a shunting-yard conversion and discards the output;
// only the structural errors it surfaces matter
func (v *Validator) validatePostfix(tokens []Token) ValidationResult {
	var ops, output []Token
	mismatched := func(tok Token) ValidationResult {
		return Failure(
			"Mismatched parentheses",
			fmt.Sprintf("The expression structure around '%s' at position %d is not balanced.", tok.Value, tok.Pos),
			"Check that every '(' has a matching ')' and that commas only appear inside function calls.",
		)
	}

	for _, tok := range tokens {
		switch tok.Type {
		case TokenNumber, TokenIdentifier, TokenBoolean:
			output = append(output, tok)

		case TokenFunction, TokenLeftParen:
			ops = append(ops, tok)

		case TokenComma:
			for len(ops) > 0 && ops[len(ops)-1].Type != TokenLeftParen {
				output = append(output, ops[len(ops)-1])
				ops = ops[:len(ops)-1]
			}
			if len(ops) == 0 {
				return mismatched(tok)
			}

		case TokenOperator, TokenQuestion, TokenColon:
			prec := postfixPrecedence[tok.Value]
			for len(ops) > 0 {
				top := ops[len(ops)-1]
				if top.Type == TokenLeftParen || top.Type == TokenFunction {
					break
				}
				if postfixPrecedence[top.Value] < prec {
					break
				}
				output = append(output, ops[len(ops)-1])
				ops = ops[:len(ops)-1]
			}
			ops = append(ops, tok)

		case TokenRightParen:
			for len(ops) > 0 && ops[len(ops)-1].Type != TokenLeftParen {
				output = append(output, ops[len(ops)-1])
				ops = ops[:len(ops)-1]
			}
			if len(ops) == 0 {
				return mismatched(tok)
			}
			ops = ops[:len(ops)-1] // pop '('
			if len(ops) > 0 && ops[len(ops)-1].Type == TokenFunction {
				output = append(output, ops[len(ops)-1])
				ops = ops[:len(ops)-1]
			}
		}
	}

	for len(ops) > 0 {
		top := ops[len(ops)-1]
		if top.Type == TokenLeftParen || top.Type == TokenFunction {
			return mismatched(top)
		}
		output = append(output, top)
		ops = ops[:len(ops)-1]
	}
	if len(output) == 0 {
		return Failure(
			"Empty expression",
			"The formula contains no values.",
			"Enter a number, reference or function call.",
		)
	}
	return Success()
}
