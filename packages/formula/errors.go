package formula

import (
	"errors"
	"fmt"
)

// sentinel causes wrapped by FormulaError so callers can branch with
// errors.Is without parsing messages
var (
	ErrUnexpectedCharacter = errors.New("unexpected character")
	ErrSyntax              = errors.New("syntax error")
	ErrInvalidNumber       = errors.New("invalid number")
	ErrUnknownReference    = errors.New("unknown reference")
	ErrUnknownFunction     = errors.New("unknown function")
	ErrArity               = errors.New("wrong number of arguments")
	ErrDomain              = errors.New("argument out of domain")
	ErrDivideByZero        = errors.New("division by zero")
	ErrMaxDepth            = errors.New("maximum nesting depth exceeded")
)

// FormulaError is the single error kind produced by tokenizing, evaluating
// and calling functions.
type FormulaError struct {
	Message string
	Formula string // original formula text, when known
	Pos     int    // zero-based offset of the offending input, -1 if unknown
	Cause   error
}

func (e *FormulaError) Error() string {
	return e.Message
}

func (e *FormulaError) Unwrap() error {
	return e.Cause
}

// NewFormulaError creates an error with no position information
func NewFormulaError(cause error, format string, args ...any) *FormulaError {
	return &FormulaError{
		Message: fmt.Sprintf(format, args...),
		Pos:     -1,
		Cause:   cause,
	}
}

// newPositionedError creates an error pointing at an offset in the input
func newPositionedError(cause error, pos int, format string, args ...any) *FormulaError {
	return &FormulaError{
		Message: fmt.Sprintf(format, args...),
		Pos:     pos,
		Cause:   cause,
	}
}
