package grid

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/IAFahim/tabulate-sub000/packages/formula"
)

// AppError represents errors at the application level (bad ids, out of
// range rows, illegal edits), as opposed to formula errors stored in cells
type AppError struct {
	Code    codes.Code
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// GRPCStatus lets status.Code and status.FromError read the code
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// NewApplicationError creates a new application error
func NewApplicationError(code codes.Code, format string, args ...any) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrorCode classifies a failed formula cell the way spreadsheets display it
type ErrorCode uint8

const (
	ErrorCodeDiv0  ErrorCode = 1 // #DIV/0! - division by zero
	ErrorCodeValue ErrorCode = 2 // #VALUE! - malformed formula or literal
	ErrorCodeRef   ErrorCode = 3 // #REF! - unknown or circular reference
	ErrorCodeName  ErrorCode = 4 // #NAME? - unrecognized function name
	ErrorCodeNum   ErrorCode = 5 // #NUM! - argument outside the function domain
	ErrorCodeNA    ErrorCode = 6 // #N/A - wrong number of arguments
	ErrorCodeOther ErrorCode = 7 // #ERROR! - all other errors
)

// ErrorMapper maps error codes to their display strings
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeDiv0:  "#DIV/0!",
	ErrorCodeValue: "#VALUE!",
	ErrorCodeRef:   "#REF!",
	ErrorCodeName:  "#NAME?",
	ErrorCodeNum:   "#NUM!",
	ErrorCodeNA:    "#N/A",
	ErrorCodeOther: "#ERROR!",
}

// CellError is stored in a formula cell whose evaluation failed. it keeps
// the underlying formula error for errors.Is / errors.As.
type CellError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *CellError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrorMapper[e.Code]
}

func (e *CellError) Unwrap() error {
	return e.Cause
}

// Display returns the short spreadsheet form, e.g. #DIV/0!
func (e *CellError) Display() string {
	return ErrorMapper[e.Code]
}

// NewCellError creates a cell error. an empty message falls back to the
// display string.
func NewCellError(code ErrorCode, message string, cause error) *CellError {
	if message == "" {
		message = ErrorMapper[code]
	}
	return &CellError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// cellErrorFrom classifies an evaluation error by its formula cause
func cellErrorFrom(err error) *CellError {
	var cellErr *CellError
	if errors.As(err, &cellErr) {
		return cellErr
	}

	code := ErrorCodeOther
	switch {
	case errors.Is(err, formula.ErrDivideByZero):
		code = ErrorCodeDiv0
	case errors.Is(err, formula.ErrUnknownReference):
		code = ErrorCodeRef
	case errors.Is(err, formula.ErrUnknownFunction):
		code = ErrorCodeName
	case errors.Is(err, formula.ErrArity):
		code = ErrorCodeNA
	case errors.Is(err, formula.ErrDomain):
		code = ErrorCodeNum
	case errors.Is(err, formula.ErrInvalidNumber),
		errors.Is(err, formula.ErrSyntax),
		errors.Is(err, formula.ErrUnexpectedCharacter),
		errors.Is(err, formula.ErrMaxDepth):
		code = ErrorCodeValue
	}
	return NewCellError(code, err.Error(), err)
}
