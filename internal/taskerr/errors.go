// Package taskerr defines the coded errors returned by the task query and
// task mutation APIs.
//
// Every failure surfaced to callers is an *Error carrying a Code, so callers
// can branch on the category (for example retrying on a concurrency
// conflict) with the Is* helpers, which see through wrapping.
package taskerr

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodeInvalidUsage marks a structural misuse of the query builder.
	CodeInvalidUsage Code = "INVALID_USAGE"

	// CodeNullValue marks a missing required argument.
	CodeNullValue Code = "NULL_VALUE"

	// CodeUnsupportedType marks a comparison or ordering on a value kind
	// that does not support it.
	CodeUnsupportedType Code = "UNSUPPORTED_TYPE"

	// CodeConcurrencyConflict marks a save based on a stale version.
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"

	// CodeNotFound marks an operation on an entity that does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodePrecondition marks an operation rejected by entity state.
	CodePrecondition Code = "PRECONDITION"

	// CodeAmbiguousResult marks a single-result query matching many rows.
	CodeAmbiguousResult Code = "AMBIGUOUS_RESULT"

	// CodeEvaluation marks an expression that failed to evaluate.
	CodeEvaluation Code = "EVALUATION"
)

// Error is a coded failure.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Param names the offending argument, if any.
	Param string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Param != "" {
		msg = fmt.Sprintf("%s (param=%s)", msg, e.Param)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// InvalidUsage builds a CodeInvalidUsage error.
func InvalidUsage(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidUsage, Message: "invalid query usage: " + fmt.Sprintf(format, args...)}
}

// NullValue builds a CodeNullValue error for the named parameter.
func NullValue(param string) *Error {
	return &Error{Code: CodeNullValue, Message: param + " is null", Param: param}
}

// UnsupportedType builds a CodeUnsupportedType error.
func UnsupportedType(format string, args ...any) *Error {
	return &Error{Code: CodeUnsupportedType, Message: fmt.Sprintf(format, args...)}
}

// ConcurrencyConflict builds a CodeConcurrencyConflict error.
func ConcurrencyConflict(format string, args ...any) *Error {
	return &Error{Code: CodeConcurrencyConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a CodeNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Precondition builds a CodePrecondition error.
func Precondition(format string, args ...any) *Error {
	return &Error{Code: CodePrecondition, Message: fmt.Sprintf(format, args...)}
}

// AmbiguousResult builds a CodeAmbiguousResult error.
func AmbiguousResult(format string, args ...any) *Error {
	return &Error{Code: CodeAmbiguousResult, Message: fmt.Sprintf(format, args...)}
}

// Evaluation wraps an expression failure.
func Evaluation(expr string, err error) *Error {
	return &Error{Code: CodeEvaluation, Message: fmt.Sprintf("evaluate %q", expr), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// IsInvalidUsage reports whether err is a query usage error.
func IsInvalidUsage(err error) bool { return CodeOf(err) == CodeInvalidUsage }

// IsNullValue reports whether err is a missing-argument error.
func IsNullValue(err error) bool { return CodeOf(err) == CodeNullValue }

// IsUnsupportedType reports whether err is a type capability error.
func IsUnsupportedType(err error) bool { return CodeOf(err) == CodeUnsupportedType }

// IsConcurrencyConflict reports whether err is an optimistic locking failure.
func IsConcurrencyConflict(err error) bool { return CodeOf(err) == CodeConcurrencyConflict }

// IsNotFound reports whether err is a missing-entity error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsPrecondition reports whether err is a rejected-by-state error.
func IsPrecondition(err error) bool { return CodeOf(err) == CodePrecondition }

// IsAmbiguousResult reports whether err is a single-result ambiguity.
func IsAmbiguousResult(err error) bool { return CodeOf(err) == CodeAmbiguousResult }

// IsEvaluation reports whether err is an expression failure.
func IsEvaluation(err error) bool { return CodeOf(err) == CodeEvaluation }
