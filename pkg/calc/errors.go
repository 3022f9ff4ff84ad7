package calc

import (
	"errors"
	"fmt"
)

// Kind classifies a calculator failure.
type Kind string

// Error kinds reported by the calculator.
const (
	KindUnbalancedParentheses        Kind = "UnbalancedParentheses"
	KindDepthExceeded                Kind = "DepthExceeded"
	KindUnknownSymbol                Kind = "UnknownSymbol"
	KindMalformedNumber              Kind = "MalformedNumber"
	KindUnknownOperator              Kind = "UnknownOperator"
	KindOperandOperatorCountMismatch Kind = "OperandOperatorCountMismatch"
	KindArithmeticError              Kind = "ArithmeticError"
)

// Error is a parse, validation or arithmetic failure. Pos is the byte offset
// in the sanitized expression where the problem was found, or -1 when the
// failure is not tied to a position.
type Error struct {
	Kind    Kind
	Message string
	Pos     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (position %d)", e.Kind, e.Message, e.Pos)
}

// Is reports whether target is a calculator error of the same kind, so that
// errors.Is(err, calc.ErrArithmetic) matches any arithmetic failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUnbalancedParentheses        = &Error{Kind: KindUnbalancedParentheses, Pos: -1}
	ErrDepthExceeded                = &Error{Kind: KindDepthExceeded, Pos: -1}
	ErrUnknownSymbol                = &Error{Kind: KindUnknownSymbol, Pos: -1}
	ErrMalformedNumber              = &Error{Kind: KindMalformedNumber, Pos: -1}
	ErrUnknownOperator              = &Error{Kind: KindUnknownOperator, Pos: -1}
	ErrOperandOperatorCountMismatch = &Error{Kind: KindOperandOperatorCountMismatch, Pos: -1}
	ErrArithmetic                   = &Error{Kind: KindArithmeticError, Pos: -1}
)

// IsIncorrectQuery reports whether err is a calculator error, i.e. the query
// itself is wrong rather than the evaluation being interrupted.
func IsIncorrectQuery(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// KindOf returns the kind of a calculator error, or "" for any other error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

func newUnbalancedError(pos int, msg string) *Error {
	return &Error{Kind: KindUnbalancedParentheses, Message: msg, Pos: pos}
}

func newDepthExceededError(pos, limit int) *Error {
	return &Error{
		Kind:    KindDepthExceeded,
		Message: fmt.Sprintf("parentheses nesting exceeds limit of %d", limit),
		Pos:     pos,
	}
}

func newUnknownSymbolError(pos int, ch rune) *Error {
	return &Error{Kind: KindUnknownSymbol, Message: fmt.Sprintf("unexpected character %q", ch), Pos: pos}
}

func newMalformedNumberError(pos int, literal string) *Error {
	return &Error{Kind: KindMalformedNumber, Message: fmt.Sprintf("malformed number %q", literal), Pos: pos}
}

func newUnknownOperatorError(pos int, literal string) *Error {
	return &Error{Kind: KindUnknownOperator, Message: fmt.Sprintf("unknown operator %q", literal), Pos: pos}
}

func newMismatchError(pos int, msg string) *Error {
	return &Error{Kind: KindOperandOperatorCountMismatch, Message: msg, Pos: pos}
}

func newArithmeticError(pos int, msg string) *Error {
	return &Error{Kind: KindArithmeticError, Message: msg, Pos: pos}
}
