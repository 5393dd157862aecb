package lang

import (
	"errors"
	"fmt"
)

// SyntaxError reports a body that does not parse or uses an unsupported
// construct.
type SyntaxError struct {
	Function string
	Column   int // 1-based column in the body, 0 if unknown
	Message  string
}

func (e *SyntaxError) Error() string {
	if e.Column > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Function, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Function, e.Message)
}

// EvalError is a runtime failure of the evaluated path, e.g. a type error
// between operands or an integer division by zero.
type EvalError struct {
	Function string
	Message  string
	Err      error // underlying sentinel, if any
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluate %s: %s", e.Function, e.Message)
}

func (e *EvalError) Unwrap() error { return e.Err }

// IsEvalError reports whether err is or wraps an *EvalError.
func IsEvalError(err error) bool {
	var ee *EvalError
	return errors.As(err, &ee)
}

// Runtime failures shared by both execution tiers. The compiled VM returns
// the same messages so a call fails identically on either path.
var (
	ErrDivisionByZero = errors.New("integer division by zero")
	ErrIndexRange     = errors.New("index out of range")
	ErrLengthMismatch = errors.New("array length mismatch")
)
