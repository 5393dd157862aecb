package compiler

import (
	"errors"
	"fmt"

	"github.com/roach88/tiered/internal/lang"
	"github.com/roach88/tiered/internal/shape"
)

// CompileError reports a function that cannot be compiled for a signature.
type CompileError struct {
	Function  string
	Signature string
	Message   string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s%s: %s", e.Function, e.Signature, e.Message)
}

func compileErrorf(fn *lang.Function, sig shape.Signature, format string, args ...any) *CompileError {
	return &CompileError{
		Function:  fn.Name,
		Signature: sig.Key(),
		Message:   fmt.Sprintf(format, args...),
	}
}

// IsCompileError reports whether err is or wraps a *CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// ExecError is a runtime failure of compiled code. Err is one of the
// runtime sentinels shared with the evaluated path where one applies.
type ExecError struct {
	Function  string
	Signature string
	Err       error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("run %s%s: %v", e.Function, e.Signature, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// IsExecError reports whether err is or wraps an *ExecError.
func IsExecError(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee)
}
