package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTypeMismatch matches every DispatchError via errors.Is. It plays the
// role of a type error: the arguments or the policy do not fit the function.
var ErrTypeMismatch = errors.New("type mismatch")

// ErrDuplicateSpecialization is returned by SpecializationStore.Insert when
// the signature already has a specialization.
var ErrDuplicateSpecialization = errors.New("duplicate specialization")

// ErrorCode categorizes dispatch errors.
type ErrorCode string

const (
	// ErrCodeContractViolation indicates the policy returned an invalid outcome.
	ErrCodeContractViolation ErrorCode = "POLICY_CONTRACT_VIOLATION"

	// ErrCodeRejected indicates the policy rejected the call, or requested
	// compilation that could not happen.
	ErrCodeRejected ErrorCode = "DISPATCH_REJECTED"

	// ErrCodeNotCallable indicates the configured policy cannot be invoked.
	ErrCodeNotCallable ErrorCode = "POLICY_NOT_CALLABLE"
)

// DispatchError is a type error raised by the dispatcher.
//
// Compilation failures (*compiler.CompileError), compiled run failures
// (*compiler.ExecError) and evaluator failures (*lang.EvalError) are never
// wrapped in a DispatchError; they reach the caller as-is.
type DispatchError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Function is the dispatched function's name.
	Function string

	// Signature is the call's signature key, e.g. "(string, string)".
	Signature string

	// Known lists the signatures specialized when the error occurred.
	Known []string

	// Policy names the policy involved, if any.
	Policy string

	// Value is the offending policy result (contract violations).
	Value string

	// Reason is the policy's rejection reason.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DispatchError) Unwrap() error { return e.Err }

// Is reports ErrTypeMismatch for every DispatchError.
func (e *DispatchError) Is(target error) bool { return target == ErrTypeMismatch }

// IsContractViolation returns true if err is a policy contract violation.
// Uses errors.As to handle wrapped errors.
func IsContractViolation(err error) bool {
	return hasCode(err, ErrCodeContractViolation)
}

// IsRejected returns true if err is a rejected dispatch.
func IsRejected(err error) bool {
	return hasCode(err, ErrCodeRejected)
}

// IsNotCallable returns true if err reports an uncallable policy.
func IsNotCallable(err error) bool {
	return hasCode(err, ErrCodeNotCallable)
}

func hasCode(err error, code ErrorCode) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

func knownList(known []string) string {
	if len(known) == 0 {
		return "none"
	}
	return strings.Join(known, ", ")
}
