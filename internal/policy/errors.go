package policy

import (
	"errors"
	"fmt"
)

// ErrNotCallable is returned by Validate for a policy that cannot be invoked.
var ErrNotCallable = errors.New("policy is not callable")

// ContractViolation reports a policy that returned something other than
// UseCompiled, UseEvaluated or Reject.
type ContractViolation struct {
	Policy string
	Value  string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("policy %s returned %s, expected UseCompiled, UseEvaluated or Reject", e.Policy, e.Value)
}

// IsContractViolation reports whether err is or wraps a *ContractViolation.
func IsContractViolation(err error) bool {
	var cv *ContractViolation
	return errors.As(err, &cv)
}
