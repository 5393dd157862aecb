package dispatch

import (
	"errors"
	"fmt"

	"github.com/roach88/tiered/internal/policy"
	"github.com/roach88/tiered/internal/shape"
)

// explainNoMatch builds the rejection error for sig, listing the attempted
// shapes and every known specialization.
func (d *Dispatcher) explainNoMatch(sig shape.Signature, reason string) *DispatchError {
	known := d.store.keys()
	msg := fmt.Sprintf("no matching definition for %s%s", d.fn.Name, sig.Key())
	if reason != "" {
		msg += ": " + reason
	}
	msg += fmt.Sprintf(" (known signatures: %s)", knownList(known))

	return &DispatchError{
		Code:      ErrCodeRejected,
		Message:   msg,
		Function:  d.fn.Name,
		Signature: sig.Key(),
		Known:     known,
		Policy:    d.policy.Policy().Name(),
		Reason:    reason,
	}
}

func (d *Dispatcher) contractViolation(sig shape.Signature, err error) *DispatchError {
	de := &DispatchError{
		Code:      ErrCodeContractViolation,
		Message:   fmt.Sprintf("%s%s: %v", d.fn.Name, sig.Key(), err),
		Function:  d.fn.Name,
		Signature: sig.Key(),
		Known:     d.store.keys(),
		Policy:    d.policy.Policy().Name(),
		Err:       err,
	}
	var cv *policy.ContractViolation
	if errors.As(err, &cv) {
		de.Value = cv.Value
	}
	return de
}
