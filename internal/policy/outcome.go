// Package policy decides, per call, whether a function runs compiled,
// runs evaluated, or is refused.
//
// A policy returns an Outcome. Outcome is a closed type: the only valid
// values come from UseCompiled, UseEvaluated and Reject. The zero Outcome,
// and the outcome of an unrecognised action name in a rule table, are
// invalid and surface as a *ContractViolation from Evaluator.Decide.
package policy

import "fmt"

// Action is the decision carried by an Outcome.
type Action uint8

const (
	// ActionInvalid marks an Outcome that was not built by a constructor.
	ActionInvalid Action = iota

	// ActionCompile runs the call on a compiled specialization.
	ActionCompile

	// ActionEvaluate runs the call on the evaluated path.
	ActionEvaluate

	// ActionReject refuses the call.
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionCompile:
		return "compile"
	case ActionEvaluate:
		return "evaluate"
	case ActionReject:
		return "reject"
	}
	return "invalid"
}

// Outcome is the result of a policy decision.
type Outcome struct {
	action Action
	reason string

	// raw is the unrecognised action name an invalid outcome was parsed from.
	raw string
}

// UseCompiled selects the compiled path.
func UseCompiled() Outcome { return Outcome{action: ActionCompile} }

// UseEvaluated selects the evaluated path.
func UseEvaluated() Outcome { return Outcome{action: ActionEvaluate} }

// Reject refuses the call. The reason is included in the dispatch error.
func Reject(reason string) Outcome { return Outcome{action: ActionReject, reason: reason} }

// Action returns the decision.
func (o Outcome) Action() Action { return o.action }

// Reason returns the reject reason, empty for other actions.
func (o Outcome) Reason() string { return o.reason }

// Valid reports whether o was built by one of the constructors.
func (o Outcome) Valid() bool { return o.action != ActionInvalid }

func (o Outcome) String() string {
	switch o.action {
	case ActionCompile:
		return "UseCompiled"
	case ActionEvaluate:
		return "UseEvaluated"
	case ActionReject:
		if o.reason == "" {
			return "Reject"
		}
		return fmt.Sprintf("Reject(%q)", o.reason)
	}
	if o.raw != "" {
		return fmt.Sprintf("action %q", o.raw)
	}
	return "Outcome{}"
}

// ParseAction maps an action name to an Outcome.
//
// Accepted names:
//
//	compile, jit            -> UseCompiled
//	evaluate, interpreter   -> UseEvaluated
//	reject, raise           -> Reject(reason)
//
// Any other name yields an invalid Outcome that remembers the name, so the
// mistake is reported when the rule fires rather than when it is loaded.
func ParseAction(name, reason string) Outcome {
	switch name {
	case "compile", "jit":
		return UseCompiled()
	case "evaluate", "interpreter":
		return UseEvaluated()
	case "reject", "raise":
		return Reject(reason)
	}
	return Outcome{raw: name}
}

// KnownAction reports whether ParseAction accepts name.
func KnownAction(name string) bool {
	return ParseAction(name, "").Valid()
}
