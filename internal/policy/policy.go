package policy

import (
	"reflect"
	"runtime"
	"strings"
	"sync/atomic"
)

// Policy decides how a single call is executed.
//
// Decide receives the raw call arguments. It must return an Outcome built by
// UseCompiled, UseEvaluated or Reject. Panics are not recovered.
type Policy interface {
	Name() string
	Decide(args []any) Outcome
}

// Func adapts an ordinary function to the Policy interface. Its name is the
// Go symbol name of the function.
type Func func(args []any) Outcome

// Name returns the short symbol name of f, e.g. "main.smallArrays".
func (f Func) Name() string {
	if f == nil {
		return "<nil>"
	}
	name := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Decide calls f.
func (f Func) Decide(args []any) Outcome { return f(args) }

type named struct {
	name string
	fn   Func
}

// Named wraps fn as a Policy with an explicit name.
func Named(name string, fn Func) Policy {
	return &named{name: name, fn: fn}
}

func (n *named) Name() string              { return n.name }
func (n *named) Decide(args []any) Outcome { return n.fn(args) }

// Built-in named policies.
var (
	// AlwaysCompile is the default policy.
	AlwaysCompile = Named("always_compile", func([]any) Outcome { return UseCompiled() })

	// AlwaysEvaluate never compiles.
	AlwaysEvaluate = Named("always_evaluate", func([]any) Outcome { return UseEvaluated() })
)

// Lookup returns the built-in policy with the given name.
func Lookup(name string) (Policy, bool) {
	switch name {
	case "always_compile":
		return AlwaysCompile, true
	case "always_evaluate":
		return AlwaysEvaluate, true
	}
	return nil, false
}

// Validate checks that p can be called. A nil interface is valid and means
// "use the default policy"; a Policy holding a nil function is not.
func Validate(p Policy) error {
	if p == nil {
		return nil
	}
	switch v := p.(type) {
	case Func:
		if v == nil {
			return ErrNotCallable
		}
	case *named:
		if v == nil || v.fn == nil {
			return ErrNotCallable
		}
	case *Rules:
		if v == nil {
			return ErrNotCallable
		}
	}
	return nil
}

// Evaluator invokes a policy and enforces the Outcome contract.
//
// Evaluator is safe for concurrent use as long as the wrapped policy is.
type Evaluator struct {
	policy Policy
	calls  atomic.Int64
}

// NewEvaluator wraps p. A nil p selects AlwaysCompile.
func NewEvaluator(p Policy) *Evaluator {
	if p == nil {
		p = AlwaysCompile
	}
	return &Evaluator{policy: p}
}

// Policy returns the wrapped policy.
func (e *Evaluator) Policy() Policy { return e.policy }

// Calls returns how many times the policy has been consulted.
func (e *Evaluator) Calls() int64 { return e.calls.Load() }

// Decide consults the policy. An invalid Outcome yields a *ContractViolation.
func (e *Evaluator) Decide(args []any) (Outcome, error) {
	e.calls.Add(1)
	o := e.policy.Decide(args)
	if !o.Valid() {
		return Outcome{}, &ContractViolation{Policy: e.policy.Name(), Value: o.String()}
	}
	return o, nil
}
