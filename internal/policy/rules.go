package policy

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/roach88/tiered/internal/shape"
)

// Rule is one row of a declarative policy table.
type Rule struct {
	// When lists one shape pattern per argument. "*" matches any shape.
	// An empty When matches every call.
	When []string

	// MinLen, when positive, additionally requires the first array or
	// string argument to have at least MinLen elements.
	MinLen int

	// Action is an action name accepted by ParseAction.
	Action string

	// Reason is used when Action rejects the call.
	Reason string
}

// Rules is a Policy driven by a rule table. The first matching rule wins;
// Default applies when none matches and falls back to "compile".
//
// Unknown action names are not rejected up front: they produce an invalid
// Outcome when the rule fires. Check reports them ahead of time.
type Rules struct {
	Label   string
	Rules   []Rule
	Default string

	once     sync.Once
	compiled []compiledRule
}

type compiledRule struct {
	patterns []string
	minLen   int
	outcome  Outcome
}

// Name returns the policy label.
func (r *Rules) Name() string {
	if r.Label == "" {
		return "rules"
	}
	return r.Label
}

// Decide returns the outcome of the first rule matching args.
func (r *Rules) Decide(args []any) Outcome {
	r.once.Do(r.compile)

	var sig shape.Signature
	if len(args) > 0 {
		sig = shape.SignatureOf(args)
	}
	for _, cr := range r.compiled {
		if cr.matches(sig, args) {
			return cr.outcome
		}
	}
	return r.defaultOutcome()
}

func (r *Rules) defaultOutcome() Outcome {
	if r.Default == "" {
		return UseCompiled()
	}
	return ParseAction(r.Default, "no policy rule matched")
}

func (r *Rules) compile() {
	r.compiled = make([]compiledRule, len(r.Rules))
	for i, rule := range r.Rules {
		patterns := make([]string, len(rule.When))
		for j, p := range rule.When {
			patterns[j] = canonicalPattern(p)
		}
		reason := rule.Reason
		if reason == "" {
			reason = fmt.Sprintf("rejected by policy rule %d", i)
		}
		r.compiled[i] = compiledRule{
			patterns: patterns,
			minLen:   rule.MinLen,
			outcome:  ParseAction(rule.Action, reason),
		}
	}
}

// Check reports rule table mistakes: unknown action names and shape
// patterns that do not parse.
func (r *Rules) Check() error {
	var errs []error
	for i, rule := range r.Rules {
		if !KnownAction(rule.Action) {
			errs = append(errs, fmt.Errorf("rule %d: unknown action %q", i, rule.Action))
		}
		for _, p := range rule.When {
			if p == "*" {
				continue
			}
			if _, err := shape.ParseShape(p); err != nil {
				errs = append(errs, fmt.Errorf("rule %d: %w", i, err))
			}
		}
		if rule.MinLen < 0 {
			errs = append(errs, fmt.Errorf("rule %d: min_len must not be negative", i))
		}
	}
	if r.Default != "" && !KnownAction(r.Default) {
		errs = append(errs, fmt.Errorf("default: unknown action %q", r.Default))
	}
	return errors.Join(errs...)
}

func canonicalPattern(p string) string {
	if p == "*" {
		return p
	}
	if sh, err := shape.ParseShape(p); err == nil {
		return sh.String()
	}
	return p
}

func (cr compiledRule) matches(sig shape.Signature, args []any) bool {
	if len(cr.patterns) > 0 {
		if len(cr.patterns) != sig.Len() {
			return false
		}
		for i, p := range cr.patterns {
			if p != "*" && p != sig.At(i).String() {
				return false
			}
		}
	}
	if cr.minLen > 0 {
		n, ok := firstLength(args)
		if !ok || n < cr.minLen {
			return false
		}
	}
	return true
}

// firstLength returns the length of the first array or string argument.
func firstLength(args []any) (int, bool) {
	for _, a := range args {
		if a == nil {
			continue
		}
		rv := reflect.ValueOf(a)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array, reflect.String:
			return rv.Len(), true
		}
	}
	return 0, false
}
