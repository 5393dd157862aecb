package defs

import (
	"context"
	"errors"
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tiered/internal/compiler"
	"github.com/roach88/tiered/internal/dispatch"
	"github.com/roach88/tiered/internal/lang"
	"github.com/roach88/tiered/internal/policy"
	"github.com/roach88/tiered/internal/shape"
)

// Definition is one declared function and its dispatch configuration.
type Definition struct {
	Name           string
	Params         []string
	Body           string
	WarnOnFallback bool
	Target         compiler.Options

	// Policy is nil when the definition declares none.
	Policy policy.Policy

	Pos token.Pos

	fn *lang.Function
}

// Function returns the parsed function body.
func (d *Definition) Function() *lang.Function { return d.fn }

// Config returns the dispatcher configuration of the definition.
func (d *Definition) Config() dispatch.Config {
	return dispatch.Config{
		UseJIT:         d.Policy,
		WarnOnFallback: d.WarnOnFallback,
		Target:         d.Target,
	}
}

// NewDispatcher builds a dispatcher for the definition.
func (d *Definition) NewDispatcher(ctx context.Context, opts ...dispatch.Option) (*dispatch.Dispatcher, error) {
	return dispatch.New(ctx, d.fn, d.Config(), opts...)
}

// Check reports problems that only surface at call time: unknown rule
// actions and rule patterns that are not shapes.
func (d *Definition) Check() error {
	if r, ok := d.Policy.(*policy.Rules); ok {
		if err := r.Check(); err != nil {
			return &DefinitionError{Field: "policy", Message: err.Error(), Pos: d.Pos}
		}
	}
	return nil
}

// DefinitionError is a definition that could not be compiled.
type DefinitionError struct {
	Field   string
	Message string
	Pos     token.Pos
	Err     error
}

func (e *DefinitionError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

// CompileFunction parses a CUE value into a Definition.
//
// The CUE value should be the function struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`function: add: { params: ["a", "b"], body: "a + b" }`)
//	def, err := CompileFunction(v.LookupPath(cue.ParsePath("function.add")))
func CompileFunction(v cue.Value) (*Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &Definition{Pos: v.Pos()}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.Name = labels[len(labels)-1].String()
	}

	// params (required, may be empty)
	paramsVal := v.LookupPath(cue.ParsePath("params"))
	if !paramsVal.Exists() {
		return nil, &DefinitionError{Field: "params", Message: "params is required", Pos: v.Pos()}
	}
	params, err := stringList(paramsVal, "params")
	if err != nil {
		return nil, err
	}
	def.Params = params

	// body (required)
	bodyVal := v.LookupPath(cue.ParsePath("body"))
	if !bodyVal.Exists() {
		return nil, &DefinitionError{Field: "body", Message: "body is required", Pos: v.Pos()}
	}
	if def.Body, err = bodyVal.String(); err != nil {
		return nil, formatCUEError(err)
	}
	def.fn, err = lang.Parse(def.Name, def.Params, def.Body)
	if err != nil {
		return nil, &DefinitionError{Field: "body", Message: err.Error(), Pos: bodyVal.Pos(), Err: err}
	}

	if def.WarnOnFallback, err = optionalBool(v, "warn_on_fallback"); err != nil {
		return nil, err
	}

	if sigVal := v.LookupPath(cue.ParsePath("signatures")); sigVal.Exists() {
		sigs, err := stringList(sigVal, "signatures")
		if err != nil {
			return nil, err
		}
		for _, s := range sigs {
			if _, err := shape.ParseDeclaration(s); err != nil {
				return nil, &DefinitionError{Field: "signatures", Message: err.Error(), Pos: sigVal.Pos(), Err: err}
			}
		}
		def.Target.Signatures = sigs
	}

	if optVal := v.LookupPath(cue.ParsePath("options")); optVal.Exists() {
		if err := parseOptions(optVal, &def.Target); err != nil {
			return nil, err
		}
	}

	if polVal := v.LookupPath(cue.ParsePath("policy")); polVal.Exists() {
		if def.Policy, err = parsePolicy(def.Name, polVal); err != nil {
			return nil, err
		}
	}

	return def, nil
}

// parseOptions reads the compiler flags forwarded to compiler.Options.
func parseOptions(v cue.Value, opts *compiler.Options) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		var dst *bool
		switch iter.Label() {
		case "fastmath":
			dst = &opts.FastMath
		case "cache":
			dst = &opts.Cache
		case "parallel":
			dst = &opts.Parallel
		case "locked":
			dst = &opts.Locked
		default:
			return &DefinitionError{
				Field:   "options",
				Message: fmt.Sprintf("unknown option %q", iter.Label()),
				Pos:     iter.Value().Pos(),
			}
		}
		b, err := iter.Value().Bool()
		if err != nil {
			return formatCUEError(err)
		}
		*dst = b
	}
	return nil
}

// rulesDoc mirrors the CUE layout of a rule table.
type rulesDoc struct {
	Label   string `json:"label"`
	Default string `json:"default"`
	Rules   []struct {
		When   []string `json:"when"`
		MinLen int      `json:"min_len"`
		Action string   `json:"action"`
		Reason string   `json:"reason"`
	} `json:"rules"`
}

// parsePolicy supports:
// - a built-in policy name: "always_compile"
// - a rule table: { rules: [...], default: "reject" }
func parsePolicy(function string, v cue.Value) (policy.Policy, error) {
	notCallable := func(what string) error {
		return &DefinitionError{
			Field:   "policy",
			Message: fmt.Sprintf("%s: use_jit must be a rule table or one of always_compile, always_evaluate, got %s", function, what),
			Pos:     v.Pos(),
			Err:     policy.ErrNotCallable,
		}
	}

	switch v.IncompleteKind() {
	case cue.StringKind:
		name, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		p, ok := policy.Lookup(name)
		if !ok {
			return nil, notCallable(fmt.Sprintf("%q", name))
		}
		return p, nil
	case cue.StructKind:
		var doc rulesDoc
		if err := v.Decode(&doc); err != nil {
			return nil, formatCUEError(err)
		}
		r := &policy.Rules{Label: doc.Label, Default: doc.Default}
		if r.Label == "" {
			r.Label = function + ".policy"
		}
		for _, rule := range doc.Rules {
			r.Rules = append(r.Rules, policy.Rule{
				When:   rule.When,
				MinLen: rule.MinLen,
				Action: rule.Action,
				Reason: rule.Reason,
			})
		}
		return r, nil
	}
	return nil, notCallable(v.IncompleteKind().String())
}

func stringList(v cue.Value, field string) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &DefinitionError{Field: field, Message: "must be a list of strings", Pos: v.Pos()}
	}
	out := []string{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &DefinitionError{Field: "cue", Message: first.Error(), Pos: positions[0], Err: err}
	}
	return err
}

// IsNotCallable reports whether err is a definition whose policy cannot be
// invoked.
func IsNotCallable(err error) bool {
	return errors.Is(err, policy.ErrNotCallable)
}
