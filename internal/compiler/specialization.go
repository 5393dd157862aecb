package compiler

import (
	"context"
	"fmt"

	"github.com/roach88/tiered/internal/lang"
	"github.com/roach88/tiered/internal/shape"
)

// Origin records where a specialization's program came from.
type Origin uint8

const (
	OriginCompiled Origin = iota + 1 // compiled in this process
	OriginCache                      // loaded from the artifact cache
	OriginExplicit                   // compiled from an explicit signature
)

func (o Origin) String() string {
	switch o {
	case OriginCompiled:
		return "compiled"
	case OriginCache:
		return "cache"
	case OriginExplicit:
		return "explicit"
	}
	return "none"
}

// Specialization is a program bound to exactly one signature. It is
// immutable and safe for concurrent use.
type Specialization struct {
	Signature shape.Signature
	Program   *Program
	Origin    Origin
}

// Result returns the machine type of the specialization's return value.
func (s *Specialization) Result() Type { return s.Program.Result }

// Run executes the program. Arguments whose shape differs from the
// specialization's signature are converted first; only widening
// conversions (see Resolve) succeed.
func (s *Specialization) Run(ctx context.Context, args []any) (any, error) {
	p := s.Program
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(args) != len(p.Params) {
		return nil, s.execError(fmt.Errorf("expected %d argument(s), got %d", len(p.Params), len(args)))
	}
	converted := make([]any, len(args))
	for i, a := range args {
		v, err := coerce(a, p.Params[i])
		if err != nil {
			return nil, s.execError(fmt.Errorf("argument %d: %w", i, err))
		}
		converted[i] = v
	}
	out, err := p.execute(ctx, converted)
	if err != nil {
		return nil, s.execError(err)
	}
	return out, nil
}

func (s *Specialization) execError(err error) error {
	return &ExecError{Function: s.Program.Function, Signature: s.Signature.Key(), Err: err}
}

// coerce converts an argument to the runtime representation of t.
func coerce(v any, t Type) (any, error) {
	v = lang.Normalize(v)
	switch t {
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeInt:
		if i, ok := v.(int64); ok {
			return i, nil
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
	case TypeIntVec:
		if xs, ok := v.([]int64); ok {
			return xs, nil
		}
	case TypeFloatVec:
		switch xs := v.(type) {
		case []float64:
			return xs, nil
		case []int64:
			return toFloats(xs), nil
		}
	}
	return nil, fmt.Errorf("cannot use %s as %s", lang.TypeName(v), t)
}
