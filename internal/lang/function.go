// Package lang holds the function definitions the dispatcher executes and
// the tree-walking evaluator that runs them without compilation.
//
// A function body is a single expression in Go syntax over the function's
// parameters, e.g. "a + b" or "sum(sqrt(xs))". Parsing reuses go/parser;
// Parse then rejects every construct the evaluator and the compiler do not
// both understand, so a body that parses is runnable on either tier.
package lang

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"slices"
)

// Function is a named, parsed function definition.
// A Function is immutable after Parse and safe for concurrent use.
type Function struct {
	Name   string
	Params []string
	Source string

	body ast.Expr
}

// Parse parses and validates a function body.
func Parse(name string, params []string, source string) (*Function, error) {
	if name == "" {
		return nil, &SyntaxError{Function: name, Message: "function name is required"}
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if !token.IsIdentifier(p) {
			return nil, &SyntaxError{Function: name, Message: fmt.Sprintf("invalid parameter name %q", p)}
		}
		if isReserved(p) {
			return nil, &SyntaxError{Function: name, Message: fmt.Sprintf("parameter %q shadows a builtin", p)}
		}
		if seen[p] {
			return nil, &SyntaxError{Function: name, Message: fmt.Sprintf("duplicate parameter %q", p)}
		}
		seen[p] = true
	}

	expr, err := parser.ParseExpr(source)
	if err != nil {
		return nil, &SyntaxError{Function: name, Message: err.Error()}
	}

	f := &Function{
		Name:   name,
		Params: slices.Clone(params),
		Source: source,
		body:   expr,
	}
	if err := f.check(expr); err != nil {
		return nil, err
	}
	return f, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or for bodies known to be valid.
func MustParse(name string, params []string, source string) *Function {
	f, err := Parse(name, params, source)
	if err != nil {
		panic(err)
	}
	return f
}

// Body returns the parsed body expression.
func (f *Function) Body() ast.Expr { return f.body }

// Arity returns the number of parameters.
func (f *Function) Arity() int { return len(f.Params) }

// ParamIndex returns the position of the named parameter.
func (f *Function) ParamIndex(name string) (int, bool) {
	i := slices.Index(f.Params, name)
	return i, i >= 0
}

// Pos converts a body position into a column within Source.
func (f *Function) Pos(p token.Pos) int {
	// ParseExpr uses a file base of 1.
	return int(p)
}

func (f *Function) check(e ast.Expr) error {
	switch n := e.(type) {
	case *ast.BasicLit:
		if n.Kind == token.CHAR || n.Kind == token.IMAG {
			return f.syntaxErrorf(n.Pos(), "unsupported literal %s", n.Value)
		}
		return nil
	case *ast.Ident:
		if n.Name == "true" || n.Name == "false" {
			return nil
		}
		if _, ok := f.ParamIndex(n.Name); ok {
			return nil
		}
		return f.syntaxErrorf(n.Pos(), "undefined: %s", n.Name)
	case *ast.ParenExpr:
		return f.check(n.X)
	case *ast.UnaryExpr:
		switch n.Op {
		case token.SUB, token.ADD, token.NOT:
			return f.check(n.X)
		}
		return f.syntaxErrorf(n.Pos(), "unsupported unary operator %s", n.Op)
	case *ast.BinaryExpr:
		if !supportedBinary[n.Op] {
			return f.syntaxErrorf(n.OpPos, "unsupported operator %s", n.Op)
		}
		if err := f.check(n.X); err != nil {
			return err
		}
		return f.check(n.Y)
	case *ast.IndexExpr:
		if err := f.check(n.X); err != nil {
			return err
		}
		return f.check(n.Index)
	case *ast.SelectorExpr:
		return f.check(n.X)
	case *ast.CallExpr:
		id, ok := n.Fun.(*ast.Ident)
		if !ok {
			return f.syntaxErrorf(n.Pos(), "only builtin functions can be called")
		}
		b, ok := builtins[id.Name]
		if !ok {
			return f.syntaxErrorf(id.Pos(), "unknown function %s", id.Name)
		}
		if len(n.Args) != b.arity {
			return f.syntaxErrorf(id.Pos(), "%s expects %d argument(s), got %d", id.Name, b.arity, len(n.Args))
		}
		if n.Ellipsis.IsValid() {
			return f.syntaxErrorf(n.Ellipsis, "variadic calls are not supported")
		}
		for _, a := range n.Args {
			if err := f.check(a); err != nil {
				return err
			}
		}
		return nil
	}
	return f.syntaxErrorf(e.Pos(), "unsupported expression %T", e)
}

func (f *Function) syntaxErrorf(pos token.Pos, format string, args ...any) error {
	return &SyntaxError{Function: f.Name, Column: f.Pos(pos), Message: fmt.Sprintf(format, args...)}
}

var supportedBinary = map[token.Token]bool{
	token.ADD: true, token.SUB: true, token.MUL: true, token.QUO: true, token.REM: true,
	token.EQL: true, token.NEQ: true, token.LSS: true, token.LEQ: true, token.GTR: true, token.GEQ: true,
	token.LAND: true, token.LOR: true,
}

// builtin describes a callable builtin. Both tiers implement every entry.
type builtin struct {
	arity int
}

var builtins = map[string]builtin{
	"len":     {arity: 1},
	"sqrt":    {arity: 1},
	"abs":     {arity: 1},
	"sum":     {arity: 1},
	"min":     {arity: 2},
	"max":     {arity: 2},
	"float64": {arity: 1},
	"int64":   {arity: 1},
	"choose":  {arity: 3},
}

// IsBuiltin reports whether name is a builtin function.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

func isReserved(name string) bool {
	return IsBuiltin(name) || name == "true" || name == "false"
}
