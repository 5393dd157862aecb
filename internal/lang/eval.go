package lang

import (
	"fmt"
	"go/ast"
	"go/token"
	"math"
	"strconv"
)

// Evaluate runs the body directly on the given arguments.
//
// The evaluator is dynamically typed: it accepts any argument shapes and
// fails only when an operation meets operands it cannot combine.
func (f *Function) Evaluate(args []any) (any, error) {
	if len(args) != len(f.Params) {
		return nil, &EvalError{
			Function: f.Name,
			Message:  fmt.Sprintf("expected %d argument(s), got %d", len(f.Params), len(args)),
		}
	}
	e := &evaluator{fn: f, args: NormalizeAll(args)}
	return e.eval(f.body)
}

type evaluator struct {
	fn   *Function
	args []any
}

func (e *evaluator) errorf(format string, args ...any) error {
	return &EvalError{Function: e.fn.Name, Message: fmt.Sprintf(format, args...)}
}

func (e *evaluator) wrap(err error) error {
	return &EvalError{Function: e.fn.Name, Message: err.Error(), Err: err}
}

func (e *evaluator) eval(n ast.Expr) (any, error) {
	switch n := n.(type) {
	case *ast.BasicLit:
		return literal(n)
	case *ast.Ident:
		switch n.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		i, _ := e.fn.ParamIndex(n.Name)
		return e.args[i], nil
	case *ast.ParenExpr:
		return e.eval(n.X)
	case *ast.UnaryExpr:
		x, err := e.eval(n.X)
		if err != nil {
			return nil, err
		}
		return e.unary(n.Op, x)
	case *ast.BinaryExpr:
		return e.binaryExpr(n)
	case *ast.IndexExpr:
		return e.index(n)
	case *ast.SelectorExpr:
		x, err := e.eval(n.X)
		if err != nil {
			return nil, err
		}
		rec, ok := x.(map[string]any)
		if !ok {
			return nil, e.errorf("field %s of non-record %s", n.Sel.Name, TypeName(x))
		}
		v, ok := rec[n.Sel.Name]
		if !ok {
			return nil, e.errorf("record has no field %s", n.Sel.Name)
		}
		return v, nil
	case *ast.CallExpr:
		return e.call(n)
	}
	return nil, e.errorf("unsupported expression %T", n)
}

func literal(n *ast.BasicLit) (any, error) {
	switch n.Kind {
	case token.INT:
		return strconv.ParseInt(n.Value, 0, 64)
	case token.FLOAT:
		return strconv.ParseFloat(n.Value, 64)
	case token.STRING:
		return strconv.Unquote(n.Value)
	}
	return nil, fmt.Errorf("unsupported literal %s", n.Value)
}

func (e *evaluator) unary(op token.Token, x any) (any, error) {
	switch op {
	case token.NOT:
		if b, ok := x.(bool); ok {
			return !b, nil
		}
	case token.ADD:
		switch x.(type) {
		case int64, float64, []int64, []float64:
			return x, nil
		}
	case token.SUB:
		switch v := x.(type) {
		case int64:
			return -v, nil
		case float64:
			return -v, nil
		case []int64:
			out := make([]int64, len(v))
			for i, a := range v {
				out[i] = -a
			}
			return out, nil
		case []float64:
			out := make([]float64, len(v))
			for i, a := range v {
				out[i] = -a
			}
			return out, nil
		}
	}
	return nil, e.errorf("invalid operation: %s%s", op, TypeName(x))
}

func (e *evaluator) binaryExpr(n *ast.BinaryExpr) (any, error) {
	x, err := e.eval(n.X)
	if err != nil {
		return nil, err
	}
	if n.Op == token.LAND || n.Op == token.LOR {
		xb, ok := x.(bool)
		if !ok {
			return nil, e.errorf("invalid operation: %s %s ...", TypeName(x), n.Op)
		}
		if n.Op == token.LAND && !xb || n.Op == token.LOR && xb {
			return xb, nil
		}
		y, err := e.eval(n.Y)
		if err != nil {
			return nil, err
		}
		yb, ok := y.(bool)
		if !ok {
			return nil, e.errorf("invalid operation: bool %s %s", n.Op, TypeName(y))
		}
		return yb, nil
	}
	y, err := e.eval(n.Y)
	if err != nil {
		return nil, err
	}
	return e.binary(n.Op, x, y)
}

func (e *evaluator) binary(op token.Token, x, y any) (any, error) {
	switch a := x.(type) {
	case int64:
		switch b := y.(type) {
		case int64:
			return e.intOp(op, a, b)
		case float64:
			return e.floatOp(op, float64(a), b)
		case []int64, []float64:
			return e.vectorOp(op, x, y)
		}
	case float64:
		switch b := y.(type) {
		case int64:
			return e.floatOp(op, a, float64(b))
		case float64:
			return e.floatOp(op, a, b)
		case []int64, []float64:
			return e.vectorOp(op, x, y)
		}
	case string:
		if b, ok := y.(string); ok {
			return e.stringOp(op, a, b)
		}
	case bool:
		if b, ok := y.(bool); ok {
			switch op {
			case token.EQL:
				return a == b, nil
			case token.NEQ:
				return a != b, nil
			}
		}
	case []int64, []float64:
		return e.vectorOp(op, x, y)
	}
	return nil, e.errorf("invalid operation: %s %s %s", TypeName(x), op, TypeName(y))
}

func (e *evaluator) intOp(op token.Token, a, b int64) (any, error) {
	switch op {
	case token.ADD:
		return a + b, nil
	case token.SUB:
		return a - b, nil
	case token.MUL:
		return a * b, nil
	case token.QUO:
		if b == 0 {
			return nil, e.wrap(ErrDivisionByZero)
		}
		return a / b, nil
	case token.REM:
		if b == 0 {
			return nil, e.wrap(ErrDivisionByZero)
		}
		return a % b, nil
	}
	if r, ok := compare(op, cmpOrdered(a, b)); ok {
		return r, nil
	}
	return nil, e.errorf("invalid operation: int64 %s int64", op)
}

func (e *evaluator) floatOp(op token.Token, a, b float64) (any, error) {
	switch op {
	case token.ADD:
		return a + b, nil
	case token.SUB:
		return a - b, nil
	case token.MUL:
		return a * b, nil
	case token.QUO:
		return a / b, nil
	case token.EQL:
		return a == b, nil
	case token.NEQ:
		return a != b, nil
	case token.LSS:
		return a < b, nil
	case token.LEQ:
		return a <= b, nil
	case token.GTR:
		return a > b, nil
	case token.GEQ:
		return a >= b, nil
	}
	return nil, e.errorf("invalid operation: float64 %s float64", op)
}

func (e *evaluator) stringOp(op token.Token, a, b string) (any, error) {
	if op == token.ADD {
		return a + b, nil
	}
	if r, ok := compare(op, cmpOrdered(a, b)); ok {
		return r, nil
	}
	return nil, e.errorf("invalid operation: string %s string", op)
}

// vectorOp applies an arithmetic operator elementwise. A scalar operand is
// broadcast. Integer vectors stay integer unless a float is involved.
func (e *evaluator) vectorOp(op token.Token, x, y any) (any, error) {
	switch op {
	case token.ADD, token.SUB, token.MUL, token.QUO:
	default:
		return nil, e.errorf("invalid operation: %s %s %s", TypeName(x), op, TypeName(y))
	}

	xi, xIsInt := x.([]int64)
	yi, yIsInt := y.([]int64)
	xs, xScalarInt := x.(int64)
	ys, yScalarInt := y.(int64)
	allInt := (xIsInt || xScalarInt) && (yIsInt || yScalarInt)

	if allInt {
		n, err := broadcastLen(len(xi), xScalarInt, len(yi), yScalarInt)
		if err != nil {
			return nil, e.wrap(err)
		}
		out := make([]int64, n)
		for i := range out {
			a, b := xs, ys
			if !xScalarInt {
				a = xi[i]
			}
			if !yScalarInt {
				b = yi[i]
			}
			r, err := e.intOp(op, a, b)
			if err != nil {
				return nil, err
			}
			out[i] = r.(int64)
		}
		return out, nil
	}

	xf, xScalar, ok := asFloats(x)
	if !ok {
		return nil, e.errorf("invalid operation: %s %s %s", TypeName(x), op, TypeName(y))
	}
	yf, yScalar, ok := asFloats(y)
	if !ok {
		return nil, e.errorf("invalid operation: %s %s %s", TypeName(x), op, TypeName(y))
	}
	n, err := broadcastLen(len(xf), xScalar, len(yf), yScalar)
	if err != nil {
		return nil, e.wrap(err)
	}
	out := make([]float64, n)
	for i := range out {
		a, b := xf[0], yf[0]
		if !xScalar {
			a = xf[i]
		}
		if !yScalar {
			b = yf[i]
		}
		r, _ := e.floatOp(op, a, b)
		out[i] = r.(float64)
	}
	return out, nil
}

// asFloats views a numeric scalar or vector as floats. Scalars come back as
// a one element slice.
func asFloats(v any) ([]float64, bool, bool) {
	switch val := v.(type) {
	case int64:
		return []float64{float64(val)}, true, true
	case float64:
		return []float64{val}, true, true
	case []int64:
		out := make([]float64, len(val))
		for i, a := range val {
			out[i] = float64(a)
		}
		return out, false, true
	case []float64:
		return val, false, true
	}
	return nil, false, false
}

func broadcastLen(xn int, xScalar bool, yn int, yScalar bool) (int, error) {
	switch {
	case xScalar && yScalar:
		return 1, nil
	case xScalar:
		return yn, nil
	case yScalar:
		return xn, nil
	case xn != yn:
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, xn, yn)
	}
	return xn, nil
}

func (e *evaluator) index(n *ast.IndexExpr) (any, error) {
	x, err := e.eval(n.X)
	if err != nil {
		return nil, err
	}
	iv, err := e.eval(n.Index)
	if err != nil {
		return nil, err
	}
	i, ok := iv.(int64)
	if !ok {
		return nil, e.errorf("invalid index of type %s", TypeName(iv))
	}
	var length int
	switch v := x.(type) {
	case []int64:
		length = len(v)
	case []float64:
		length = len(v)
	case []any:
		length = len(v)
	default:
		return nil, e.errorf("cannot index %s", TypeName(x))
	}
	if i < 0 || i >= int64(length) {
		return nil, e.wrap(fmt.Errorf("%w [%d] with length %d", ErrIndexRange, i, length))
	}
	switch v := x.(type) {
	case []int64:
		return v[i], nil
	case []float64:
		return v[i], nil
	}
	return x.([]any)[i], nil
}

func (e *evaluator) call(n *ast.CallExpr) (any, error) {
	name := n.Fun.(*ast.Ident).Name
	if name == "choose" {
		c, err := e.eval(n.Args[0])
		if err != nil {
			return nil, err
		}
		cb, ok := c.(bool)
		if !ok {
			return nil, e.errorf("choose condition must be bool, got %s", TypeName(c))
		}
		if cb {
			return e.eval(n.Args[1])
		}
		return e.eval(n.Args[2])
	}

	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		v, err := e.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch name {
	case "len":
		switch v := args[0].(type) {
		case string:
			return int64(len(v)), nil
		case []int64:
			return int64(len(v)), nil
		case []float64:
			return int64(len(v)), nil
		case []any:
			return int64(len(v)), nil
		}
	case "sqrt":
		switch v := args[0].(type) {
		case int64:
			return math.Sqrt(float64(v)), nil
		case float64:
			return math.Sqrt(v), nil
		case []int64, []float64:
			fs, _, _ := asFloats(v)
			out := make([]float64, len(fs))
			for i, a := range fs {
				out[i] = math.Sqrt(a)
			}
			return out, nil
		}
	case "abs":
		switch v := args[0].(type) {
		case int64:
			return absInt(v), nil
		case float64:
			return math.Abs(v), nil
		case []int64:
			out := make([]int64, len(v))
			for i, a := range v {
				out[i] = absInt(a)
			}
			return out, nil
		case []float64:
			out := make([]float64, len(v))
			for i, a := range v {
				out[i] = math.Abs(a)
			}
			return out, nil
		}
	case "sum":
		switch v := args[0].(type) {
		case []int64:
			var acc int64
			for _, a := range v {
				acc += a
			}
			return acc, nil
		case []float64:
			var acc float64
			for _, a := range v {
				acc += a
			}
			return acc, nil
		}
	case "min", "max":
		return e.minMax(name, args[0], args[1])
	case "float64":
		switch v := args[0].(type) {
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		}
	case "int64":
		switch v := args[0].(type) {
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		}
	}
	return nil, e.errorf("cannot call %s on %s", name, TypeName(args[0]))
}

func (e *evaluator) minMax(name string, x, y any) (any, error) {
	if a, ok := x.(int64); ok {
		if b, ok := y.(int64); ok {
			if name == "min" {
				return min(a, b), nil
			}
			return max(a, b), nil
		}
	}
	xf, xs, ok1 := asFloats(x)
	yf, ys, ok2 := asFloats(y)
	if !ok1 || !ok2 || !xs || !ys {
		return nil, e.errorf("cannot call %s on %s, %s", name, TypeName(x), TypeName(y))
	}
	if name == "min" {
		return math.Min(xf[0], yf[0]), nil
	}
	return math.Max(xf[0], yf[0]), nil
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

type ordered interface {
	~int64 | ~float64 | ~string
}

func cmpOrdered[T ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compare maps a three-way comparison result onto a comparison operator.
func compare(op token.Token, c int) (bool, bool) {
	switch op {
	case token.EQL:
		return c == 0, true
	case token.NEQ:
		return c != 0, true
	case token.LSS:
		return c < 0, true
	case token.LEQ:
		return c <= 0, true
	case token.GTR:
		return c > 0, true
	case token.GEQ:
		return c >= 0, true
	}
	return false, false
}
