package compiler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/tiered/internal/lang"
)

// parallelMinLen is the vector length from which Parallel programs split
// elementwise work across goroutines.
var parallelMinLen = 1 << 14

var errNoReturn = errors.New("program ended without RETURN")

// machine executes one program invocation.
type machine struct {
	ctx   context.Context
	prog  *Program
	args  []any
	stack []any
}

func (m *machine) push(v any) { m.stack = append(m.stack, v) }

func (m *machine) pop() any {
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v
}

func (m *machine) top() any { return m.stack[len(m.stack)-1] }

func (m *machine) pop2() (any, any) {
	b := m.pop()
	a := m.pop()
	return a, b
}

// execute runs the program on arguments already coerced to its parameter
// types.
func (p *Program) execute(ctx context.Context, args []any) (any, error) {
	m := &machine{ctx: ctx, prog: p, args: args, stack: make([]any, 0, 8)}
	return m.run()
}

func (m *machine) run() (any, error) {
	code := m.prog.Code
	for pc := 0; pc < len(code); pc++ {
		in := code[pc]
		switch in.Op {
		case OpConst:
			m.push(m.prog.Consts[in.A].value())
		case OpParam:
			m.push(m.args[in.A])

		case OpAddI, OpSubI, OpMulI, OpDivI, OpRemI:
			a, b := m.pop2()
			r, err := intArith(in.Op, a.(int64), b.(int64))
			if err != nil {
				return nil, err
			}
			m.push(r)
		case OpNegI:
			m.push(-m.pop().(int64))
		case OpAddF, OpSubF, OpMulF, OpDivF:
			a, b := m.pop2()
			m.push(floatArith(in.Op, a.(float64), b.(float64)))
		case OpNegF:
			m.push(-m.pop().(float64))
		case OpConcat:
			a, b := m.pop2()
			m.push(a.(string) + b.(string))

		case OpCmpI:
			a, b := m.pop2()
			m.push(compareOrdered(int(in.A), a.(int64), b.(int64)))
		case OpCmpF:
			a, b := m.pop2()
			m.push(compareOrdered(int(in.A), a.(float64), b.(float64)))
		case OpCmpS:
			a, b := m.pop2()
			m.push(compareOrdered(int(in.A), a.(string), b.(string)))
		case OpCmpB:
			a, b := m.pop2()
			eq := a.(bool) == b.(bool)
			m.push(eq == (in.A == cmpEq))
		case OpNot:
			m.push(!m.pop().(bool))

		case OpI2F:
			m.push(float64(m.pop().(int64)))
		case OpF2I:
			m.push(int64(m.pop().(float64)))
		case OpIV2FV:
			m.push(toFloats(m.pop().([]int64)))

		case OpVecI:
			a, b := m.pop2()
			r, err := m.vecInt(int(in.A), int(in.B), a, b)
			if err != nil {
				return nil, err
			}
			m.push(r)
		case OpVecF:
			a, b := m.pop2()
			r, err := m.vecFloat(int(in.A), int(in.B), a, b)
			if err != nil {
				return nil, err
			}
			m.push(r)
		case OpNegIV:
			xs := m.pop().([]int64)
			out := make([]int64, len(xs))
			for i, x := range xs {
				out[i] = -x
			}
			m.push(out)
		case OpNegFV:
			xs := m.pop().([]float64)
			out := make([]float64, len(xs))
			for i, x := range xs {
				out[i] = -x
			}
			m.push(out)

		case OpJump:
			pc = int(in.A) - 1
		case OpJumpIfFalse:
			if !m.pop().(bool) {
				pc = int(in.A) - 1
			}
		case OpJumpIfFalseOrPop:
			if !m.top().(bool) {
				pc = int(in.A) - 1
			} else {
				m.pop()
			}
		case OpJumpIfTrueOrPop:
			if m.top().(bool) {
				pc = int(in.A) - 1
			} else {
				m.pop()
			}

		case OpIndexIV:
			a, b := m.pop2()
			xs, i := a.([]int64), b.(int64)
			if err := checkIndex(i, len(xs)); err != nil {
				return nil, err
			}
			m.push(xs[i])
		case OpIndexFV:
			a, b := m.pop2()
			xs, i := a.([]float64), b.(int64)
			if err := checkIndex(i, len(xs)); err != nil {
				return nil, err
			}
			m.push(xs[i])
		case OpLenS:
			m.push(int64(len(m.pop().(string))))
		case OpLenIV:
			m.push(int64(len(m.pop().([]int64))))
		case OpLenFV:
			m.push(int64(len(m.pop().([]float64))))
		case OpSqrtF:
			m.push(math.Sqrt(m.pop().(float64)))
		case OpSqrtFV:
			xs := m.pop().([]float64)
			out := make([]float64, len(xs))
			for i, x := range xs {
				out[i] = math.Sqrt(x)
			}
			m.push(out)
		case OpAbsI:
			x := m.pop().(int64)
			if x < 0 {
				x = -x
			}
			m.push(x)
		case OpAbsF:
			m.push(math.Abs(m.pop().(float64)))
		case OpAbsIV:
			xs := m.pop().([]int64)
			out := make([]int64, len(xs))
			for i, x := range xs {
				if x < 0 {
					x = -x
				}
				out[i] = x
			}
			m.push(out)
		case OpAbsFV:
			xs := m.pop().([]float64)
			out := make([]float64, len(xs))
			for i, x := range xs {
				out[i] = math.Abs(x)
			}
			m.push(out)
		case OpSumIV:
			var acc int64
			for _, x := range m.pop().([]int64) {
				acc += x
			}
			m.push(acc)
		case OpSumFV:
			xs := m.pop().([]float64)
			if m.prog.FastMath {
				m.push(sumReassociated(xs))
			} else {
				var acc float64
				for _, x := range xs {
					acc += x
				}
				m.push(acc)
			}
		case OpMinI:
			a, b := m.pop2()
			m.push(min(a.(int64), b.(int64)))
		case OpMaxI:
			a, b := m.pop2()
			m.push(max(a.(int64), b.(int64)))
		case OpMinF:
			a, b := m.pop2()
			m.push(math.Min(a.(float64), b.(float64)))
		case OpMaxF:
			a, b := m.pop2()
			m.push(math.Max(a.(float64), b.(float64)))

		case OpReturn:
			return m.pop(), nil
		default:
			return nil, fmt.Errorf("unknown opcode %s at %04d", in.Op, pc)
		}
	}
	return nil, errNoReturn
}

func intArith(op Opcode, a, b int64) (int64, error) {
	switch op {
	case OpAddI:
		return a + b, nil
	case OpSubI:
		return a - b, nil
	case OpMulI:
		return a * b, nil
	}
	if b == 0 {
		return 0, lang.ErrDivisionByZero
	}
	if op == OpDivI {
		return a / b, nil
	}
	return a % b, nil
}

func floatArith(op Opcode, a, b float64) float64 {
	switch op {
	case OpAddF:
		return a + b
	case OpSubF:
		return a - b
	case OpMulF:
		return a * b
	}
	return a / b
}

type ordered interface {
	~int64 | ~float64 | ~string
}

func compareOrdered[T ordered](cmp int, a, b T) bool {
	switch cmp {
	case cmpEq:
		return a == b
	case cmpNe:
		return a != b
	case cmpLt:
		return a < b
	case cmpLe:
		return a <= b
	case cmpGt:
		return a > b
	}
	return a >= b
}

func checkIndex(i int64, n int) error {
	if i < 0 || i >= int64(n) {
		return fmt.Errorf("%w [%d] with length %d", lang.ErrIndexRange, i, n)
	}
	return nil
}

func toFloats(xs []int64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}

// operands unpacks the two operands of a vector instruction into two
// vectors or a vector and a broadcast scalar.
func operands[T int64 | float64](layout int, a, b any) (xs, ys []T, xScalar, yScalar T, n int, err error) {
	switch layout {
	case vecVV:
		xs, ys = a.([]T), b.([]T)
		if len(xs) != len(ys) {
			return nil, nil, 0, 0, 0, fmt.Errorf("%w: %d vs %d", lang.ErrLengthMismatch, len(xs), len(ys))
		}
		n = len(xs)
	case vecVS:
		xs, yScalar = a.([]T), b.(T)
		n = len(xs)
	default:
		xScalar, ys = a.(T), b.([]T)
		n = len(ys)
	}
	return xs, ys, xScalar, yScalar, n, nil
}

func (m *machine) vecInt(arith, layout int, a, b any) ([]int64, error) {
	xs, ys, xk, yk, n, err := operands[int64](layout, a, b)
	if err != nil {
		return nil, err
	}
	op := [...]Opcode{OpAddI, OpSubI, OpMulI, OpDivI}[arith]
	out := make([]int64, n)
	err = m.each(n, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			x, y := xk, yk
			if xs != nil {
				x = xs[i]
			}
			if ys != nil {
				y = ys[i]
			}
			r, err := intArith(op, x, y)
			if err != nil {
				return err
			}
			out[i] = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *machine) vecFloat(arith, layout int, a, b any) ([]float64, error) {
	xs, ys, xk, yk, n, err := operands[float64](layout, a, b)
	if err != nil {
		return nil, err
	}
	op := [...]Opcode{OpAddF, OpSubF, OpMulF, OpDivF}[arith]
	out := make([]float64, n)
	err = m.each(n, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			x, y := xk, yk
			if xs != nil {
				x = xs[i]
			}
			if ys != nil {
				y = ys[i]
			}
			out[i] = floatArith(op, x, y)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// each runs body over [0, n). Parallel programs split long ranges into one
// chunk per available CPU.
func (m *machine) each(n int, body func(lo, hi int) error) error {
	if !m.prog.Parallel || n < parallelMinLen {
		return body(0, n)
	}
	workers := runtime.GOMAXPROCS(0)
	chunk := (n + workers - 1) / workers
	g, ctx := errgroup.WithContext(m.ctx)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return body(lo, hi)
		})
	}
	return g.Wait()
}

// sumReassociated adds with four independent accumulators. The result may
// differ from a sequential sum in the last bits.
func sumReassociated(xs []float64) float64 {
	var a0, a1, a2, a3 float64
	i := 0
	for ; i+4 <= len(xs); i += 4 {
		a0 += xs[i]
		a1 += xs[i+1]
		a2 += xs[i+2]
		a3 += xs[i+3]
	}
	for ; i < len(xs); i++ {
		a0 += xs[i]
	}
	return (a0 + a1) + (a2 + a3)
}
