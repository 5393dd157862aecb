package compiler

import (
	"go/ast"
	"go/token"
	"strconv"

	"github.com/roach88/tiered/internal/lang"
	"github.com/roach88/tiered/internal/shape"
)

// Compile type-checks fn at sig and emits its program.
//
// The program's result type is inferred from the body. Compile fails with a
// *CompileError when a parameter shape has no machine type or when the body
// combines operands the compiler cannot type statically.
func Compile(fn *lang.Function, sig shape.Signature, opts Options) (*Program, error) {
	if sig.Len() != fn.Arity() {
		return nil, compileErrorf(fn, sig, "expected %d argument(s), got %d", fn.Arity(), sig.Len())
	}
	params := make([]Type, sig.Len())
	for i := range params {
		t, err := TypeOf(sig.At(i))
		if err != nil {
			return nil, compileErrorf(fn, sig, "parameter %s: %v", fn.Params[i], err)
		}
		params[i] = t
	}

	c := &codegen{
		fn:     fn,
		sig:    sig,
		params: params,
		types:  make(map[ast.Expr]Type),
		prog: &Program{
			Format:    shape.ArtifactFormat,
			Function:  fn.Name,
			Signature: sig.Key(),
			Params:    params,
			FastMath:  opts.FastMath,
			Parallel:  opts.Parallel,
		},
	}
	result, err := c.infer(fn.Body())
	if err != nil {
		return nil, err
	}
	c.gen(fn.Body())
	c.emit(OpReturn, 0, 0)
	c.prog.Result = result
	return c.prog, nil
}

// compileDeclared compiles fn for an explicit declaration. A declared return
// type must equal the inferred one or be reachable by int to float widening.
func compileDeclared(fn *lang.Function, decl shape.Declaration, opts Options) (*Program, error) {
	prog, err := Compile(fn, decl.Params, opts)
	if err != nil {
		return nil, err
	}
	if !decl.HasReturn {
		return prog, nil
	}
	want, err := TypeOf(decl.Return)
	if err != nil {
		return nil, compileErrorf(fn, decl.Params, "declared return: %v", err)
	}
	if want == prog.Result {
		return prog, nil
	}
	conv, ok := widening(prog.Result, want)
	if !ok {
		return nil, compileErrorf(fn, decl.Params, "declared return %s, body returns %s", want, prog.Result)
	}
	last := len(prog.Code) - 1
	prog.Code = append(prog.Code[:last], Instr{Op: conv}, Instr{Op: OpReturn})
	prog.Result = want
	return prog, nil
}

func widening(from, to Type) (Opcode, bool) {
	switch {
	case from == TypeInt && to == TypeFloat:
		return OpI2F, true
	case from == TypeIntVec && to == TypeFloatVec:
		return OpIV2FV, true
	}
	return 0, false
}

type codegen struct {
	fn     *lang.Function
	sig    shape.Signature
	params []Type
	types  map[ast.Expr]Type
	prog   *Program
}

func (c *codegen) errorf(format string, args ...any) error {
	return compileErrorf(c.fn, c.sig, format, args...)
}

func (c *codegen) emit(op Opcode, a, b int) int {
	c.prog.Code = append(c.prog.Code, Instr{Op: op, A: int32(a), B: int32(b)})
	return len(c.prog.Code) - 1
}

func (c *codegen) patch(at int) {
	c.prog.Code[at].A = int32(len(c.prog.Code))
}

func (c *codegen) constant(k Const) int {
	for i, existing := range c.prog.Consts {
		if existing == k {
			return i
		}
	}
	c.prog.Consts = append(c.prog.Consts, k)
	return len(c.prog.Consts) - 1
}

// infer computes the static type of every sub-expression of e.
func (c *codegen) infer(e ast.Expr) (Type, error) {
	t, err := c.inferExpr(e)
	if err != nil {
		return TypeInvalid, err
	}
	c.types[e] = t
	return t, nil
}

func (c *codegen) inferExpr(e ast.Expr) (Type, error) {
	switch n := e.(type) {
	case *ast.BasicLit:
		k, err := c.literal(n)
		if err != nil {
			return TypeInvalid, err
		}
		return k.Type, nil
	case *ast.Ident:
		if n.Name == "true" || n.Name == "false" {
			return TypeBool, nil
		}
		i, _ := c.fn.ParamIndex(n.Name)
		return c.params[i], nil
	case *ast.ParenExpr:
		return c.infer(n.X)
	case *ast.UnaryExpr:
		x, err := c.infer(n.X)
		if err != nil {
			return TypeInvalid, err
		}
		switch {
		case n.Op == token.NOT && x == TypeBool:
			return TypeBool, nil
		case (n.Op == token.SUB || n.Op == token.ADD) && x.isNumeric():
			return x, nil
		}
		return TypeInvalid, c.errorf("invalid operation: %s%s", n.Op, x)
	case *ast.BinaryExpr:
		return c.inferBinary(n)
	case *ast.IndexExpr:
		x, err := c.infer(n.X)
		if err != nil {
			return TypeInvalid, err
		}
		i, err := c.infer(n.Index)
		if err != nil {
			return TypeInvalid, err
		}
		if i != TypeInt {
			return TypeInvalid, c.errorf("invalid index of type %s", i)
		}
		switch x {
		case TypeIntVec:
			return TypeInt, nil
		case TypeFloatVec:
			return TypeFloat, nil
		}
		return TypeInvalid, c.errorf("cannot index %s", x)
	case *ast.SelectorExpr:
		return TypeInvalid, c.errorf("field selection .%s is not supported by the compiler", n.Sel.Name)
	case *ast.CallExpr:
		return c.inferCall(n)
	}
	return TypeInvalid, c.errorf("unsupported expression %T", e)
}

func (c *codegen) inferBinary(n *ast.BinaryExpr) (Type, error) {
	x, err := c.infer(n.X)
	if err != nil {
		return TypeInvalid, err
	}
	y, err := c.infer(n.Y)
	if err != nil {
		return TypeInvalid, err
	}
	bad := func() error { return c.errorf("invalid operation: %s %s %s", x, n.Op, y) }

	switch n.Op {
	case token.LAND, token.LOR:
		if x == TypeBool && y == TypeBool {
			return TypeBool, nil
		}
		return TypeInvalid, bad()
	case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
		switch {
		case x.isScalar() && y.isScalar():
			return TypeBool, nil
		case x == TypeString && y == TypeString:
			return TypeBool, nil
		case x == TypeBool && y == TypeBool && (n.Op == token.EQL || n.Op == token.NEQ):
			return TypeBool, nil
		}
		return TypeInvalid, bad()
	case token.REM:
		if x == TypeInt && y == TypeInt {
			return TypeInt, nil
		}
		return TypeInvalid, bad()
	case token.ADD:
		if x == TypeString && y == TypeString {
			return TypeString, nil
		}
	}

	// + - * / on numbers and vectors
	if !x.isNumeric() || !y.isNumeric() {
		return TypeInvalid, bad()
	}
	intResult := x.intLike() && y.intLike()
	if x.isVec() || y.isVec() {
		if intResult {
			return TypeIntVec, nil
		}
		return TypeFloatVec, nil
	}
	if intResult {
		return TypeInt, nil
	}
	return TypeFloat, nil
}

func (c *codegen) inferCall(n *ast.CallExpr) (Type, error) {
	name := n.Fun.(*ast.Ident).Name
	args := make([]Type, len(n.Args))
	for i, a := range n.Args {
		t, err := c.infer(a)
		if err != nil {
			return TypeInvalid, err
		}
		args[i] = t
	}
	bad := func() error { return c.errorf("cannot call %s on %s", name, args[0]) }

	switch name {
	case "choose":
		if args[0] != TypeBool {
			return TypeInvalid, c.errorf("choose condition must be bool, got %s", args[0])
		}
		t, ok := unify(args[1], args[2])
		if !ok {
			return TypeInvalid, c.errorf("choose branches have types %s and %s", args[1], args[2])
		}
		return t, nil
	case "len":
		if args[0] == TypeString || args[0].isVec() {
			return TypeInt, nil
		}
	case "sqrt":
		if args[0].isScalar() {
			return TypeFloat, nil
		}
		if args[0].isVec() {
			return TypeFloatVec, nil
		}
	case "abs":
		if args[0].isNumeric() {
			return args[0], nil
		}
	case "sum":
		switch args[0] {
		case TypeIntVec:
			return TypeInt, nil
		case TypeFloatVec:
			return TypeFloat, nil
		}
	case "min", "max":
		if args[0].isScalar() && args[1].isScalar() {
			if args[0] == TypeInt && args[1] == TypeInt {
				return TypeInt, nil
			}
			return TypeFloat, nil
		}
		return TypeInvalid, c.errorf("cannot call %s on %s, %s", name, args[0], args[1])
	case "float64":
		if args[0].isScalar() {
			return TypeFloat, nil
		}
	case "int64":
		if args[0].isScalar() {
			return TypeInt, nil
		}
	}
	return TypeInvalid, bad()
}

// unify returns the type both branches of a choose convert to.
func unify(a, b Type) (Type, bool) {
	switch {
	case a == b:
		return a, true
	case a.isScalar() && b.isScalar():
		return TypeFloat, true
	case a.isVec() && b.isVec():
		return TypeFloatVec, true
	}
	return TypeInvalid, false
}

func (c *codegen) literal(n *ast.BasicLit) (Const, error) {
	switch n.Kind {
	case token.INT:
		v, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return Const{}, c.errorf("integer literal %s: %v", n.Value, err)
		}
		return Const{Type: TypeInt, Int: v}, nil
	case token.FLOAT:
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return Const{}, c.errorf("float literal %s: %v", n.Value, err)
		}
		return Const{Type: TypeFloat, Float: v}, nil
	case token.STRING:
		v, err := strconv.Unquote(n.Value)
		if err != nil {
			return Const{}, c.errorf("string literal %s: %v", n.Value, err)
		}
		return Const{Type: TypeString, Str: v}, nil
	}
	return Const{}, c.errorf("unsupported literal %s", n.Value)
}

// gen emits code for e. infer must have succeeded on e first.
func (c *codegen) gen(e ast.Expr) {
	switch n := e.(type) {
	case *ast.BasicLit:
		k, _ := c.literal(n)
		c.emit(OpConst, c.constant(k), 0)
	case *ast.Ident:
		switch n.Name {
		case "true", "false":
			c.emit(OpConst, c.constant(Const{Type: TypeBool, Bool: n.Name == "true"}), 0)
		default:
			i, _ := c.fn.ParamIndex(n.Name)
			c.emit(OpParam, i, 0)
		}
	case *ast.ParenExpr:
		c.gen(n.X)
	case *ast.UnaryExpr:
		c.gen(n.X)
		switch n.Op {
		case token.NOT:
			c.emit(OpNot, 0, 0)
		case token.SUB:
			c.emit(map[Type]Opcode{
				TypeInt: OpNegI, TypeFloat: OpNegF, TypeIntVec: OpNegIV, TypeFloatVec: OpNegFV,
			}[c.types[n.X]], 0, 0)
		}
	case *ast.BinaryExpr:
		c.genBinary(n)
	case *ast.IndexExpr:
		c.gen(n.X)
		c.gen(n.Index)
		if c.types[n.X] == TypeIntVec {
			c.emit(OpIndexIV, 0, 0)
		} else {
			c.emit(OpIndexFV, 0, 0)
		}
	case *ast.CallExpr:
		c.genCall(n)
	}
}

// genAs emits e and converts it to t.
func (c *codegen) genAs(e ast.Expr, t Type) {
	c.gen(e)
	if conv, ok := widening(c.types[e], t); ok {
		c.emit(conv, 0, 0)
	}
}

func (c *codegen) genBinary(n *ast.BinaryExpr) {
	x, y := c.types[n.X], c.types[n.Y]

	switch n.Op {
	case token.LAND, token.LOR:
		c.gen(n.X)
		op := OpJumpIfFalseOrPop
		if n.Op == token.LOR {
			op = OpJumpIfTrueOrPop
		}
		j := c.emit(op, 0, 0)
		c.gen(n.Y)
		c.patch(j)
		return
	case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
		cmp := map[token.Token]int{
			token.EQL: cmpEq, token.NEQ: cmpNe, token.LSS: cmpLt,
			token.LEQ: cmpLe, token.GTR: cmpGt, token.GEQ: cmpGe,
		}[n.Op]
		switch {
		case x == TypeString:
			c.gen(n.X)
			c.gen(n.Y)
			c.emit(OpCmpS, cmp, 0)
		case x == TypeBool:
			c.gen(n.X)
			c.gen(n.Y)
			c.emit(OpCmpB, cmp, 0)
		case x == TypeInt && y == TypeInt:
			c.gen(n.X)
			c.gen(n.Y)
			c.emit(OpCmpI, cmp, 0)
		default:
			c.genAs(n.X, TypeFloat)
			c.genAs(n.Y, TypeFloat)
			c.emit(OpCmpF, cmp, 0)
		}
		return
	}

	result := c.types[n]
	switch result {
	case TypeString:
		c.gen(n.X)
		c.gen(n.Y)
		c.emit(OpConcat, 0, 0)
	case TypeInt:
		c.gen(n.X)
		c.gen(n.Y)
		c.emit(map[token.Token]Opcode{
			token.ADD: OpAddI, token.SUB: OpSubI, token.MUL: OpMulI, token.QUO: OpDivI, token.REM: OpRemI,
		}[n.Op], 0, 0)
	case TypeFloat:
		c.genAs(n.X, TypeFloat)
		c.genAs(n.Y, TypeFloat)
		c.emit(map[token.Token]Opcode{
			token.ADD: OpAddF, token.SUB: OpSubF, token.MUL: OpMulF, token.QUO: OpDivF,
		}[n.Op], 0, 0)
	case TypeIntVec, TypeFloatVec:
		arith := map[token.Token]int{
			token.ADD: arithAdd, token.SUB: arithSub, token.MUL: arithMul, token.QUO: arithDiv,
		}[n.Op]
		layout := vecVV
		switch {
		case !x.isVec():
			layout = vecSV
		case !y.isVec():
			layout = vecVS
		}
		if result == TypeIntVec {
			c.gen(n.X)
			c.gen(n.Y)
			c.emit(OpVecI, arith, layout)
			return
		}
		c.genAs(n.X, floatOf(x))
		c.genAs(n.Y, floatOf(y))
		c.emit(OpVecF, arith, layout)
	}
}

// floatOf returns the float counterpart of a numeric type.
func floatOf(t Type) Type {
	if t.isVec() {
		return TypeFloatVec
	}
	return TypeFloat
}

func (c *codegen) genCall(n *ast.CallExpr) {
	name := n.Fun.(*ast.Ident).Name
	arg := c.types[n.Args[0]]

	switch name {
	case "choose":
		result := c.types[n]
		c.gen(n.Args[0])
		jf := c.emit(OpJumpIfFalse, 0, 0)
		c.genAs(n.Args[1], result)
		j := c.emit(OpJump, 0, 0)
		c.patch(jf)
		c.genAs(n.Args[2], result)
		c.patch(j)
	case "len":
		c.gen(n.Args[0])
		c.emit(map[Type]Opcode{TypeString: OpLenS, TypeIntVec: OpLenIV, TypeFloatVec: OpLenFV}[arg], 0, 0)
	case "sqrt":
		c.genAs(n.Args[0], floatOf(arg))
		if arg.isVec() {
			c.emit(OpSqrtFV, 0, 0)
		} else {
			c.emit(OpSqrtF, 0, 0)
		}
	case "abs":
		c.gen(n.Args[0])
		c.emit(map[Type]Opcode{TypeInt: OpAbsI, TypeFloat: OpAbsF, TypeIntVec: OpAbsIV, TypeFloatVec: OpAbsFV}[arg], 0, 0)
	case "sum":
		c.gen(n.Args[0])
		if arg == TypeIntVec {
			c.emit(OpSumIV, 0, 0)
		} else {
			c.emit(OpSumFV, 0, 0)
		}
	case "min", "max":
		if c.types[n] == TypeInt {
			c.gen(n.Args[0])
			c.gen(n.Args[1])
			c.emit(map[string]Opcode{"min": OpMinI, "max": OpMaxI}[name], 0, 0)
			return
		}
		c.genAs(n.Args[0], TypeFloat)
		c.genAs(n.Args[1], TypeFloat)
		c.emit(map[string]Opcode{"min": OpMinF, "max": OpMaxF}[name], 0, 0)
	case "float64":
		c.genAs(n.Args[0], TypeFloat)
	case "int64":
		c.gen(n.Args[0])
		if arg == TypeFloat {
			c.emit(OpF2I, 0, 0)
		}
	}
}
