package compiler

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tiered/internal/lang"
	"github.com/roach88/tiered/internal/shape"
)

func compileFor(t *testing.T, params []string, body string, args []any, opts Options) *Specialization {
	t.Helper()
	fn := lang.MustParse("f", params, body)
	sig := shape.SignatureOf(args)
	prog, err := Compile(fn, sig, opts)
	require.NoError(t, err)
	return &Specialization{Signature: sig, Program: prog, Origin: OriginCompiled}
}

func TestCompile_AgreesWithEvaluator(t *testing.T) {
	tests := []struct {
		name   string
		params []string
		body   string
		args   []any
	}{
		{"int add", []string{"a", "b"}, "a + b", []any{1, 2}},
		{"mixed add", []string{"a", "b"}, "a + b", []any{1.5, 2}},
		{"int division", []string{"a", "b"}, "a / b", []any{-7, 2}},
		{"sum sqrt", []string{"xs"}, "sum(sqrt(xs))", []any{[]float64{1, 4, 9}}},
		{"int vector times float", []string{"xs"}, "xs * 0.5", []any{[]int{1, 2}}},
		{"scalar over vector", []string{"xs"}, "10 / xs", []any{[]float64{2, 4}}},
		{"abs of shifted", []string{"xs"}, "abs(xs - 3)", []any{[]int{1, 5}}},
		{"vector plus vector", []string{"xs", "ys"}, "xs + ys", []any{[]float64{1, 2}, []float64{0.5, 0.25}}},
		{"negate vector", []string{"xs"}, "-xs", []any{[]int{1, -2}}},
		{"choose", []string{"n"}, "choose(n > 0, n, -n)", []any{-3}},
		{"logic", []string{"a", "b"}, "a > 0 && b > 0 || a == -1", []any{-1, 5}},
		{"concat", []string{"s"}, `s + "!"`, []any{"hi"}},
		{"string compare", []string{"a", "b"}, "a < b", []any{"abc", "abd"}},
		{"bool compare", []string{"a", "b"}, "!(a == b)", []any{true, false}},
		{"len string", []string{"s"}, "len(s)", []any{"hello"}},
		{"len vector", []string{"xs"}, "len(xs) * 2", []any{[]float64{1, 2, 3}}},
		{"index", []string{"xs"}, "xs[1] * 2", []any{[]int{5, 6}}},
		{"min mixed", []string{"a", "b"}, "min(a, b)", []any{3, 2.5}},
		{"max ints", []string{"a", "b"}, "max(a, b)", []any{3, 7}},
		{"conversions", []string{"a"}, "int64(a) % 3 + int64(float64(2))", []any{7.9}},
		{"int32 widens", []string{"a", "b"}, "a * b", []any{int32(3), int32(4)}},
		{"float32 widens", []string{"a"}, "a * 2", []any{float32(0.5)}},
		{"mixed comparison", []string{"a", "b"}, "a <= b", []any{2, 2.0}},
		{"constant", nil, "6 * 7", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := lang.MustParse("f", tt.params, tt.body)
			want, err := fn.Evaluate(tt.args)
			require.NoError(t, err)

			spec := compileFor(t, tt.params, tt.body, tt.args, Options{})
			got, err := spec.Run(context.Background(), tt.args)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestCompile_ResultType(t *testing.T) {
	spec := compileFor(t, []string{"a", "b"}, "a + b", []any{1, 2.0}, Options{})
	assert.Equal(t, TypeFloat, spec.Result())
	assert.Equal(t, "(int64, float64)", spec.Program.Signature)
	assert.Equal(t, []Type{TypeInt, TypeFloat}, spec.Program.Params)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		params  []string
		body    string
		args    []any
		wantMsg string
	}{
		{"record param", []string{"p"}, "p.x", []any{map[string]any{"x": 1}}, "parameter p: cannot compile for shape record{x: int64}"},
		{"string array", []string{"xs"}, "len(xs)", []any{[]string{"a"}}, "cannot compile for shape array(string)"},
		{"string minus", []string{"a", "b"}, "a - b", []any{"x", "y"}, "invalid operation: string - string"},
		{"string plus int", []string{"a", "b"}, "a + b", []any{"x", 1}, "invalid operation: string + int64"},
		{"float remainder", []string{"a"}, "a % 2", []any{1.5}, "invalid operation: float64 % int64"},
		{"vector compare", []string{"xs"}, "xs < 1", []any{[]int{1}}, "invalid operation"},
		{"choose branches", []string{"a"}, `choose(a > 0, a, "no")`, []any{1}, "choose branches have types int64 and string"},
		{"sum scalar", []string{"a"}, "sum(a)", []any{1}, "cannot call sum on int64"},
		{"float index", []string{"xs"}, "xs[0.5]", []any{[]int{1}}, "invalid index of type float64"},
		{"arity", []string{"a", "b"}, "a", []any{1}, "expected 2 argument(s), got 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := lang.MustParse("f", tt.params, tt.body)
			_, err := Compile(fn, shape.SignatureOf(tt.args), Options{})
			require.Error(t, err)
			assert.True(t, IsCompileError(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestRun_Errors(t *testing.T) {
	ctx := context.Background()

	spec := compileFor(t, []string{"a", "b"}, "a / b", []any{1, 0}, Options{})
	_, err := spec.Run(ctx, []any{1, 0})
	require.Error(t, err)
	assert.True(t, IsExecError(err))
	assert.ErrorIs(t, err, lang.ErrDivisionByZero)
	assert.Equal(t, "run f(int64, int64): integer division by zero", err.Error())

	spec = compileFor(t, []string{"xs"}, "xs[3]", []any{[]int{1}}, Options{})
	_, err = spec.Run(ctx, []any{[]int{1}})
	assert.ErrorIs(t, err, lang.ErrIndexRange)

	spec = compileFor(t, []string{"xs", "ys"}, "xs + ys", []any{[]int{1}, []int{1}}, Options{})
	_, err = spec.Run(ctx, []any{[]int{1}, []int{1, 2}})
	assert.ErrorIs(t, err, lang.ErrLengthMismatch)

	_, err = spec.Run(ctx, []any{[]int{1}})
	assert.ErrorContains(t, err, "expected 2 argument(s), got 1")

	_, err = spec.Run(ctx, []any{"x", []int{1}})
	assert.ErrorContains(t, err, "argument 0: cannot use string as array(int64)")
}

func TestRun_CanceledContext(t *testing.T) {
	spec := compileFor(t, []string{"a"}, "a", []any{1}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := spec.Run(ctx, []any{1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ConvertsWideningArguments(t *testing.T) {
	fn := lang.MustParse("add", []string{"a", "b"}, "a + b")
	sig := shape.NewSignature(shape.Float64, shape.Float64)
	prog, err := Compile(fn, sig, Options{})
	require.NoError(t, err)
	spec := &Specialization{Signature: sig, Program: prog}

	got, err := spec.Run(context.Background(), []any{1, int32(2)})
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)
}

func TestRun_DoesNotMutateArguments(t *testing.T) {
	xs := []float64{1, 2, 3}
	spec := compileFor(t, []string{"xs"}, "-(xs * 2)", []any{xs}, Options{})
	_, err := spec.Run(context.Background(), []any{xs})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, xs)
}

func TestRun_Parallel(t *testing.T) {
	old := parallelMinLen
	parallelMinLen = 4
	t.Cleanup(func() { parallelMinLen = old })

	xs := make([]int, 103)
	want := make([]int64, len(xs))
	for i := range xs {
		xs[i] = i
		want[i] = int64(i*3 + 1)
	}

	spec := compileFor(t, []string{"xs"}, "xs * 3 + 1", []any{xs}, Options{Parallel: true})
	got, err := spec.Run(context.Background(), []any{xs})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	spec = compileFor(t, []string{"xs"}, "100 / xs", []any{xs}, Options{Parallel: true})
	_, err = spec.Run(context.Background(), []any{xs})
	assert.ErrorIs(t, err, lang.ErrDivisionByZero)
}

func TestRun_FastMathSum(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5, 6, 7}
	spec := compileFor(t, []string{"xs"}, "sum(xs)", []any{xs}, Options{FastMath: true})
	assert.True(t, spec.Program.FastMath)

	got, err := spec.Run(context.Background(), []any{xs})
	require.NoError(t, err)
	assert.Equal(t, 28.0, got)
}

func TestCompileDeclared(t *testing.T) {
	fn := lang.MustParse("add", []string{"a", "b"}, "a + b")

	decl, err := shape.ParseDeclaration("float64(int64, int64)")
	require.NoError(t, err)
	prog, err := compileDeclared(fn, decl, Options{})
	require.NoError(t, err)
	assert.Equal(t, TypeFloat, prog.Result)

	spec := &Specialization{Signature: decl.Params, Program: prog}
	got, err := spec.Run(context.Background(), []any{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)

	decl, err = shape.ParseDeclaration("int64(float64, float64)")
	require.NoError(t, err)
	_, err = compileDeclared(fn, decl, Options{})
	assert.ErrorContains(t, err, "declared return int64, body returns float64")
}

func TestProgram_CBOR(t *testing.T) {
	spec := compileFor(t, []string{"xs", "k"}, `sum(xs * k) + float64(len("abc"))`, []any{[]float64{1}, 2}, Options{FastMath: true})

	data, err := MarshalProgram(spec.Program)
	require.NoError(t, err)

	again, err := MarshalProgram(spec.Program)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding must be deterministic")

	decoded, err := UnmarshalProgram(data)
	require.NoError(t, err)
	assert.Equal(t, spec.Program, decoded)
}

func TestProgram_ValidateRejectsMalformed(t *testing.T) {
	base := func() *Program {
		return &Program{
			Format:   shape.ArtifactFormat,
			Function: "f",
			Params:   []Type{TypeInt},
			Result:   TypeInt,
			Code:     []Instr{{Op: OpParam}, {Op: OpReturn}},
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(p *Program)
	}{
		{"format", func(p *Program) { p.Format = "0" }},
		{"no return", func(p *Program) { p.Code = p.Code[:1] }},
		{"unknown opcode", func(p *Program) { p.Code[0].Op = opCount }},
		{"param range", func(p *Program) { p.Code[0].A = 1 }},
		{"const range", func(p *Program) { p.Code[0] = Instr{Op: OpConst} }},
		{"jump range", func(p *Program) { p.Code[0] = Instr{Op: OpJump, A: 9} }},
		{"vector layout", func(p *Program) { p.Code[0] = Instr{Op: OpVecI, B: 7} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(p)
			assert.Error(t, p.Validate())
		})
	}

	_, err := UnmarshalProgram([]byte{0xff})
	assert.Error(t, err)
}

func TestProgram_Disassemble(t *testing.T) {
	fn := lang.MustParse("add", []string{"a", "b"}, "a + b")
	prog, err := Compile(fn, shape.NewSignature(shape.Int64, shape.Float64), Options{})
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "disassemble_add", []byte(prog.Disassemble()))
}
