package lang

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		params []string
		body   string
		args   []any
		want   any
	}{
		{"int add", []string{"a", "b"}, "a + b", []any{1, 2}, int64(3)},
		{"float add", []string{"a", "b"}, "a + b", []any{1.5, 2.0}, 3.5},
		{"mixed promotes", []string{"a", "b"}, "a + b", []any{1, 0.5}, 1.5},
		{"int32 widens", []string{"a", "b"}, "a * b", []any{int32(3), int32(4)}, int64(12)},
		{"uint64 widens", []string{"a", "b"}, "a + b", []any{uint64(1), uint64(2)}, int64(3)},
		{"bytes sum", []string{"xs"}, "sum(xs)", []any{[]byte{1, 2, 3}}, int64(6)},
		{"float32 widens", []string{"a"}, "a", []any{float32(0.5)}, 0.5},
		{"int division truncates", []string{"a", "b"}, "a / b", []any{7, 2}, int64(3)},
		{"remainder", []string{"a", "b"}, "a % b", []any{7, 3}, int64(1)},
		{"float division", []string{"a", "b"}, "a / b", []any{7.0, 2}, 3.5},
		{"concat", []string{"a", "b"}, "a + b", []any{"x", "y"}, "xy"},
		{"string compare", []string{"a", "b"}, "a < b", []any{"abc", "abd"}, true},
		{"bool equality", []string{"a", "b"}, "a == b", []any{true, false}, false},
		{"negation", []string{"a"}, "-a", []any{4}, int64(-4)},
		{"not", []string{"a"}, "!a", []any{false}, true},
		{"literal", nil, "2 * 21", nil, int64(42)},
		{"hex literal", nil, "0x10", nil, int64(16)},
		{"string literal", nil, `"hi"`, nil, "hi"},
		{"sum of sqrt", []string{"xs"}, "sum(sqrt(xs))", []any{[]float64{1, 4, 9}}, 6.0},
		{"sum ints", []string{"xs"}, "sum(xs)", []any{[]int{1, 2, 3}}, int64(6)},
		{"vector add", []string{"xs", "ys"}, "xs + ys", []any{[]int{1, 2}, []int{10, 20}}, []int64{11, 22}},
		{"vector scale", []string{"xs"}, "xs * 2", []any{[]float64{1, 2}}, []float64{2, 4}},
		{"scalar minus vector", []string{"xs"}, "10 - xs", []any{[]int{1, 2}}, []int64{9, 8}},
		{"int vector times float", []string{"xs"}, "xs * 0.5", []any{[]int{1, 2}}, []float64{0.5, 1}},
		{"negate vector", []string{"xs"}, "-xs", []any{[]float64{1, -2}}, []float64{-1, 2}},
		{"abs vector", []string{"xs"}, "abs(xs)", []any{[]int{-1, 2}}, []int64{1, 2}},
		{"index", []string{"xs"}, "xs[1]", []any{[]int{5, 6}}, int64(6)},
		{"index any", []string{"xs"}, "xs[0]", []any{[]any{"a", "b"}}, "a"},
		{"len string", []string{"s"}, "len(s)", []any{"hello"}, int64(5)},
		{"len array", []string{"xs"}, "len(xs)", []any{[]float64{1, 2, 3}}, int64(3)},
		{"field", []string{"p"}, "p.x * p.y", []any{map[string]any{"x": 2, "y": 1.5}}, 3.0},
		{"min ints", []string{"a", "b"}, "min(a, b)", []any{3, 2}, int64(2)},
		{"max mixed", []string{"a", "b"}, "max(a, b)", []any{3, 2.5}, 3.0},
		{"convert float", []string{"a"}, "float64(a) / 2", []any{3}, 1.5},
		{"convert int", []string{"a"}, "int64(a)", []any{3.9}, int64(3)},
		{"choose", []string{"n"}, "choose(n > 0, n, -n)", []any{-3}, int64(3)},
		{"and", []string{"a", "b"}, "a > 0 && b > 0", []any{1, 2}, true},
		{"or", []string{"a", "b"}, "a > 0 || b > 0", []any{-1, -2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := MustParse("f", tt.params, tt.body)
			got, err := f.Evaluate(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_ShortCircuit(t *testing.T) {
	// The right operand would divide by zero if evaluated.
	f := MustParse("f", []string{"a"}, "a == 0 || 10/a > 1")
	got, err := f.Evaluate([]any{0})
	require.NoError(t, err)
	assert.Equal(t, true, got)

	f = MustParse("f", []string{"a"}, "a != 0 && 10/a > 1")
	got, err = f.Evaluate([]any{0})
	require.NoError(t, err)
	assert.Equal(t, false, got)
}

func TestEvaluate_ChooseIsLazy(t *testing.T) {
	f := MustParse("f", []string{"a"}, "choose(a == 0, 0, 10/a)")
	got, err := f.Evaluate([]any{0})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestEvaluate_FloatDivisionByZero(t *testing.T) {
	f := MustParse("f", []string{"a"}, "a / 0.0")
	got, err := f.Evaluate([]any{1.0})
	require.NoError(t, err)
	assert.True(t, math.IsInf(got.(float64), 1))
}

func TestEvaluate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		params  []string
		body    string
		args    []any
		wantErr error
		wantMsg string
	}{
		{"arity", []string{"a", "b"}, "a + b", []any{1}, nil, "expected 2 argument(s), got 1"},
		{"string plus int", []string{"a", "b"}, "a + b", []any{"x", 1}, nil, "invalid operation: string + int64"},
		{"int division by zero", []string{"a"}, "a / 0", []any{1}, ErrDivisionByZero, ""},
		{"remainder by zero", []string{"a"}, "a % 0", []any{1}, ErrDivisionByZero, ""},
		{"float remainder", []string{"a"}, "a % 2", []any{1.5}, nil, "invalid operation"},
		{"length mismatch", []string{"xs", "ys"}, "xs + ys", []any{[]int{1}, []int{1, 2}}, ErrLengthMismatch, ""},
		{"index range", []string{"xs"}, "xs[2]", []any{[]int{1}}, ErrIndexRange, ""},
		{"negative index", []string{"xs"}, "xs[-1]", []any{[]int{1}}, ErrIndexRange, ""},
		{"missing field", []string{"p"}, "p.z", []any{map[string]any{"x": 1}}, nil, "record has no field z"},
		{"field of scalar", []string{"a"}, "a.x", []any{1}, nil, "field x of non-record int64"},
		{"sum of scalar", []string{"a"}, "sum(a)", []any{1}, nil, "cannot call sum on int64"},
		{"choose non bool", []string{"a"}, "choose(a, 1, 2)", []any{1}, nil, "choose condition must be bool"},
		{"and non bool", []string{"a"}, "a && true", []any{1}, nil, "invalid operation"},
		{"uint64 overflow", []string{"a", "b"}, "a + b", []any{uint64(math.MaxUint64), 1}, nil, "overflows int64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := MustParse("f", tt.params, tt.body)
			_, err := f.Evaluate(tt.args)
			require.Error(t, err)
			assert.True(t, IsEvalError(err))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestEvaluate_DoesNotMutateArgs(t *testing.T) {
	xs := []float64{1, 2}
	f := MustParse("f", []string{"xs"}, "xs * 2")
	_, err := f.Evaluate([]any{xs})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, xs)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, int64(1), Normalize(1))
	assert.Equal(t, 1.5, Normalize(float32(1.5)))
	assert.Equal(t, []int64{1, 2}, Normalize([]int32{1, 2}))
	assert.Equal(t, []int64{1, 2}, Normalize([]any{1, int64(2)}))
	assert.Equal(t, []any{int64(1), "a"}, Normalize([]any{1, "a"}))
	assert.Equal(t, []any{"a"}, Normalize([]string{"a"}))
	assert.Equal(t, map[string]any{"x": int64(1)}, Normalize(map[string]any{"x": 1}))

	assert.Equal(t, int64(7), Normalize(uint(7)))
	assert.Equal(t, []int64{1, 2}, Normalize([]uint16{1, 2}))
	assert.Equal(t, uint64(math.MaxUint64), Normalize(uint64(math.MaxUint64)))
	assert.Equal(t, []any{int64(1), uint64(math.MaxUint64)}, Normalize([]uint64{1, math.MaxUint64}))

	ch := make(chan int)
	assert.Equal(t, ch, Normalize(ch))
}
