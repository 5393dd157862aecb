package lang

import (
	"fmt"
	"math"
	"reflect"

	"github.com/roach88/tiered/internal/shape"
)

// Normalize converts an argument into the runtime representation both
// tiers operate on:
//
//	integers        -> int64
//	floats          -> float64
//	int arrays      -> []int64
//	float arrays    -> []float64
//	other arrays    -> []any of normalized elements
//	map[string]any  -> map[string]any of normalized values
//
// bool and string pass through. Values with no structure are returned as is,
// and so are unsigned integers beyond the int64 range; arrays holding one
// become []any. Both tiers reject such values as operands.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil, bool, string, int64, float64, []int64, []float64:
		return v
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint:
		return fromUnsigned(v, uint64(val))
	case uint64:
		return fromUnsigned(v, val)
	case float32:
		return float64(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, fv := range val {
			out[k] = Normalize(fv)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch sh := shape.Of(v); sh.Kind {
	case shape.KindBool:
		return rv.Bool()
	case shape.KindInt32, shape.KindInt64:
		if rv.CanInt() {
			return rv.Int()
		}
		return fromUnsigned(v, rv.Uint())
	case shape.KindFloat32, shape.KindFloat64:
		return rv.Float()
	case shape.KindString:
		return rv.String()
	case shape.KindArray:
		return normalizeArray(rv, *sh.Elem)
	}
	return v
}

func normalizeArray(rv reflect.Value, elem shape.Shape) any {
	n := rv.Len()
	switch {
	case elem.IsInteger():
		out := make([]int64, n)
		for i := 0; i < n; i++ {
			x, ok := Normalize(rv.Index(i).Interface()).(int64)
			if !ok {
				return normalizeAny(rv)
			}
			out[i] = x
		}
		return out
	case elem.IsFloat():
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = Normalize(rv.Index(i).Interface()).(float64)
		}
		return out
	}
	return normalizeAny(rv)
}

func normalizeAny(rv reflect.Value) []any {
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = Normalize(rv.Index(i).Interface())
	}
	return out
}

// fromUnsigned returns u as an int64, or v unchanged when u does not fit.
func fromUnsigned(v any, u uint64) any {
	if u > math.MaxInt64 {
		return v
	}
	return int64(u)
}

// NormalizeAll normalizes an argument list into a fresh slice.
func NormalizeAll(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = Normalize(a)
	}
	return out
}

// TypeName is the operand name used in runtime error messages.
func TypeName(v any) string {
	if isUnsigned(v) {
		return fmt.Sprintf("%T %v (overflows int64)", v, v)
	}
	return shape.Of(v).String()
}

// isUnsigned reports whether v is an unsigned integer Normalize left alone.
func isUnsigned(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}
