package shape

import (
	"reflect"
)

// Of returns the shape of a single argument value.
//
// Of is total: values it has no structure for get an opaque shape named after
// their Go type. Integers narrower than 64 bits become int32, int and int64
// become int64. uint8 and uint16 become int32 and wider unsigned integers
// int64; values beyond the int64 range fail when a tier converts them.
// Slices become arrays; []any is an array of its elements' common shape when
// they agree and of opaque(mixed) when they do not. map[string]any becomes a
// record.
func Of(v any) Shape {
	switch val := v.(type) {
	case nil:
		return Opaque("nil")
	case bool:
		return Bool
	case int, int64:
		return Int64
	case int8, int16, int32, uint8, uint16:
		return Int32
	case uint32, uint, uint64, uintptr:
		return Int64
	case float32:
		return Float32
	case float64:
		return Float64
	case string:
		return String
	case []int, []int64:
		return ArrayOf(Int64)
	case []int32:
		return ArrayOf(Int32)
	case []float64:
		return ArrayOf(Float64)
	case []float32:
		return ArrayOf(Float32)
	case []string:
		return ArrayOf(String)
	case []bool:
		return ArrayOf(Bool)
	case []any:
		return arrayOfValues(val)
	case map[string]any:
		fields := make([]Field, 0, len(val))
		for k, fv := range val {
			fields = append(fields, Field{Name: k, Shape: Of(fv)})
		}
		return RecordOf(fields...)
	}
	return ofType(reflect.TypeOf(v))
}

// SignatureOf derives the signature of an argument list.
func SignatureOf(args []any) Signature {
	shapes := make([]Shape, len(args))
	for i, a := range args {
		shapes[i] = Of(a)
	}
	return NewSignature(shapes...)
}

func arrayOfValues(vals []any) Shape {
	if len(vals) == 0 {
		return ArrayOf(Opaque("unknown"))
	}
	first := Of(vals[0])
	for _, v := range vals[1:] {
		if !Of(v).Equal(first) {
			return ArrayOf(Opaque("mixed"))
		}
	}
	return ArrayOf(first)
}

// ofType handles typed slices and arrays the fast switch in Of does not name.
func ofType(t reflect.Type) Shape {
	switch t.Kind() {
	case reflect.Bool:
		return Bool
	case reflect.Int, reflect.Int64, reflect.Uint32, reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return Int64
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return Int32
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	case reflect.String:
		return String
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Interface {
			return ArrayOf(Opaque("mixed"))
		}
		return ArrayOf(ofType(t.Elem()))
	}
	return Opaque(t.String())
}
