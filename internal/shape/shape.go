package shape

import (
	"slices"
	"strings"
)

// Kind is the top-level category of a Shape.
type Kind uint8

const (
	// KindOpaque is any value the shape system has no structure for.
	KindOpaque Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindString
	KindArray
	KindRecord
)

var kindNames = [...]string{
	KindOpaque:  "opaque",
	KindBool:    "bool",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindString:  "string",
	KindArray:   "array",
	KindRecord:  "record",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Field is one named member of a record shape.
type Field struct {
	Name  string
	Shape Shape
}

// Shape describes one argument.
//
// Shapes are values; the zero Shape is an opaque shape with no type name.
// Record fields are always kept in canonical key order.
type Shape struct {
	Kind   Kind
	Elem   *Shape  // KindArray only
	Fields []Field // KindRecord only
	GoType string  // KindOpaque only
}

// Scalar shapes.
var (
	Bool    = Shape{Kind: KindBool}
	Int32   = Shape{Kind: KindInt32}
	Int64   = Shape{Kind: KindInt64}
	Float32 = Shape{Kind: KindFloat32}
	Float64 = Shape{Kind: KindFloat64}
	String  = Shape{Kind: KindString}
)

// ArrayOf returns the shape of a homogeneous array of elem.
func ArrayOf(elem Shape) Shape {
	e := elem
	return Shape{Kind: KindArray, Elem: &e}
}

// RecordOf returns a record shape. Fields are sorted into canonical order.
func RecordOf(fields ...Field) Shape {
	fs := slices.Clone(fields)
	slices.SortFunc(fs, func(a, b Field) int { return compareKeysRFC8785(a.Name, b.Name) })
	return Shape{Kind: KindRecord, Fields: fs}
}

// Opaque returns a shape for a value of the named Go type.
func Opaque(goType string) Shape {
	return Shape{Kind: KindOpaque, GoType: goType}
}

// IsInteger reports whether s is an integer scalar.
func (s Shape) IsInteger() bool {
	return s.Kind == KindInt32 || s.Kind == KindInt64
}

// IsFloat reports whether s is a floating point scalar.
func (s Shape) IsFloat() bool {
	return s.Kind == KindFloat32 || s.Kind == KindFloat64
}

// IsNumeric reports whether s is an integer or floating point scalar.
func (s Shape) IsNumeric() bool {
	return s.IsInteger() || s.IsFloat()
}

// Equal reports structural equality.
func (s Shape) Equal(o Shape) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case KindArray:
		if s.Elem == nil || o.Elem == nil {
			return s.Elem == o.Elem
		}
		return s.Elem.Equal(*o.Elem)
	case KindRecord:
		if len(s.Fields) != len(o.Fields) {
			return false
		}
		for i := range s.Fields {
			if s.Fields[i].Name != o.Fields[i].Name || !s.Fields[i].Shape.Equal(o.Fields[i].Shape) {
				return false
			}
		}
		return true
	case KindOpaque:
		return s.GoType == o.GoType
	}
	return true
}

// Field returns the shape of the named record field.
func (s Shape) Field(name string) (Shape, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Shape, true
		}
	}
	return Shape{}, false
}

// String renders the shape in the same syntax ParseShape accepts.
func (s Shape) String() string {
	var b strings.Builder
	s.write(&b)
	return b.String()
}

func (s Shape) write(b *strings.Builder) {
	switch s.Kind {
	case KindArray:
		b.WriteString("array(")
		if s.Elem != nil {
			s.Elem.write(b)
		} else {
			Opaque("unknown").write(b)
		}
		b.WriteByte(')')
	case KindRecord:
		b.WriteString("record{")
		for i, f := range s.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			f.Shape.write(b)
		}
		b.WriteByte('}')
	case KindOpaque:
		b.WriteString("opaque(")
		b.WriteString(s.GoType)
		b.WriteByte(')')
	default:
		b.WriteString(s.Kind.String())
	}
}

// canonical returns the shape as a canonical-JSON-ready value.
func (s Shape) canonical() map[string]any {
	obj := map[string]any{"kind": s.Kind.String()}
	switch s.Kind {
	case KindArray:
		elem := Opaque("unknown")
		if s.Elem != nil {
			elem = *s.Elem
		}
		obj["elem"] = elem.canonical()
	case KindRecord:
		fields := make([]any, len(s.Fields))
		for i, f := range s.Fields {
			fields[i] = map[string]any{"name": f.Name, "shape": f.Shape.canonical()}
		}
		obj["fields"] = fields
	case KindOpaque:
		obj["go_type"] = s.GoType
	}
	return obj
}
