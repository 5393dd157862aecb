// Package compiler turns a function body into a typed stack program for one
// argument signature and runs it.
//
// Compilation is static: every parameter gets a machine type from its shape,
// every sub-expression is typed before code is emitted, and the emitted
// opcodes are specific to their operand types (AddI, AddF, Concat, VecF...).
// Shapes the compiler cannot type, such as records or string arrays, fail
// with a *CompileError and leave the call to the evaluated path.
//
// Programs are plain data. They serialize to canonical CBOR so the artifact
// cache can persist them across processes.
package compiler

import (
	"fmt"

	"github.com/roach88/tiered/internal/shape"
)

// Type is the machine type of a value on the VM stack.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeIntVec
	TypeFloatVec
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int64"
	case TypeFloat:
		return "float64"
	case TypeString:
		return "string"
	case TypeIntVec:
		return "array(int64)"
	case TypeFloatVec:
		return "array(float64)"
	}
	return "invalid"
}

// Shape returns the shape a value of type t has.
func (t Type) Shape() shape.Shape {
	switch t {
	case TypeBool:
		return shape.Bool
	case TypeInt:
		return shape.Int64
	case TypeFloat:
		return shape.Float64
	case TypeString:
		return shape.String
	case TypeIntVec:
		return shape.ArrayOf(shape.Int64)
	case TypeFloatVec:
		return shape.ArrayOf(shape.Float64)
	}
	return shape.Opaque("invalid")
}

func (t Type) isVec() bool     { return t == TypeIntVec || t == TypeFloatVec }
func (t Type) isScalar() bool  { return t == TypeInt || t == TypeFloat }
func (t Type) isNumeric() bool { return t.isScalar() || t.isVec() }

// intLike reports whether t has integer elements.
func (t Type) intLike() bool { return t == TypeInt || t == TypeIntVec }

// TypeOf maps an argument shape onto a machine type. Narrow numeric shapes
// widen to their 64-bit machine type.
func TypeOf(sh shape.Shape) (Type, error) {
	switch {
	case sh.Kind == shape.KindBool:
		return TypeBool, nil
	case sh.IsInteger():
		return TypeInt, nil
	case sh.IsFloat():
		return TypeFloat, nil
	case sh.Kind == shape.KindString:
		return TypeString, nil
	case sh.Kind == shape.KindArray && sh.Elem.IsInteger():
		return TypeIntVec, nil
	case sh.Kind == shape.KindArray && sh.Elem.IsFloat():
		return TypeFloatVec, nil
	}
	return TypeInvalid, fmt.Errorf("cannot compile for shape %s", sh)
}
