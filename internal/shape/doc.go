// Package shape describes the structural type category of call arguments.
//
// A Shape is what the dispatcher keys compiled specializations on: two calls
// whose arguments have equal shapes are interchangeable for dispatch. Shapes
// are derived from the dynamic Go types of argument values, never from their
// contents.
//
// This package imports nothing internal. The dispatcher, the compiler and the
// artifact cache all build on it, so it also owns canonical JSON and the
// content-addressed hashes used as persistent cache keys.
package shape
